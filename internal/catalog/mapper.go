package catalog

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tejusbharadwaj/domotik/internal/database"
	"github.com/tejusbharadwaj/domotik/internal/models"
)

// The mappers accept the value types produced by both the SQLite and the
// PostgreSQL drivers: integers arrive as int64, reals as float64, booleans as
// bool (postgres) or 0/1 (sqlite), numerics as []byte.

func mapLinky(row database.Row) (models.Record, error) {
	if err := checkWidth(models.KindLinky, row, 3); err != nil {
		return nil, err
	}
	ts, err := asTime(models.KindLinky, "timestamp", row[0])
	if err != nil {
		return nil, err
	}
	east, err := asInt(models.KindLinky, "east", row[1])
	if err != nil {
		return nil, err
	}
	sinst, err := asInt(models.KindLinky, "sinst", row[2])
	if err != nil {
		return nil, err
	}
	return models.LinkyRecord{Timestamp: ts, East: east, Sinst: sinst}, nil
}

func mapOnOff(row database.Row) (models.Record, error) {
	if err := checkWidth(models.KindOnOff, row, 3); err != nil {
		return nil, err
	}
	ts, err := asTime(models.KindOnOff, "timestamp", row[0])
	if err != nil {
		return nil, err
	}
	device, err := asString(models.KindOnOff, "device", row[1])
	if err != nil {
		return nil, err
	}
	state, err := asBool(models.KindOnOff, "state", row[2])
	if err != nil {
		return nil, err
	}
	return models.OnOffRecord{Timestamp: ts, Device: device, State: state}, nil
}

func mapPressure(row database.Row) (models.Record, error) {
	if err := checkWidth(models.KindPressure, row, 2); err != nil {
		return nil, err
	}
	ts, err := asTime(models.KindPressure, "timestamp", row[0])
	if err != nil {
		return nil, err
	}
	p, err := asFloat(models.KindPressure, "pressure", row[1])
	if err != nil {
		return nil, err
	}
	return models.PressureRecord{Timestamp: ts, Pressure: p}, nil
}

func mapTemperatureHumidity(row database.Row) (models.Record, error) {
	kind := models.KindTemperatureHumidity
	if err := checkWidth(kind, row, 4); err != nil {
		return nil, err
	}
	ts, err := asTime(kind, "timestamp", row[0])
	if err != nil {
		return nil, err
	}
	device, err := asString(kind, "device", row[1])
	if err != nil {
		return nil, err
	}
	hum, err := asFloat(kind, "humidity", row[2])
	if err != nil {
		return nil, err
	}
	temp, err := asFloat(kind, "temperature", row[3])
	if err != nil {
		return nil, err
	}
	return models.TemperatureHumidityRecord{
		Timestamp:   ts,
		Device:      device,
		Humidity:    hum,
		Temperature: temp,
	}, nil
}

func checkWidth(kind models.Kind, row database.Row, want int) error {
	if len(row) != want {
		return fmt.Errorf("%w: %s: expected %d columns, got %d", models.ErrMapping, kind, want, len(row))
	}
	return nil
}

func mismatch(kind models.Kind, column string, v any) error {
	return fmt.Errorf("%w: %s.%s: unexpected value %v (%T)", models.ErrMapping, kind, column, v, v)
}

func asTime(kind models.Kind, column string, v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	default:
		sec, err := asInt(kind, column, v)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(sec, 0), nil
	}
}

func asInt(kind models.Kind, column string, v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case []byte:
		return parseInt(kind, column, string(n))
	case string:
		return parseInt(kind, column, n)
	default:
		return 0, mismatch(kind, column, v)
	}
}

func parseInt(kind models.Kind, column, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, mismatch(kind, column, s)
	}
	return n, nil
}

func asFloat(kind models.Kind, column string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case []byte:
		return parseFloat(kind, column, string(n))
	case string:
		return parseFloat(kind, column, n)
	default:
		return 0, mismatch(kind, column, v)
	}
}

func parseFloat(kind models.Kind, column, s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, mismatch(kind, column, s)
	}
	return f, nil
}

func asString(kind models.Kind, column string, v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", mismatch(kind, column, v)
	}
}

func asBool(kind models.Kind, column string, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int64:
		if b == 0 || b == 1 {
			return b == 1, nil
		}
	case []byte:
		return parseBool(kind, column, string(b))
	case string:
		return parseBool(kind, column, b)
	}
	return false, mismatch(kind, column, v)
}

func parseBool(kind models.Kind, column, s string) (bool, error) {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, mismatch(kind, column, s)
	}
	return b, nil
}
