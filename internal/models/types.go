package models

import (
	"fmt"
	"time"
)

// Kind identifies one of the fixed sensor record categories.
type Kind int

const (
	KindLinky Kind = iota
	KindOnOff
	KindPressure
	KindTemperatureHumidity
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{KindLinky, KindOnOff, KindPressure, KindTemperatureHumidity}

func (k Kind) String() string {
	switch k {
	case KindLinky:
		return "linky"
	case KindOnOff:
		return "onoff"
	case KindPressure:
		return "pressure"
	case KindTemperatureHumidity:
		return "temperature_humidity"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DeviceScoped reports whether records of this kind are partitioned by device.
func (k Kind) DeviceScoped() bool {
	return k == KindOnOff || k == KindTemperatureHumidity
}

// SensorKind is a kind plus the device it is scoped to, if any.
type SensorKind struct {
	Kind   Kind
	Device string
}

func Linky() SensorKind    { return SensorKind{Kind: KindLinky} }
func Pressure() SensorKind { return SensorKind{Kind: KindPressure} }

func OnOff(device string) SensorKind {
	return SensorKind{Kind: KindOnOff, Device: device}
}

func TemperatureHumidity(device string) SensorKind {
	return SensorKind{Kind: KindTemperatureHumidity, Device: device}
}

// DeviceScoped reports whether the kind requires a device identifier.
func (s SensorKind) DeviceScoped() bool {
	return s.Kind.DeviceScoped()
}

func (s SensorKind) String() string {
	if s.Device == "" {
		return s.Kind.String()
	}
	return s.Kind.String() + "/" + s.Device
}

// TimeWindow is an inclusive [Start, End] range.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Inverted reports whether Start is after End.
func (w TimeWindow) Inverted() bool {
	return w.Start.After(w.End)
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%d, %d]", w.Start.Unix(), w.End.Unix())
}

// Record is one immutable reading. Fields returns the values in the column
// order declared for its kind.
type Record interface {
	Time() time.Time
	Fields() []any
}

// LinkyRecord is a power meter reading.
type LinkyRecord struct {
	Timestamp time.Time
	East      int64 // cumulative energy, Wh
	Sinst     int64 // instantaneous apparent power, VA
}

func (r LinkyRecord) Time() time.Time { return r.Timestamp }
func (r LinkyRecord) Fields() []any   { return []any{r.Timestamp, r.East, r.Sinst} }

// OnOffRecord is a state change event of a device.
type OnOffRecord struct {
	Timestamp time.Time
	Device    string
	State     bool
}

func (r OnOffRecord) Time() time.Time { return r.Timestamp }
func (r OnOffRecord) Fields() []any   { return []any{r.Timestamp, r.Device, r.State} }

// PressureRecord is a barometric reading in hPa.
type PressureRecord struct {
	Timestamp time.Time
	Pressure  float64
}

func (r PressureRecord) Time() time.Time { return r.Timestamp }
func (r PressureRecord) Fields() []any   { return []any{r.Timestamp, r.Pressure} }

// TemperatureHumidityRecord is a reading of a combined probe.
type TemperatureHumidityRecord struct {
	Timestamp   time.Time
	Device      string
	Humidity    float64 // %RH
	Temperature float64 // °C
}

func (r TemperatureHumidityRecord) Time() time.Time { return r.Timestamp }
func (r TemperatureHumidityRecord) Fields() []any {
	return []any{r.Timestamp, r.Device, r.Humidity, r.Temperature}
}
