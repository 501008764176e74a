// Package catalog maps every sensor kind to its query template, its column
// list and the mapper that turns raw rows into typed records.
package catalog

import (
	"fmt"
	"strings"

	"github.com/tejusbharadwaj/domotik/internal/database"
	"github.com/tejusbharadwaj/domotik/internal/models"
)

// Entry is the per-kind metadata driving the shared query pipeline.
type Entry struct {
	Kind    models.Kind
	Table   string
	Query   string
	Columns []string
	Map     func(row database.Row) (models.Record, error)
}

// Header returns the column names joined the way exported rows are.
func (e Entry) Header() string {
	return strings.Join(e.Columns, ", ")
}

// Catalog is a read-only lookup table; the zero value is not usable, use New.
type Catalog struct {
	entries map[models.Kind]Entry
}

// New builds the catalog with one entry per supported kind.
func New() *Catalog {
	c := &Catalog{entries: make(map[models.Kind]Entry, len(models.Kinds))}
	for _, e := range []Entry{
		{
			Kind:    models.KindLinky,
			Table:   "linky",
			Columns: []string{"timestamp", "east", "sinst"},
			Map:     mapLinky,
		},
		{
			Kind:    models.KindOnOff,
			Table:   "on_off",
			Columns: []string{"timestamp", "device", "state"},
			Map:     mapOnOff,
		},
		{
			Kind:    models.KindPressure,
			Table:   "pressure",
			Columns: []string{"timestamp", "pressure"},
			Map:     mapPressure,
		},
		{
			Kind:    models.KindTemperatureHumidity,
			Table:   "temperature_humidity",
			Columns: []string{"timestamp", "device", "humidity", "temperature"},
			Map:     mapTemperatureHumidity,
		},
	} {
		e.Query = buildQuery(e.Table, e.Columns, e.Kind.DeviceScoped())
		c.entries[e.Kind] = e
	}
	return c
}

func buildQuery(table string, columns []string, deviceScoped bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE ", strings.Join(columns, ", "), table)
	if deviceScoped {
		b.WriteString("device = $1 AND timestamp >= $2 AND timestamp <= $3")
	} else {
		b.WriteString("timestamp >= $1 AND timestamp <= $2")
	}
	b.WriteString(" ORDER BY timestamp")
	return b.String()
}

// Lookup returns the entry for kind.
func (c *Catalog) Lookup(kind models.Kind) (Entry, error) {
	e, ok := c.entries[kind]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", models.ErrUnknownKind, kind)
	}
	return e, nil
}

// Args returns the query parameters in template order. Time bounds are
// passed as epoch seconds, the unit readings are stored in.
func (c *Catalog) Args(kind models.SensorKind, w models.TimeWindow) ([]any, error) {
	if _, err := c.Lookup(kind.Kind); err != nil {
		return nil, err
	}
	if kind.DeviceScoped() {
		return []any{kind.Device, w.Start.Unix(), w.End.Unix()}, nil
	}
	return []any{w.Start.Unix(), w.End.Unix()}, nil
}
