// Package dbtest prepares throwaway SQLite databases holding the readings
// schema for tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/tejusbharadwaj/domotik/internal/database"
)

// Schema mirrors the tables written by the collectors.
const Schema = `
CREATE TABLE linky (timestamp INTEGER NOT NULL, east INTEGER NOT NULL, sinst INTEGER NOT NULL);
CREATE TABLE on_off (timestamp INTEGER NOT NULL, device TEXT NOT NULL, state INTEGER NOT NULL);
CREATE TABLE pressure (timestamp INTEGER NOT NULL, pressure REAL NOT NULL);
CREATE TABLE temperature_humidity (timestamp INTEGER NOT NULL, device TEXT NOT NULL, humidity REAL NOT NULL, temperature REAL NOT NULL);
`

// Linky is a row of the linky table.
type Linky struct {
	Timestamp   int64
	East, Sinst int64
}

// OnOff is a row of the on_off table.
type OnOff struct {
	Timestamp int64
	Device    string
	State     bool
}

// Pressure is a row of the pressure table.
type Pressure struct {
	Timestamp int64
	Pressure  float64
}

// TemperatureHumidity is a row of the temperature_humidity table.
type TemperatureHumidity struct {
	Timestamp             int64
	Device                string
	Humidity, Temperature float64
}

// Fixture lists the rows to seed.
type Fixture struct {
	Linky               []Linky
	OnOff               []OnOff
	Pressure            []Pressure
	TemperatureHumidity []TemperatureHumidity
}

// NewSQLite creates a database file under t.TempDir, seeds it and returns
// its path.
func NewSQLite(t *testing.T, fx Fixture) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "domotik.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(Schema)
	require.NoError(t, err)

	for _, r := range fx.Linky {
		_, err := db.Exec(`INSERT INTO linky(timestamp, east, sinst) VALUES (?, ?, ?)`, r.Timestamp, r.East, r.Sinst)
		require.NoError(t, err)
	}
	for _, r := range fx.OnOff {
		state := 0
		if r.State {
			state = 1
		}
		_, err := db.Exec(`INSERT INTO on_off(timestamp, device, state) VALUES (?, ?, ?)`, r.Timestamp, r.Device, state)
		require.NoError(t, err)
	}
	for _, r := range fx.Pressure {
		_, err := db.Exec(`INSERT INTO pressure(timestamp, pressure) VALUES (?, ?)`, r.Timestamp, r.Pressure)
		require.NoError(t, err)
	}
	for _, r := range fx.TemperatureHumidity {
		_, err := db.Exec(`INSERT INTO temperature_humidity(timestamp, device, humidity, temperature) VALUES (?, ?, ?, ?)`,
			r.Timestamp, r.Device, r.Humidity, r.Temperature)
		require.NoError(t, err)
	}
	return path
}

// OpenStore seeds a database and returns an opened store on it, closed
// when the test ends.
func OpenStore(t *testing.T, fx Fixture) *database.SQLStore {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	store, err := database.NewSQLStore(database.Config{
		Driver:         database.DriverSQLite,
		DSN:            NewSQLite(t, fx),
		MaxConnections: 4,
	}, logrus.NewEntry(logger))
	require.NoError(t, err)
	require.NoError(t, store.Open(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}
