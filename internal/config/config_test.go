package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/domotik/internal/models"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), name)
	err := os.WriteFile(configPath, []byte(content), 0644)
	require.NoError(t, err)
	return configPath
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  port: 8080
  host: "0.0.0.0"

database:
  driver: "postgres"
  host: "localhost"
  port: 5432
  name: "testdb"
  user: "testuser"
  password: "testpass"
  ssl_mode: "disable"
  max_connections: 10
  connection_timeout: 5

logging:
  level: "debug"
  format: "json"
`)

	// Test loading configuration
	config, err := Load(configPath)
	assert.NoError(t, err)
	assert.NotNil(t, config)

	// Verify loaded values
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, "localhost", config.Database.Host)
	assert.Equal(t, "testdb", config.Database.Name)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t,
		"host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable",
		config.Database.DSN())
}

func TestLoadDefaults(t *testing.T) {
	config, err := Load(writeConfig(t, "config.toml", "[general]\naltitude = 110.0\n"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", config.Database.Driver)
	assert.Equal(t, "domotik.db", config.Database.DSN())
	assert.Equal(t, 100, config.Stream.BatchSize)
	assert.Equal(t, 48*time.Hour, config.DefaultSpan())
	assert.Equal(t, 110.0, config.General.Altitude)
	assert.False(t, config.Server.RejectInvertedWindow)
	assert.Empty(t, config.Registry().All())
}

func TestLoadWithEnvOverride(t *testing.T) {
	// Set environment variables
	t.Setenv("APP_DATABASE_HOST", "envhost")
	t.Setenv("APP_DATABASE_PORT", "5433")
	t.Setenv("DOMOTIK_STREAM_BATCH_SIZE", "25")

	configPath := writeConfig(t, "config.yaml", `
database:
  driver: postgres
  host: $APP_DATABASE_HOST
  port: $APP_DATABASE_PORT
  name: "testdb"
  user: "testuser"
  password: "testpass"
  ssl_mode: "disable"
  max_connections: 10
  connection_timeout: 5
`)

	// Test loading configuration
	config, err := Load(configPath)
	assert.NoError(t, err)
	assert.NotNil(t, config)

	// Verify environment variables override config file
	assert.Equal(t, "envhost", config.Database.Host)
	assert.Equal(t, 5433, config.Database.Port)
	assert.Equal(t, 25, config.Stream.BatchSize)
}

func TestLoadDevices(t *testing.T) {
	config, err := Load(writeConfig(t, "config.toml", `
[device.salon]
type = "temperature-humidity"
humidity_min = 20.0
humidity_max = 80.0
temperature_min = 10.0
temperature_max = 30.0

[device.boiler]
type = "event"
trigger = "on"

[device.barometer]
type = "atmospheric-pressure"
min = 980.0
max = 1040.0
`))
	require.NoError(t, err)

	registry := config.Registry()
	assert.Len(t, registry.All(), 3)

	d, err := registry.Lookup(models.TemperatureHumidity("salon"))
	require.NoError(t, err)
	assert.Equal(t, 80.0, d.HumidityMax)
	assert.Equal(t, 10.0, d.TemperatureMin)

	p, ok := registry.Pressure()
	require.True(t, ok)
	assert.Equal(t, 980.0, p.PressureMin)
	assert.Equal(t, 1040.0, p.PressureMax)

	events := registry.ByType(DeviceEvent)
	require.Len(t, events, 1)
	assert.Equal(t, "boiler", events[0].Name)

	// A device of the wrong type is not a valid on/off source.
	_, err = registry.Lookup(models.OnOff("salon"))
	assert.True(t, errors.Is(err, models.ErrBadParameter))
	_, err = registry.Lookup(models.OnOff("garage"))
	assert.True(t, errors.Is(err, models.ErrBadParameter))

	_, err = registry.Lookup(models.Linky())
	assert.NoError(t, err)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown device type", "[device.x]\ntype = \"heater\"\n"},
		{"two pressure devices", "[device.a]\ntype = \"atmospheric-pressure\"\n[device.b]\ntype = \"atmospheric-pressure\"\n"},
		{"inverted bounds", "[device.a]\ntype = \"atmospheric-pressure\"\nmin = 1040.0\nmax = 980.0\n"},
		{"unknown driver", "[database]\ndriver = \"oracle\"\n"},
		{"zero batch size", "[stream]\nbatch_size = 0\n"},
		{"bad span", "[render]\ndefault_span = \"two days\"\n"},
		{"bad timezone", "[general]\ntimezone = \"Mars/Olympus\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.toml", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestWriteYAML(t *testing.T) {
	config, err := Load(writeConfig(t, "config.yaml", `
database:
  password: "secret"
`))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, config.WriteYAML(&buf))
	assert.Contains(t, buf.String(), "batch_size: 100")
	assert.NotContains(t, buf.String(), "secret")
}
