package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig            `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig          `mapstructure:"database" yaml:"database"`
	General   GeneralConfig           `mapstructure:"general" yaml:"general"`
	Stream    StreamConfig            `mapstructure:"stream" yaml:"stream"`
	Render    RenderConfig            `mapstructure:"render" yaml:"render"`
	Logging   LoggingConfig           `mapstructure:"logging" yaml:"logging"`
	Cache     CacheConfig             `mapstructure:"cache" yaml:"cache"`
	RateLimit RateLimitConfig         `mapstructure:"rate_limit" yaml:"rate_limit"`
	Scheduler SchedulerConfig         `mapstructure:"scheduler" yaml:"scheduler"`
	Devices   map[string]DeviceConfig `mapstructure:"device" yaml:"device"`

	registry *Registry
	location *time.Location
}

type ServerConfig struct {
	Host                 string `mapstructure:"host" yaml:"host"`
	Port                 int    `mapstructure:"port" yaml:"port"`
	GRPCPort             int    `mapstructure:"grpc_port" yaml:"grpc_port"`
	RejectInvertedWindow bool   `mapstructure:"reject_inverted_window" yaml:"reject_inverted_window"`
	ShutdownTimeout      int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver            string `mapstructure:"driver" yaml:"driver"`
	Path              string `mapstructure:"path" yaml:"path"`
	Host              string `mapstructure:"host" yaml:"host"`
	Port              int    `mapstructure:"port" yaml:"port"`
	Name              string `mapstructure:"name" yaml:"name"`
	User              string `mapstructure:"user" yaml:"user"`
	Password          string `mapstructure:"password" yaml:"-"`
	SSLMode           string `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	MaxConnections    int    `mapstructure:"max_connections" yaml:"max_connections"`
	ConnectionTimeout int    `mapstructure:"connection_timeout" yaml:"connection_timeout"`
}

type GeneralConfig struct {
	Altitude float64 `mapstructure:"altitude" yaml:"altitude"`
	Timezone string  `mapstructure:"timezone" yaml:"timezone"`
}

type StreamConfig struct {
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
}

type RenderConfig struct {
	DefaultSpan string  `mapstructure:"default_span" yaml:"default_span"`
	Width       float64 `mapstructure:"width" yaml:"width"`
	Height      float64 `mapstructure:"height" yaml:"height"`
}

type LoggingConfig struct {
	Level   string            `mapstructure:"level" yaml:"level"`
	Format  string            `mapstructure:"format" yaml:"format"`
	Modules map[string]string `mapstructure:"modules" yaml:"modules,omitempty"`
}

type CacheConfig struct {
	Size int `mapstructure:"size" yaml:"size"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

type SchedulerConfig struct {
	HealthCheck string `mapstructure:"health_check" yaml:"health_check"`
}

// DeviceConfig is the raw [device.<name>] table. Which bounds apply depends
// on Type.
type DeviceConfig struct {
	Type           string  `mapstructure:"type" yaml:"type"`
	Trigger        string  `mapstructure:"trigger" yaml:"trigger,omitempty"`
	HumidityMin    float64 `mapstructure:"humidity_min" yaml:"humidity_min,omitempty"`
	HumidityMax    float64 `mapstructure:"humidity_max" yaml:"humidity_max,omitempty"`
	TemperatureMin float64 `mapstructure:"temperature_min" yaml:"temperature_min,omitempty"`
	TemperatureMax float64 `mapstructure:"temperature_max" yaml:"temperature_max,omitempty"`
	Min            float64 `mapstructure:"min" yaml:"min,omitempty"`
	Max            float64 `mapstructure:"max" yaml:"max,omitempty"`
}

// Load reads configuration from a TOML or YAML file. ${VAR} references are
// expanded from the environment and DOMOTIK_<SECTION>_<KEY> variables
// override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expandedData := os.ExpandEnv(string(data))

	v := viper.New()
	setDefaults(v)
	v.SetConfigType(configType(path))
	v.SetEnvPrefix("DOMOTIK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewBufferString(expandedData)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return "toml"
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.reject_inverted_window", false)
	v.SetDefault("server.shutdown_timeout", 5)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "domotik.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.connection_timeout", 5)

	v.SetDefault("general.altitude", 0.0)
	v.SetDefault("general.timezone", "Local")

	v.SetDefault("stream.batch_size", 100)

	v.SetDefault("render.default_span", "48h")
	v.SetDefault("render.width", 10.0)
	v.SetDefault("render.height", 8.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("cache.size", 128)

	v.SetDefault("rate_limit.rps", 5.0)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("scheduler.health_check", "@every 1m")
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}
	if c.Stream.BatchSize <= 0 {
		return fmt.Errorf("invalid stream batch size: %d", c.Stream.BatchSize)
	}
	if _, err := time.ParseDuration(c.Render.DefaultSpan); err != nil {
		return fmt.Errorf("invalid render default span: %w", err)
	}
	loc, err := time.LoadLocation(c.General.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}
	c.location = loc

	registry, err := NewRegistry(c.Devices)
	if err != nil {
		return err
	}
	c.registry = registry
	return nil
}

// Registry returns the validated device registry.
func (c *Config) Registry() *Registry {
	if c.registry == nil {
		c.registry, _ = NewRegistry(nil)
	}
	return c.registry
}

// Location returns the time zone used for chart labels.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// DefaultSpan returns the chart window used when a request has no start.
func (c *Config) DefaultSpan() time.Duration {
	d, _ := time.ParseDuration(c.Render.DefaultSpan)
	return d
}

// DSN builds the data source name for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	}
	return d.Path
}

// WriteYAML dumps the effective configuration, without secrets.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
