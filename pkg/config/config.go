package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blebattery/internal/battery"
	"github.com/srg/blebattery/internal/gattserver"
	"github.com/srg/blebattery/internal/profile"
)

// Adapter backends
const (
	BackendProbe = "probe"
	BackendBlueZ = "bluez"
)

// Battery sources
const (
	SourceHost   = "host"
	SourceStatic = "static"
)

// Config holds application configuration
type Config struct {
	LogLevel          string          `yaml:"log_level" json:"log_level" default:"info"`
	DeviceName        string          `yaml:"device_name" json:"device_name" default:"BatteryServer"`
	// Encoding "signed" keeps the legacy variable-length payload; "uint8" is the
	// single byte SIG Battery Level clients expect.
	Encoding          string          `yaml:"encoding" json:"encoding" default:"signed"`
	UnavailablePolicy string          `yaml:"unavailable_policy" json:"unavailable_policy" default:"encode"`
	Adapter           AdapterConfig   `yaml:"adapter" json:"adapter"`
	Advertise         AdvertiseConfig `yaml:"advertise" json:"advertise"`
	Battery           BatteryConfig   `yaml:"battery" json:"battery"`
}

// AdapterConfig selects how adapter readiness is checked.
type AdapterConfig struct {
	Backend string `yaml:"backend" json:"backend" default:"probe"` // probe or bluez
	Name    string `yaml:"name" json:"name"`                       // e.g. hci0, bluez only
}

// AdvertiseConfig tunes the go-ble advertiser.
type AdvertiseConfig struct {
	StartGrace time.Duration `yaml:"start_grace" json:"start_grace" default:"500ms"`
}

// BatteryConfig selects where battery readings come from.
type BatteryConfig struct {
	Source      string `yaml:"source" json:"source" default:"host"` // host or static
	StaticLevel int    `yaml:"static_level" json:"static_level" default:"100"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file. Missing fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.DeviceName == "" {
		return fmt.Errorf("device_name must not be empty")
	}
	if _, err := profile.ParseEncoding(c.Encoding); err != nil {
		return fmt.Errorf("encoding: %w", err)
	}
	if _, err := gattserver.ParseUnavailablePolicy(c.UnavailablePolicy); err != nil {
		return fmt.Errorf("unavailable_policy: %w", err)
	}

	switch c.Adapter.Backend {
	case BackendProbe, BackendBlueZ:
	default:
		return fmt.Errorf("adapter.backend must be %q or %q, got %q", BackendProbe, BackendBlueZ, c.Adapter.Backend)
	}

	if c.Advertise.StartGrace <= 0 {
		return fmt.Errorf("advertise.start_grace must be > 0")
	}

	switch c.Battery.Source {
	case SourceHost:
	case SourceStatic:
		if !battery.Level(c.Battery.StaticLevel).Valid() && battery.Level(c.Battery.StaticLevel) != battery.Unavailable {
			return fmt.Errorf("battery.static_level must be within 0..100 or -1, got %d", c.Battery.StaticLevel)
		}
	default:
		return fmt.Errorf("battery.source must be %q or %q, got %q", SourceHost, SourceStatic, c.Battery.Source)
	}

	return nil
}

// ServerOptions returns the GATT read options. Call Validate first.
func (c *Config) ServerOptions() gattserver.Options {
	enc, _ := profile.ParseEncoding(c.Encoding)
	policy, _ := gattserver.ParseUnavailablePolicy(c.UnavailablePolicy)
	return gattserver.Options{Encoding: enc, Unavailable: policy}
}

// Level returns the configured log level, info when it does not parse.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
