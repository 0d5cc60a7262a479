// Package config loads blecentral settings from YAML and maps them onto the
// connection manager and driver options.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/driver/goble"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel     string        `yaml:"log_level" default:"info"`
	ScanTimeout  time.Duration `yaml:"scan_timeout" default:"10s"`
	OutputFormat string        `yaml:"output_format" default:"table"`

	Central CentralConfig `yaml:"central"`
	Driver  DriverConfig  `yaml:"driver"`
}

// CentralConfig tunes the connection manager.
type CentralConfig struct {
	ReconnectDelay     time.Duration `yaml:"reconnect_delay" default:"5s"`
	TargetPayloadSize  int           `yaml:"target_payload_size" default:"185"`
	DefaultPayloadSize int           `yaml:"default_payload_size" default:"23"`
}

// DriverConfig tunes the go-ble link driver.
type DriverConfig struct {
	ConnectTimeout      time.Duration `yaml:"connect_timeout" default:"30s"`
	AllowDuplicates     bool          `yaml:"allow_duplicates" default:"true"`
	ReconnectBackoffMax time.Duration `yaml:"reconnect_backoff_max" default:"30s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blecentral", "config.yaml")
}

// Load reads path over the defaults. Keys missing from the file keep their
// default; unknown keys are an error. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	switch strings.ToLower(c.OutputFormat) {
	case "table", "json":
	default:
		return fmt.Errorf("output_format must be \"table\" or \"json\", got %q", c.OutputFormat)
	}

	if c.ScanTimeout < 0 {
		return fmt.Errorf("scan_timeout must not be negative")
	}
	if c.Central.ReconnectDelay <= 0 {
		return fmt.Errorf("central.reconnect_delay must be > 0")
	}
	if c.Central.DefaultPayloadSize < 23 {
		return fmt.Errorf("central.default_payload_size must be >= 23, got %d", c.Central.DefaultPayloadSize)
	}
	if c.Central.TargetPayloadSize < c.Central.DefaultPayloadSize || c.Central.TargetPayloadSize > 517 {
		return fmt.Errorf("central.target_payload_size must be between %d and 517, got %d",
			c.Central.DefaultPayloadSize, c.Central.TargetPayloadSize)
	}
	if c.Driver.ConnectTimeout <= 0 {
		return fmt.Errorf("driver.connect_timeout must be > 0")
	}
	if c.Driver.ReconnectBackoffMax < time.Second {
		return fmt.Errorf("driver.reconnect_backoff_max must be at least 1s")
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
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

// ManagerOptions maps the central section onto manager options.
func (c *Config) ManagerOptions(logger *logrus.Logger) []central.Option {
	return []central.Option{
		central.WithReconnectDelay(c.Central.ReconnectDelay),
		central.WithTargetPayloadSize(c.Central.TargetPayloadSize),
		central.WithDefaultPayloadSize(c.Central.DefaultPayloadSize),
		central.WithLogger(logger),
	}
}

// DriverOptions maps the driver section onto go-ble driver options.
func (c *Config) DriverOptions() goble.Options {
	return goble.Options{
		ConnectTimeout:      c.Driver.ConnectTimeout,
		AllowDuplicates:     c.Driver.AllowDuplicates,
		ReconnectBackoffMax: c.Driver.ReconnectBackoffMax,
	}
}
