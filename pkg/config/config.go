package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	Target   TargetConfig   `yaml:"target"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Scan     ScanConfig     `yaml:"scan"`
	Connect  ConnectConfig  `yaml:"connect"`
	Stream   StreamConfig   `yaml:"stream"`
}

// TargetConfig identifies the sensor and its data channel
type TargetConfig struct {
	// Name must equal the advertised local name exactly.
	Name                 string `yaml:"name" default:"DSD TECH"`
	ServicePrefix        string `yaml:"service_prefix" default:"0000ffe0"`
	CharacteristicPrefix string `yaml:"characteristic_prefix" default:"0000ffe1"`
}

// ProtocolConfig describes the frame format
type ProtocolConfig struct {
	Delimiter      string `yaml:"delimiter" default:"|"`
	TemperatureTag string `yaml:"temperature_tag" default:"T:"`
	HumidityTag    string `yaml:"humidity_tag" default:"H:"`
	MaxBuffer      int    `yaml:"max_buffer" default:"4096"`
}

type ScanConfig struct {
	DuplicateFilter   bool          `yaml:"duplicate_filter" default:"false"`
	EnumerationWindow time.Duration `yaml:"enumeration_window" default:"3s"`
	StaleTimeout      time.Duration `yaml:"stale_timeout" default:"30s"`
	EventBuffer       int           `yaml:"event_buffer" default:"256"`
	ServiceUUIDs      []string      `yaml:"service_uuids"`
}

type ConnectConfig struct {
	Timeout        time.Duration `yaml:"timeout" default:"30s"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout" default:"30s"`
}

type StreamConfig struct {
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
	ErrorBackoff time.Duration `yaml:"error_backoff" default:"100ms"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	defaults.SetDefaults(&cfg.Target)
	defaults.SetDefaults(&cfg.Protocol)
	defaults.SetDefaults(&cfg.Scan)
	defaults.SetDefaults(&cfg.Connect)
	defaults.SetDefaults(&cfg.Stream)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration can drive a session
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Target.Name == "" {
		errs = append(errs, errors.New("target.name is required"))
	}
	if c.Target.ServicePrefix == "" {
		errs = append(errs, errors.New("target.service_prefix is required"))
	}
	if c.Target.CharacteristicPrefix == "" {
		errs = append(errs, errors.New("target.characteristic_prefix is required"))
	}
	if c.Protocol.Delimiter == "" {
		errs = append(errs, errors.New("protocol.delimiter is required"))
	}
	if c.Protocol.TemperatureTag == "" || c.Protocol.HumidityTag == "" {
		errs = append(errs, errors.New("protocol tags are required"))
	} else if c.Protocol.TemperatureTag == c.Protocol.HumidityTag {
		errs = append(errs, errors.New("protocol.temperature_tag and protocol.humidity_tag must differ"))
	}
	if c.Protocol.MaxBuffer < 0 {
		errs = append(errs, errors.New("protocol.max_buffer must not be negative"))
	}
	if c.Scan.EventBuffer <= 0 {
		errs = append(errs, errors.New("scan.event_buffer must be positive"))
	}
	if c.Scan.EnumerationWindow < 0 || c.Scan.StaleTimeout < 0 {
		errs = append(errs, errors.New("scan durations must not be negative"))
	}
	if c.Connect.Timeout < 0 || c.Connect.ResolveTimeout < 0 {
		errs = append(errs, errors.New("connect timeouts must not be negative"))
	}
	if c.Stream.ReadTimeout <= 0 {
		errs = append(errs, errors.New("stream.read_timeout must be positive"))
	}
	if c.Stream.ErrorBackoff < 0 {
		errs = append(errs, errors.New("stream.error_backoff must not be negative"))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, InfoLevel when unparseable
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
