package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/musebridge/internal/permission"
	"gopkg.in/yaml.v3"
)

// SDK kinds
const (
	SDKStub = "stub"
	SDKBLE  = "ble"
)

// Config holds application configuration
type Config struct {
	LogLevel     logrus.Level `json:"log_level" yaml:"log_level"`
	OutputFormat string       `json:"output_format" yaml:"output_format" default:"table"`

	Listen   string `json:"listen" yaml:"listen" default:"127.0.0.1:8765"`
	SDK      string `json:"sdk" yaml:"sdk" default:"stub"`
	Platform string `json:"platform" yaml:"platform" default:"implicit"`
	APILevel int    `json:"api_level" yaml:"api_level" default:"33"`
	// GrantedPermissions seeds the static permission host on explicit platforms
	GrantedPermissions []string `json:"granted_permissions" yaml:"granted_permissions"`

	ScanDelay       time.Duration `json:"scan_delay" yaml:"scan_delay" default:"1s"`
	ScanDuration    time.Duration `json:"scan_duration" yaml:"scan_duration" default:"10s"`
	ConnectTimeout  time.Duration `json:"connect_timeout" yaml:"connect_timeout" default:"10s"`
	Preset          string        `json:"preset" yaml:"preset" default:"p50"`
	ClientQueueSize int           `json:"client_queue_size" yaml:"client_queue_size" default:"256"`

	MQTT MQTTConfig `json:"mqtt" yaml:"mqtt"`
}

// MQTTConfig configures the optional MQTT event sink. An empty Broker disables it.
type MQTTConfig struct {
	Broker     string   `json:"broker" yaml:"broker"`
	ClientID   string   `json:"client_id" yaml:"client_id" default:"musebridge"`
	Prefix     string   `json:"prefix" yaml:"prefix" default:"musebridge"`
	Categories []string `json:"categories" yaml:"categories"`
	QoS        byte     `json:"qos" yaml:"qos"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{LogLevel: logrus.InfoLevel}
	defaults.SetDefaults(cfg)
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
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks enumerated fields and bounds
func (c *Config) Validate() error {
	var errs []error
	switch c.SDK {
	case SDKStub, SDKBLE:
	default:
		errs = append(errs, fmt.Errorf("sdk must be %q or %q, got %q", SDKStub, SDKBLE, c.SDK))
	}
	if _, err := permission.ParsePlatform(c.Platform); err != nil {
		errs = append(errs, err)
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("output format must be table or json, got %q", c.OutputFormat))
	}
	if c.ScanDelay < 0 {
		errs = append(errs, fmt.Errorf("scan delay must not be negative"))
	}
	if c.ClientQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("client queue size must be > 0"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt qos must be 0, 1 or 2"))
	}
	return errors.Join(errs...)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
