package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for iohub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Devices    DevicesConfig    `yaml:"devices"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Database   DatabaseConfig   `yaml:"database"`
	History    HistoryConfig    `yaml:"history"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ControllerConfig contains the per-device thread tunables.
type ControllerConfig struct {
	// RefreshIntervalMs is how often each device thread reads the full
	// device state, in milliseconds.
	RefreshIntervalMs int `yaml:"refresh_interval_ms"`

	// IOTimeoutMs bounds each individual device operation, in milliseconds.
	IOTimeoutMs int `yaml:"io_timeout_ms"`

	// RetryBudget is how many consecutive refresh failures a thread
	// tolerates before entering the error status.
	RetryBudget int `yaml:"retry_budget"`

	// CommandBurst is how many queued commands a thread serves before
	// yielding back to the refresh cycle.
	CommandBurst int `yaml:"command_burst"`

	// DispatchTimeout is how long callers wait for a command, in seconds.
	DispatchTimeout int `yaml:"dispatch_timeout"`

	// StopTimeout is how long thread shutdown is waited for, in seconds.
	StopTimeout int `yaml:"stop_timeout"`

	// ObserverBuffer is the per-observer event channel capacity.
	ObserverBuffer int `yaml:"observer_buffer"`
}

// DevicesConfig lists the devices to start at boot.
type DevicesConfig struct {
	// Autostart starts a thread for every discovered device in addition
	// to the statically configured ones.
	Autostart bool `yaml:"autostart"`

	// IDs are device identifiers to connect at startup.
	IDs []string `yaml:"ids"`

	// Simulated runs against the built-in simulated devices instead of
	// real hardware.
	Simulated bool `yaml:"simulated"`
}

// DiscoveryConfig contains device discovery settings.
type DiscoveryConfig struct {
	// USB enables USB bus enumeration.
	USB bool `yaml:"usb"`

	// Network enables mDNS discovery of network devices.
	Network bool `yaml:"network"`

	// Service is the mDNS service type to browse.
	Service string `yaml:"service"`

	// Domain is the mDNS domain, normally "local.".
	Domain string `yaml:"domain"`

	// TimeoutSeconds bounds a network discovery round.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig contains state-change history settings.
type HistoryConfig struct {
	// Enabled turns event history recording on.
	Enabled bool `yaml:"enabled"`

	// RetentionDays is how long recorded events are kept. 0 keeps forever.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: IOHUB_SECTION_KEY
// For example: IOHUB_DATABASE_PATH, IOHUB_MQTT_HOST
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			RefreshIntervalMs: 50,
			IOTimeoutMs:       1000,
			RetryBudget:       3,
			CommandBurst:      16,
			DispatchTimeout:   5,
			StopTimeout:       5,
			ObserverBuffer:    64,
		},
		Discovery: DiscoveryConfig{
			USB:            true,
			Network:        true,
			Service:        "_iohub._tcp",
			Domain:         "local.",
			TimeoutSeconds: 3,
		},
		Database: DatabaseConfig{
			Path:        "./data/iohub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "iohub",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: IOHUB_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("IOHUB_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("IOHUB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("IOHUB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("IOHUB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("IOHUB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("IOHUB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Controller validation
	if c.Controller.RefreshIntervalMs < 1 {
		errs = append(errs, "controller.refresh_interval_ms must be at least 1")
	}
	if c.Controller.RetryBudget < 1 {
		errs = append(errs, "controller.retry_budget must be at least 1")
	}
	if c.Controller.CommandBurst < 1 {
		errs = append(errs, "controller.command_burst must be at least 1")
	}

	// Discovery validation
	if c.Discovery.Network {
		if c.Discovery.Service == "" {
			errs = append(errs, "discovery.service is required when network discovery is enabled")
		}
		if c.Discovery.TimeoutSeconds < 1 {
			errs = append(errs, "discovery.timeout_seconds must be at least 1")
		}
	}

	// Database validation
	if c.History.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when history is enabled")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set IOHUB_INFLUXDB_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRefreshInterval returns the device refresh interval as a Duration.
func (c *Config) GetRefreshInterval() time.Duration {
	return time.Duration(c.Controller.RefreshIntervalMs) * time.Millisecond
}

// GetIOTimeout returns the per-operation device timeout as a Duration.
func (c *Config) GetIOTimeout() time.Duration {
	return time.Duration(c.Controller.IOTimeoutMs) * time.Millisecond
}

// GetDispatchTimeout returns the command dispatch timeout as a Duration.
func (c *Config) GetDispatchTimeout() time.Duration {
	return time.Duration(c.Controller.DispatchTimeout) * time.Second
}

// GetStopTimeout returns the thread stop timeout as a Duration.
func (c *Config) GetStopTimeout() time.Duration {
	return time.Duration(c.Controller.StopTimeout) * time.Second
}

// GetDiscoveryTimeout returns the network discovery timeout as a Duration.
func (c *Config) GetDiscoveryTimeout() time.Duration {
	return time.Duration(c.Discovery.TimeoutSeconds) * time.Second
}
