// Package config loads and validates entitystream configuration from YAML
// files with environment variable overrides, and supports hot-reload of the
// config file via fsnotify.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/entitystream/errors"
)

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	NATS      NATSConfig      `yaml:"nats"`
	Queue     QueueConfig     `yaml:"queue"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Transport TransportConfig `yaml:"transport"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig defines the HTTP gateway listener.
type ServerConfig struct {
	Host           string  `yaml:"host"`
	Port           int     `yaml:"port"`
	EnableCORS     bool    `yaml:"enable_cors"`
	CORSOrigins    []string `yaml:"cors_origins"`
	MaxRequestSize int64   `yaml:"max_request_size"`
	RateLimit      float64 `yaml:"rate_limit"`       // events/sec per client, 0 disables
	RateBurst      int     `yaml:"rate_burst"`
}

// NATSConfig defines the optional inter-process event bus connection.
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URLs          []string      `yaml:"urls"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Token         string        `yaml:"token"`
}

// QueueConfig defines delivery queue behavior.
type QueueConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Debounce      time.Duration `yaml:"debounce"`
	Retention     time.Duration `yaml:"retention"` // how long delivered items linger for status queries
}

// BufferConfig bounds the replay buffer.
type BufferConfig struct {
	MaxSize int           `yaml:"max_size"`
	MaxAge  time.Duration `yaml:"max_age"`
}

// TransportConfig defines live connection maintenance.
type TransportConfig struct {
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	StatsLogInterval  time.Duration `yaml:"stats_log_interval"`
	SubscriberBuffer  int           `yaml:"subscriber_buffer"`
}

// TrackerConfig bounds correlation history.
type TrackerConfig struct {
	HistorySize int `yaml:"history_size"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			EnableCORS:     true,
			CORSOrigins:    []string{"*"},
			MaxRequestSize: 1 << 20, // 1 MiB
			RateLimit:      0,
			RateBurst:      100,
		},
		NATS: NATSConfig{
			Enabled:       false,
			URLs:          []string{"nats://127.0.0.1:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Queue: QueueConfig{
			MaxRetries:    5,
			RetryDelay:    time.Second,
			MaxRetryDelay: 0, // uncapped: pure exponential per retry contract
			BatchSize:     50,
			FlushInterval: 5 * time.Second,
			Debounce:      100 * time.Millisecond,
			Retention:     time.Hour,
		},
		Buffer: BufferConfig{
			MaxSize: 10000,
			MaxAge:  24 * time.Hour,
		},
		Transport: TransportConfig{
			ConnectionTimeout: 300 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			SweepInterval:     5 * time.Minute,
			StatsLogInterval:  60 * time.Second,
			SubscriberBuffer:  256,
		},
		Tracker: TrackerConfig{
			HistorySize: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path (optional), applies environment
// overrides, and validates the result. An empty path yields defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides selected fields from ENTITYSTREAM_* variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("ENTITYSTREAM_SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("ENTITYSTREAM_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("ENTITYSTREAM_NATS_URLS"); v != "" {
		c.NATS.Enabled = true
		c.NATS.URLs = strings.Split(v, ",")
	}
	if v := os.Getenv("ENTITYSTREAM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ENTITYSTREAM_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Queue.MaxRetries < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"queue.max_retries cannot be negative")
	}
	if c.Queue.RetryDelay <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"queue.retry_delay must be positive")
	}
	if c.Queue.BatchSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"queue.batch_size must be positive")
	}
	if c.Queue.FlushInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"queue.flush_interval must be positive")
	}
	if c.Buffer.MaxSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer.max_size must be positive")
	}
	if c.Tracker.HistorySize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"tracker.history_size must be positive")
	}
	if c.Transport.HeartbeatInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"transport.heartbeat_interval must be positive")
	}
	if c.NATS.Enabled && len(c.NATS.URLs) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"nats.urls required when nats.enabled")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("logging.level %q not recognized", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("logging.format %q not recognized", c.Logging.Format))
	}
	return nil
}
