// Package config holds configuration for the classq server and runner.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the classq coordinator server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`       // Listen address (default ":8320")
	LogLevel  string `yaml:"log_level"`  // Log level: debug, info, warn, error
	LogFormat string `yaml:"log_format"` // Log format: text, json
	DBPath    string `yaml:"db"`         // SQLite results database path (":memory:" for testing, empty to disable)

	// Retry policy. Reaching either threshold retires the class.
	MaxFailures int `yaml:"max_failures"` // Failure budget per class (default 2)
	MaxTimeouts int `yaml:"max_timeouts"` // Timeout budget per class (default 2)

	// Timeouts, in seconds in the file / on the flag.
	RunnerTimeoutSeconds  float64 `yaml:"runner_timeout_seconds"`  // Per-checkout deadline (default 300)
	ServerTimeoutSeconds  float64 `yaml:"server_timeout_seconds"`  // Wall-clock budget for the whole run (0 = unlimited)
	ShutdownGraceSeconds  float64 `yaml:"shutdown_grace_seconds"`  // Drain window before hard shutdown (default 2)
	RequestWaitSeconds    float64 `yaml:"request_wait_seconds"`    // Max time a work request is held open (default 30)
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:                 ":8320",
		LogLevel:             "info",
		LogFormat:            "text",
		MaxFailures:          2,
		MaxTimeouts:          2,
		RunnerTimeoutSeconds: 300,
		ShutdownGraceSeconds: 2,
		RequestWaitSeconds:   30,
	}
}

// LoadServerConfig reads a YAML config file over the defaults. Flag values are
// applied by the caller afterwards, so precedence is defaults < file < flags.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks policy values that would make the coordinator misbehave.
func (c ServerConfig) Validate() error {
	if c.MaxFailures < 1 {
		return fmt.Errorf("max_failures must be >= 1, got %d", c.MaxFailures)
	}
	if c.MaxTimeouts < 1 {
		return fmt.Errorf("max_timeouts must be >= 1, got %d", c.MaxTimeouts)
	}
	if c.RunnerTimeoutSeconds <= 0 {
		return fmt.Errorf("runner_timeout_seconds must be > 0, got %v", c.RunnerTimeoutSeconds)
	}
	if c.ServerTimeoutSeconds < 0 {
		return fmt.Errorf("server_timeout_seconds must be >= 0, got %v", c.ServerTimeoutSeconds)
	}
	return nil
}

// RunnerTimeout returns the per-checkout deadline as a duration.
func (c ServerConfig) RunnerTimeout() time.Duration {
	return secondsToDuration(c.RunnerTimeoutSeconds)
}

// ServerTimeout returns the whole-run budget as a duration (0 = unlimited).
func (c ServerConfig) ServerTimeout() time.Duration {
	return secondsToDuration(c.ServerTimeoutSeconds)
}

// ShutdownGrace returns the drain window as a duration.
func (c ServerConfig) ShutdownGrace() time.Duration {
	return secondsToDuration(c.ShutdownGraceSeconds)
}

// RequestWait returns the long-poll hold time as a duration.
func (c ServerConfig) RequestWait() time.Duration {
	return secondsToDuration(c.RequestWaitSeconds)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
