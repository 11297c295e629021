// Package config loads the server's YAML configuration file and resolves
// it against the server defaults; cmd/dispatchd applies CLI flag overrides
// on top, following the teacher's pattern of a YAML resource file
// (gopkg.in/yaml.v3) read alongside cobra flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskforge/dispatchd/pkg/server"
)

// Config is the on-disk shape of the server's configuration file. Every
// field is optional; zero values fall back to server.DefaultConfig.
type Config struct {
	BindAddr                 string `yaml:"bind_addr"`
	DataDir                  string `yaml:"data_dir"`
	FileStorage              bool   `yaml:"file_storage"`
	MaxRetries               int    `yaml:"max_retries"`
	HeartbeatIntervalSeconds int    `yaml:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds  int    `yaml:"heartbeat_timeout_seconds"`
	DispatchIntervalMillis   int    `yaml:"dispatch_interval_millis"`
	DeadLetterReportSeconds  int    `yaml:"dead_letter_report_interval_seconds"`
	CleanupIntervalMinutes   int    `yaml:"cleanup_interval_minutes"`
	CleanupRetentionDays     int    `yaml:"cleanup_retention_days"`
	ReadBufferSize           int    `yaml:"read_buffer_size"`
	LogLevel                 string `yaml:"log_level"`
	LogJSON                  bool   `yaml:"log_json"`
	MetricsAddr              string `yaml:"metrics_addr"`
}

// Load reads and parses a YAML config file. A missing path is not an
// error: the caller gets a zero-value Config, which ServerConfig resolves
// entirely from defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// ServerConfig resolves this file's values against server.DefaultConfig,
// letting zero fields fall through to the built-in defaults.
func (c Config) ServerConfig() server.Config {
	cfg := server.DefaultConfig()

	if c.BindAddr != "" {
		cfg.BindAddr = c.BindAddr
	}
	if c.MaxRetries > 0 {
		cfg.MaxRetries = c.MaxRetries
	}
	if c.ReadBufferSize > 0 {
		cfg.ReadBufferSize = c.ReadBufferSize
	}
	if c.DispatchIntervalMillis > 0 {
		cfg.DispatchInterval = time.Duration(c.DispatchIntervalMillis) * time.Millisecond
	}
	if c.HeartbeatIntervalSeconds > 0 {
		cfg.HeartbeatInterval = time.Duration(c.HeartbeatIntervalSeconds) * time.Second
	}
	if c.HeartbeatTimeoutSeconds > 0 {
		cfg.HeartbeatTimeout = time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
	}
	if c.DeadLetterReportSeconds > 0 {
		cfg.DeadLetterReportInterval = time.Duration(c.DeadLetterReportSeconds) * time.Second
	}
	if c.CleanupIntervalMinutes > 0 {
		cfg.CleanupInterval = time.Duration(c.CleanupIntervalMinutes) * time.Minute
	}
	if c.CleanupRetentionDays > 0 {
		cfg.CleanupRetention = time.Duration(c.CleanupRetentionDays) * 24 * time.Hour
	}

	return cfg
}
