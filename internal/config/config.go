// Copyright (C) 2026 Shutterbridge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppConfig holds all application configuration.
// It is instantiated by NewConfig() and passed to components that need it (dependency injection).
type AppConfig struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Watcher WatcherConfig `mapstructure:"watcher"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // Empty = allow all (development); set for production
}

// LogConfig holds comprehensive logging configuration
type LogConfig struct {
	Level    string            `mapstructure:"level"`
	Format   string            `mapstructure:"format"`
	Output   []LogOutputConfig `mapstructure:"output"`
	Levels   map[string]string `mapstructure:"levels"`
	Context  LogContextConfig  `mapstructure:"context"`
	Sampling LogSamplingConfig `mapstructure:"sampling"`
}

// LogOutputConfig defines where logs are written
type LogOutputConfig struct {
	Type    string          `mapstructure:"type"` // "file", "console"
	Enabled bool            `mapstructure:"enabled"`
	Path    string          `mapstructure:"path"`   // For file output
	Rotate  LogRotateConfig `mapstructure:"rotate"` // For file output
}

// LogRotateConfig defines log rotation settings
type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// LogContextConfig defines what context to include in logs
type LogContextConfig struct {
	IncludeCaller     bool   `mapstructure:"include_caller"`
	IncludeTimestamp  bool   `mapstructure:"include_timestamp"`
	IncludeLevel      bool   `mapstructure:"include_level"`
	IncludeStackTrace string `mapstructure:"include_stack_trace"` // Level at which to include stack trace
}

// LogSamplingConfig defines log sampling settings
type LogSamplingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Initial    uint32        `mapstructure:"initial"`
	Thereafter uint32        `mapstructure:"thereafter"`
	Tick       time.Duration `mapstructure:"tick"`
}

// BridgeConfig holds the command queue and heartbeat store tunables.
type BridgeConfig struct {
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"` // Lease duration for a claimed command
	IdempotencyTTL    time.Duration `mapstructure:"idempotency_ttl"`    // Window during which resubmissions coalesce
	ResultRetention   time.Duration `mapstructure:"result_retention"`   // How long completed results are kept
	FreshnessStrict   time.Duration `mapstructure:"freshness_strict"`   // Heartbeat age gating work submission
	FreshnessStatus   time.Duration `mapstructure:"freshness_status"`   // Heartbeat age for the looser status report
	WaitTimeout       time.Duration `mapstructure:"wait_timeout"`       // Default bounded wait for synchronous tool calls
}

// WatcherConfig holds the change-watcher cadences and watched paths.
type WatcherConfig struct {
	PluginLogPath        string        `mapstructure:"plugin_log_path"`
	LogPollInterval      time.Duration `mapstructure:"log_poll_interval"`
	StatusPollInterval   time.Duration `mapstructure:"status_poll_interval"`
	SnapshotPollInterval time.Duration `mapstructure:"snapshot_poll_interval"`
	SnapshotWaitTimeout  time.Duration `mapstructure:"snapshot_wait_timeout"` // Bounded wait for the polled snapshot command
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// NewConfig creates a new AppConfig by reading from a file, environment variables,
// and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	cfg := defaultConfig()

	v := viper.New()

	// Set config file if provided, otherwise search in standard locations
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/shutterbridge/")
		v.AddConfigPath("$HOME/.shutterbridge")
	}

	// Configure viper to use environment variables
	v.SetEnvPrefix("SHUTTERBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file. It's okay if it doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal the viper configuration into our config struct, overwriting
	// the default values with anything found in the config file or env vars.
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// defaultConfig returns an AppConfig with default values.
// This is more type-safe than using viper.SetDefault().
func defaultConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8765,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "console",
			Output: []LogOutputConfig{
				{
					Type:    "file",
					Enabled: true,
					Path:    "./logs/shutterbridge.log",
					Rotate: LogRotateConfig{
						MaxSizeMB:  100,
						MaxBackups: 7,
						MaxAgeDays: 30,
						Compress:   true,
					},
				},
				{
					Type:    "console",
					Enabled: true,
				},
			},
			Levels: map[string]string{
				"bridge":  "INFO",
				"notify":  "INFO",
				"api":     "INFO",
				"tools":   "INFO",
				"watcher": "INFO",
			},
			Context: LogContextConfig{
				IncludeCaller:     true,
				IncludeTimestamp:  true,
				IncludeLevel:      true,
				IncludeStackTrace: "ERROR",
			},
			Sampling: LogSamplingConfig{
				Enabled:    false,
				Initial:    100,
				Thereafter: 100,
				Tick:       time.Second,
			},
		},
		Bridge: BridgeConfig{
			VisibilityTimeout: 30 * time.Second,
			IdempotencyTTL:    30 * time.Second,
			ResultRetention:   15 * time.Minute,
			FreshnessStrict:   30 * time.Second,
			FreshnessStatus:   60 * time.Second,
			WaitTimeout:       10 * time.Second,
		},
		Watcher: WatcherConfig{
			PluginLogPath:        "./plugin/shutterbridge.plugin/logs/shutterbridge.log",
			LogPollInterval:      time.Second,
			StatusPollInterval:   time.Second,
			SnapshotPollInterval: 5 * time.Second,
			SnapshotWaitTimeout:  2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// expandPaths expands ~ and environment variables in path configuration values
func (c *AppConfig) expandPaths() {
	if c.Watcher.PluginLogPath != "" {
		c.Watcher.PluginLogPath = expandPath(c.Watcher.PluginLogPath)
	}
	for i := range c.Log.Output {
		if c.Log.Output[i].Path != "" {
			c.Log.Output[i].Path = expandPath(c.Log.Output[i].Path)
		}
	}
}

// expandPath expands ~ to home directory and environment variables
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return os.ExpandEnv(path)
}

// validate checks if the configuration is valid.
func (c *AppConfig) validate() error {
	validLogLevels := map[string]bool{
		"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Bridge.VisibilityTimeout <= 0 {
		return errors.New("bridge.visibility_timeout must be positive")
	}
	if c.Bridge.IdempotencyTTL <= 0 {
		return errors.New("bridge.idempotency_ttl must be positive")
	}
	if c.Bridge.ResultRetention <= 0 {
		return errors.New("bridge.result_retention must be positive")
	}
	if c.Bridge.FreshnessStrict <= 0 || c.Bridge.FreshnessStatus <= 0 {
		return errors.New("bridge freshness thresholds must be positive")
	}

	if c.Watcher.LogPollInterval <= 0 || c.Watcher.StatusPollInterval <= 0 || c.Watcher.SnapshotPollInterval <= 0 {
		return errors.New("watcher poll intervals must be positive")
	}

	return nil
}
