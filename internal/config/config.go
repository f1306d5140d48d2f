// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppConfig holds all application configuration.
// It is instantiated by NewConfig() and passed to components that need it (dependency injection).
type AppConfig struct {
	Log        LogConfig        `mapstructure:"log"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Storage    StorageConfig    `mapstructure:"storage"`
	AI         AIConfig         `mapstructure:"ai"`
	Server     ServerConfig     `mapstructure:"server"`
	Templates  TemplatesConfig  `mapstructure:"templates"`
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
	IncludeStackTrace string `mapstructure:"include_stack_trace"` // Level at which to include stack trace
}

// LogSamplingConfig defines log sampling settings
type LogSamplingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Initial    uint32        `mapstructure:"initial"`
	Thereafter uint32        `mapstructure:"thereafter"`
	Tick       time.Duration `mapstructure:"tick"`
}

// ConnectionConfig configures the persistent backend socket.
type ConnectionConfig struct {
	URL              string        `mapstructure:"url"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	MaxMessageBytes  int64         `mapstructure:"max_message_bytes"`
}

// BreakerConfig configures the connection circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// ExecutorConfig configures pipeline execution and recovery policy.
type ExecutorConfig struct {
	MaxRecoveryAttempts int  `mapstructure:"max_recovery_attempts"`
	CapRetryAll         bool `mapstructure:"cap_retry_all"`
	EventBuffer         int  `mapstructure:"event_buffer"`
}

// StorageConfig selects the durable slot backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // "file", "sqlite", "postgres", "memory"
	Path   string `mapstructure:"path"`   // directory for "file", database file for "sqlite"
	DSN    string `mapstructure:"dsn"`    // connection string for "postgres"
}

// AIConfig configures the AI invocation backend.
type AIConfig struct {
	Provider  string        `mapstructure:"provider"` // "http", "anthropic", "openai" or "google"
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	MaxTokens int64         `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds the local control API configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // Empty = allow all (development); set for production
}

// TemplatesConfig points at user-supplied pipeline templates.
type TemplatesConfig struct {
	File string `mapstructure:"file"` // Optional YAML file merged over the built-in templates
}

// NewConfig creates a new AppConfig by reading from a file, environment variables,
// and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	cfg := defaultConfig()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/inkwell/")
		v.AddConfigPath("$HOME/.inkwell")
	}

	v.SetEnvPrefix("INKWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only consults env for keys viper already knows about
	bindEnvs(v, reflect.TypeOf(cfg), "")

	// Read the config file. It's okay if it doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

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

// bindEnvs registers every leaf key of t so INKWELL_* variables override it.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// Default returns the built-in configuration without reading files or env.
func Default() *AppConfig {
	cfg := defaultConfig()
	return &cfg
}

// defaultConfig returns an AppConfig with default values.
// This is more type-safe than using viper.SetDefault().
func defaultConfig() AppConfig {
	return AppConfig{
		Log: LogConfig{
			Level:  "INFO",
			Format: "console",
			Output: []LogOutputConfig{
				{
					Type:    "file",
					Enabled: true,
					Path:    "./logs/inkwell.log",
					Rotate: LogRotateConfig{
						MaxSizeMB:  50,
						MaxBackups: 5,
						MaxAgeDays: 14,
						Compress:   true,
					},
				},
				{
					Type:    "console",
					Enabled: false, // Keep the terminal clean for CLI output
				},
			},
			Levels: map[string]string{
				"pipeline":   "INFO",
				"research":   "INFO",
				"executor":   "INFO",
				"connection": "INFO",
				"recovery":   "INFO",
				"storage":    "WARN",
				"ai":         "INFO",
				"api":        "INFO",
				"app":        "INFO",
				"cli":        "INFO",
			},
			Context: LogContextConfig{
				IncludeCaller:     true,
				IncludeTimestamp:  true,
				IncludeStackTrace: "ERROR",
			},
			Sampling: LogSamplingConfig{
				Enabled:    false,
				Initial:    100,
				Thereafter: 100,
				Tick:       time.Second,
			},
		},
		Connection: ConnectionConfig{
			URL:              "ws://localhost:8000/ws",
			MaxRetries:       20,
			BaseDelay:        time.Second,
			MaxDelay:         30 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			PingPeriod:       54 * time.Second,
			PongWait:         60 * time.Second,
			WriteWait:        10 * time.Second,
			MaxMessageBytes:  1 << 20,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Executor: ExecutorConfig{
			MaxRecoveryAttempts: 3,
			CapRetryAll:         true,
			EventBuffer:         100,
		},
		Storage: StorageConfig{
			Driver: "file",
			Path:   "$HOME/.inkwell/state",
		},
		AI: AIConfig{
			Provider:  "http",
			BaseURL:   "http://localhost:8000",
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
			Timeout:   2 * time.Minute,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
	}
}

// expandPaths expands ~ and environment variables in path configuration values
func (c *AppConfig) expandPaths() {
	if c.Storage.Path != "" {
		c.Storage.Path = expandPath(c.Storage.Path)
	}
	if c.Templates.File != "" {
		c.Templates.File = expandPath(c.Templates.File)
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
		"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Connection.URL == "" {
		return errors.New("connection.url is required")
	}
	if c.Connection.MaxRetries <= 0 {
		return fmt.Errorf("connection.max_retries must be positive, got: %d", c.Connection.MaxRetries)
	}
	if c.Connection.BaseDelay <= 0 || c.Connection.MaxDelay < c.Connection.BaseDelay {
		return fmt.Errorf("connection delays invalid: base=%s max=%s", c.Connection.BaseDelay, c.Connection.MaxDelay)
	}

	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive, got: %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.ResetTimeout <= 0 {
		return errors.New("breaker.reset_timeout must be positive")
	}

	if c.Executor.MaxRecoveryAttempts <= 0 {
		return fmt.Errorf("executor.max_recovery_attempts must be positive, got: %d", c.Executor.MaxRecoveryAttempts)
	}

	switch c.Storage.Driver {
	case "memory":
	case "file", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver)
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for driver \"postgres\"")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
	}

	switch c.AI.Provider {
	case "http":
		if c.AI.BaseURL == "" {
			return errors.New("ai.base_url is required for provider \"http\"")
		}
	case "anthropic", "openai", "google":
		if c.AI.Model == "" {
			return fmt.Errorf("ai.model is required for provider %q", c.AI.Provider)
		}
	default:
		return fmt.Errorf("ai.provider must be one of http, anthropic, openai, google, got: %s", c.AI.Provider)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}
