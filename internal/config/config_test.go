// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Connection.MaxRetries)
	assert.Equal(t, time.Second, cfg.Connection.BaseDelay)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.ResetTimeout)
	assert.Equal(t, 3, cfg.Executor.MaxRecoveryAttempts)
	assert.True(t, cfg.Executor.CapRetryAll)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, "http", cfg.AI.Provider)
}

func TestNewConfig_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
connection:
  url: ws://backend.example:9000/ws
  base_delay: 250ms
  max_delay: 5s
breaker:
  failure_threshold: 3
  reset_timeout: 10s
storage:
  driver: sqlite
  path: ` + filepath.Join(dir, "state.db") + `
server:
  allowed_origins: "http://a.example,http://b.example"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://backend.example:9000/ws", cfg.Connection.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Connection.BaseDelay)
	assert.Equal(t, 5*time.Second, cfg.Connection.MaxDelay)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.Breaker.ResetTimeout)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.AllowedOrigins)
	// Untouched sections keep their defaults
	assert.Equal(t, 20, cfg.Connection.MaxRetries)
}

func TestNewConfig_EnvOverride(t *testing.T) {
	t.Setenv("INKWELL_AI_PROVIDER", "anthropic")
	t.Setenv("INKWELL_AI_MODEL", "claude-haiku-4-5")

	cfg, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.AI.Provider)
	assert.Equal(t, "claude-haiku-4-5", cfg.AI.Model)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		errMsg string
	}{
		{"defaults are valid", func(*AppConfig) {}, ""},
		{"bad log level", func(c *AppConfig) { c.Log.Level = "loud" }, "invalid log level"},
		{"no url", func(c *AppConfig) { c.Connection.URL = "" }, "connection.url is required"},
		{"zero retries", func(c *AppConfig) { c.Connection.MaxRetries = 0 }, "max_retries"},
		{"max below base", func(c *AppConfig) { c.Connection.MaxDelay = time.Millisecond }, "connection delays invalid"},
		{"zero threshold", func(c *AppConfig) { c.Breaker.FailureThreshold = 0 }, "failure_threshold"},
		{"zero attempts", func(c *AppConfig) { c.Executor.MaxRecoveryAttempts = 0 }, "max_recovery_attempts"},
		{"unknown storage", func(c *AppConfig) { c.Storage.Driver = "redis" }, "unsupported storage driver"},
		{"postgres without dsn", func(c *AppConfig) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"unknown provider", func(c *AppConfig) { c.AI.Provider = "magic" }, "ai.provider"},
		{"bad port", func(c *AppConfig) { c.Server.Port = 70000 }, "invalid server port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "state"), expandPath("~/state"))
	t.Setenv("INKWELL_TEST_DIR", "/tmp/inkwell")
	assert.Equal(t, "/tmp/inkwell/state", expandPath("$INKWELL_TEST_DIR/state"))
	assert.Equal(t, "", expandPath(""))
}
