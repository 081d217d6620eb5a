//go:build !integration && !e2e
// +build !integration,!e2e

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "admin", cfg.Security.AdminUsername)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1000, cfg.Retry.DelayMS)
	assert.Equal(t, 60, cfg.Upstream.TimeoutSeconds)
	assert.Equal(t, "lgw-", cfg.APIKey.Prefix)
	assert.Equal(t, 30, cfg.Retention.Days)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"negative retries", func(c *Config) { c.Retry.MaxAttempts = -1 }, "retry.max_attempts"},
		{"negative delay", func(c *Config) { c.Retry.DelayMS = -5 }, "retry.delay_ms"},
		{"zero timeout", func(c *Config) { c.Upstream.TimeoutSeconds = 0 }, "upstream.timeout"},
		{"short key length", func(c *Config) { c.APIKey.Length = 4 }, "api_key.length"},
		{"bad cleanup hour", func(c *Config) { c.Retention.CleanupHour = 24 }, "retention.cleanup_hour"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			cfgErr, ok := err.(*ConfigError)
			require.True(t, ok)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GATEWAY_HOST", "127.0.0.1")
	t.Setenv("GATEWAY_PORT", "9000")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("ADMIN_PASSWORD", "hunter2")
	t.Setenv("LOG_RETENTION_DAYS", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "hunter2", cfg.Security.AdminPassword)
	assert.Equal(t, 7, cfg.Retention.Days)
}

func TestLoad_DebugForcesDebugLogLevel(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, "DEBUG", cfg.Server.LogLevel)
}

func TestLoad_InvalidEnvValueFallsBackToDefault(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GATEWAY_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	env := "# comment line\n" +
		"GATEWAY_PORT=9100\n" +
		"ADMIN_PASSWORD=\"quoted secret\"\n" +
		"API_KEY_PREFIX='gw-'\n" +
		"\n" +
		"MALFORMED LINE WITHOUT EQUALS\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0644))
	t.Chdir(dir)
	t.Setenv("GATEWAY_PORT", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("API_KEY_PREFIX", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "quoted secret", cfg.Security.AdminPassword)
	assert.Equal(t, "gw-", cfg.APIKey.Prefix)
}

func TestLoad_RealEnvBeatsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GATEWAY_PORT=9100\n"), 0644))
	t.Chdir(dir)
	t.Setenv("GATEWAY_PORT", "9200")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestLoad_ValidationFailure(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GATEWAY_PORT", "99999")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabasePath(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join("data", "llm-gateway.db"), cfg.DatabasePath())

	cfg.Database.URL = "/tmp/custom.db"
	assert.Equal(t, "/tmp/custom.db", cfg.DatabasePath())
}
