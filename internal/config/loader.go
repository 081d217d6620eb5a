package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Load loads configuration: defaults first, then .env file values, then
// environment variable overrides (highest priority).
func Load() (*Config, error) {
	loadDotEnv()

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads a .env file from the working directory, if present.
// Real environment variables take precedence over file values.
func loadDotEnv() {
	data, err := os.ReadFile(filepath.Join(".", ".env"))
	if err != nil {
		return // .env file is optional
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := trimQuotes(strings.TrimSpace(line[idx+1:]))
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	cfg.Server.Host = getEnvStr("GATEWAY_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("GATEWAY_PORT", cfg.Server.Port)
	cfg.Server.Debug = getEnvBool("DEBUG", cfg.Server.Debug)
	cfg.Server.LogLevel = getEnvStr("LOG_LEVEL", cfg.Server.LogLevel)
	if cfg.Server.Debug {
		cfg.Server.LogLevel = "DEBUG"
	}

	cfg.Database.Type = getEnvStr("DATABASE_TYPE", cfg.Database.Type)
	cfg.Database.URL = getEnvStr("DATABASE_URL", cfg.Database.URL)

	cfg.Security.EncryptionKey = getEnvStr("ENCRYPTION_KEY", cfg.Security.EncryptionKey)
	cfg.Security.AdminUsername = getEnvStr("ADMIN_USERNAME", cfg.Security.AdminUsername)
	cfg.Security.AdminPassword = getEnvStr("ADMIN_PASSWORD", cfg.Security.AdminPassword)
	cfg.Security.AdminTokenTTLSeconds = getEnvInt("ADMIN_TOKEN_TTL_SECONDS", cfg.Security.AdminTokenTTLSeconds)

	cfg.Retry.MaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Retry.DelayMS = getEnvInt("RETRY_DELAY_MS", cfg.Retry.DelayMS)

	cfg.Upstream.TimeoutSeconds = getEnvInt("HTTP_TIMEOUT", cfg.Upstream.TimeoutSeconds)

	cfg.APIKey.Prefix = getEnvStr("API_KEY_PREFIX", cfg.APIKey.Prefix)
	cfg.APIKey.Length = getEnvInt("API_KEY_LENGTH", cfg.APIKey.Length)

	cfg.Retention.Days = getEnvInt("LOG_RETENTION_DAYS", cfg.Retention.Days)
	cfg.Retention.CleanupHour = getEnvInt("LOG_CLEANUP_HOUR", cfg.Retention.CleanupHour)

	cfg.LogRotation.MaxSizeMB = getEnvInt("GATEWAY_LOG_MAX_SIZE_MB", cfg.LogRotation.MaxSizeMB)
	cfg.LogRotation.MaxBackups = getEnvInt("GATEWAY_LOG_MAX_BACKUPS", cfg.LogRotation.MaxBackups)
	cfg.LogRotation.MaxAgeDays = getEnvInt("GATEWAY_LOG_MAX_AGE_DAYS", cfg.LogRotation.MaxAgeDays)
	cfg.LogRotation.Compress = getEnvBool("GATEWAY_LOG_COMPRESS", cfg.LogRotation.Compress)
}

// DatabasePath resolves the sqlite file path: DATABASE_URL if set, otherwise
// a default file under data/.
func (c *Config) DatabasePath() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return filepath.Join("data", "llm-gateway.db")
}

func trimQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
