// Package config provides configuration management with 2-tier priority:
// Environment variables > Default values
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Security    SecurityConfig
	Retry       RetryConfig
	Upstream    UpstreamConfig
	APIKey      APIKeyConfig
	Retention   RetentionConfig
	LogRotation LogRotationConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host     string
	Port     int
	Debug    bool
	LogLevel string
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Type            string // currently only sqlite
	URL             string // path or DSN; empty means default file
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SecurityConfig holds credentials and encryption settings.
type SecurityConfig struct {
	EncryptionKey        string // base64url-encoded 32 bytes; empty = ephemeral
	AdminUsername        string
	AdminPassword        string
	AdminTokenTTLSeconds int
}

// RetryConfig holds retry/failover policy.
type RetryConfig struct {
	MaxAttempts int
	DelayMS     int
}

// UpstreamConfig holds outbound HTTP settings.
type UpstreamConfig struct {
	TimeoutSeconds int
}

// APIKeyConfig controls generated API key format.
type APIKeyConfig struct {
	Prefix string
	Length int
}

// RetentionConfig controls the request log cleanup job.
type RetentionConfig struct {
	Days        int
	CleanupHour int
}

// LogRotationConfig holds log rotation settings powered by lumberjack.
type LogRotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8080,
			LogLevel: "INFO",
		},
		Database: DatabaseConfig{
			Type:            "sqlite",
			MaxOpenConns:    15,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Security: SecurityConfig{
			AdminUsername:        "admin",
			AdminTokenTTLSeconds: 86400,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			DelayMS:     1000,
		},
		Upstream: UpstreamConfig{
			TimeoutSeconds: 60,
		},
		APIKey: APIKeyConfig{
			Prefix: "lgw-",
			Length: 32,
		},
		Retention: RetentionConfig{
			Days:        30,
			CleanupHour: 3,
		},
		LogRotation: LogRotationConfig{
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	if c.Retry.MaxAttempts < 0 {
		return &ConfigError{Field: "retry.max_attempts", Message: "must not be negative"}
	}
	if c.Retry.DelayMS < 0 {
		return &ConfigError{Field: "retry.delay_ms", Message: "must not be negative"}
	}
	if c.Upstream.TimeoutSeconds < 1 {
		return &ConfigError{Field: "upstream.timeout", Message: "must be at least 1 second"}
	}
	if c.APIKey.Length < 8 {
		return &ConfigError{Field: "api_key.length", Message: "must be at least 8"}
	}
	if c.Retention.CleanupHour < 0 || c.Retention.CleanupHour > 23 {
		return &ConfigError{Field: "retention.cleanup_hour", Message: "must be between 0 and 23"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}

// Helper functions for environment variable parsing.

func getEnvStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	lower := strings.ToLower(v)
	return lower == "true" || lower == "1" || lower == "yes" || lower == "on"
}
