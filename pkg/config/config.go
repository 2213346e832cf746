// Package config loads service configuration from the environment, with an
// optional YAML deployment profile overlay.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds service configuration.
type Config struct {
	LogLevel string

	// RedisAddr empty disables the Redis cache bus; invalidation is then
	// process-local.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StorageType string // "fs" or "s3"
	DataDir     string

	AuditDriver string // "sqlite" or "postgres"
	AuditDSN    string

	TokenSecret string

	StrictRequires     bool
	SandboxTimeout     time.Duration
	InvalidationWindow time.Duration

	OTLPEndpoint     string
	TelemetryEnabled bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		StorageType:        getEnv("CONTENT_STORAGE_TYPE", "fs"),
		DataDir:            getEnv("DATA_DIR", "data"),
		AuditDriver:        getEnv("AUDIT_DRIVER", "sqlite"),
		AuditDSN:           getEnv("AUDIT_DSN", "file:audit.db?cache=shared"),
		TokenSecret:        os.Getenv("DELEGATION_TOKEN_SECRET"),
		StrictRequires:     os.Getenv("STRICT_REQUIRES") == "true",
		SandboxTimeout:     getEnvDuration("SANDBOX_TIMEOUT", 5*time.Second),
		InvalidationWindow: getEnvDuration("INVALIDATION_WINDOW", 2*time.Second),
		OTLPEndpoint:       getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TelemetryEnabled:   os.Getenv("TELEMETRY_ENABLED") == "true",
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
