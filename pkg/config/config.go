// Package config loads server configuration from the environment, with a
// YAML tenant directory loaded separately from disk.
package config

import (
	"os"
	"strconv"
)

// Storage backend names accepted by SCIM_STORAGE.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Config holds server configuration.
type Config struct {
	Port     string
	BaseURL  string
	LogLevel string

	// Storage selects the backend: memory, sqlite, postgres or redis.
	Storage     string
	DatabaseURL string
	SQLitePath  string
	RedisAddr   string

	// TenantsFile points at the YAML tenant directory; empty means
	// single-tenant operation.
	TenantsFile string
	JWTSecret   string
	JWTIssuer   string

	RateLimitRPS   float64
	RateLimitBurst int

	TelemetryEnabled bool
	OTLPEndpoint     string
	SampleRate       float64
	Environment      string
}

// Load reads configuration from environment variables, applying defaults
// for anything unset.
func Load() *Config {
	return &Config{
		Port:     getenv("PORT", "8080"),
		BaseURL:  getenv("SCIM_BASE_URL", "http://localhost:8080/scim/v2"),
		LogLevel: getenv("LOG_LEVEL", "INFO"),

		Storage:     getenv("SCIM_STORAGE", StorageMemory),
		DatabaseURL: getenv("DATABASE_URL", "postgres://scim@localhost:5432/scim?sslmode=disable"),
		SQLitePath:  getenv("SQLITE_PATH", "scim.db"),
		RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),

		TenantsFile: os.Getenv("SCIM_TENANTS_FILE"),
		JWTSecret:   os.Getenv("SCIM_JWT_SECRET"),
		JWTIssuer:   os.Getenv("SCIM_JWT_ISSUER"),

		RateLimitRPS:   getfloat("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getint("RATE_LIMIT_BURST", 100),

		TelemetryEnabled: os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:     getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		SampleRate:       getfloat("OTEL_SAMPLE_RATE", 1.0),
		Environment:      getenv("ENVIRONMENT", "development"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getfloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
