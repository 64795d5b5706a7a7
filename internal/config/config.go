package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	HTTPPort string

	// Database; empty means the in-memory registry
	DatabaseURL string

	// Redis event bus; empty disables publishing
	RedisURL string

	// Cloud escalation venue; empty disables escalation
	CloudURL     string
	CloudTimeout time.Duration

	// Decision cache
	CacheCapacity int
	CacheTTL      time.Duration

	// Engine tuning
	ProfileFile       string // YAML weight/budget/floor profile
	BulkMaxConcurrent int

	// Fleet monitor
	HeartbeatTimeout time.Duration

	// MQTT decision feed; empty disables the publisher
	MQTTBroker string

	// Logging
	LogLevel  slog.Level
	LogFormat string // "json" or "text"

	// Tracing
	OTLPEndpoint string
	ServiceName  string

	// Features
	EnableMetrics bool
	EnableTracing bool
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		DatabaseURL:       getEnv("DB_URL", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		CloudURL:          getEnv("CLOUD_URL", ""),
		CloudTimeout:      getEnvDuration("CLOUD_TIMEOUT", 1000*time.Millisecond),
		CacheCapacity:     getEnvInt("CACHE_CAPACITY", 1024),
		CacheTTL:          getEnvDuration("CACHE_TTL", 30*time.Second),
		ProfileFile:       getEnv("PROFILE_FILE", ""),
		BulkMaxConcurrent: getEnvInt("BULK_MAX_CONCURRENT", 8),
		HeartbeatTimeout:  getEnvDuration("HEARTBEAT_TIMEOUT", 90*time.Second),
		MQTTBroker:        getEnv("MQTT_BROKER", ""),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		OTLPEndpoint:      getEnv("OTLP_ENDPOINT", ""),
		ServiceName:       getEnv("SERVICE_NAME", "taskmesh-route"),
		EnableMetrics:     getEnvBool("ENABLE_METRICS", true),
		EnableTracing:     getEnvBool("ENABLE_TRACING", false),
	}

	switch getEnv("LOG_LEVEL", "info") {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "info":
		cfg.LogLevel = slog.LevelInfo
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}
