// Package config loads daemon configuration from the environment and an
// optional TOML file. Environment variables override file values.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the kite daemon
type Config struct {
	// HTTP ops server configuration
	HTTP HTTPConfig

	// Transport configuration
	Transport TransportConfig

	// Outbox processor configuration
	Outbox OutboxConfig

	// Pipeline processing defaults
	Pipeline PipelineConfig

	// Idempotency store configuration
	Idempotency IdempotencyConfig

	// Data directory for embedded services
	DataDir string

	// Development mode
	DevMode bool
}

// HTTPConfig holds ops HTTP server configuration
type HTTPConfig struct {
	Port int
}

// TransportConfig selects and configures the message transport
type TransportConfig struct {
	Type string // "inproc", "nats", "embedded"

	NATS NATSConfig
}

// NATSConfig holds NATS transport configuration
type NATSConfig struct {
	URL           string
	DataDir       string
	StreamName    string
	SubjectPrefix string
}

// OutboxConfig holds outbox processor configuration
type OutboxConfig struct {
	Enabled      bool
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	RetryDelay   time.Duration
	LeaseFor     time.Duration
}

// PipelineConfig holds the processing defaults applied to every dispatch
type PipelineConfig struct {
	Timeout          time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	BreakerThreshold int
	BreakDuration    time.Duration
	SigningKey       string
	RequireSignature bool
}

// IdempotencyConfig selects the idempotency store backend
type IdempotencyConfig struct {
	Backend       string // "memory" or "redis"
	RedisAddr     string
	TTL           time.Duration
	CacheFailures bool
	FailureTTL    time.Duration
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port: getEnvInt("HTTP_PORT", 8080),
		},

		Transport: TransportConfig{
			Type: getEnv("TRANSPORT_TYPE", "inproc"),
			NATS: NATSConfig{
				URL:           getEnv("NATS_URL", "nats://localhost:4222"),
				DataDir:       getEnv("NATS_DATA_DIR", "./data/nats"),
				StreamName:    getEnv("NATS_STREAM", "KITE"),
				SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "kite"),
			},
		},

		Outbox: OutboxConfig{
			Enabled:      getEnvBool("OUTBOX_ENABLED", true),
			PollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 50),
			MaxRetries:   getEnvInt("OUTBOX_MAX_RETRIES", 3),
			RetryDelay:   getEnvDuration("OUTBOX_RETRY_DELAY", 0),
			LeaseFor:     getEnvDuration("OUTBOX_LEASE_FOR", 30*time.Second),
		},

		Pipeline: PipelineConfig{
			Timeout:          getEnvDuration("PIPELINE_TIMEOUT", 30*time.Second),
			MaxRetries:       getEnvInt("PIPELINE_MAX_RETRIES", 0),
			RetryDelay:       getEnvDuration("PIPELINE_RETRY_DELAY", 100*time.Millisecond),
			BreakerThreshold: getEnvInt("PIPELINE_BREAKER_THRESHOLD", 5),
			BreakDuration:    getEnvDuration("PIPELINE_BREAK_DURATION", 30*time.Second),
			SigningKey:       getEnv("PIPELINE_SIGNING_KEY", ""),
			RequireSignature: getEnvBool("PIPELINE_REQUIRE_SIGNATURE", false),
		},

		Idempotency: IdempotencyConfig{
			Backend:       getEnv("IDEMPOTENCY_BACKEND", "memory"),
			RedisAddr:     getEnv("IDEMPOTENCY_REDIS_ADDR", "localhost:6379"),
			TTL:           getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
			CacheFailures: getEnvBool("IDEMPOTENCY_CACHE_FAILURES", true),
			FailureTTL:    getEnvDuration("IDEMPOTENCY_FAILURE_TTL", 0),
		},

		DataDir: getEnv("DATA_DIR", "./data"),
		DevMode: getEnvBool("KITE_DEV", false),
	}

	return cfg, nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
