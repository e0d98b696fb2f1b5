package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the TOML configuration file structure
type TOMLConfig struct {
	HTTP        TOMLHTTPConfig        `toml:"http"`
	Transport   TOMLTransportConfig   `toml:"transport"`
	Outbox      TOMLOutboxConfig      `toml:"outbox"`
	Pipeline    TOMLPipelineConfig    `toml:"pipeline"`
	Idempotency TOMLIdempotencyConfig `toml:"idempotency"`
	DataDir     string                `toml:"data_dir"`
	DevMode     bool                  `toml:"dev_mode"`
}

// TOMLHTTPConfig represents the ops HTTP server section
type TOMLHTTPConfig struct {
	Port int `toml:"port"`
}

// TOMLTransportConfig represents the transport section
type TOMLTransportConfig struct {
	Type string         `toml:"type"`
	NATS TOMLNATSConfig `toml:"nats"`
}

// TOMLNATSConfig represents the NATS transport section
type TOMLNATSConfig struct {
	URL           string `toml:"url"`
	DataDir       string `toml:"data_dir"`
	StreamName    string `toml:"stream"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// TOMLOutboxConfig represents the outbox processor section
type TOMLOutboxConfig struct {
	Enabled      bool   `toml:"enabled"`
	PollInterval string `toml:"poll_interval"`
	BatchSize    int    `toml:"batch_size"`
	MaxRetries   int    `toml:"max_retries"`
	RetryDelay   string `toml:"retry_delay"`
	LeaseFor     string `toml:"lease_for"`
}

// TOMLPipelineConfig represents the pipeline defaults section
type TOMLPipelineConfig struct {
	Timeout          string `toml:"timeout"`
	MaxRetries       int    `toml:"max_retries"`
	RetryDelay       string `toml:"retry_delay"`
	BreakerThreshold int    `toml:"breaker_threshold"`
	BreakDuration    string `toml:"break_duration"`
	SigningKey       string `toml:"signing_key"`
	RequireSignature bool   `toml:"require_signature"`
}

// TOMLIdempotencyConfig represents the idempotency store section
type TOMLIdempotencyConfig struct {
	Backend       string `toml:"backend"`
	RedisAddr     string `toml:"redis_addr"`
	TTL           string `toml:"ttl"`
	CacheFailures *bool  `toml:"cache_failures"`
	FailureTTL    string `toml:"failure_ttl"`
}

// ConfigPaths lists the paths to search for config files
var ConfigPaths = []string{
	"config.toml",
	"kite.toml",
	"./config/config.toml",
	"./config/kite.toml",
	"/etc/kite/config.toml",
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	var tomlCfg TOMLConfig

	if _, err := toml.DecodeFile(path, &tomlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return tomlConfigToConfig(&tomlCfg)
}

// LoadWithFile loads configuration from file first, then overrides with env vars
func LoadWithFile() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	configPath := os.Getenv("KITE_CONFIG")
	if configPath == "" {
		for _, path := range ConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}
	if configPath == "" {
		return cfg, nil
	}

	fileCfg, err := LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	return mergeConfigs(fileCfg, cfg), nil
}

// tomlConfigToConfig converts TOML config to the internal Config struct
func tomlConfigToConfig(tc *TOMLConfig) (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port: tc.HTTP.Port,
		},
		Transport: TransportConfig{
			Type: tc.Transport.Type,
			NATS: NATSConfig{
				URL:           tc.Transport.NATS.URL,
				DataDir:       tc.Transport.NATS.DataDir,
				StreamName:    tc.Transport.NATS.StreamName,
				SubjectPrefix: tc.Transport.NATS.SubjectPrefix,
			},
		},
		Outbox: OutboxConfig{
			Enabled:    tc.Outbox.Enabled,
			BatchSize:  tc.Outbox.BatchSize,
			MaxRetries: tc.Outbox.MaxRetries,
		},
		Pipeline: PipelineConfig{
			MaxRetries:       tc.Pipeline.MaxRetries,
			BreakerThreshold: tc.Pipeline.BreakerThreshold,
			SigningKey:       tc.Pipeline.SigningKey,
			RequireSignature: tc.Pipeline.RequireSignature,
		},
		Idempotency: IdempotencyConfig{
			Backend:       tc.Idempotency.Backend,
			RedisAddr:     tc.Idempotency.RedisAddr,
			CacheFailures: tc.Idempotency.CacheFailures == nil || *tc.Idempotency.CacheFailures,
		},
		DataDir: tc.DataDir,
		DevMode: tc.DevMode,
	}

	setDuration(&cfg.Outbox.PollInterval, tc.Outbox.PollInterval)
	setDuration(&cfg.Outbox.RetryDelay, tc.Outbox.RetryDelay)
	setDuration(&cfg.Outbox.LeaseFor, tc.Outbox.LeaseFor)
	setDuration(&cfg.Pipeline.Timeout, tc.Pipeline.Timeout)
	setDuration(&cfg.Pipeline.RetryDelay, tc.Pipeline.RetryDelay)
	setDuration(&cfg.Pipeline.BreakDuration, tc.Pipeline.BreakDuration)
	setDuration(&cfg.Idempotency.TTL, tc.Idempotency.TTL)
	setDuration(&cfg.Idempotency.FailureTTL, tc.Idempotency.FailureTTL)

	return cfg, nil
}

func setDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

// mergeConfigs merges two configs, with override taking precedence for
// values that differ from the environment defaults
func mergeConfigs(base, override *Config) *Config {
	result := *base

	if override.HTTP.Port != 0 && override.HTTP.Port != 8080 {
		result.HTTP.Port = override.HTTP.Port
	}

	if override.Transport.Type != "" && override.Transport.Type != "inproc" {
		result.Transport.Type = override.Transport.Type
	}
	if override.Transport.NATS.URL != "" && override.Transport.NATS.URL != "nats://localhost:4222" {
		result.Transport.NATS.URL = override.Transport.NATS.URL
	}
	if override.Transport.NATS.StreamName != "" && override.Transport.NATS.StreamName != "KITE" {
		result.Transport.NATS.StreamName = override.Transport.NATS.StreamName
	}

	if override.Pipeline.SigningKey != "" {
		result.Pipeline.SigningKey = override.Pipeline.SigningKey
	}
	if override.Pipeline.RequireSignature {
		result.Pipeline.RequireSignature = true
	}

	if override.Idempotency.Backend != "" && override.Idempotency.Backend != "memory" {
		result.Idempotency.Backend = override.Idempotency.Backend
	}
	if !override.Idempotency.CacheFailures {
		result.Idempotency.CacheFailures = false
	}
	if override.Idempotency.FailureTTL > 0 {
		result.Idempotency.FailureTTL = override.Idempotency.FailureTTL
	}

	if override.DataDir != "" && override.DataDir != "./data" {
		result.DataDir = override.DataDir
	}
	if override.DevMode {
		result.DevMode = true
	}

	return &result
}

// WriteExampleConfig writes an example configuration file
func WriteExampleConfig(path string) error {
	example := `# kite configuration
# Environment variables override these settings

[http]
port = 8080

[transport]
type = "inproc"  # inproc, nats, or embedded

[transport.nats]
url = "nats://localhost:4222"
data_dir = "./data/nats"
stream = "KITE"
subject_prefix = "kite"

[outbox]
enabled = true
poll_interval = "1s"
batch_size = 50
max_retries = 3
lease_for = "30s"

[pipeline]
timeout = "30s"
max_retries = 0
retry_delay = "100ms"
breaker_threshold = 5
break_duration = "30s"
signing_key = ""
require_signature = false

[idempotency]
backend = "memory"  # memory or redis
redis_addr = "localhost:6379"
ttl = "24h"
cache_failures = true
failure_ttl = ""  # empty falls back to ttl

data_dir = "./data"
dev_mode = false
`

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	return os.WriteFile(path, []byte(example), 0o644)
}
