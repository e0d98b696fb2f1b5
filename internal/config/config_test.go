package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.Transport.Type != "inproc" {
		t.Errorf("expected default transport inproc, got %q", cfg.Transport.Type)
	}
	if !cfg.Outbox.Enabled {
		t.Error("outbox should be enabled by default")
	}
	if cfg.Pipeline.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", cfg.Pipeline.Timeout)
	}
	if cfg.Idempotency.Backend != "memory" {
		t.Errorf("expected default idempotency backend memory, got %q", cfg.Idempotency.Backend)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("TRANSPORT_TYPE", "nats")
	t.Setenv("PIPELINE_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Transport.Type != "nats" {
		t.Errorf("expected transport nats, got %q", cfg.Transport.Type)
	}
	if cfg.Pipeline.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", cfg.Pipeline.Timeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[http]
port = 7070

[transport]
type = "embedded"

[outbox]
enabled = true
poll_interval = "250ms"
batch_size = 20

[pipeline]
timeout = "10s"
breaker_threshold = 7

[idempotency]
backend = "redis"
redis_addr = "redis:6379"
ttl = "1h"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.HTTP.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.HTTP.Port)
	}
	if cfg.Transport.Type != "embedded" {
		t.Errorf("expected transport embedded, got %q", cfg.Transport.Type)
	}
	if cfg.Outbox.PollInterval != 250*time.Millisecond {
		t.Errorf("expected poll interval 250ms, got %v", cfg.Outbox.PollInterval)
	}
	if cfg.Outbox.BatchSize != 20 {
		t.Errorf("expected batch size 20, got %d", cfg.Outbox.BatchSize)
	}
	if cfg.Pipeline.BreakerThreshold != 7 {
		t.Errorf("expected breaker threshold 7, got %d", cfg.Pipeline.BreakerThreshold)
	}
	if cfg.Idempotency.Backend != "redis" || cfg.Idempotency.TTL != time.Hour {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("not [valid toml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestWriteExampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	if err := WriteExampleConfig(path); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("example config should parse: %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected example port 8080, got %d", cfg.HTTP.Port)
	}
}
