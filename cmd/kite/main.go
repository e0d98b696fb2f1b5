// kite daemon: loads configuration, assembles a bus with the configured
// transport and idempotency backend, and serves the ops HTTP surface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kitemq/kite/bus"
	"github.com/kitemq/kite/internal/api/ops"
	"github.com/kitemq/kite/internal/common/lifecycle"
	"github.com/kitemq/kite/internal/config"
	"github.com/kitemq/kite/internal/idempotency"
	"github.com/kitemq/kite/internal/outbox"
	"github.com/kitemq/kite/internal/transport/inproc"
	"github.com/kitemq/kite/internal/transport/natsq"
	"github.com/kitemq/kite/messaging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init-config" {
		if err := config.WriteExampleConfig("config.toml"); err != nil {
			fmt.Fprintln(os.Stderr, "failed to write config.toml:", err)
			os.Exit(1)
		}
		fmt.Println("wrote config.toml")
		return
	}

	logLevel := slog.LevelInfo
	if os.Getenv("KITE_DEV") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting kite",
		"version", version,
		"build_time", buildTime)

	cfg, err := config.LoadWithFile()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport, cleanup, err := buildTransport(cfg)
	if err != nil {
		slog.Error("Failed to initialize transport", "type", cfg.Transport.Type, "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	idemStore, err := buildIdempotencyStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize idempotency store", "backend", cfg.Idempotency.Backend, "error", err)
		os.Exit(1)
	}

	coreCfg := bus.DefaultCoreConfig()
	coreCfg.Transport = transport
	coreCfg.IdempotencyStore = idemStore
	coreCfg.IdempotencyTTL = cfg.Idempotency.TTL
	coreCfg.IdempotencyCacheFailures = cfg.Idempotency.CacheFailures
	coreCfg.IdempotencyFailureTTL = cfg.Idempotency.FailureTTL
	coreCfg.ProcessingTimeout = cfg.Pipeline.Timeout
	coreCfg.MaxRetries = cfg.Pipeline.MaxRetries
	coreCfg.RetryDelay = cfg.Pipeline.RetryDelay
	coreCfg.CircuitBreakerThreshold = cfg.Pipeline.BreakerThreshold
	coreCfg.CircuitBreakerTimeout = cfg.Pipeline.BreakDuration
	coreCfg.SigningKey = cfg.Pipeline.SigningKey
	coreCfg.RequireSignature = cfg.Pipeline.RequireSignature
	coreCfg.DisableOutbox = !cfg.Outbox.Enabled
	coreCfg.Outbox = outbox.ProcessorConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		LeaseFor:     cfg.Outbox.LeaseFor,
		MaxRetries:   cfg.Outbox.MaxRetries,
		RetryDelay:   cfg.Outbox.RetryDelay,
	}

	b, err := bus.New(coreCfg)
	if err != nil {
		slog.Error("Failed to assemble bus", "error", err)
		os.Exit(1)
	}

	busService := lifecycle.NewServiceFunc("bus",
		func(ctx context.Context) error {
			if err := b.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
		b.Stop,
	)

	opsHandler := ops.NewHandler(b.Checker(), b.DeadLetters(), b.QueueEngine(), b.Registry())
	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           opsHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Ops API listening", "port", cfg.HTTP.Port)

	if err := lifecycle.Run(ctx, busService, lifecycle.NewHTTPService("ops-api", opsServer)); err != nil {
		slog.Error("Daemon exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

// buildTransport selects the transport from configuration. The embedded
// variant runs a NATS server inside the process; its cleanup closes it.
func buildTransport(cfg *config.Config) (messaging.Transport, func(), error) {
	switch cfg.Transport.Type {
	case "inproc":
		return inproc.New(inproc.Config{}), nil, nil

	case "nats":
		return natsq.New(natsq.Config{
			URL:           cfg.Transport.NATS.URL,
			StreamName:    cfg.Transport.NATS.StreamName,
			SubjectPrefix: cfg.Transport.NATS.SubjectPrefix,
		}), nil, nil

	case "embedded":
		server, err := natsq.NewEmbeddedServer(natsq.EmbeddedConfig{
			DataDir: cfg.Transport.NATS.DataDir,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("embedded nats: %w", err)
		}
		transport := natsq.New(natsq.Config{
			URL:           server.ClientURL(),
			StreamName:    cfg.Transport.NATS.StreamName,
			SubjectPrefix: cfg.Transport.NATS.SubjectPrefix,
		})
		return transport, func() { server.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport type %q", cfg.Transport.Type)
	}
}

// buildIdempotencyStore selects the idempotency backend from configuration
func buildIdempotencyStore(ctx context.Context, cfg *config.Config) (messaging.IdempotencyStore, error) {
	switch cfg.Idempotency.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Idempotency.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return idempotency.NewRedisStore(client, "kite"), nil

	case "memory", "":
		return idempotency.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", cfg.Idempotency.Backend)
	}
}
