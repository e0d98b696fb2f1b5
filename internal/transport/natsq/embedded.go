package natsq

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedConfig configures the embedded NATS server.
type EmbeddedConfig struct {
	// DataDir is the JetStream persistence directory
	DataDir string

	// Host is the bind address (default 127.0.0.1)
	Host string

	// Port is the server port (default 4222, -1 selects a free port)
	Port int
}

// DefaultEmbeddedConfig returns the embedded server defaults
func DefaultEmbeddedConfig() EmbeddedConfig {
	return EmbeddedConfig{
		DataDir: "./data/nats",
		Host:    "127.0.0.1",
		Port:    4222,
	}
}

// EmbeddedServer runs a NATS server with JetStream inside the process. The
// daemon starts one when no external broker is configured.
type EmbeddedServer struct {
	server  *server.Server
	dataDir string
}

// NewEmbeddedServer creates and starts an embedded NATS server
func NewEmbeddedServer(cfg EmbeddedConfig) (*EmbeddedServer, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 4222
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/nats"
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	opts := &server.Options{
		Host:      cfg.Host,
		Port:      cfg.Port,
		JetStream: true,
		StoreDir:  cfg.DataDir,
		NoLog:     true,
		NoSigs:    true,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server did not become ready")
	}

	slog.Info("Embedded NATS server started",
		"host", cfg.Host, "port", cfg.Port, "data_dir", cfg.DataDir)
	return &EmbeddedServer{server: ns, dataDir: cfg.DataDir}, nil
}

// ClientURL returns the URL clients should dial
func (e *EmbeddedServer) ClientURL() string {
	return e.server.ClientURL()
}

// Close shuts the server down and removes the JetStream lock file
func (e *EmbeddedServer) Close() error {
	e.server.Shutdown()
	e.server.WaitForShutdown()

	lockFile := filepath.Join(e.dataDir, "jetstream", "lock.lck")
	if _, err := os.Stat(lockFile); err == nil {
		os.Remove(lockFile)
	}
	slog.Info("Embedded NATS server shut down")
	return nil
}
