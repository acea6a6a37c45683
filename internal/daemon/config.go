// Package daemon provides a background service for fast CLI/MCP search.
// The daemon keeps a bounded set of indexes open in memory, letting
// search clients connect over a Unix socket instead of reopening a
// kv.Store (and rebuilding its words FST) on every invocation.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds configuration for the daemon service.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	// Default: ~/.scribe/daemon.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	// Default: ~/.scribe/daemon.pid
	PIDPath string

	// Timeout is the maximum duration for client-daemon communication.
	// Default: 30s
	Timeout time.Duration

	// ShutdownGracePeriod is the time to wait for graceful shutdown.
	// Default: 10s
	ShutdownGracePeriod time.Duration

	// MaxIndexes is the maximum number of indexes to keep open at once.
	// Uses LRU eviction when exceeded.
	// Default: 5
	MaxIndexes int

	// AutoStart enables auto-starting the daemon from the CLI if it is
	// not already running.
	// Default: false
	AutoStart bool

	// Compaction tunes the background vector-index compaction pass
	// (§4.6).
	Compaction CompactionConfig
}

// CompactionConfig tunes background HNSW compaction for idle indexes.
type CompactionConfig struct {
	// Enabled turns on automatic background compaction.
	Enabled bool

	// IdleTimeout is how long an index must go without a search before
	// it becomes eligible for compaction, parsed with time.ParseDuration.
	IdleTimeout string

	// Cooldown is the minimum time between two compactions of the same
	// index, parsed with time.ParseDuration.
	Cooldown string

	// OrphanThreshold is the minimum orphans/total ratio that makes an
	// embedder's graph eligible for compaction.
	OrphanThreshold float64

	// MinOrphanCount is the minimum absolute orphan count required
	// before OrphanThreshold is even consulted, avoiding compaction
	// churn on small graphs.
	MinOrphanCount int
}

// DefaultCompactionConfig returns sane compaction defaults.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		Enabled:         true,
		IdleTimeout:     "30s",
		Cooldown:        "1h",
		OrphanThreshold: 0.3,
		MinOrphanCount:  100,
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}

	scribeDir := filepath.Join(home, ".scribe")

	return Config{
		SocketPath:          filepath.Join(scribeDir, "daemon.sock"),
		PIDPath:             filepath.Join(scribeDir, "daemon.pid"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
		MaxIndexes:          5,
		AutoStart:           false,
		Compaction:          DefaultCompactionConfig(),
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	if c.MaxIndexes <= 0 {
		return fmt.Errorf("max indexes must be positive")
	}
	return nil
}

// EnsureDir creates the directory for socket and PID files if it doesn't exist.
func (c Config) EnsureDir() error {
	socketDir := filepath.Dir(c.SocketPath)
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	pidDir := filepath.Dir(c.PIDPath)
	if pidDir != socketDir {
		if err := os.MkdirAll(pidDir, 0755); err != nil {
			return fmt.Errorf("failed to create PID directory: %w", err)
		}
	}

	return nil
}
