package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the daemon's own transport/lifecycle settings - distinct
// from a collection's indexing config (internal/config), which the
// daemon loads once per project root.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	// Default: <project>/.cidx/daemon.sock
	SocketPath string

	// PIDPath is where the daemon's process ID and socket path are written.
	// Default: <project>/.cidx/daemon.pid
	PIDPath string

	// RequestTimeout bounds a single client round trip.
	// Default: 30s, per §5's "per-query deadline".
	RequestTimeout time.Duration

	// ShutdownGracePeriod is how long the daemon waits for in-flight
	// requests to finish before forcing shutdown.
	// Default: 10s.
	ShutdownGracePeriod time.Duration

	// WorkerPoolSize bounds concurrent request handling (§4.12
	// "reactor dispatches... to a worker pool").
	// Default: 8.
	WorkerPoolSize int

	// IdleTimeout shuts the daemon down after this long with zero requests.
	// Zero disables idle shutdown.
	IdleTimeout time.Duration
}

// DefaultConfig returns the §6 defaults rooted at projectRoot's .cidx
// directory.
func DefaultConfig(projectRoot string) Config {
	dataDir := filepath.Join(projectRoot, ".cidx")
	return Config{
		SocketPath:          filepath.Join(dataDir, "daemon.sock"),
		PIDPath:             filepath.Join(dataDir, "daemon.pid"),
		RequestTimeout:      30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
		WorkerPoolSize:      8,
		IdleTimeout:         0,
	}
}

// Validate checks that Config is usable.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("daemon: socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("daemon: PID path cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("daemon: request timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("daemon: shutdown grace period must be positive")
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("daemon: worker pool size must be positive")
	}
	return nil
}

// EnsureDir creates the directories holding the socket and PID files.
func (c Config) EnsureDir() error {
	socketDir := filepath.Dir(c.SocketPath)
	if err := os.MkdirAll(socketDir, 0o755); err != nil {
		return fmt.Errorf("daemon: create socket directory: %w", err)
	}

	pidDir := filepath.Dir(c.PIDPath)
	if pidDir != socketDir {
		if err := os.MkdirAll(pidDir, 0o755); err != nil {
			return fmt.Errorf("daemon: create PID directory: %w", err)
		}
	}

	return nil
}
