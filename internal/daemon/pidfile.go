package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ErrPIDFileNotFound is returned when the PID file doesn't exist.
var ErrPIDFileNotFound = errors.New("daemon: PID file not found")

// pidRecord is the JSON body of a PID file: the running daemon's PID and
// the socket path a client should dial (§6 "writes daemon.pid containing
// its PID and the socket path").
type pidRecord struct {
	PID        int    `json:"pid"`
	SocketPath string `json:"socket_path"`
}

// PIDFile manages the daemon's process-id-and-socket-path file.
type PIDFile struct {
	path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the PID file path.
func (p *PIDFile) Path() string { return p.path }

// Write records the current process's PID and socketPath, creating the
// parent directory if needed.
func (p *PIDFile) Write(socketPath string) error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("daemon: create PID directory: %w", err)
	}

	data, err := json.Marshal(pidRecord{PID: os.Getpid(), SocketPath: socketPath})
	if err != nil {
		return fmt.Errorf("daemon: encode PID record: %w", err)
	}

	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("daemon: write PID file: %w", err)
	}
	return nil
}

// Read reads the recorded PID and socket path.
func (p *PIDFile) Read() (pid int, socketPath string, err error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, "", ErrPIDFileNotFound
		}
		return 0, "", fmt.Errorf("daemon: read PID file: %w", err)
	}

	var rec pidRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, "", fmt.Errorf("daemon: invalid PID file: %w", err)
	}
	return rec.PID, rec.SocketPath, nil
}

// Remove deletes the PID file. Returns nil if it doesn't exist.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("daemon: remove PID file: %w", err)
	}
	return nil
}

// IsRunning reports whether the recorded PID corresponds to a live process.
func (p *PIDFile) IsRunning() bool {
	pid, _, err := p.Read()
	if err != nil {
		return false
	}
	return processExists(pid)
}

// Signal sends sig to the recorded process.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, _, err := p.Read()
	if err != nil {
		return fmt.Errorf("daemon: read PID: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("daemon: find process %d: %w", pid, err)
	}
	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("daemon: signal process %d: %w", pid, err)
	}
	return nil
}

// processExists reports whether pid identifies a live process; on Unix,
// FindProcess always succeeds, so a zero-signal probe is required.
func processExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
