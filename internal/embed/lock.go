package embed

import (
	"path/filepath"

	"github.com/gofrs/flock"
)

// OwnershipLock is an advisory, cross-process file lock used to keep a
// standalone run from mutating a collection a daemon currently owns.
// Grounded in the teacher's download lock, repurposed here from guarding a
// model download to guarding collection ownership.
type OwnershipLock struct {
	flock *flock.Flock
	path  string
}

// NewOwnershipLock creates a lock file named "daemon.lock" inside dir.
func NewOwnershipLock(dir string) *OwnershipLock {
	path := filepath.Join(dir, "daemon.lock")
	return &OwnershipLock{flock: flock.New(path), path: path}
}

// Path returns the lock file's path.
func (l *OwnershipLock) Path() string { return l.path }

// TryLock attempts to acquire the lock without blocking.
func (l *OwnershipLock) TryLock() (bool, error) {
	return l.flock.TryLock()
}

// Unlock releases the lock.
func (l *OwnershipLock) Unlock() error {
	return l.flock.Unlock()
}

// IsLocked reports whether this process currently holds the lock.
func (l *OwnershipLock) IsLocked() bool {
	return l.flock.Locked()
}
