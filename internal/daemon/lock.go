package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// StartLock guards the PID-file-write-then-listen window of Start
// against two `daemon start` invocations racing each other, using
// cross-process advisory locking (gofrs/flock) rather than relying on
// the PID file alone, which is only consulted after the fact.
type StartLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewStartLock returns a StartLock for cfg's PID path, placed
// alongside it as <pidpath>.lock.
func NewStartLock(cfg Config) *StartLock {
	path := cfg.PIDPath + ".lock"
	return &StartLock{path: path, flock: flock.New(path)}
}

// TryAcquire attempts to acquire the lock without blocking, creating
// its parent directory if needed. Returns false if another process
// already holds it.
func (l *StartLock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire start lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Release releases the lock. Safe to call on an unacquired lock.
func (l *StartLock) Release() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release start lock: %w", err)
	}
	l.locked = false
	return nil
}
