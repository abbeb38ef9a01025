// Package lock provides the host-wide sweep lock backed by a lock file.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/jinkaiteo/edms/internal/application/port"
)

// FileLock is a non-blocking advisory lock on a file
type FileLock struct {
	path string
	lock *flock.Flock
}

// NewFileLock prepares a lock on path, creating its directory
func NewFileLock(path string) (*FileLock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return &FileLock{path: path, lock: flock.New(path)}, nil
}

// TryLock acquires the lock without waiting; false means another holder has it
func (l *FileLock) TryLock() (bool, error) {
	ok, err := l.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", l.path, err)
	}
	return ok, nil
}

// Unlock releases the lock
func (l *FileLock) Unlock() error {
	return l.lock.Unlock()
}

// Path returns the lock file location
func (l *FileLock) Path() string {
	return l.path
}

var _ port.SweepLock = (*FileLock)(nil)
