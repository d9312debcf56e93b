// Package filelock guards the monitor daemon against concurrent instances.
// Two daemons sweeping the same database would double-dispatch jobs, so the
// daemon takes an exclusive flock on a lock file next to the database
// before starting.
package filelock

import (
	"fmt"

	"github.com/gofrs/flock"
)

// InstanceLock is an exclusive advisory lock on a file, held for the
// lifetime of the process that acquired it.
type InstanceLock struct {
	flock *flock.Flock
	path  string
}

// New creates a lock for the given path. The lock file is created on
// acquire if it does not exist.
func New(path string) *InstanceLock {
	return &InstanceLock{
		flock: flock.New(path),
		path:  path,
	}
}

// Acquire attempts to take the lock without blocking. It returns an error
// naming the lock path when another process already holds it.
func (l *InstanceLock) Acquire() error {
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to try lock on %s: %w", l.path, err)
	}
	if !acquired {
		return fmt.Errorf("another instance holds the lock at %s", l.path)
	}
	return nil
}

// Release releases the lock.
func (l *InstanceLock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}

// Path returns the lock file path.
func (l *InstanceLock) Path() string {
	return l.path
}
