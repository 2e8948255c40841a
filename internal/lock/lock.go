// Package lock provides the cross-process advisory lock that guards
// mutating catalog operations against a second process writing to the
// same index root concurrently.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// WriteLock wraps gofrs/flock over <index-dir>/write.lock. A process
// holds it only for the duration of a single mutating catalog
// operation; readers never take it. Works on all platforms.
type WriteLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// WriteLockName is the fixed file name acquired under the index
// directory by every mutating catalog operation.
const WriteLockName = "write.lock"

// New creates a write lock rooted at <dir>/write.lock.
func New(dir string) *WriteLock {
	lockPath := filepath.Join(dir, WriteLockName)
	return &WriteLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock acquires the lock, blocking until it is available. No catalog
// operation calls it: the background vacuum scheduler goes through
// Catalog.Vacuum, which uses TryLock like every other mutating operation.
func (l *WriteLock) Lock() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking. Every
// foreground mutating operation (add, remove, move, rename, vacuum)
// uses this: if another process already holds write.lock, the
// operation aborts immediately rather than waiting.
func (l *WriteLock) TryLock() (bool, error) {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire write lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call on an unheld lock.
func (l *WriteLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		l.locked = false
		return fmt.Errorf("release write lock: %w", err)
	}
	l.locked = false
	return nil
}

// Path returns the path to the lock file.
func (l *WriteLock) Path() string {
	return l.path
}

// Held reports whether this handle currently holds the lock.
func (l *WriteLock) Held() bool {
	return l.locked
}
