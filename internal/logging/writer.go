package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// rotatingFile is the io.Writer behind Setup: it rotates cbird.log →
// cbird.log.1 → cbird.log.2 ..., keeping at most maxFiles rotated
// copies. Every write is synced so `tail -f` sees entries as they
// happen; catalog logging is low-volume enough that the fsync cost
// doesn't matter.
type rotatingFile struct {
	path     string
	maxBytes int64
	maxFiles int

	mu   sync.Mutex
	f    *os.File
	size int64
}

func openRotatingFile(path string, maxSizeMB, maxFiles int) (*rotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log directory: %w", err)
	}
	r := &rotatingFile{
		path:     path,
		maxBytes: int64(maxSizeMB) << 20,
		maxFiles: maxFiles,
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rotatingFile) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", r.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("logging: stat %s: %w", r.path, err)
	}
	r.f = f
	r.size = info.Size()
	return nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			// Keep writing to the current file rather than losing entries.
			fmt.Fprintf(os.Stderr, "logging: rotation failed: %v\n", err)
		}
	}

	n, err := r.f.Write(p)
	r.size += int64(n)
	if err == nil {
		_ = r.f.Sync()
	}
	return n, err
}

// Close flushes and closes the live log file. Safe to call twice.
func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// rotate shifts cbird.log.(maxFiles-1) ... cbird.log.1 up by one slot,
// dropping whatever falls off the end, then moves the live file to .1
// and reopens a fresh one.
func (r *rotatingFile) rotate() error {
	if r.f != nil {
		if err := r.f.Close(); err != nil {
			return fmt.Errorf("logging: close for rotation: %w", err)
		}
		r.f = nil
	}

	for n := r.maxFiles; n >= 1; n-- {
		name := fmt.Sprintf("%s.%d", r.path, n)
		if n == r.maxFiles {
			_ = os.Remove(name)
			continue
		}
		_ = os.Rename(name, fmt.Sprintf("%s.%d", r.path, n+1))
	}
	if err := os.Rename(r.path, r.path+".1"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("logging: rotate %s: %w", r.path, err)
	}

	r.size = 0
	return r.open()
}
