package lock

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWriteLock_LockUnlock(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	if err := l.Lock(); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if _, err := os.Stat(l.Path()); os.IsNotExist(err) {
		t.Error("lock file was not created")
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock() failed: %v", err)
	}
}

func TestWriteLock_UnlockWithoutLock(t *testing.T) {
	l := New(t.TempDir())
	if err := l.Unlock(); err != nil {
		t.Errorf("Unlock() without Lock() should not error: %v", err)
	}
}

func TestWriteLock_DoubleUnlock(t *testing.T) {
	l := New(t.TempDir())

	if err := l.Lock(); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("first Unlock() failed: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Errorf("second Unlock() should not error: %v", err)
	}
}

func TestWriteLock_TryLockSuccess(t *testing.T) {
	l := New(t.TempDir())

	acquired, err := l.TryLock()
	if err != nil {
		t.Fatalf("TryLock() failed: %v", err)
	}
	if !acquired {
		t.Error("TryLock() should return true when lock is available")
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock() failed: %v", err)
	}
}

func TestWriteLock_TryLockAlreadyHeld(t *testing.T) {
	dir := t.TempDir()

	l1 := New(dir)
	if err := l1.Lock(); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	defer func() { _ = l1.Unlock() }()

	l2 := New(dir)
	acquired, err := l2.TryLock()
	if err != nil {
		t.Fatalf("TryLock() error: %v", err)
	}
	if acquired {
		t.Error("TryLock() should return false when another process holds write.lock")
		_ = l2.Unlock()
	}
}

func TestWriteLock_Path(t *testing.T) {
	dir := "/some/dir"
	l := New(dir)

	expected := filepath.Join(dir, WriteLockName)
	if l.Path() != expected {
		t.Errorf("Path() = %q, want %q", l.Path(), expected)
	}
}

func TestWriteLock_ConcurrentAccess(t *testing.T) {
	dir := t.TempDir()
	counter := 0
	var mu sync.Mutex

	numGoroutines := 10
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			l := New(dir)
			if err := l.Lock(); err != nil {
				t.Errorf("Lock() failed: %v", err)
				return
			}
			defer func() { _ = l.Unlock() }()

			mu.Lock()
			counter++
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)
		}()
	}

	wg.Wait()

	if counter != numGoroutines {
		t.Errorf("counter = %d, want %d", counter, numGoroutines)
	}
}

func TestWriteLock_CreatesDirectory(t *testing.T) {
	baseDir := t.TempDir()
	nestedDir := filepath.Join(baseDir, "nested", "dir", "for", "lock")

	l := New(nestedDir)
	if err := l.Lock(); err != nil {
		t.Fatalf("Lock() failed to create nested directory: %v", err)
	}
	defer func() { _ = l.Unlock() }()

	if _, err := os.Stat(nestedDir); os.IsNotExist(err) {
		t.Error("Lock() did not create the nested directory")
	}
}

func TestWriteLock_Held(t *testing.T) {
	l := New(t.TempDir())

	if l.Held() {
		t.Error("new lock should not be held")
	}
	if err := l.Lock(); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if !l.Held() {
		t.Error("lock should be held after Lock()")
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock() failed: %v", err)
	}
	if l.Held() {
		t.Error("lock should not be held after Unlock()")
	}
}

func TestWriteLock_HeldAfterFailedTryLock(t *testing.T) {
	dir := t.TempDir()

	l1 := New(dir)
	if err := l1.Lock(); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	defer func() { _ = l1.Unlock() }()

	l2 := New(dir)
	acquired, err := l2.TryLock()
	if err != nil {
		t.Fatalf("TryLock() error: %v", err)
	}
	if acquired {
		t.Fatal("TryLock() should have failed")
	}
	if l2.Held() {
		t.Error("failed TryLock() should not mark lock as held")
	}
}
