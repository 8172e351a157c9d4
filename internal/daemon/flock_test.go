//go:build unix

package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")

	lock1, err := AcquireLock(lockPath)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	defer func() { _ = lock1.Release() }()

	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		t.Fatal("lock file was not created")
	}

	if _, err := AcquireLock(lockPath); err == nil {
		t.Fatal("expected error when acquiring already-held lock")
	} else if !strings.Contains(err.Error(), "lock held") {
		t.Fatalf("expected 'lock held' error, got: %v", err)
	}
}

func TestReleaseLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")

	lock, err := AcquireLock(lockPath)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("failed to release lock: %v", err)
	}

	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatal("lock file was not removed after release")
	}

	lock2, err := AcquireLock(lockPath)
	if err != nil {
		t.Fatalf("failed to reacquire released lock: %v", err)
	}
	defer func() { _ = lock2.Release() }()

	// Double release is a no-op.
	if err := lock.Release(); err != nil {
		t.Fatalf("second release returned error: %v", err)
	}
}

func TestIsLocked(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")

	if IsLocked(lockPath) {
		t.Fatal("missing lock file reported as locked")
	}

	lock, err := AcquireLock(lockPath)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	defer func() { _ = lock.Release() }()

	// Same-process flock probes succeed even while the lock is held, so
	// IsLocked is only meaningful across processes. Just exercise it.
	_ = IsLocked(lockPath)
}
