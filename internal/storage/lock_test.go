package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "mnemon.lock")
}

func TestFileLockAcquireRelease(t *testing.T) {
	path := lockPath(t)
	lock := NewFileLock(path)

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file missing after Acquire: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lock file still present after Release")
	}
}

func TestFileLockContentionTimesOut(t *testing.T) {
	path := lockPath(t)

	first := NewFileLockWithBounds(path, 200*time.Millisecond, time.Hour)
	if err := first.Acquire(); err != nil {
		t.Fatalf("first Acquire() failed: %v", err)
	}
	defer func() { _ = first.Release() }()

	second := NewFileLockWithBounds(path, 300*time.Millisecond, time.Hour)
	err := second.Acquire()
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("second Acquire() = %v, want ErrLockTimeout", err)
	}
}

func TestFileLockStaleTakeover(t *testing.T) {
	path := lockPath(t)

	// Simulate a lock left behind by a crashed process.
	stale := lockOwner{PID: 99999, Hostname: "dead-host", AcquiredAt: time.Now().Add(-time.Hour)}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to plant stale lock: %v", err)
	}

	lock := NewFileLockWithBounds(path, time.Second, time.Minute)
	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire() should have reclaimed stale lock: %v", err)
	}
	_ = lock.Release()
}

func TestFileLockReleaseUnheld(t *testing.T) {
	lock := NewFileLock(lockPath(t))
	if err := lock.Release(); err != nil {
		t.Errorf("Release() of unheld lock = %v, want nil", err)
	}
}
