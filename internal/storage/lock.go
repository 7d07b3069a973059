package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"
)

const (
	// lockRetryInterval is how long Acquire sleeps between attempts.
	lockRetryInterval = 100 * time.Millisecond

	// DefaultLockWait bounds how long Acquire keeps retrying before
	// surfacing ErrLockTimeout.
	DefaultLockWait = 10 * time.Second

	// DefaultLockStaleAfter is the age past which a held lock is treated
	// as abandoned by a crashed process and taken over.
	DefaultLockStaleAfter = 2 * time.Minute
)

// lockOwner is the payload written into the lock file. Owner identity and
// timestamp are durable rows/files, never in-memory globals, because every
// invocation is a fresh process.
type lockOwner struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// FileLock is a cross-process exclusive lock backed by an O_EXCL-created
// lock file. Multiple engine invocations (e.g. two sessions sharing the
// global-scope store) serialize multi-write critical sections through it.
//
// A crashed process cannot deadlock future invocations: locks older than
// staleAfter are removed and re-acquired.
type FileLock struct {
	path       string
	wait       time.Duration
	staleAfter time.Duration
	held       bool
}

// NewFileLock creates a lock at path with default wait and staleness bounds.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		path:       path,
		wait:       DefaultLockWait,
		staleAfter: DefaultLockStaleAfter,
	}
}

// NewFileLockWithBounds creates a lock with explicit wait and staleness
// bounds. Non-positive values fall back to the defaults.
func NewFileLockWithBounds(path string, wait, staleAfter time.Duration) *FileLock {
	if wait <= 0 {
		wait = DefaultLockWait
	}
	if staleAfter <= 0 {
		staleAfter = DefaultLockStaleAfter
	}
	return &FileLock{path: path, wait: wait, staleAfter: staleAfter}
}

// Acquire takes the lock, retrying for up to the configured wait. It
// returns ErrLockTimeout when another live process holds the lock for the
// whole window.
func (l *FileLock) Acquire() error {
	deadline := time.Now().Add(l.wait)

	for {
		if err := l.tryAcquire(); err == nil {
			l.held = true
			return nil
		} else if !os.IsExist(err) {
			return fmt.Errorf("lock: failed to create %s: %w", l.path, err)
		}

		if l.reclaimIfStale() {
			continue
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s held by another process", ErrLockTimeout, l.path)
		}
		time.Sleep(lockRetryInterval)
	}
}

// tryAcquire attempts a single O_EXCL create and writes the owner payload.
func (l *FileLock) tryAcquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	hostname, _ := os.Hostname()
	owner := lockOwner{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now().UTC(),
	}

	data, _ := json.Marshal(owner)
	if _, err := f.Write(data); err != nil {
		// Owner info is advisory; the O_EXCL create is the lock itself.
		log.Printf("lock: failed to write owner info to %s: %v", l.path, err)
	}
	return nil
}

// reclaimIfStale removes the lock file when the recorded owner is older
// than staleAfter (or unreadable and old by mtime). Returns true when the
// file was removed and acquisition should be retried immediately.
func (l *FileLock) reclaimIfStale() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		// Racing with a concurrent release; let the retry loop handle it.
		return false
	}

	var owner lockOwner
	age := time.Duration(0)
	if err := json.Unmarshal(data, &owner); err == nil && !owner.AcquiredAt.IsZero() {
		age = time.Since(owner.AcquiredAt)
	} else if info, statErr := os.Stat(l.path); statErr == nil {
		age = time.Since(info.ModTime())
	}

	if age < l.staleAfter {
		return false
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		log.Printf("lock: failed to remove stale lock %s: %v", l.path, err)
		return false
	}

	log.Printf("lock: reclaimed stale lock %s (age %s, pid %d)", l.path, age.Round(time.Second), owner.PID)
	return true
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: failed to remove %s: %w", l.path, err)
	}
	return nil
}
