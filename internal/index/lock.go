package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryDelay is how often a blocked Lock re-attempts acquisition.
const lockRetryDelay = 250 * time.Millisecond

// RepoLock serializes indexing runs for one repository across processes
// using gofrs/flock. Two concurrent runs against the same repo would race
// on the stale-row sweep, so the second waits or bails.
// Works on all platforms (Unix, Linux, macOS, Windows).
type RepoLock struct {
	path   string
	flock  *flock.Flock
	locked bool // explicit state tracking for clarity
}

// NewRepoLock creates a lock for repoID under dir. An empty dir falls back
// to a cindex directory under the system temp dir so unrelated processes
// agree on the location.
func NewRepoLock(dir, repoID string) *RepoLock {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "cindex")
	}
	lockPath := filepath.Join(dir, repoID+".lock")
	return &RepoLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock acquires the exclusive lock, blocking until it is available or ctx
// is done. The lock file is created if missing.
func (l *RepoLock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("lock not acquired: %s", l.path)
	}

	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if it's held by another process.
func (l *RepoLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock.
// It's safe to call Unlock multiple times or on an unlocked RepoLock.
func (l *RepoLock) Unlock() error {
	if !l.locked {
		return nil
	}

	if err := l.flock.Unlock(); err != nil {
		l.locked = false
		return fmt.Errorf("failed to release lock: %w", err)
	}

	l.locked = false
	return nil
}

// Path returns the path to the lock file.
func (l *RepoLock) Path() string {
	return l.path
}

// IsLocked returns true if the lock is currently held.
func (l *RepoLock) IsLocked() bool {
	return l.locked
}
