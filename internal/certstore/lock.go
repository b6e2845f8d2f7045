package certstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
)

// FileLock provides cross-platform file locking using flock.
type FileLock struct {
	lock *flock.Flock
}

// NewFileLock creates a new file lock for the given path.
// The lock file will be created at path + ".lock".
func NewFileLock(path string) *FileLock {
	return &FileLock{
		lock: flock.New(path + ".lock"),
	}
}

// Lock acquires the file lock with context support.
// It will retry with a 100ms interval until the context is done or the lock is acquired.
// A lock still held by another run when the context expires yields ErrLocked.
func (l *FileLock) Lock(ctx context.Context) error {
	locked, err := l.lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("failed to acquire lock %s: %w: %w", l.lock.Path(), rootcaerrors.ErrLocked, err)
		}
		return fmt.Errorf("failed to acquire lock %s: %w", l.lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire lock %s: %w", l.lock.Path(), rootcaerrors.ErrLocked)
	}
	return nil
}

// Unlock releases the file lock.
func (l *FileLock) Unlock() error {
	return l.lock.Unlock()
}
