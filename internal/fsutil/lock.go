package fsutil

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// ErrLocked is returned by Lock when the lock stays held past the wait.
var ErrLocked = stderrors.New("lock is held by another writer")

const lockPoll = 5 * time.Millisecond

// Lock takes an exclusive cross-process lock by creating path with O_EXCL.
// A lock file older than stale belongs to a crashed holder and is removed.
// Lock polls until wait elapses or ctx ends. The returned func releases it.
func Lock(ctx context.Context, path string, wait, stale time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	for {
		f, err := OpenNoFollow(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return func() { _ = os.Remove(path) }, nil
		}
		if !stderrors.Is(err, fs.ErrExist) {
			return nil, err
		}

		if info, err := os.Lstat(path); err == nil && time.Since(info.ModTime()) > stale {
			_ = os.Remove(path)
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPoll):
		}
	}
}
