package filesystem

import (
	"context"
	"errors"
	"fmt"
	"github.com/gofrs/flock"
	"time"
)

var ErrLockTimeout = errors.New("timed out waiting for timeout lock")

/*
acquire takes the exclusive lock on path, retrying every retryDelay until it succeeds, ctx is
done or the optional timeout elapses. Every call opens its own handle so that concurrent callers
in the same process exclude each other as well.
*/
func acquire(ctx context.Context, path string, retryDelay time.Duration, timeout time.Duration) (*flock.Flock, error) {
	lockCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	lock := flock.New(path)
	locked, err := lock.TryLockContext(lockCtx, retryDelay)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w %s after %s", ErrLockTimeout, path, timeout)
		}
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("%w %s", ErrLockTimeout, path)
	}
	return lock, nil
}
