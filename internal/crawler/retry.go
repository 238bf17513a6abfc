package crawler

import (
	"context"
	"errors"
	"fmt"
)

// ErrTimeout marks an operation — a source fetch/mark-handled/reclaim,
// or a user handler invocation — that exceeded its deadline.
var ErrTimeout = errors.New("crawler: operation timed out")

// withTimeoutRetry runs fn under a fresh timeout on every attempt,
// retrying up to retries times but only when fn's error is a deadline
// timeout; any other error propagates on the first attempt. This is
// the wrapper fetch, mark-handled and reclaim all run through — the
// user handler itself uses a plain timeout with no retry, see
// invokeHandler.
func (c *Crawler) withTimeoutRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.BackingStoreRetryBudget; attempt++ {
		tctx, cancel := context.WithTimeout(ctx, c.cfg.BackingStoreTimeout)
		err := fn(tctx)
		cancel()
		if err == nil {
			return nil
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = fmt.Errorf("%w: %w", ErrTimeout, err)
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}
