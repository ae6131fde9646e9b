// Package retry provides the bounded-retry policy applied uniformly at the
// specialist invoker and tool boundaries.
package retry

import (
	"context"
	"time"
)

// Policy is "call, check failure, retry up to MaxAttempts, else give up".
// Backoff grows linearly with the attempt number; a zero Backoff retries
// immediately.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	// OnRetry, when set, observes each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy retries once (two attempts total) with a short backoff.
var DefaultPolicy = Policy{MaxAttempts: 2, Backoff: 500 * time.Millisecond}

// Do invokes fn until it succeeds, the attempt budget is exhausted, or the
// context is cancelled. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt < attempts && p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}
		if attempt < attempts && p.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * p.Backoff):
			}
		}
	}
	return lastErr
}
