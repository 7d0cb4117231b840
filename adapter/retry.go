package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// retryBase is the delay before the first retry; it doubles per attempt.
const retryBase = 500 * time.Millisecond

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so Retry gives up on it immediately.
func Permanent(err error) error {
	return &permanentError{err: err}
}

// Retry runs fn up to attempts times, backing off between tries. It
// returns the last error, unwrapped from any Permanent marker.
func Retry(ctx context.Context, attempts int, fn func(context.Context) error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := retryBase << (i - 1)
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("adapter: canceled during backoff: %w", ctx.Err())
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("adapter: canceled: %w", err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
	}
	return fmt.Errorf("adapter: failed after %d attempts: %w", attempts, lastErr)
}
