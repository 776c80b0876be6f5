package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backoff returns the delay before retry attempt i (i >= 1):
// 500ms, 1s, 2s, ...
func Backoff(i int) time.Duration {
	if i < 1 {
		return 0
	}
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond //nolint:gosec // i is a small attempt index
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry returns it at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry calls attempt up to 1+retries times, sleeping Backoff between
// calls. Each call gets a context bounded by timeout when timeout > 0.
// The returned error names how many attempts were made.
func Retry(ctx context.Context, retries int, timeout time.Duration, attempt func(ctx context.Context) error) error {
	attempts := 1 + max(retries, 0)
	var last error
	for i := range attempts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("canceled during backoff: %w", ctx.Err())
			case <-time.After(Backoff(i)):
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("canceled: %w", err)
		}

		actx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, timeout)
		}
		last = attempt(actx)
		cancel()

		if last == nil {
			return nil
		}
		if IsPermanent(last) {
			return fmt.Errorf("non-retriable: %w", last)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, last)
}
