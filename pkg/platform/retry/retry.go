// Package retry implements the bounded retry policy for transient
// infrastructure errors. Validation and business-rule errors are never
// retried; they surface immediately.
package retry

import (
	"context"
	"time"

	dErrors "hemobank/pkg/domain-errors"
)

// Policy bounds automatic retries. Zero values fall back to the defaults
// (2 attempts, 100ms initial backoff, doubling).
type Policy struct {
	Attempts int
	Backoff  time.Duration
}

const (
	defaultAttempts = 2
	defaultBackoff  = 100 * time.Millisecond
)

// Do runs fn, retrying only errors tagged CodeTransient. The final error is
// returned unchanged so callers keep the full context of the last failure.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return dErrors.Wrap(ctx.Err(), dErrors.CodeTransient, "retry aborted: context cancelled")
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !dErrors.IsRetryable(err) {
			return err
		}
	}
	return err
}
