package retry

import (
	"context"
	"errors"
	"time"

	"chat-sync/internal/observability"
)

// Policy bounds the executor: MaxRetries is the number of attempts after the
// first, delays grow as BaseDelay*2^attempt capped at MaxDelay.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultPolicy matches the backoff the realtime channel and REST client use
// unless configured otherwise.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// PermanentError marks a failure that must not be retried, such as a
// permission or validation error.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the executor surfaces it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Do runs op, retrying transient failures up to policy.MaxRetries times with
// exponential backoff. It returns the first success, the first permanent
// error unwrapped, or the last error after exhausting retries. Context
// cancellation aborts the wait between attempts.
func Do(ctx context.Context, op string, policy Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.BaseDelay << (attempt - 1)
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		observability.IncRetryAttempt(op)
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}
	return lastErr
}
