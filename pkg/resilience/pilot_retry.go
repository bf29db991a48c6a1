// Package resilience provides fault tolerance patterns for external service calls.
package resilience

import (
	"context"
	"errors"
	"time"
)

// RetryableFunc is one attempt of an outbound call. The attempt must honor
// ctx cancellation; the policy applies a per-attempt deadline.
type RetryableFunc func(ctx context.Context) error

// PermanentError wraps an error that must not be retried (4xx semantic
// failures, malformed requests).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks err as non-retryable.
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

// RetryPolicy bounds retries of an outbound call: max attempts, a
// per-attempt timeout, and a fixed delay between attempts.
type RetryPolicy struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	Backoff        time.Duration
}

// DefaultRetryPolicy returns the policy used for model provider calls.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:    3,
		AttemptTimeout: 15 * time.Second,
		Backoff:        500 * time.Millisecond,
	}
}

// Execute runs fn up to MaxAttempts times. Each attempt gets its own
// deadline derived from ctx. A PermanentError or parent-context
// cancellation stops retrying immediately; the last error is returned
// once attempts are exhausted.
func (p *RetryPolicy) Execute(ctx context.Context, fn RetryableFunc) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && p.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff):
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}

		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return lastErr
}

// RetryableStatus reports whether an HTTP status code warrants a retry:
// 429 and 5xx are transient, other 4xx are semantic failures.
func RetryableStatus(status int) bool {
	if status == 429 {
		return true
	}
	return status >= 500 && status < 600
}
