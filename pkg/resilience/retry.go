// Package resilience wraps arbitrary operations with bounded retry and a
// three-state circuit breaker. The two compose: a caller typically retries a
// breaker-guarded operation, so a fast-fail from an open breaker is not
// retried (it is not a real failure of the underlying operation).
package resilience

import (
	"context"
	"time"

	"github.com/entrhq/pilot/pkg/errs"
)

// Backoff multiplier applied to the delay after each failed attempt.
const backoffFactor = 1.5

// RetryOptions bounds a retried operation.
type RetryOptions struct {
	// MaxAttempts is the total number of attempts, including the first
	// (default 3)
	MaxAttempts int

	// InitialDelay is the wait before the second attempt; it grows by the
	// backoff factor after each failure (default 100ms)
	InitialDelay time.Duration
}

func (o *RetryOptions) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = 100 * time.Millisecond
	}
}

// Retry runs op with bounded retry and exponential backoff. Validation and
// security failures are never retried and propagate immediately; any other
// failure waits out the current delay and tries again. Exhausting attempts
// returns a max_retries_exceeded error wrapping the last failure.
func Retry(ctx context.Context, opts RetryOptions, op func(context.Context) error) error {
	_, err := RetryValue(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// RetryValue is Retry for operations that produce a value.
func RetryValue[T any](ctx context.Context, opts RetryOptions, op func(context.Context) (T, error)) (T, error) {
	opts.applyDefaults()

	var zero T
	var lastErr error
	delay := opts.InitialDelay

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !errs.Retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == opts.MaxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, errs.MaxRetries(attempt, ctx.Err())
		}
		delay = time.Duration(float64(delay) * backoffFactor)
	}

	return zero, errs.MaxRetries(opts.MaxAttempts, lastErr)
}
