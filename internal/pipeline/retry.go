package pipeline

import (
	"context"
	"time"

	"server/internal/domain"
)

// RetryPolicy bounds retries of transient provider failures. Validation
// failures are never retried here: unbounded automatic retry on malformed
// model output would be an uncapped cost.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy allows the initial attempt plus two retries.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}

// withRetry runs fn, retrying with exponential backoff while the error is a
// transient provider or storage failure. Any other error returns immediately.
func withRetry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := policy.BaseDelay
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if !domain.IsProviderError(err) && !domain.IsStoreError(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}
