// Package retry is the single retry-with-backoff loop shared by every
// provider connector and the revocation services.
package retry

import (
	"context"
	"time"
)

const defaultMaxDelay = 30 * time.Second

// Policy controls how Do retries a failing operation.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is doubled after each failed attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff. Zero means 30s.
	MaxDelay time.Duration
	// Retryable reports whether an error is worth another attempt. Nil
	// retries everything.
	Retryable func(error) bool
}

// DefaultPolicy matches the connector contract: three attempts, one second
// base delay, caller-supplied retryable predicate.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Retryable:   retryable,
	}
}

// Do runs fn until it succeeds, the policy is exhausted, the error is not
// retryable, or ctx is cancelled. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		if attempt > 0 {
			if err := Sleep(ctx, Backoff(base, maxDelay, attempt-1)); err != nil {
				return lastErr
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// Backoff returns base × 2^attempt, capped at maxDelay.
func Backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		attempt = 16
	}
	d := base * time.Duration(1<<uint(attempt))
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

// Sleep waits for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
