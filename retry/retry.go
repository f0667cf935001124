// Package retry provides a small generic retry helper with exponential
// backoff. The payment core itself never retries; this exists for callers
// that opt in at a higher layer.
package retry

import (
	"context"
	"time"
)

// Config controls retry behavior.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Multiplier is the backoff factor applied between attempts.
	Multiplier float64
}

// WithRetry runs fn until it succeeds, the attempts are exhausted, the error
// is not retryable, or the context is done. The last error is returned.
func WithRetry[T any](ctx context.Context, cfg Config, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var zero T

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 2.0
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
			delay = time.Duration(float64(delay) * multiplier)
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			break
		}
	}
	return zero, lastErr
}
