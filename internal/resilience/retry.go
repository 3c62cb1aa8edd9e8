package resilience

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/birdtrip/birdtrip-go/internal/errors"
)

// RetryPolicy holds the configuration for retry-with-backoff behavior.
type RetryPolicy struct {
	MaxRetries   int           // retry attempts after the initial call
	InitialDelay time.Duration // delay before first retry
	MaxDelay     time.Duration // cap on backoff delay
	Multiplier   float64       // backoff multiplier per attempt
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// backoffDelay computes the delay before retry attempt (0-based), capped at
// MaxDelay, with up to 25% random jitter added to spread synchronized retries.
func (p RetryPolicy) backoffDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	delay = math.Min(delay, float64(p.MaxDelay))
	jitter := rand.Float64() * 0.25 * delay
	return time.Duration(delay + jitter)
}

// Retry runs fn until it succeeds, returns a permanent error, or the retry
// budget is exhausted. Only transient failures (rate-limit, timeout, network)
// are retried; validation and other permanent errors surface immediately.
// It returns fn's value, the number of attempts made, and the last error.
func Retry(ctx context.Context, policy RetryPolicy, logger *slog.Logger, fn func(context.Context) (any, error)) (any, int, error) {
	var lastErr error

	attempts := 0
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		attempts++

		value, err := fn(ctx)
		if err == nil {
			return value, attempts, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			return nil, attempts, err
		}

		if ctx.Err() != nil {
			return nil, attempts, lastErr
		}

		if attempt < policy.MaxRetries {
			delay := policy.backoffDelay(attempt)
			if logger != nil {
				logger.Warn("transient failure, retrying",
					"attempt", attempt+1,
					"max_retries", policy.MaxRetries,
					"delay_ms", delay.Milliseconds(),
					"error", err.Error())
			}

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, attempts, lastErr
			}
		}
	}

	return nil, attempts, lastErr
}
