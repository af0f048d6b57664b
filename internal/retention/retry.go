package retention

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig controls exponential backoff retry for failed sweeps.
type RetryConfig struct {
	MaxRetries int           // max retry attempts (default 2, 0 = no retry)
	BaseDelay  time.Duration // initial backoff delay (default 5s)
	MaxDelay   time.Duration // maximum backoff delay (default 1m)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  5 * time.Second,
		MaxDelay:   time.Minute,
	}
}

// executeWithRetry runs fn, retrying on error with exponential backoff
// plus jitter. Returns the first successful result or the last error
// after all retries. Waiting stops early when ctx is done.
func executeWithRetry(ctx context.Context, fn func(context.Context) (Result, error), cfg RetryConfig) (res Result, attempts int, err error) {
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		res, err = fn(ctx)
		if err == nil {
			return res, attempt + 1, nil
		}

		if attempt < cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return res, attempt + 1, err
			case <-time.After(backoffWithJitter(cfg.BaseDelay, cfg.MaxDelay, attempt)):
			}
		}
	}
	return res, cfg.MaxRetries + 1, err
}

// backoffWithJitter computes delay = min(base * 2^attempt, max) + jitter(±25%).
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt) // base * 2^attempt
	if delay > max {
		delay = max
	}

	// Jitter: ±25% of delay
	quarter := delay / 4
	if quarter > 0 {
		jitter := time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		delay += jitter
	}

	return delay
}
