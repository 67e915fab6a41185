package provider

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// retryConfig bounds the exponential backoff-with-jitter wrapper shared by
// both adapters.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func defaultRetryConfig() retryConfig {
	return retryConfig{maxRetries: 5, baseDelay: 2 * time.Second, maxDelay: 60 * time.Second}
}

// retryableErrorChecker classifies errors the SDK clients return as worth another
// attempt: rate limiting and server-side failures, not bad requests or auth.
type retryableErrorChecker func(err error) bool

// withRetry runs call, retrying on errors retryable reports true for, with
// exponential backoff plus jitter.
func withRetry(ctx context.Context, cfg retryConfig, retryable retryableErrorChecker, call func() (*Response, error)) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, cfg.baseDelay, cfg.maxDelay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		resp, err := call()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == cfg.maxRetries || !retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func backoffDelay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)))
	delay += time.Duration(rand.Intn(1000)) * time.Millisecond
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
