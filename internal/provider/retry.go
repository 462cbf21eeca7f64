package provider

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/kadirpekel/ragflow/internal/apperr"
)

// RetryConfig controls the exponential backoff providers apply to Transient
// provider errors (250ms x 2^n, jittered, up to 3 retries).
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	JitterFactor float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 250 * time.Millisecond, JitterFactor: 0.2}
}

// WithRetry runs fn, retrying while it returns a *apperr.ProviderError of
// Kind Transient, up to cfg.MaxRetries additional attempts. Any other
// error — including a non-Transient ProviderError — propagates
// immediately.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perr *apperr.ProviderError
		if !errors.As(lastErr, &perr) || !perr.Kind.Retryable() {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
		delay += time.Duration(rand.Float64() * cfg.JitterFactor * float64(delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
