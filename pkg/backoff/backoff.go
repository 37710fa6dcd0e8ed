// Package backoff provides bounded retry logic with linear backoff.
package backoff

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts    int           // Maximum number of attempts (0 = infinite)
	BaseDelay      time.Duration // Delay after the first failed attempt
	MaxDelay       time.Duration // Cap on the per-attempt delay
	AttemptTimeout time.Duration // Per-attempt deadline (0 = none)
	Jitter         float64       // Jitter factor (0-1)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.1,
	}
}

// RetryableError wraps an error that should be retried.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string {
	return e.Err.Error()
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps an error to mark it as retryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// IsRetryable returns true if the error should be retried.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// Delay returns the wait before the next attempt after the given 1-based
// attempt number failed. The schedule is linear: BaseDelay scaled by the
// attempt number, capped at MaxDelay, with optional jitter.
func (cfg Config) Delay(attempt int) time.Duration {
	wait := float64(cfg.BaseDelay) * float64(attempt)
	if cfg.MaxDelay > 0 && wait > float64(cfg.MaxDelay) {
		wait = float64(cfg.MaxDelay)
	}
	if cfg.Jitter > 0 {
		wait += wait * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(wait)
}

// Do executes fn with retries. Each attempt runs under AttemptTimeout when
// one is configured; the attempt's context is passed to fn.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult executes fn with retries and returns its result.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}
		result, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.Delay(attempt)):
		}
	}

	return zero, lastErr
}
