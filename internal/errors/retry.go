package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (not including the
	// initial attempt).
	MaxRetries int

	// InitialDelay is the base delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay ceiling grows after each
	// attempt.
	Multiplier float64

	// FullJitter draws the actual wait uniformly from [0, ceiling] instead of
	// waiting the full ceiling, to avoid synchronized retry storms across
	// concurrent callers.
	FullJitter bool
}

// DefaultRetryConfig returns the embedding client's backoff policy: base
// 500ms, factor 2, capped at 30s, up to 5 attempts, full jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   4, // 4 retries after the first attempt: 5 attempts in all
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		FullJitter:   true,
	}
}

// Retry executes fn with exponential backoff. It retries up to MaxRetries
// times on error, waiting between attempts, and returns ctx.Err() immediately
// if the context is cancelled. Only errors IsRetryable reports as retryable
// are retried; anything else (auth, bad input, ...) fails on the first
// attempt since retrying it can't change the outcome.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	ceiling := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err != nil {
			lastErr = err

			if !IsRetryable(err) {
				return err
			}

			if attempt >= cfg.MaxRetries {
				break
			}

			wait := ceiling
			if cfg.FullJitter {
				wait = time.Duration(rand.Int63n(int64(ceiling) + 1))
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}

			ceiling = time.Duration(float64(ceiling) * cfg.Multiplier)
			if ceiling > cfg.MaxDelay {
				ceiling = cfg.MaxDelay
			}
			continue
		}

		return nil
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// RetryWithResult is Retry for functions that also return a value.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	ceiling := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		var err error
		result, err = fn()
		if err != nil {
			lastErr = err

			if !IsRetryable(err) {
				var zero T
				return zero, err
			}

			if attempt >= cfg.MaxRetries {
				break
			}

			wait := ceiling
			if cfg.FullJitter {
				wait = time.Duration(rand.Int63n(int64(ceiling) + 1))
			}

			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(wait):
			}

			ceiling = time.Duration(float64(ceiling) * cfg.Multiplier)
			if ceiling > cfg.MaxDelay {
				ceiling = cfg.MaxDelay
			}
			continue
		}

		return result, nil
	}

	var zero T
	return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
