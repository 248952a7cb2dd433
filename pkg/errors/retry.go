package errors

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig holds configuration for retry behavior. Jitter is the
// fraction of each delay that is randomized (0 disables it).
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64
}

// DefaultRetryConfig returns the per-model retry policy used by the
// orchestrator: two attempts, short doubling delays with jitter.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   2,
		InitialDelay:  250 * time.Millisecond,
		MaxDelay:      4 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        0.25,
	}
}

func (config *RetryConfig) delay(attempt int) time.Duration {
	delay := config.InitialDelay

	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
			break
		}
	}

	if config.Jitter > 0 {
		spread := float64(delay) * config.Jitter
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
	}

	if delay < 0 {
		delay = 0
	}

	return delay
}

/*
RetryWithBackoff executes fn until it succeeds, returns a non-transient
error, or the attempt ceiling is hit. Only transient errors are retried;
anything else is returned to the caller immediately. The context bounds
the waits between attempts, never an attempt itself.
*/
func RetryWithBackoff(ctx context.Context, config *RetryConfig, fn func(attempt int) *Error) *Error {
	var last *Error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		last = fn(attempt)
		if last == nil {
			return nil
		}

		if !last.Transient() || attempt == config.MaxAttempts-1 {
			return last
		}

		select {
		case <-time.After(config.delay(attempt)):
		case <-ctx.Done():
			return last
		}
	}

	return last
}
