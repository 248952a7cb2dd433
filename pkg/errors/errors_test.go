package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithMessagefCopies(t *testing.T) {
	err := ErrModelFatal.WithMessagef("model %s rejected the request", "gpt-4o")

	assert.Equal(t, "model gpt-4o rejected the request", err.Message)
	assert.Equal(t, CodeModelFatal, err.Code)
	assert.Equal(t, "model rejected the request", ErrModelFatal.Message)
}

func TestWithDataCopies(t *testing.T) {
	err := ErrInvalidRequest.WithData(map[string]string{"field": "message"})

	assert.NotNil(t, err.Data)
	assert.Nil(t, ErrInvalidRequest.Data)
}

func TestIsMatchesByCode(t *testing.T) {
	err := ErrRateLimited.WithMessagef("caller %s over budget", "alice")

	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.False(t, errors.Is(err, ErrModelTransient))
}

func TestTransient(t *testing.T) {
	assert.True(t, ErrModelTransient.Transient())
	assert.False(t, ErrModelFatal.Transient())
	assert.False(t, ErrRateLimited.Transient())
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0

	err := RetryWithBackoff(context.Background(), quickRetry(3), func(attempt int) *Error {
		calls++
		return nil
	})

	assert.Nil(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRetriesTransientUntilCeiling(t *testing.T) {
	calls := 0

	err := RetryWithBackoff(context.Background(), quickRetry(3), func(attempt int) *Error {
		calls++
		return ErrModelTransient
	})

	assert.NotNil(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.Is(err, ErrModelTransient))
}

func TestRetryStopsOnFatal(t *testing.T) {
	calls := 0

	err := RetryWithBackoff(context.Background(), quickRetry(5), func(attempt int) *Error {
		calls++
		return ErrModelFatal
	})

	assert.NotNil(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, ErrModelFatal))
}

func TestRetryRecoversAfterTransient(t *testing.T) {
	calls := 0

	err := RetryWithBackoff(context.Background(), quickRetry(3), func(attempt int) *Error {
		calls++
		if calls == 1 {
			return ErrModelTransient
		}
		return nil
	})

	assert.Nil(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := &RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Hour,
		MaxDelay:      time.Hour,
		BackoffFactor: 2.0,
	}

	calls := 0
	err := RetryWithBackoff(ctx, config, func(attempt int) *Error {
		calls++
		return ErrModelTransient
	})

	assert.NotNil(t, err)
	assert.Equal(t, 1, calls)
}

func quickRetry(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}
