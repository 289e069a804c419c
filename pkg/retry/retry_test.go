package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fast(opts ...Option) *Retrier {
	base := []Option{WithInitialDelay(time.Millisecond), WithMaxDelay(2 * time.Millisecond), WithJitter(0)}
	return New(append(base, opts...)...)
}

func TestRetrier_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fast(WithMaxAttempts(3)).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errTransient)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_GivesUpAndUnwraps(t *testing.T) {
	calls := 0
	err := fast(WithMaxAttempts(2)).Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(errTransient)
	})

	assert.Equal(t, 2, calls)
	assert.Same(t, errTransient, err)
}

func TestRetrier_DoesNotRetryPlainErrors(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := fast().Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, boom, err)
}

func TestRetrier_PermanentStopsCustomPolicy(t *testing.T) {
	calls := 0
	err := fast(WithRetryIf(func(error) bool { return true })).Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errTransient)
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, errTransient, err)
}

func TestRetrier_OnRetry(t *testing.T) {
	var attempts []int
	_ = fast(WithMaxAttempts(3), WithOnRetry(func(attempt int, _ error, _ time.Duration) {
		attempts = append(attempts, attempt)
	})).Do(context.Background(), func(context.Context) error {
		return Retryable(errTransient)
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetrier_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fast().Do(ctx, func(context.Context) error {
		calls++
		return nil
	})

	assert.Zero(t, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrier_Backoff(t *testing.T) {
	r := New(WithInitialDelay(100*time.Millisecond), WithMaxDelay(300*time.Millisecond), WithJitter(0))

	assert.Equal(t, 100*time.Millisecond, r.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, r.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, r.Backoff(3), "capped")

	jittered := New(WithInitialDelay(100*time.Millisecond), WithJitter(0.5))
	for range 20 {
		d := jittered.Backoff(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestDoWithData(t *testing.T) {
	calls := 0
	v, err := DoWithData(context.Background(), fast(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errTransient)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
