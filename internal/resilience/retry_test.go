package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff() Backoff {
	return Backoff{Attempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond, Jitter: 0}
}

func TestRetry_SucceedsAfterTransient(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := Retry(context.Background(), fastBackoff(), "test", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("busy"), 503)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Retry(context.Background(), fastBackoff(), "test", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("invalid request")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Retry(context.Background(), fastBackoff(), "test", func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("rate limited"), 429)
	})
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	b := Backoff{Attempts: 5, Base: time.Hour, Max: time.Hour}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Retry(ctx, b, "test", func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("busy"), 503)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	b := Backoff{Attempts: 5, Base: 100 * time.Millisecond, Max: 350 * time.Millisecond}.normalized()
	b.Jitter = 0
	assert.Equal(t, 100*time.Millisecond, b.delay(0))
	assert.Equal(t, 200*time.Millisecond, b.delay(1))
	assert.Equal(t, 350*time.Millisecond, b.delay(2))
	assert.Equal(t, 350*time.Millisecond, b.delay(40))

	b.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := b.delay(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
