package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing(context.Context) (int, error) { return 0, errors.New("down") }
func working(context.Context) (int, error) { return 1, nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	br := NewBreaker("mistral-ocr", 2, time.Minute)
	b := Backoff{Attempts: 1}

	for i := 0; i < 2; i++ {
		_, err := Call(context.Background(), br, b, "x", failing)
		require.Error(t, err)
	}
	assert.Equal(t, Open, br.State())

	calls := 0
	_, err := Call(context.Background(), br, b, "x", func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls)
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	now := time.Now()
	br := NewBreaker("gemini-agentic", 1, time.Second)
	br.now = func() time.Time { return now }
	b := Backoff{Attempts: 1}

	_, _ = Call(context.Background(), br, b, "x", failing)
	assert.Equal(t, Open, br.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, HalfOpen, br.State())

	// failed probe reopens
	_, _ = Call(context.Background(), br, b, "x", failing)
	assert.Equal(t, Open, br.State())

	now = now.Add(2 * time.Second)
	v, err := Call(context.Background(), br, b, "x", working)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, Closed, br.State())
}

func TestBreaker_CancellationDoesNotTrip(t *testing.T) {
	t.Parallel()

	br := NewBreaker("x", 1, time.Minute)
	_, _ = Call(context.Background(), br, Backoff{Attempts: 1}, "x", func(context.Context) (int, error) {
		return 0, context.Canceled
	})
	assert.Equal(t, Closed, br.State())
}

func TestCall_NilBreaker(t *testing.T) {
	t.Parallel()

	v, err := Call[int](context.Background(), nil, Backoff{Attempts: 1}, "x", working)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestBreakers_Registry(t *testing.T) {
	t.Parallel()

	r := NewBreakers(1, time.Minute)
	a := r.Get("a")
	assert.Same(t, a, r.Get("a"))
	_, _ = Call(context.Background(), a, Backoff{Attempts: 1}, "x", failing)
	r.Get("b")

	states := r.States()
	assert.Equal(t, Open, states["a"])
	assert.Equal(t, Closed, states["b"])
	assert.Equal(t, "half-open", HalfOpen.String())
}
