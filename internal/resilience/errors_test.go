package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"explicit", NewTransientError(errors.New("rate limited"), 429), true},
		{"wrapped explicit", eris.Wrap(NewTransientError(errors.New("x"), 503), "chat: call"), true},
		{"conn reset", fmt.Errorf("dial: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"i/o timeout text", errors.New("read tcp: i/o timeout"), true},
		{"overloaded text", errors.New("529 Overloaded"), true},
		{"cancelled", fmt.Errorf("call: %w", context.Canceled), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestFromStatus(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	assert.Nil(t, FromStatus(nil, 500))
	assert.True(t, IsTransient(FromStatus(base, 429)))
	assert.Same(t, base, FromStatus(base, 400))

	var te *TransientError
	assert.True(t, errors.As(FromStatus(base, 503), &te))
	assert.Equal(t, 503, te.StatusCode)
	assert.ErrorIs(t, te, base)
}
