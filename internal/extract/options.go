package extract

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/resilience"
)

// ErrNoItems is wrapped in an UnavailableError when a model answers without
// any line items.
var ErrNoItems = eris.New("extract: model returned no items")

type base struct {
	breaker *resilience.Breaker
	backoff resilience.Backoff
	clock   model.Clock
}

func newBase(opts []Option) base {
	b := base{backoff: resilience.DefaultBackoff(), clock: time.Now}
	for _, o := range opts {
		o(&b)
	}
	return b
}

// Option configures a backend.
type Option func(*base)

// WithBreaker routes the backend's model calls through br.
func WithBreaker(br *resilience.Breaker) Option {
	return func(b *base) { b.breaker = br }
}

// WithBackoff overrides the retry policy.
func WithBackoff(bo resilience.Backoff) Option {
	return func(b *base) { b.backoff = bo }
}

// WithClock sets the clock used for processing log timestamps.
func WithClock(c model.Clock) Option {
	return func(b *base) { b.clock = c }
}

func (b base) newLog() model.ProcessingLog {
	return model.NewProcessingLog(b.clock)
}

func call[T any](ctx context.Context, b base, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return resilience.Call(ctx, b.breaker, b.backoff, op, fn)
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) (string, bool) {
	if n <= 0 || len(s) <= n {
		return s, false
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n], true
}
