// Package chat is a small completion interface over OpenAI-compatible
// gateways (Mistral, OpenRouter) and Google Gemini.
package chat

import (
	"context"
	"encoding/base64"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Attachment is a binary document sent alongside the prompt.
type Attachment struct {
	MimeType string
	Data     []byte
}

// DataURL encodes the attachment as a data URL.
func (a Attachment) DataURL() string {
	return "data:" + a.MimeType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// Request is one single-turn completion.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Attachment  *Attachment
	MaxTokens   int
	Temperature float32
	// JSON asks the provider for a JSON object response when supported.
	JSON bool
}

// Usage is token consumption as reported by the provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is a completion result.
type Response struct {
	Text         string
	Model        string
	FinishReason string
	Usage        Usage
}

// Client completes prompts.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ErrEmptyResponse is returned when the provider answers with no content.
var ErrEmptyResponse = eris.New("chat: empty response")

type limited struct {
	next    Client
	limiter *rate.Limiter
}

// WithRateLimit returns a Client that waits on limiter before every call.
// A nil limiter returns c unchanged.
func WithRateLimit(c Client, limiter *rate.Limiter) Client {
	if limiter == nil {
		return c
	}
	return &limited{next: c, limiter: limiter}
}

func (l *limited) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "chat: rate limit wait")
	}
	return l.next.Complete(ctx, req)
}
