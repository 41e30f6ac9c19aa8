package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/sells-group/waste-pipeline/internal/resilience"
)

// OpenAICompatible talks to any OpenAI-compatible chat completions API.
type OpenAICompatible struct {
	client *openai.Client
	model  string
	name   string
}

// NewOpenAICompatible creates a client for baseURL. model is used when a
// request leaves Model empty. headers are added to every request.
func NewOpenAICompatible(name, apiKey, baseURL, model string, headers map[string]string) *OpenAICompatible {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if len(headers) > 0 {
		config.HTTPClient = &http.Client{Transport: &headerTransport{headers: headers, next: http.DefaultTransport}}
	}
	return &OpenAICompatible{
		client: openai.NewClientWithConfig(config),
		model:  model,
		name:   name,
	}
}

// NewOpenRouter creates a client for the OpenRouter gateway.
func NewOpenRouter(apiKey, baseURL, model string) *OpenAICompatible {
	return NewOpenAICompatible("openrouter", apiKey, baseURL, model, map[string]string{
		"X-Title": "waste-pipeline",
	})
}

// NewMistral creates a client for the Mistral chat API.
func NewMistral(apiKey, baseURL, model string) *OpenAICompatible {
	return NewOpenAICompatible("mistral", apiKey, baseURL, model, nil)
}

type headerTransport struct {
	headers map[string]string
	next    http.RoundTripper
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.next.RoundTrip(r)
}

// Complete sends a single user turn, with the attachment as a data-URL part.
func (c *OpenAICompatible) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if req.Attachment != nil {
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: req.Attachment.DataURL()}},
			{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
		}
	} else {
		user.Content = req.Prompt
	}
	msgs = append(msgs, user)

	creq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, classifyOpenAI(eris.Wrapf(err, "chat: %s completion", c.name), err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, eris.Wrapf(ErrEmptyResponse, "chat: %s", c.name)
	}

	zap.L().Debug("chat: completion",
		zap.String("provider", c.name),
		zap.String("model", resp.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return &Response{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func classifyOpenAI(wrapped, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return resilience.FromStatus(wrapped, apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return resilience.FromStatus(wrapped, reqErr.HTTPStatusCode)
	}
	if resilience.IsTransient(err) {
		return resilience.NewTransientError(wrapped, 0)
	}
	return wrapped
}
