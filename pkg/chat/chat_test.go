package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/waste-pipeline/internal/resilience"
)

type captured struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

func completionServer(t *testing.T, status int, got *captured, headers *http.Header) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		if headers != nil {
			*headers = r.Header.Clone()
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"id":"c1","object":"chat.completion","model":"served-model",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}
		}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAICompatible_TextPrompt(t *testing.T) {
	t.Parallel()
	var got captured
	srv := completionServer(t, http.StatusOK, &got, nil)
	c := NewMistral("key", srv.URL, "mistral-large-latest")

	resp, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "hello", JSON: true})
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, resp.Text)
	assert.Equal(t, "served-model", resp.Model)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, "mistral-large-latest", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.JSONEq(t, `"hello"`, string(got.Messages[1].Content))
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestOpenAICompatible_AttachmentAsImagePart(t *testing.T) {
	t.Parallel()
	var got captured
	var headers http.Header
	srv := completionServer(t, http.StatusOK, &got, &headers)
	c := NewOpenRouter("key", srv.URL, "google/gemini-3-flash-preview")

	_, err := c.Complete(context.Background(), Request{
		Prompt:     "assess",
		Attachment: &Attachment{MimeType: "application/pdf", Data: []byte("%PDF")},
	})
	require.NoError(t, err)

	assert.Equal(t, "waste-pipeline", headers.Get("X-Title"))
	require.Len(t, got.Messages, 1)
	var parts []map[string]any
	require.NoError(t, json.Unmarshal(got.Messages[0].Content, &parts))
	require.Len(t, parts, 2)
	assert.Equal(t, "image_url", parts[0]["type"])
	img := parts[0]["image_url"].(map[string]any)
	assert.Equal(t, "data:application/pdf;base64,JVBERg==", img["url"])
	assert.Equal(t, "text", parts[1]["type"])
}

func TestOpenAICompatible_ErrorClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := completionServer(t, tt.status, nil, nil)
			c := NewMistral("key", srv.URL, "m")
			_, err := c.Complete(context.Background(), Request{Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestOpenAICompatible_EmptyChoice(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c","choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewMistral("key", srv.URL, "m").Complete(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

type stubClient struct{ calls int }

func (s *stubClient) Complete(context.Context, Request) (*Response, error) {
	s.calls++
	return &Response{Text: "ok"}, nil
}

func TestWithRateLimit(t *testing.T) {
	t.Parallel()
	stub := &stubClient{}
	assert.Same(t, Client(stub), WithRateLimit(stub, nil))

	c := WithRateLimit(stub, rate.NewLimiter(rate.Limit(1), 1))
	_, err := c.Complete(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Complete(ctx, Request{})
	assert.Error(t, err)
	assert.Equal(t, 1, stub.calls)
}

func TestGeminiText(t *testing.T) {
	t.Parallel()
	text, _ := geminiText(nil)
	assert.Empty(t, text)

	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"a":`), genai.Blob{}, genai.Text(`1}`)}},
	}}}
	text, _ = geminiText(resp)
	assert.Equal(t, `{"a":1}`, text)
}
