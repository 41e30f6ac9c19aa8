package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sells-group/waste-pipeline/internal/resilience"
)

// Gemini calls Google Gemini directly.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, eris.Wrap(err, "chat: create gemini client")
	}
	return &Gemini{client: client, model: model}, nil
}

// Close releases the underlying connection.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// Complete sends the prompt, with the attachment as an inline blob.
func (g *Gemini) Complete(ctx context.Context, req Request) (*Response, error) {
	name := req.Model
	if name == "" {
		name = g.model
	}
	model := g.client.GenerativeModel(name)
	model.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}

	var parts []genai.Part
	if req.Attachment != nil {
		parts = append(parts, genai.Blob{MIMEType: req.Attachment.MimeType, Data: req.Attachment.Data})
	}
	parts = append(parts, genai.Text(req.Prompt))

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, classifyGemini(eris.Wrap(err, "chat: gemini generate"), err)
	}

	text, finish := geminiText(resp)
	if strings.TrimSpace(text) == "" {
		return nil, eris.Wrap(ErrEmptyResponse, "chat: gemini")
	}

	out := &Response{Text: text, Model: name, FinishReason: finish}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// geminiText joins the text parts of the first candidate.
func geminiText(resp *genai.GenerateContentResponse) (string, string) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ""
	}
	cand := resp.Candidates[0]
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), cand.FinishReason.String()
}

func classifyGemini(wrapped, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return resilience.FromStatus(wrapped, gerr.Code)
	}
	if resilience.IsTransient(err) {
		return resilience.NewTransientError(wrapped, 0)
	}
	return wrapped
}
