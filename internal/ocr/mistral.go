package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/waste-pipeline/internal/resilience"
)

const (
	defaultMistralBaseURL = "https://api.mistral.ai/v1"
	defaultMistralModel   = "mistral-ocr-latest"

	// Cap on how much of an error body ends up in the error message.
	maxErrorBody = 2048
)

// MistralOCR reads scanned PDFs through the Mistral OCR API. Each page comes
// back as markdown, so tables keep their column structure.
type MistralOCR struct {
	apiKey string
	model  string
	url    string
	http   *http.Client
}

// MistralOption customises a MistralOCR.
type MistralOption func(*MistralOCR)

// WithBaseURL points the client at a different API root.
func WithBaseURL(base string) MistralOption {
	return func(m *MistralOCR) { m.url = strings.TrimRight(base, "/") + "/ocr" }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) MistralOption {
	return func(m *MistralOCR) { m.http = c }
}

// NewMistralOCR returns a Mistral OCR client. An empty model selects
// mistral-ocr-latest.
func NewMistralOCR(apiKey, model string, opts ...MistralOption) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	m := &MistralOCR{apiKey: apiKey, model: model, url: defaultMistralBaseURL + "/ocr", http: http.DefaultClient}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Model returns the OCR model identifier.
func (m *MistralOCR) Model() string { return m.model }

type ocrRequest struct {
	Model    string      `json:"model"`
	Document ocrDocument `json:"document"`
}

type ocrDocument struct {
	Type string `json:"type"`
	URL  string `json:"document_url"`
}

type ocrResponse struct {
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
	Usage struct {
		PagesProcessed int `json:"pages_processed"`
		DocSizeBytes   int `json:"doc_size_bytes"`
	} `json:"usage_info"`
}

type apiError struct {
	Message string `json:"message"`
	Detail  any    `json:"detail"`
}

// ExtractText returns the markdown of every non-blank page. Pages after the
// first are preceded by a page marker so row provenance survives.
func (m *MistralOCR) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	body, err := json.Marshal(ocrRequest{
		Model: m.model,
		Document: ocrDocument{
			Type: "document_url",
			URL:  "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "ocr: encode mistral request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "ocr: build mistral request")
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", eris.Wrap(ctx.Err(), "ocr: mistral call")
		}
		return "", resilience.NewTransientError(eris.Wrap(err, "ocr: mistral call"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", resilience.FromStatus(statusError(resp), resp.StatusCode)
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", eris.Wrap(err, "ocr: decode mistral response")
	}

	var sb strings.Builder
	for _, p := range out.Pages {
		md := strings.TrimSpace(p.Markdown)
		if md == "" {
			continue
		}
		if sb.Len() > 0 {
			fmt.Fprintf(&sb, "\n\n<!-- page %d -->\n\n", p.Index+1)
		}
		sb.WriteString(md)
	}
	if sb.Len() == 0 {
		return "", eris.New("ocr: mistral returned no text")
	}

	zap.L().Debug("ocr: mistral pages read",
		zap.String("model", m.model),
		zap.Int("pages", len(out.Pages)),
		zap.Int("pages_processed", out.Usage.PagesProcessed),
		zap.Int("chars", sb.Len()),
	)
	return sb.String(), nil
}

// statusError builds an error from a non-200 response, preferring the API's
// own message when the body carries one.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	var ae apiError
	if json.Unmarshal(raw, &ae) == nil {
		switch {
		case ae.Message != "":
			msg = ae.Message
		case ae.Detail != nil:
			msg = fmt.Sprint(ae.Detail)
		}
	}
	return eris.Errorf("ocr: mistral returned %d: %s", resp.StatusCode, msg)
}
