package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/waste-pipeline/internal/config"
	"github.com/sells-group/waste-pipeline/internal/resilience"
)

func TestNewExtractor_Local(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Provider: "local", PdfToTextPath: "/usr/bin/pdftotext"}, config.MistralConfig{})
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, ext)
}

func TestNewExtractor_MistralMissingKey(t *testing.T) {
	_, err := NewExtractor(config.OCRConfig{Provider: "mistral"}, config.MistralConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral provider requires mistral.key")
}

func TestNewExtractor_MistralWithKey(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Provider: "mistral"}, config.MistralConfig{
		Key:     "test-key",
		BaseURL: "https://example.test/v1/",
	})
	require.NoError(t, err)
	m, ok := ext.(*MistralOCR)
	require.True(t, ok)
	assert.Equal(t, "https://example.test/v1/ocr", m.url)
	assert.Equal(t, defaultMistralModel, m.Model())
}

func TestNewExtractor_UnknownProvider(t *testing.T) {
	_, err := NewExtractor(config.OCRConfig{Provider: "tesseract"}, config.MistralConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "tesseract"`)
}

func TestPdfToText_BinPath(t *testing.T) {
	assert.Equal(t, "pdftotext", NewPdfToText("").binPath)
	assert.Equal(t, "/custom/pdftotext", NewPdfToText("/custom/pdftotext").binPath)
}

func mistralServer(t *testing.T, h http.HandlerFunc) *MistralOCR {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewMistralOCR("test-key", "test-model", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestMistralOCR_ExtractText(t *testing.T) {
	m := mistralServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ocr", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ocrRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.True(t, strings.HasPrefix(req.Document.URL, "data:application/pdf;base64,"))

		_, _ = w.Write([]byte(`{"pages":[
			{"index":0,"markdown":"| Datum | Vikt |"},
			{"index":1,"markdown":"   "},
			{"index":2,"markdown":"| 2024-01-02 | 120 |"}
		],"usage_info":{"pages_processed":3}}`))
	})

	text, err := m.ExtractText(context.Background(), []byte("%PDF-1.4 test"))
	require.NoError(t, err)
	assert.Equal(t, "| Datum | Vikt |\n\n<!-- page 3 -->\n\n| 2024-01-02 | 120 |", text)
}

func TestMistralOCR_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		status    int
		body      string
		wantMsg   string
		transient bool
	}{
		{name: "blank pages", status: http.StatusOK, body: `{"pages":[{"index":0,"markdown":"  "}]}`, wantMsg: "no text"},
		{name: "api message", status: http.StatusUnauthorized, body: `{"message":"invalid api key"}`, wantMsg: "mistral returned 401: invalid api key"},
		{name: "validation detail", status: http.StatusUnprocessableEntity, body: `{"detail":"document too large"}`, wantMsg: "document too large"},
		{name: "plain body", status: http.StatusBadRequest, body: "bad", wantMsg: "mistral returned 400: bad"},
		{name: "rate limited", status: http.StatusTooManyRequests, wantMsg: "429", transient: true},
		{name: "server error", status: http.StatusBadGateway, wantMsg: "502", transient: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := mistralServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := m.ExtractText(context.Background(), []byte("%PDF"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestMistralOCR_CancelledContextIsNotTransient(t *testing.T) {
	m := mistralServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.ExtractText(ctx, []byte("%PDF"))
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestPdfToText_BinaryNotFound(t *testing.T) {
	_, err := NewPdfToText("/nonexistent/pdftotext").ExtractText(context.Background(), []byte("%PDF"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestPdfToText_ReadsStdin(t *testing.T) {
	fakeBin := filepath.Join(t.TempDir(), "pdftotext")
	script := "#!/bin/sh\ncat -\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0755))

	text, err := NewPdfToText(fakeBin).ExtractText(context.Background(), []byte("Datum Vikt\n2024-01-02 120\n"))
	require.NoError(t, err)
	assert.Equal(t, "Datum Vikt\n2024-01-02 120\n", text)
}

func TestPdfToText_EmptyOutput(t *testing.T) {
	fakeBin := filepath.Join(t.TempDir(), "pdftotext")
	require.NoError(t, os.WriteFile(fakeBin, []byte("#!/bin/sh\nexit 0\n"), 0755))

	_, err := NewPdfToText(fakeBin).ExtractText(context.Background(), []byte("%PDF"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text")
}
