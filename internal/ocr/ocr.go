// Package ocr turns PDF bytes into text, either locally with pdftotext or
// through the Mistral OCR API.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/waste-pipeline/internal/config"
)

// Extractor extracts text content from PDF documents.
type Extractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig, mistral config.MistralConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if mistral.Key == "" {
			return nil, eris.New("ocr: mistral provider requires mistral.key")
		}
		var opts []MistralOption
		if mistral.BaseURL != "" {
			opts = append(opts, WithBaseURL(mistral.BaseURL))
		}
		return NewMistralOCR(mistral.Key, mistral.OCRModel, opts...), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
