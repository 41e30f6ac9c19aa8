package extract

import (
	"context"
	"fmt"

	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/normalize"
	"github.com/sells-group/waste-pipeline/internal/ocr"
	"github.com/sells-group/waste-pipeline/pkg/chat"
)

const (
	mistralMaxSourceChars = 50000
	structuringMaxTokens  = 16384
)

// Mistral runs OCR over a PDF and structures the text with a chat model.
type Mistral struct {
	base
	ocr   ocr.Extractor
	chat  chat.Client
	model string
}

// NewMistral creates the OCR backend.
func NewMistral(ext ocr.Extractor, client chat.Client, chatModel string, opts ...Option) *Mistral {
	return &Mistral{base: newBase(opts), ocr: ext, chat: client, model: chatModel}
}

// Name implements Backend.
func (m *Mistral) Name() string { return NameMistral }

// Supports implements Backend.
func (m *Mistral) Supports(ft model.FileType) bool { return ft == model.FileTypePDF }

// Extract implements Backend.
func (m *Mistral) Extract(ctx context.Context, doc *model.Document, qa model.QualityAssessment, s Settings) (*model.ExtractionResult, error) {
	log := m.newLog().Append("mistral-ocr: extracting %s", doc.Filename)

	text, err := call(ctx, m.base, "extract: mistral ocr", func(ctx context.Context) (string, error) {
		return m.ocr.ExtractText(ctx, doc.Content)
	})
	if err != nil {
		return nil, unavailable(NameMistral, err)
	}
	source, truncated := clip(text, mistralMaxSourceChars)
	log = log.Append("mistral-ocr: OCR returned %d chars", len(text))
	if truncated {
		log = log.Append("mistral-ocr: text truncated to %d chars", len(source))
	}

	fb := fallbacksFor(doc.Filename, s)
	prompt := structuringPrompt(doc.Filename, source, fb, s)

	resp, err := call(ctx, m.base, "extract: mistral structure", func(ctx context.Context) (*chat.Response, error) {
		return m.chat.Complete(ctx, chat.Request{
			Model:     m.model,
			Prompt:    prompt,
			MaxTokens: structuringMaxTokens,
			JSON:      true,
		})
	})
	if err != nil {
		return nil, unavailable(NameMistral, err)
	}

	parsed, err := decodeItems(resp.Text)
	if err != nil {
		return nil, unavailable(NameMistral, err)
	}
	if len(parsed.Items) == 0 {
		return nil, unavailable(NameMistral, ErrNoItems)
	}

	meta := map[string]any{"ocrChars": len(text), "truncated": truncated}
	if info := parsed.DocumentInfo; info != nil {
		if d, ok := normalize.ParseDateToISO(info.Date); ok {
			fb.Date = d
		}
		fb.Address = info.Address
		if info.Supplier != "" {
			meta["supplier"] = info.Supplier
		}
	}

	sc := scorer{docConf: parsed.docConfidence(), fb: fb}
	items := sc.items(parsed.Items)
	conf := resultConfidence(items, 0)

	lang := parsed.Language
	if lang == "" {
		lang = qa.DetectedLanguage
	}
	log = log.Append("mistral-ocr: extracted %d line items, confidence %.0f%%", len(items), conf*100)

	return &model.ExtractionResult{
		Items:         items,
		Confidence:    conf,
		Language:      lang,
		ProcessingLog: log,
		SourceText:    source,
		Model:         NameMistral,
		Metadata:      meta,
	}, nil
}

func structuringPrompt(filename, text string, fb fallbacks, s Settings) string {
	return fmt.Sprintf(`You are a document extraction specialist for Nordic waste management reports.

DOCUMENT: %s

OCR EXTRACTED TEXT:
%s

LANGUAGES: the document may be Swedish, Norwegian, Danish, Finnish or English.
- Swedish: Vikt, Material, Datum, Mottagare, Plats
- Norwegian: Vekt, Materiale, Dato, Mottaker, Sted
- Danish: Vægt, Materiale, Dato, Modtager, Sted
- Finnish: Paino, Materiaali, Päivämäärä, Vastaanottaja, Paikka
- English: Weight, Material, Date, Receiver, Location

MATERIAL STANDARDIZATION:
%s

RULES:
1. Extract EVERY row from every table in the text.
2. Convert all weights to kg (ton x 1000, g / 1000).
3. Dates as YYYY-MM-DD. If a date is a period, use the END date.
4. If a row has no date, use the document header date or: %s
5. Default receiver: %s
6. isHazardous = true if "Farligt avfall", "FA" or "Hazardous" is indicated.
7. For every field give your own confidence 0.0-1.0. Use low values when you are guessing.
%s
OUTPUT (JSON only):
{
  "documentInfo": {"date": "YYYY-MM-DD", "address": "string or null", "supplier": "string or null"},
  "items": [
    {
      "date": {"value": "YYYY-MM-DD", "confidence": 0.0},
      "location": {"value": "string", "confidence": 0.0},
      "material": {"value": "string", "confidence": 0.0},
      "handling": {"value": "string", "confidence": 0.0},
      "weightKg": {"value": 0, "confidence": 0.0},
      "receiver": {"value": "string", "confidence": 0.0},
      "isHazardous": {"value": false, "confidence": 0.0}
    }
  ],
  "language": "Swedish|Norwegian|Danish|Finnish|English",
  "confidence": 0.0
}`, filename, text, SynonymsPrompt(s.MaterialSynonyms), fb.dateOrNone(), fb.Receiver, customInstructions(s))
}
