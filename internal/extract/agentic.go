package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/waste-pipeline/internal/llmjson"
	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/ocr"
	"github.com/sells-group/waste-pipeline/internal/sheet"
	"github.com/sells-group/waste-pipeline/pkg/chat"
)

const (
	analysisSampleRows  = 100
	analysisCellChars   = 30
	agenticMaxDataChars = 100000
	analysisMaxTokens   = 8192
	agenticMaxTokens    = 16384
)

// agenticWrapper frames the extraction prompt as a think/plan/extract/verify
// loop.
const agenticWrapper = `You are an agentic extraction model. Work in four steps before answering:
1. THINK: study the table layout, merged cells and units.
2. PLAN: decide which columns map to which fields.
3. EXTRACT: read every data row.
4. VERIFY: check the row count and that every value appears in the data.
Only the final JSON object is returned.

`

// Agentic extracts spreadsheets (and PDFs when an OCR extractor is set)
// with a two-pass analyse-then-extract prompt.
type Agentic struct {
	base
	chat  chat.Client
	model string
	ocr   ocr.Extractor
}

// NewAgentic creates the agentic backend. ext may be nil, in which case PDFs
// are not supported.
func NewAgentic(client chat.Client, chatModel string, ext ocr.Extractor, opts ...Option) *Agentic {
	return &Agentic{base: newBase(opts), chat: client, model: chatModel, ocr: ext}
}

// Name implements Backend.
func (a *Agentic) Name() string { return NameAgentic }

// Supports implements Backend.
func (a *Agentic) Supports(ft model.FileType) bool {
	return ft.IsSpreadsheet() || (ft == model.FileTypePDF && a.ocr != nil)
}

// Extract implements Backend.
func (a *Agentic) Extract(ctx context.Context, doc *model.Document, qa model.QualityAssessment, s Settings) (*model.ExtractionResult, error) {
	ft := doc.FileType()
	if ft == model.FileTypePDF {
		return a.extractPDF(ctx, doc, qa, s)
	}
	if !ft.IsSpreadsheet() {
		return nil, unavailable(NameAgentic, eris.Errorf("extract: unsupported file type %q", ft))
	}

	log := a.newLog().Append("gemini-agentic: extracting %s", doc.Filename)
	table, err := sheet.Read(ft, doc.Content)
	if err != nil {
		return nil, unavailable(NameAgentic, err)
	}
	data := table.DataRows()
	if len(data) == 0 {
		return nil, unavailable(NameAgentic, eris.New("extract: no data rows"))
	}
	log = log.Append("gemini-agentic: loaded %d rows from %d sheet(s)", len(data), len(table.Sheets))

	analysis, log := a.analyse(ctx, doc.Filename, table, log)

	fb := fallbacksFor(doc.Filename, s)
	tsv, truncated := clip(table.TSV(), agenticMaxDataChars)
	if truncated {
		log = log.Append("gemini-agentic: data truncated to %d chars", len(tsv))
	}
	prompt := agenticWrapper + spreadsheetPrompt(len(data), analysis, tsv, fb, s)

	resp, err := call(ctx, a.base, "extract: agentic extract", func(ctx context.Context) (*chat.Response, error) {
		return a.chat.Complete(ctx, chat.Request{Model: a.model, Prompt: prompt, MaxTokens: agenticMaxTokens, JSON: true})
	})
	if err != nil {
		return nil, unavailable(NameAgentic, err)
	}
	parsed, err := decodeItems(resp.Text)
	if err != nil {
		return nil, unavailable(NameAgentic, err)
	}
	if len(parsed.Items) == 0 {
		return nil, unavailable(NameAgentic, ErrNoItems)
	}

	docConf := parsed.docConfidence()
	if analysis.Confidence != nil {
		docConf = min(docConf, model.ClampUnit(*analysis.Confidence))
	}
	sc := scorer{docConf: docConf, fb: fb}
	items := sc.items(parsed.Items)
	conf := resultConfidence(items, len(data))
	log = log.Append("gemini-agentic: extracted %d / %d rows, confidence %.0f%%", len(items), len(data), conf*100)

	lang := firstNonEmpty(analysis.Language(), parsed.Language, qa.DetectedLanguage)
	return &model.ExtractionResult{
		Items:         items,
		Confidence:    conf,
		Language:      lang,
		ProcessingLog: log,
		SourceText:    table.Markdown(0, 0),
		Model:         NameAgentic,
		Metadata: map[string]any{
			"totalRows":      len(data),
			"sheets":         table.Sheets,
			"extractionRate": extractionRate(len(items), len(data)),
			"truncated":      truncated,
		},
	}, nil
}

type analysisResponse struct {
	Analysis   map[string]any `json:"analysis"`
	Strategy   string         `json:"extractionStrategy"`
	Confidence *float64       `json:"confidence"`
}

func (r analysisResponse) Language() string {
	s, _ := r.Analysis["language"].(string)
	return s
}

// analyse is best effort: a failed analysis yields an empty plan.
func (a *Agentic) analyse(ctx context.Context, filename string, table *sheet.Table, log model.ProcessingLog) (analysisResponse, model.ProcessingLog) {
	prompt := analysisPrompt(filename, table)
	resp, err := call(ctx, a.base, "extract: agentic analysis", func(ctx context.Context) (*chat.Response, error) {
		return a.chat.Complete(ctx, chat.Request{Model: a.model, Prompt: prompt, MaxTokens: analysisMaxTokens, JSON: true})
	})
	var out analysisResponse
	if err != nil {
		return out, log.Append("gemini-agentic: structure analysis failed, continuing without plan: %v", err)
	}
	if err := llmjson.Decode(resp.Text, nil, &out); err != nil {
		return analysisResponse{}, log.Append("gemini-agentic: could not parse structure analysis, continuing without plan")
	}
	return out, log.Append("gemini-agentic: structure detected, language %s", firstNonEmpty(out.Language(), "unknown"))
}

func analysisPrompt(filename string, table *sheet.Table) string {
	return fmt.Sprintf(`Analyze this spreadsheet for waste management extraction.

FILE: %s
TOTAL ROWS: %d
SHEETS: %s

SAMPLE DATA (first %d rows):
%s
Return JSON only:
{
  "analysis": {
    "language": "Swedish|Norwegian|Danish|Finnish|English",
    "headerRow": 0,
    "columns": {"date": "column or null", "material": "column or null", "weight": "column or null",
                "unit": "column or null", "location": "column or null", "receiver": "column or null",
                "hazardous": "column or null"},
    "issues": ["data quality issues found"],
    "mergedCells": false,
    "weightUnit": "kg|ton|g|mixed"
  },
  "extractionStrategy": "how to handle this file",
  "confidence": 0.0
}`, filename, len(table.DataRows()), strings.Join(table.Sheets, ", "), analysisSampleRows,
		table.Markdown(analysisCellChars, analysisSampleRows))
}

func spreadsheetPrompt(rows int, analysis analysisResponse, tsv string, fb fallbacks, s Settings) string {
	plan, _ := json.MarshalIndent(analysis.Analysis, "", "  ")
	return fmt.Sprintf(`Extract ALL %d data rows from this waste management spreadsheet.

ANALYSIS:
%s

DATA (tab separated, header first):
%s

MATERIAL SYNONYMS:
%s

RULES:
1. Extract EVERY data row, never the header.
2. Convert weights to kg (ton x 1000, g / 1000).
3. Dates as YYYY-MM-DD. Excel serial dates count days since 1899-12-30 (45294 = 2024-01-02).
4. If a date is a period, use the END date.
5. Date if missing: %s
6. Default receiver: %s
7. isHazardous = true if a hazardous indicator is present.
8. For every field give your own confidence 0.0-1.0. Use low values when you are guessing.
%s
OUTPUT (JSON only):
{
  "items": [
    {
      "date": {"value": "YYYY-MM-DD", "confidence": 0.0},
      "location": {"value": "string", "confidence": 0.0},
      "material": {"value": "string", "confidence": 0.0},
      "weightKg": {"value": 0, "confidence": 0.0},
      "receiver": {"value": "string", "confidence": 0.0},
      "isHazardous": {"value": false, "confidence": 0.0}
    }
  ],
  "confidence": 0.0
}

CRITICAL: extract all %d rows.`, rows, plan, tsv, SynonymsPrompt(s.MaterialSynonyms), fb.dateOrNone(), fb.Receiver,
		customInstructions(s), rows)
}

func (a *Agentic) extractPDF(ctx context.Context, doc *model.Document, qa model.QualityAssessment, s Settings) (*model.ExtractionResult, error) {
	if a.ocr == nil {
		return nil, unavailable(NameAgentic, eris.New("extract: no OCR extractor for PDF"))
	}
	log := a.newLog().Append("gemini-agentic: extracting PDF %s with vision", doc.Filename)

	text, err := call(ctx, a.base, "extract: agentic ocr", func(ctx context.Context) (string, error) {
		return a.ocr.ExtractText(ctx, doc.Content)
	})
	if err != nil {
		return nil, unavailable(NameAgentic, err)
	}
	source, _ := clip(text, mistralMaxSourceChars)

	fb := fallbacksFor(doc.Filename, s)
	prompt := agenticWrapper + structuringPrompt(doc.Filename, source, fb, s)

	resp, err := call(ctx, a.base, "extract: agentic vision", func(ctx context.Context) (*chat.Response, error) {
		return a.chat.Complete(ctx, chat.Request{
			Model:      a.model,
			Prompt:     prompt,
			Attachment: &chat.Attachment{MimeType: "application/pdf", Data: doc.Content},
			MaxTokens:  agenticMaxTokens,
			JSON:       true,
		})
	})
	if err != nil {
		return nil, unavailable(NameAgentic, err)
	}
	parsed, err := decodeItems(resp.Text)
	if err != nil {
		return nil, unavailable(NameAgentic, err)
	}
	if len(parsed.Items) == 0 {
		return nil, unavailable(NameAgentic, ErrNoItems)
	}

	sc := scorer{docConf: parsed.docConfidence(), fb: fb}
	items := sc.items(parsed.Items)
	conf := resultConfidence(items, 0)
	log = log.Append("gemini-agentic: extracted %d line items, confidence %.0f%%", len(items), conf*100)

	return &model.ExtractionResult{
		Items:         items,
		Confidence:    conf,
		Language:      firstNonEmpty(parsed.Language, qa.DetectedLanguage),
		ProcessingLog: log,
		SourceText:    source,
		Model:         NameAgentic,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
