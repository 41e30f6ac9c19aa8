package extract

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/waste-pipeline/internal/llmjson"
	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/sheet"
	"github.com/sells-group/waste-pipeline/pkg/anthropic"
)

const (
	defaultChunkSize         = 50
	structureSampleRows      = 10
	failedStructureConf      = 0.3
	structureMaxTokens       = 2048
	chunkMaxTokens           = 8192
	missingRowsIssueFraction = 0.9
)

// Adaptive maps spreadsheet columns with a strong model, then extracts the
// rows in chunks with a fast model, falling back to the strong model for any
// chunk the fast one fails.
type Adaptive struct {
	base
	client anthropic.Client
	fast   string
	strong string
}

// NewAdaptive creates the chunked Claude backend.
func NewAdaptive(client anthropic.Client, fastModel, strongModel string, opts ...Option) *Adaptive {
	return &Adaptive{base: newBase(opts), client: client, fast: fastModel, strong: strongModel}
}

// Name implements Backend.
func (a *Adaptive) Name() string { return NameAdaptive }

// Supports implements Backend.
func (a *Adaptive) Supports(ft model.FileType) bool { return ft.IsSpreadsheet() }

type structure struct {
	DateColumn     *string  `json:"dateColumn"`
	LocationColumn *string  `json:"locationColumn"`
	MaterialColumn *string  `json:"materialColumn"`
	WeightColumn   *string  `json:"weightColumn"`
	UnitColumn     *string  `json:"unitColumn"`
	ReceiverColumn *string  `json:"receiverColumn"`
	CostColumn     *string  `json:"costColumn"`
	Confidence     *float64 `json:"confidence"`
}

func (s structure) confidence() float64 {
	if s.Confidence == nil {
		return failedStructureConf
	}
	return model.ClampUnit(*s.Confidence)
}

func col(p *string) string {
	if p == nil || *p == "" {
		return "not found"
	}
	return *p
}

// Extract implements Backend.
func (a *Adaptive) Extract(ctx context.Context, doc *model.Document, qa model.QualityAssessment, s Settings) (*model.ExtractionResult, error) {
	ft := doc.FileType()
	if !ft.IsSpreadsheet() {
		return nil, unavailable(NameAdaptive, eris.Errorf("extract: unsupported file type %q", ft))
	}
	log := a.newLog().Append("adaptive: extracting %s", doc.Filename)

	table, err := sheet.Read(ft, doc.Content)
	if err != nil {
		return nil, unavailable(NameAdaptive, err)
	}
	total := len(table.DataRows())
	if total == 0 {
		return nil, unavailable(NameAdaptive, eris.New("extract: no data rows"))
	}
	log = log.Append("adaptive: header at row %d, %d data rows", table.HeaderIndex()+1, total)

	st := a.analyse(ctx, doc.Filename, table)
	log = log.Append("adaptive: structure confidence %.0f%% (date=%s, material=%s, weight=%s)",
		st.confidence()*100, col(st.DateColumn), col(st.MaterialColumn), col(st.WeightColumn))

	size := s.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	chunks := table.Chunks(size)
	fb := fallbacksFor(doc.Filename, s)

	var (
		items    []*model.LineItem
		fellBack int
		failed   int
	)
	for i, ch := range chunks {
		prompt := chunkPrompt(st, ch, i+1, len(chunks), fb, s)
		parsed, used, err := a.extractChunk(ctx, prompt)
		if err != nil {
			// A context error ends the document; anything else is a gap.
			if ctx.Err() != nil {
				return nil, unavailable(NameAdaptive, ctx.Err())
			}
			failed++
			log = log.Append("adaptive: chunk %d/%d (rows %d-%d) failed: %v",
				i+1, len(chunks), ch.Offset+1, ch.Offset+len(ch.Rows), err)
			continue
		}
		if used == a.strong {
			fellBack++
		}
		sc := scorer{docConf: min(parsed.docConfidence(), st.confidence()), fb: fb}
		items = append(items, sc.items(parsed.Items)...)
	}
	if len(items) == 0 {
		return nil, unavailable(NameAdaptive, ErrNoItems)
	}

	rate := extractionRate(len(items), total)
	conf := min(resultConfidence(items, total), st.confidence())
	log = log.Append("adaptive: extracted %d / %d rows (%.0f%%), %d chunk(s) on %s, %d failed",
		len(items), total, rate*100, fellBack, a.strong, failed)
	if float64(len(items)) < float64(total)*missingRowsIssueFraction {
		log = log.Append("adaptive: missing %d rows", total-len(items))
	}

	return &model.ExtractionResult{
		Items:         items,
		Confidence:    conf,
		Language:      qa.DetectedLanguage,
		ProcessingLog: log,
		SourceText:    table.Markdown(0, 0),
		Model:         NameAdaptive,
		Metadata: map[string]any{
			"totalRows":      total,
			"extractionRate": rate,
			"chunked":        true,
			"chunks":         len(chunks),
			"failedChunks":   failed,
		},
	}, nil
}

// analyse never fails: a failed analysis yields an empty mapping at low
// confidence.
func (a *Adaptive) analyse(ctx context.Context, filename string, table *sheet.Table) structure {
	data := table.DataRows()
	sample := sheet.TSV(table.Header(), data[:min(structureSampleRows, len(data))])
	prompt := fmt.Sprintf(`Analyze this waste document and map its columns.

DOCUMENT: %s

SAMPLE:
%s

Identify columns for: DATE, LOCATION, MATERIAL, WEIGHT, UNIT, RECEIVER, COST (optional).

JSON output only, null for columns that do not exist:
{"dateColumn": "Datum", "locationColumn": "Uppdragsställe", "materialColumn": "Material",
 "weightColumn": "Kvantitet", "unitColumn": "Enhet", "receiverColumn": "Anläggning",
 "costColumn": null, "confidence": 0.95}`, filename, sample)

	text, err := a.complete(ctx, a.strong, prompt, structureMaxTokens, "adaptive structure")
	var st structure
	if err == nil {
		err = llmjson.Decode(text, llmjson.StructureSchema, &st)
	}
	if err != nil {
		zap.L().Warn("extract: structure analysis failed", zap.String("filename", filename), zap.Error(err))
		return structure{}
	}
	return st
}

// extractChunk tries the fast model, then the strong one. It returns the
// model that produced the items.
func (a *Adaptive) extractChunk(ctx context.Context, prompt string) (*itemsResponse, string, error) {
	var lastErr error
	for _, m := range []string{a.fast, a.strong} {
		text, err := a.complete(ctx, m, prompt, chunkMaxTokens, "adaptive chunk")
		if err == nil {
			var parsed *itemsResponse
			parsed, err = decodeItems(text)
			if err == nil && len(parsed.Items) == 0 {
				err = ErrNoItems
			}
			if err == nil {
				return parsed, m, nil
			}
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		zap.L().Debug("extract: chunk attempt failed", zap.String("model", m), zap.Error(err))
		lastErr = err
	}
	return nil, "", lastErr
}

func (a *Adaptive) complete(ctx context.Context, modelName, prompt string, maxTokens int64, stage string) (string, error) {
	temp := 0.0
	resp, err := call(ctx, a.base, "extract: "+stage, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return a.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       modelName,
			MaxTokens:   maxTokens,
			Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
			Temperature: &temp,
		})
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(modelName, stage)
	return resp.Text(), nil
}

func chunkPrompt(st structure, ch sheet.Chunk, n, total int, fb fallbacks, s Settings) string {
	return fmt.Sprintf(`Extract ALL rows from this table to clean JSON.

DOCUMENT STRUCTURE (confidence: %.0f%%):
- DATE: %q column (YYYY-MM-DD) or fallback: %s
- LOCATION: %q column
- MATERIAL: %q column (use standard names from synonyms)
- WEIGHT: %q column, unit %q (convert to kg)
- RECEIVER: %q column or use %q

MATERIAL SYNONYMS:
%s

WEIGHT CONVERSION: ton/t x 1000, g / 1000, kg as-is.
%s
TABLE (chunk %d/%d, %d rows):
%s

JSON only. Plain values, with one "confidence" 0.0-1.0 for the whole chunk:
{"items":[{"date":"2024-01-16","location":"Address","material":"Material","weightKg":185,"receiver":%q}],"confidence":0.0}

CRITICAL: extract all %d rows.`,
		st.confidence()*100, col(st.DateColumn), fb.dateOrNone(), col(st.LocationColumn), col(st.MaterialColumn),
		col(st.WeightColumn), col(st.UnitColumn), col(st.ReceiverColumn), fb.Receiver,
		SynonymsPrompt(s.MaterialSynonyms), customInstructions(s), n, total, len(ch.Rows), ch.TSV(), fb.Receiver, len(ch.Rows))
}
