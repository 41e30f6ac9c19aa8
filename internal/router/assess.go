// Package router assesses document quality and picks the extraction backend.
package router

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/sells-group/waste-pipeline/internal/extract"
	"github.com/sells-group/waste-pipeline/internal/llmjson"
	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/sheet"
	"github.com/sells-group/waste-pipeline/pkg/chat"
)

const (
	defaultPDFQuality   = 0.7
	spreadsheetQuality  = 0.85
	defaultLanguage     = "Swedish"
	assessmentMaxTokens = 2048
)

const assessmentPrompt = `Analyze this PDF document for extraction routing. Quick assessment only.

Return JSON (no markdown, no backticks):
{
  "qualityScore": 0.0-1.0 (1.0 = perfect scan, 0.0 = illegible),
  "complexity": "LOW" | "MEDIUM" | "HIGH",
  "tableCount": number (estimate),
  "hasHandwriting": boolean,
  "hasMergedCells": boolean,
  "detectedLanguage": "Swedish" | "Norwegian" | "Danish" | "Finnish" | "English",
  "reasoning": "brief explanation"
}

Assessment criteria:
- HIGH complexity: 3+ tables, merged cells, handwriting, scanned/low-DPI
- MEDIUM complexity: 1-2 tables, clean layout, some formatting
- LOW complexity: Simple text, single table, clear structure`

// Assessor produces a QualityAssessment per document. Client may be nil, in
// which case PDFs get the default assessment.
type Assessor struct {
	client chat.Client
	model  string
}

// NewAssessor creates an Assessor using client for PDF vision assessment.
func NewAssessor(client chat.Client, model string) *Assessor {
	return &Assessor{client: client, model: model}
}

// Assess never fails; on any error it falls back to a conservative default.
func (a *Assessor) Assess(ctx context.Context, doc *model.Document) model.QualityAssessment {
	ft := doc.FileType()
	if ft.IsSpreadsheet() {
		return assessSpreadsheet(ft, doc.Content)
	}
	return a.assessPDF(ctx, doc)
}

func assessSpreadsheet(ft model.FileType, content []byte) model.QualityAssessment {
	qa := model.QualityAssessment{
		FileType:         ft,
		QualityScore:     spreadsheetQuality,
		TableCount:       1,
		DetectedLanguage: defaultLanguage,
		Reasoning:        "spreadsheet routed to agentic extraction",
	}

	table, err := sheet.Read(ft, content)
	if err != nil {
		zap.L().Warn("router: spreadsheet profile failed", zap.Error(err))
		qa.Complexity = Classify(qa)
		qa.SuggestedModel = extract.NameAgentic
		return qa
	}

	qa.TableCount = max(1, len(table.Sheets))
	qa.HasMergedCells = table.MergedCells > 0
	if lang := DetectLanguage(table.Header()); lang != "" {
		qa.DetectedLanguage = lang
	}
	if n := len(table.Rows); n > 0 && table.Irregular > 0 {
		// Ragged rows lower the score, at most by half.
		qa.QualityScore -= 0.5 * spreadsheetQuality * float64(table.Irregular) / float64(n)
	}
	qa.Complexity = Classify(qa)
	qa.SuggestedModel = extract.NameAgentic
	return qa
}

type assessmentResponse struct {
	QualityScore     *float64 `json:"qualityScore"`
	Complexity       string   `json:"complexity"`
	TableCount       *int     `json:"tableCount"`
	HasHandwriting   bool     `json:"hasHandwriting"`
	HasMergedCells   bool     `json:"hasMergedCells"`
	DetectedLanguage string   `json:"detectedLanguage"`
	Reasoning        string   `json:"reasoning"`
}

func defaultPDFAssessment(reason string) model.QualityAssessment {
	qa := model.QualityAssessment{
		FileType:         model.FileTypePDF,
		QualityScore:     defaultPDFQuality,
		Complexity:       model.ComplexityMedium,
		TableCount:       1,
		DetectedLanguage: defaultLanguage,
		Reasoning:        reason,
	}
	qa.SuggestedModel = SuggestModel(qa)
	return qa
}

func (a *Assessor) assessPDF(ctx context.Context, doc *model.Document) model.QualityAssessment {
	if a.client == nil {
		return defaultPDFAssessment("no assessment model configured, using defaults")
	}

	resp, err := a.client.Complete(ctx, chat.Request{
		Model:      a.model,
		Prompt:     assessmentPrompt,
		Attachment: &chat.Attachment{MimeType: "application/pdf", Data: doc.Content},
		MaxTokens:  assessmentMaxTokens,
		JSON:       true,
	})
	if err != nil {
		zap.L().Warn("router: quality assessment failed, using defaults",
			zap.String("filename", doc.Filename), zap.Error(err))
		return defaultPDFAssessment("assessment failed, using defaults")
	}

	var out assessmentResponse
	if err := llmjson.Decode(resp.Text, llmjson.AssessmentSchema, &out); err != nil {
		zap.L().Warn("router: unreadable assessment, using defaults",
			zap.String("filename", doc.Filename), zap.Error(err))
		return defaultPDFAssessment("assessment unreadable, using defaults")
	}

	qa := model.QualityAssessment{
		FileType:         model.FileTypePDF,
		QualityScore:     defaultPDFQuality,
		TableCount:       1,
		HasHandwriting:   out.HasHandwriting,
		HasMergedCells:   out.HasMergedCells,
		DetectedLanguage: defaultLanguage,
		Reasoning:        out.Reasoning,
	}
	if out.QualityScore != nil {
		qa.QualityScore = model.ClampUnit(*out.QualityScore)
	}
	if out.TableCount != nil && *out.TableCount > 0 {
		qa.TableCount = *out.TableCount
	}
	if out.DetectedLanguage != "" {
		qa.DetectedLanguage = out.DetectedLanguage
	}
	qa.Complexity = higher(Classify(qa), model.Complexity(out.Complexity))
	qa.SuggestedModel = SuggestModel(qa)
	if qa.Reasoning == "" {
		qa.Reasoning = "vision assessment"
	}
	return qa
}

var knownLanguages = map[string]bool{
	"swedish": true, "norwegian": true, "danish": true, "finnish": true, "english": true,
}

// Classify derives complexity from the assessment features.
func Classify(qa model.QualityAssessment) model.Complexity {
	switch {
	case qa.TableCount >= 3,
		qa.HasHandwriting,
		qa.HasMergedCells,
		!knownLanguages[strings.ToLower(qa.DetectedLanguage)],
		qa.QualityScore < 0.5:
		return model.ComplexityHigh
	case qa.TableCount <= 1 && qa.QualityScore >= 0.8:
		return model.ComplexityLow
	default:
		return model.ComplexityMedium
	}
}

// SuggestModel maps an assessment to a backend name. Spreadsheets always go
// to the agentic backend.
func SuggestModel(qa model.QualityAssessment) string {
	if qa.FileType.IsSpreadsheet() || qa.Complexity == model.ComplexityHigh {
		return extract.NameAgentic
	}
	return extract.NameMistral
}

var complexityRank = map[model.Complexity]int{
	model.ComplexityLow:    1,
	model.ComplexityMedium: 2,
	model.ComplexityHigh:   3,
}

func higher(a, b model.Complexity) model.Complexity {
	if complexityRank[b] > complexityRank[a] {
		return b
	}
	return a
}

var languageKeywords = map[string][]string{
	"Swedish":   {"datum", "vikt", "mängd", "avfall", "mottagare", "hantering", "adress", "farligt"},
	"Norwegian": {"dato", "mengde", "vekt", "avfallstype", "mottaker", "behandling"},
	"Danish":    {"dato", "mængde", "vægt", "affald", "modtager", "behandling"},
	"Finnish":   {"päivämäärä", "paino", "jäte", "määrä", "vastaanottaja", "osoite"},
	"English":   {"date", "weight", "waste", "material", "quantity", "receiver", "address"},
}

// DetectLanguage guesses the header language. It returns "Mixed" when two or
// more languages score equally high, "Non-Latin" for non-Latin scripts and ""
// when nothing matches.
func DetectLanguage(header []string) string {
	joined := strings.ToLower(strings.Join(header, " "))
	if joined == "" {
		return ""
	}
	for _, r := range joined {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return "Non-Latin"
		}
	}

	words := strings.FieldsFunc(joined, func(r rune) bool { return !unicode.IsLetter(r) })
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}

	best, bestScore, tie := "", 0, false
	for _, lang := range []string{"Swedish", "Norwegian", "Danish", "Finnish", "English"} {
		score := 0
		for _, kw := range languageKeywords[lang] {
			if set[kw] {
				score++
			}
		}
		switch {
		case score > bestScore:
			best, bestScore, tie = lang, score, false
		case score == bestScore && score > 0:
			tie = true
		}
	}
	if tie {
		return "Mixed"
	}
	return best
}
