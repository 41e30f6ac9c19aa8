package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/waste-pipeline/internal/extract"
	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/pkg/chat"
)

type fakeChat struct {
	text string
	err  error
	req  chat.Request
}

func (f *fakeChat) Complete(_ context.Context, req chat.Request) (*chat.Response, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &chat.Response{Text: f.text}, nil
}

type fakeBackend struct {
	name  string
	types []model.FileType
}

func (b fakeBackend) Name() string { return b.name }

func (b fakeBackend) Supports(ft model.FileType) bool {
	for _, t := range b.types {
		if t == ft {
			return true
		}
	}
	return false
}

func (b fakeBackend) Extract(context.Context, *model.Document, model.QualityAssessment, extract.Settings) (*model.ExtractionResult, error) {
	return nil, nil
}

func names(bs []extract.Backend) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.Name()
	}
	return out
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		qa   model.QualityAssessment
		want model.Complexity
	}{
		{"clean single table", model.QualityAssessment{TableCount: 1, QualityScore: 0.9, DetectedLanguage: "Swedish"}, model.ComplexityLow},
		{"two tables", model.QualityAssessment{TableCount: 2, QualityScore: 0.9, DetectedLanguage: "Swedish"}, model.ComplexityMedium},
		{"many tables", model.QualityAssessment{TableCount: 3, QualityScore: 0.9, DetectedLanguage: "English"}, model.ComplexityHigh},
		{"handwriting", model.QualityAssessment{TableCount: 1, QualityScore: 0.9, HasHandwriting: true, DetectedLanguage: "Danish"}, model.ComplexityHigh},
		{"merged cells", model.QualityAssessment{TableCount: 1, QualityScore: 0.9, HasMergedCells: true, DetectedLanguage: "Danish"}, model.ComplexityHigh},
		{"low quality scan", model.QualityAssessment{TableCount: 1, QualityScore: 0.4, DetectedLanguage: "Finnish"}, model.ComplexityHigh},
		{"mixed language", model.QualityAssessment{TableCount: 1, QualityScore: 0.9, DetectedLanguage: "Mixed"}, model.ComplexityHigh},
		{"middling quality", model.QualityAssessment{TableCount: 1, QualityScore: 0.7, DetectedLanguage: "Norwegian"}, model.ComplexityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.qa))
		})
	}
}

func TestSuggestModel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, extract.NameAgentic, SuggestModel(model.QualityAssessment{FileType: model.FileTypeXLSX, Complexity: model.ComplexityLow}))
	assert.Equal(t, extract.NameAgentic, SuggestModel(model.QualityAssessment{FileType: model.FileTypePDF, Complexity: model.ComplexityHigh}))
	assert.Equal(t, extract.NameMistral, SuggestModel(model.QualityAssessment{FileType: model.FileTypePDF, Complexity: model.ComplexityMedium}))
}

func TestDetectLanguage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		header []string
		want   string
	}{
		{[]string{"Datum", "Vikt (kg)", "Avfall", "Mottagare"}, "Swedish"},
		{[]string{"Date", "Weight", "Material"}, "English"},
		{[]string{"Päivämäärä", "Paino", "Jäte"}, "Finnish"},
		{[]string{"Datum", "Weight"}, "Mixed"},
		{[]string{"日付", "重量"}, "Non-Latin"},
		{[]string{"Kolumn1", "Kolumn2"}, ""},
		{nil, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectLanguage(tt.header), "%v", tt.header)
	}
}

func TestAssess_Spreadsheet(t *testing.T) {
	a := NewAssessor(nil, "")
	qa := a.Assess(context.Background(), &model.Document{
		Filename: "rapport.csv",
		Content:  []byte("Datum;Vikt;Avfall;Mottagare\n2024-01-02;120;Trä;Renova\n2024-01-03;80;Papper;Renova\n"),
	})

	assert.Equal(t, model.FileTypeCSV, qa.FileType)
	assert.Equal(t, "Swedish", qa.DetectedLanguage)
	assert.Equal(t, model.ComplexityLow, qa.Complexity)
	assert.Equal(t, extract.NameAgentic, qa.SuggestedModel)
	assert.InDelta(t, spreadsheetQuality, qa.QualityScore, 1e-9)
}

func TestAssess_PDFVision(t *testing.T) {
	fc := &fakeChat{text: "```json\n" + `{"qualityScore":0.92,"complexity":"LOW","tableCount":1,"detectedLanguage":"Swedish","reasoning":"clean table"}` + "\n```"}
	qa := NewAssessor(fc, "gemini-flash").Assess(context.Background(), &model.Document{Filename: "faktura.pdf", Content: []byte("%PDF")})

	require.NotNil(t, fc.req.Attachment)
	assert.Equal(t, "application/pdf", fc.req.Attachment.MimeType)
	assert.Equal(t, "gemini-flash", fc.req.Model)
	assert.Equal(t, model.ComplexityLow, qa.Complexity)
	assert.Equal(t, extract.NameMistral, qa.SuggestedModel)
	assert.InDelta(t, 0.92, qa.QualityScore, 1e-9)
	assert.Equal(t, "clean table", qa.Reasoning)
}

func TestAssess_PDFModelComplexityOnlyRaises(t *testing.T) {
	fc := &fakeChat{text: `{"qualityScore":0.9,"complexity":"HIGH","tableCount":1}`}
	qa := NewAssessor(fc, "m").Assess(context.Background(), &model.Document{Filename: "a.pdf"})

	assert.Equal(t, model.ComplexityHigh, qa.Complexity)
	assert.Equal(t, extract.NameAgentic, qa.SuggestedModel)
}

func TestAssess_PDFFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		client chat.Client
		reason string
	}{
		{"no client", nil, "no assessment model configured"},
		{"call fails", &fakeChat{err: errors.New("quota")}, "assessment failed"},
		{"bad json", &fakeChat{text: "the document looks fine"}, "assessment unreadable"},
		{"schema violation", &fakeChat{text: `{"qualityScore":3}`}, "assessment unreadable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			qa := NewAssessor(tt.client, "m").Assess(context.Background(), &model.Document{Filename: "a.pdf"})
			assert.Equal(t, model.FileTypePDF, qa.FileType)
			assert.Equal(t, model.ComplexityMedium, qa.Complexity)
			assert.InDelta(t, defaultPDFQuality, qa.QualityScore, 1e-9)
			assert.Equal(t, extract.NameMistral, qa.SuggestedModel)
			assert.Contains(t, qa.Reasoning, tt.reason)
		})
	}
}

func TestRouter_Select(t *testing.T) {
	t.Parallel()
	r := New(
		fakeBackend{name: extract.NameMistral, types: []model.FileType{model.FileTypePDF}},
		fakeBackend{name: extract.NameAgentic, types: []model.FileType{model.FileTypePDF, model.FileTypeXLSX, model.FileTypeCSV}},
		fakeBackend{name: extract.NameAdaptive, types: []model.FileType{model.FileTypeXLSX, model.FileTypeCSV}},
	)

	tests := []struct {
		name     string
		qa       model.QualityAssessment
		override string
		want     []string
		wantErr  string
	}{
		{
			name: "pdf suggestion first",
			qa:   model.QualityAssessment{FileType: model.FileTypePDF, SuggestedModel: extract.NameAgentic},
			want: []string{extract.NameAgentic, extract.NameMistral},
		},
		{
			name: "spreadsheet skips pdf-only backends",
			qa:   model.QualityAssessment{FileType: model.FileTypeXLSX, SuggestedModel: extract.NameAgentic},
			want: []string{extract.NameAgentic, extract.NameAdaptive},
		},
		{
			name:     "override wins",
			qa:       model.QualityAssessment{FileType: model.FileTypeCSV, SuggestedModel: extract.NameAgentic},
			override: extract.NameAdaptive,
			want:     []string{extract.NameAdaptive, extract.NameAgentic},
		},
		{
			name: "unregistered suggestion uses registration order",
			qa:   model.QualityAssessment{FileType: model.FileTypePDF, SuggestedModel: "vision-x"},
			want: []string{extract.NameMistral, extract.NameAgentic},
		},
		{
			name:     "unknown override",
			qa:       model.QualityAssessment{FileType: model.FileTypePDF},
			override: "tesseract",
			wantErr:  `unknown backend "tesseract"`,
		},
		{
			name:     "override cannot read type",
			qa:       model.QualityAssessment{FileType: model.FileTypeCSV},
			override: extract.NameMistral,
			wantErr:  "cannot read csv files",
		},
		{
			name:    "no backend for type",
			qa:      model.QualityAssessment{FileType: model.FileTypeUnknown},
			wantErr: "no backend supports",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := r.Select(tt.qa, tt.override)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}
}
