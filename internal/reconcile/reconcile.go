// Package reconcile re-examines flagged fields with a stronger model and
// corrects them in place.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/waste-pipeline/internal/llmjson"
	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/normalize"
	"github.com/sells-group/waste-pipeline/internal/resilience"
	"github.com/sells-group/waste-pipeline/internal/verify"
	"github.com/sells-group/waste-pipeline/pkg/anthropic"
)

const (
	maxTokens      = 16384
	maxSourceChars = 50000
)

// ShouldReconcile reports whether verification failed or scored below
// threshold.
func ShouldReconcile(v *model.VerificationResult, threshold float64) bool {
	if v == nil {
		return false
	}
	return !v.Passed || v.Confidence < threshold
}

// Options configures a Reconciler.
type Options struct {
	Client    anthropic.Client
	Model     string
	Penalties verify.Penalties
	Backoff   resilience.Backoff
	Clock     model.Clock
}

// Reconciler corrects flagged fields.
type Reconciler struct {
	opts Options
}

// New creates a Reconciler.
func New(opts Options) *Reconciler {
	if opts.Penalties == (verify.Penalties{}) {
		opts.Penalties = verify.DefaultPenalties()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Reconciler{opts: opts}
}

type fieldKey struct {
	row   int
	field string
}

type correction struct {
	RowIndex   int             `json:"rowIndex"`
	Field      string          `json:"field"`
	Value      json.RawMessage `json:"value"`
	Confidence *float64        `json:"confidence"`
	Reason     string          `json:"reason"`
}

type correctionsResponse struct {
	Corrections []correction      `json:"corrections"`
	Items       []json.RawMessage `json:"items"`
	Confidence  *float64          `json:"confidence"`
}

// Reconcile asks the model to correct the fields verification flagged and
// applies the corrections to the same items. Only flagged fields may change;
// anything else the model returns is reported as an anomaly. A correction
// resolves its issue only when the new value is backed by sourceText. When
// the model call fails the items are left untouched and every issue stays
// unresolved; Model is empty in that case.
func (r *Reconciler) Reconcile(ctx context.Context, items []*model.LineItem, v *model.VerificationResult, doc *model.Document, sourceText string) *model.ReconciliationResult {
	log := model.NewProcessingLog(r.opts.Clock).Append("reconcile: %d flagged issues", len(v.Issues))
	res := &model.ReconciliationResult{
		Items:      items,
		Confidence: v.Confidence,
		Unresolved: append([]model.VerificationIssue(nil), v.Issues...),
	}
	if len(v.Issues) == 0 {
		res.ProcessingLog = log.Append("reconcile: nothing to reconcile")
		return res
	}

	flagged := make(map[fieldKey][]model.VerificationIssue)
	for _, is := range v.Issues {
		k := fieldKey{is.RowIndex, is.Field}
		flagged[k] = append(flagged[k], is)
	}

	parsed, err := r.ask(ctx, items, v.Issues, doc, sourceText)
	if err != nil {
		zap.L().Warn("reconcile: model call failed", zap.String("filename", doc.Filename), zap.Error(err))
		res.ProcessingLog = log.Append("reconcile: failed, keeping extracted values: %v", err)
		return res
	}
	res.Model = r.opts.Model

	if parsed.Items != nil && len(parsed.Items) != len(items) {
		res.Anomalies = append(res.Anomalies,
			fmt.Sprintf("row count changed from %d to %d; returned rows ignored", len(items), len(parsed.Items)))
	}

	corrected := make(map[fieldKey]bool)
	for _, c := range parsed.Corrections {
		k := fieldKey{c.RowIndex, c.Field}
		switch {
		case c.RowIndex < 0 || c.RowIndex >= len(items) || items[c.RowIndex] == nil:
			res.Anomalies = append(res.Anomalies, fmt.Sprintf("correction for row %d outside the document (%d rows)", c.RowIndex, len(items)))
			continue
		case !model.IsLineItemField(c.Field):
			res.Anomalies = append(res.Anomalies, fmt.Sprintf("correction for unknown field %q on row %d", c.Field, c.RowIndex))
			continue
		case flagged[k] == nil:
			res.Anomalies = append(res.Anomalies, fmt.Sprintf("correction for unflagged field %s on row %d", c.Field, c.RowIndex))
			continue
		}

		li := items[c.RowIndex]
		before := li.FieldString(c.Field)
		conf := li.FieldConfidence(c.Field)
		if c.Confidence != nil {
			conf = *c.Confidence
		}
		if err := apply(li, c.Field, c.Value, conf); err != nil {
			res.Anomalies = append(res.Anomalies, fmt.Sprintf("row %d: %v", c.RowIndex, err))
			continue
		}
		after := li.FieldString(c.Field)
		if after == before {
			continue
		}
		corrected[k] = true
		change := fmt.Sprintf("row %d: %s changed from '%s' to '%s'", c.RowIndex, c.Field, before, after)
		if c.Reason != "" {
			change += ": " + c.Reason
		}
		res.Changes = append(res.Changes, change)
	}

	ev := verify.NewEvidence(sourceText)
	res.Unresolved = res.Unresolved[:0]
	for _, is := range v.Issues {
		k := fieldKey{is.RowIndex, is.Field}
		if corrected[k] && ev.Backs(items[is.RowIndex], is.Field) {
			continue
		}
		res.Unresolved = append(res.Unresolved, is)
	}
	reannotate(items, res.Unresolved)

	res.Confidence = verify.Confidence(items, res.Unresolved, r.opts.Penalties)
	if parsed.Confidence != nil {
		res.Confidence = min(res.Confidence, model.ClampUnit(*parsed.Confidence))
	}

	for _, c := range res.Changes {
		log = log.Append("reconcile: %s", c)
	}
	for _, a := range res.Anomalies {
		log = log.Append("reconcile: anomaly: %s", a)
	}
	res.ProcessingLog = log.Append("reconcile: %d changes, %d unresolved (%d errors), confidence %.0f%%",
		len(res.Changes), len(res.Unresolved), model.CountSeverity(res.Unresolved, model.SeverityError), res.Confidence*100)
	return res
}

func (r *Reconciler) ask(ctx context.Context, items []*model.LineItem, issues []model.VerificationIssue, doc *model.Document, sourceText string) (*correctionsResponse, error) {
	if r.opts.Client == nil {
		return nil, eris.New("reconcile: no model configured")
	}
	prompt, err := buildPrompt(items, issues, doc.Filename, sourceText)
	if err != nil {
		return nil, err
	}
	msg := anthropic.Message{Role: "user", Content: prompt}
	if doc.FileType() == model.FileTypePDF && len(doc.Content) > 0 {
		msg.Documents = [][]byte{doc.Content}
	}
	temp := 0.0

	resp, err := resilience.Retry(ctx, r.opts.Backoff, "reconcile: sonnet", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return r.opts.Client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       r.opts.Model,
			MaxTokens:   maxTokens,
			Messages:    []anthropic.Message{msg},
			Temperature: &temp,
		})
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(r.opts.Model, "reconcile")

	var parsed correctionsResponse
	if err := llmjson.Decode(resp.Text(), llmjson.CorrectionsSchema, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

type flaggedRow struct {
	RowIndex int                 `json:"rowIndex"`
	Values   map[string]any      `json:"values"`
	Issues   []map[string]string `json:"issues"`
}

func buildPrompt(items []*model.LineItem, issues []model.VerificationIssue, filename, sourceText string) (string, error) {
	byRow := make(map[int][]model.VerificationIssue)
	for _, is := range issues {
		byRow[is.RowIndex] = append(byRow[is.RowIndex], is)
	}
	rows := make([]int, 0, len(byRow))
	for r := range byRow {
		rows = append(rows, r)
	}
	sort.Ints(rows)

	payload := make([]flaggedRow, 0, len(rows))
	for _, r := range rows {
		if r < 0 || r >= len(items) || items[r] == nil {
			continue
		}
		fr := flaggedRow{RowIndex: r, Values: make(map[string]any)}
		for _, f := range model.LineItemFields {
			fr.Values[f] = items[r].Field(f)
		}
		for _, is := range byRow[r] {
			fr.Issues = append(fr.Issues, map[string]string{
				"field": is.Field, "severity": string(is.Severity), "issue": is.Issue, "suggestion": is.Suggestion,
			})
		}
		payload = append(payload, fr)
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "reconcile: marshal flagged rows")
	}

	source := sourceText
	if len(source) > maxSourceChars {
		source = source[:maxSourceChars]
		source = strings.ToValidUTF8(source, "")
	}

	return fmt.Sprintf(`You are a data reconciliation expert. Verification flagged the fields below in data extracted from %s.

FLAGGED ROWS (%d of %d rows):
%s

SOURCE TEXT:
%s

TASK: fix only the flagged fields. Do not re-extract, add or remove rows.
Check dates (valid YYYY-MM-DD, period end dates), weight magnitude (10x errors, tonnes vs kg),
material names and addresses against the source. If the source does not support a better value,
leave the field out.

Return JSON only:
{"corrections":[{"rowIndex":0,"field":"weightKg","value":500,"confidence":0.9,"reason":"source shows 500 kg"}],"confidence":0.0}`,
		filename, len(payload), len(items), data, source), nil
}

// apply sets one field from a raw JSON value.
func apply(li *model.LineItem, field string, raw json.RawMessage, conf float64) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return eris.Wrapf(err, "reconcile: decode %s value", field)
	}
	switch field {
	case model.FieldDate:
		iso, ok := normalize.ParseDateToISO(v)
		if !ok {
			return eris.Errorf("reconcile: %s value %v is not a date", field, v)
		}
		li.Date = model.NewConfidence(iso, conf)
	case model.FieldWeightKg:
		kg, ok := normalize.ParseWeightKg(v)
		if !ok {
			return eris.Errorf("reconcile: %s value %v is not a weight", field, v)
		}
		li.WeightKg = model.NewConfidence(kg, conf)
	case model.FieldCO2Saved:
		f, ok := normalize.ParseLocaleNumber(v)
		if !ok {
			return eris.Errorf("reconcile: %s value %v is not a number", field, v)
		}
		li.CO2Saved = model.NewConfidence(f, conf)
	case model.FieldIsHazardous:
		b, ok := v.(bool)
		if !ok {
			return eris.Errorf("reconcile: %s value %v is not a boolean", field, v)
		}
		li.IsHazardous = model.NewConfidence(b, conf)
	default:
		s, ok := v.(string)
		if !ok {
			return eris.Errorf("reconcile: %s value %v is not text", field, v)
		}
		c := model.NewConfidence(strings.TrimSpace(s), conf)
		switch field {
		case model.FieldMaterial:
			li.Material = c
		case model.FieldHandling:
			li.Handling = c
		case model.FieldPercentage:
			li.Percentage = c
		case model.FieldAddress:
			li.Address = c
		case model.FieldReceiver:
			li.Receiver = c
		}
	}
	return nil
}

func reannotate(items []*model.LineItem, unresolved []model.VerificationIssue) {
	for _, li := range items {
		if li != nil {
			li.Issues = nil
		}
	}
	for _, is := range unresolved {
		if is.RowIndex >= 0 && is.RowIndex < len(items) && items[is.RowIndex] != nil {
			items[is.RowIndex].Issues = append(items[is.RowIndex].Issues, is)
		}
	}
}
