// Package verify checks extracted line items against the source text the
// extractor read, and scores the result.
package verify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/waste-pipeline/internal/extract"
	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/normalize"
	"github.com/sells-group/waste-pipeline/internal/resilience"
	"github.com/sells-group/waste-pipeline/pkg/anthropic"
)

// Defaults for the model pass.
const (
	DefaultChunkSize      = 25
	DefaultMaxSourceChars = 10000
	DefaultPassConfidence = 0.7
)

// Options configures a Verifier.
type Options struct {
	// Client runs the optional model pass. Nil disables it.
	Client         anthropic.Client
	Model          string
	ChunkSize      int
	MaxSourceChars int
	// PassConfidence is the minimum confidence for a passing result.
	PassConfidence   float64
	Penalties        Penalties
	MaterialSynonyms map[string][]string
	DefaultReceiver  string
	Backoff          resilience.Backoff
	Clock            model.Clock
}

// Verifier checks items against their source.
type Verifier struct {
	opts Options
}

// New creates a Verifier, filling unset options with defaults.
func New(opts Options) *Verifier {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxSourceChars <= 0 {
		opts.MaxSourceChars = DefaultMaxSourceChars
	}
	if opts.PassConfidence <= 0 {
		opts.PassConfidence = DefaultPassConfidence
	}
	if opts.Penalties == (Penalties{}) {
		opts.Penalties = DefaultPenalties()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Verifier{opts: opts}
}

// Verify annotates items with the issues found for them and reports the
// document-level result. Field values are never changed. A failed model pass
// is logged and leaves the deterministic findings in place.
func (v *Verifier) Verify(ctx context.Context, items []*model.LineItem, sourceText, filename string) *model.VerificationResult {
	log := model.NewProcessingLog(v.opts.Clock).Append("verify: checking %d rows against %d chars of source", len(items), len(sourceText))

	ev := NewEvidence(sourceText)
	issues, strong := v.deterministic(items, ev, filename)
	log = log.Append("verify: evidence checks found %d errors, %d warnings",
		model.CountSeverity(issues, model.SeverityError), model.CountSeverity(issues, model.SeverityWarning))

	modelName := ""
	if v.opts.Client != nil && len(items) > 0 {
		var extra []model.VerificationIssue
		extra, log = v.modelPass(ctx, items, sourceText, log)
		issues = merge(issues, extra, strong)
		modelName = v.opts.Model
	}

	annotate(items, issues)
	conf := Confidence(items, issues, v.opts.Penalties)
	errs := model.CountSeverity(issues, model.SeverityError)
	passed := errs == 0 && conf >= v.opts.PassConfidence
	log = log.Append("verify: %d issues (%d errors), confidence %.0f%%, passed=%t", len(issues), errs, conf*100, passed)

	return &model.VerificationResult{
		Passed:        passed,
		Items:         items,
		Issues:        issues,
		Confidence:    conf,
		ProcessingLog: log,
		Model:         modelName,
	}
}

type fieldKey struct {
	row   int
	field string
}

// deterministic runs the evidence checks. It also returns the fields that
// had strong evidence, which the model pass may not contradict.
func (v *Verifier) deterministic(items []*model.LineItem, ev *Evidence, filename string) ([]model.VerificationIssue, map[fieldKey]bool) {
	c := checker{
		ev:       ev,
		synonyms: v.opts.MaterialSynonyms,
		strong:   make(map[fieldKey]bool),
		fallbackReceivers: map[string]bool{
			strings.ToLower(extract.UnknownReceiver): true,
		},
	}
	if d, ok := normalize.DateFromFilename(filename); ok {
		c.filenameDate = d
	}
	if r, ok := extract.ReceiverFromFilename(filename); ok {
		c.fallbackReceivers[strings.ToLower(r)] = true
	}
	if v.opts.DefaultReceiver != "" {
		c.fallbackReceivers[strings.ToLower(v.opts.DefaultReceiver)] = true
	}

	for i, li := range items {
		if li == nil || li.Rejected {
			continue
		}
		c.row(i, li)
	}
	return c.issues, c.strong
}

type checker struct {
	ev                *Evidence
	synonyms          map[string][]string
	filenameDate      string
	fallbackReceivers map[string]bool

	issues []model.VerificationIssue
	strong map[fieldKey]bool
}

func (c *checker) add(row int, field string, sev model.Severity, msg, suggestion string) {
	c.issues = append(c.issues, model.VerificationIssue{
		RowIndex:   row,
		Field:      field,
		Issue:      msg,
		Severity:   sev,
		Suggestion: suggestion,
	})
}

func (c *checker) ok(row int, field string) {
	c.strong[fieldKey{row, field}] = true
}

func (c *checker) row(i int, li *model.LineItem) {
	c.date(i, li)
	c.material(i, li)
	c.weight(i, li)
	c.text(i, model.FieldAddress, li.Address)
	c.receiver(i, li)
}

func (c *checker) date(i int, li *model.LineItem) {
	switch {
	case li.Date.IsAbsent() || li.Date.Value == "":
		c.add(i, model.FieldDate, model.SeverityError, "date missing", "")
	case c.ev.HasDate(li.Date.Value):
		c.ok(i, model.FieldDate)
	case li.Date.Value == c.filenameDate:
		c.add(i, model.FieldDate, model.SeverityWarning, "date taken from filename, not found in rows", "")
	default:
		c.add(i, model.FieldDate, model.SeverityError, fmt.Sprintf("date %s not found in source", li.Date.Value), "")
	}
}

func (c *checker) material(i int, li *model.LineItem) {
	m := li.Material.Value
	if li.Material.IsAbsent() || m == "" {
		c.add(i, model.FieldMaterial, model.SeverityWarning, "material missing", "")
		return
	}
	best := c.ev.Text(m)
	for _, alt := range c.synonymsOf(m) {
		if best == Strong {
			break
		}
		if c.ev.HasText(alt) {
			best = Strong
		}
	}
	c.grade(i, model.FieldMaterial, m, best)
}

// synonymsOf returns the category and every synonym in it when m is either.
func (c *checker) synonymsOf(m string) []string {
	fm := fold(m)
	for cat, syns := range c.synonyms {
		match := fold(cat) == fm
		for _, s := range syns {
			if fold(s) == fm {
				match = true
			}
		}
		if match {
			return append([]string{cat}, syns...)
		}
	}
	return nil
}

func (c *checker) weight(i int, li *model.LineItem) {
	if li.WeightKg.IsAbsent() {
		c.add(i, model.FieldWeightKg, model.SeverityWarning, "weight missing", "")
		return
	}
	found, alt := c.ev.Number(li.WeightKg.Value)
	switch {
	case found:
		c.ok(i, model.FieldWeightKg)
	case alt != 0:
		c.add(i, model.FieldWeightKg, model.SeverityError,
			fmt.Sprintf("weight %s kg off by a factor of ten from source", formatNumber(li.WeightKg.Value)),
			formatNumber(alt))
	default:
		c.add(i, model.FieldWeightKg, model.SeverityError,
			fmt.Sprintf("weight %s kg not found in source", formatNumber(li.WeightKg.Value)), "")
	}
}

func (c *checker) text(i int, field string, v model.Confidence[string]) {
	if v.IsAbsent() || v.Value == "" {
		return
	}
	c.grade(i, field, v.Value, c.ev.Text(v.Value))
}

func (c *checker) grade(i int, field, value string, s Support) {
	switch s {
	case Strong:
		c.ok(i, field)
	case Weak:
		c.add(i, field, model.SeverityWarning, fmt.Sprintf("%s '%s' only partly found in source", field, value), "")
	default:
		c.add(i, field, model.SeverityError, fmt.Sprintf("%s '%s' not found in source", field, value), "")
	}
}

func (c *checker) receiver(i int, li *model.LineItem) {
	r := li.Receiver.Value
	if li.Receiver.IsAbsent() || r == "" {
		return
	}
	s := c.ev.Text(r)
	if s != Strong && c.fallbackReceivers[strings.ToLower(r)] {
		c.add(i, model.FieldReceiver, model.SeverityWarning,
			fmt.Sprintf("receiver '%s' is a default, not found in source", r), "")
		return
	}
	c.grade(i, model.FieldReceiver, r, s)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// merge adds model-reported issues not already present for the same row and
// field. A model error on a field with strong evidence is kept as a warning.
func merge(base, extra []model.VerificationIssue, strong map[fieldKey]bool) []model.VerificationIssue {
	seen := make(map[fieldKey]bool, len(base))
	for _, is := range base {
		seen[fieldKey{is.RowIndex, is.Field}] = true
	}
	for _, is := range extra {
		k := fieldKey{is.RowIndex, is.Field}
		if seen[k] {
			continue
		}
		if strong[k] && is.Severity == model.SeverityError {
			is.Severity = model.SeverityWarning
		}
		seen[k] = true
		base = append(base, is)
	}
	return base
}

// annotate replaces each row's issues with the ones found for it.
func annotate(items []*model.LineItem, issues []model.VerificationIssue) {
	for _, li := range items {
		if li != nil {
			li.Issues = nil
		}
	}
	for _, is := range issues {
		if is.RowIndex >= 0 && is.RowIndex < len(items) && items[is.RowIndex] != nil {
			items[is.RowIndex].Issues = append(items[is.RowIndex].Issues, is)
		}
	}
}
