// Package pipeline runs one document through assessment, extraction, the
// date guard, verification, reconciliation and the final decision.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/waste-pipeline/internal/decide"
	"github.com/sells-group/waste-pipeline/internal/extract"
	"github.com/sells-group/waste-pipeline/internal/guard"
	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/normalize"
	"github.com/sells-group/waste-pipeline/internal/reconcile"
	"github.com/sells-group/waste-pipeline/internal/router"
	"github.com/sells-group/waste-pipeline/internal/verify"
)

// Assessor profiles a document before extraction.
type Assessor interface {
	Assess(ctx context.Context, doc *model.Document) model.QualityAssessment
}

// Options wires a Processor. Reconciler may be nil to disable
// reconciliation.
type Options struct {
	Assessor   Assessor
	Router     *router.Router
	Verifier   *verify.Verifier
	Reconciler *reconcile.Reconciler
	Weighting  decide.Weighting
	Policy     decide.Policy
	Settings   extract.Settings
	// ReconcileBelow triggers reconciliation when verification confidence
	// is lower.
	ReconcileBelow float64
	Clock          model.Clock
}

// Processor runs the pipeline. It holds no per-document state, so one
// Processor may serve concurrent documents.
type Processor struct {
	opts Options
}

// New creates a Processor.
func New(opts Options) *Processor {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Weighting == nil {
		opts.Weighting = decide.DefaultWeights()
	}
	if opts.Verifier == nil {
		opts.Verifier = verify.New(verify.Options{
			MaterialSynonyms: opts.Settings.MaterialSynonyms,
			DefaultReceiver:  opts.Settings.DefaultReceiver,
			Clock:            opts.Clock,
		})
	}
	if opts.ReconcileBelow <= 0 {
		opts.ReconcileBelow = 0.8
	}
	return &Processor{opts: opts}
}

type processConfig struct {
	backend string
}

// ProcessOption adjusts a single Process call.
type ProcessOption func(*processConfig)

// WithBackend forces the first extraction backend.
func WithBackend(name string) ProcessOption {
	return func(c *processConfig) { c.backend = name }
}

// run carries the state of one Process call.
type run struct {
	doc  *model.Document
	log  model.ProcessingLog
	path model.ModelPath
	zl   *zap.Logger
}

// stage logs the duration of one step the way every stage is reported.
func (r *run) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	ms := time.Since(start).Milliseconds()
	if err != nil {
		r.zl.Warn("pipeline: stage failed", zap.String("stage", name), zap.Int64("duration_ms", ms), zap.Error(err))
		return err
	}
	r.zl.Info("pipeline: stage complete", zap.String("stage", name), zap.Int64("duration_ms", ms))
	return nil
}

// time logs the duration of a step that cannot fail.
func (r *run) time(name string, fn func()) {
	start := time.Now()
	fn()
	r.zl.Info("pipeline: stage complete", zap.String("stage", name), zap.Int64("duration_ms", time.Since(start).Milliseconds()))
}

// Process runs the full pipeline on doc. Every call starts from scratch, so
// retrying a failed document is always safe. Failures are reported in the
// result rather than returned.
func (p *Processor) Process(ctx context.Context, doc *model.Document, opts ...ProcessOption) model.ProcessingResult {
	var pc processConfig
	for _, o := range opts {
		o(&pc)
	}
	r := &run{
		doc: doc,
		log: model.NewProcessingLog(p.opts.Clock).Append("pipeline: processing %s", doc.Filename),
		zl:  zap.L().With(zap.String("document", doc.ID), zap.String("filename", doc.Filename)),
	}
	r.zl.Info("pipeline: starting")

	var qa model.QualityAssessment
	r.time("assess", func() { qa = p.assess(ctx, doc) })
	r.log = r.log.Append("assess: %s, %s complexity, quality %.0f%%, %d tables, language %q, suggests %s",
		qa.FileType, qa.Complexity, qa.QualityScore*100, qa.TableCount, qa.DetectedLanguage, qa.SuggestedModel)
	if qa.FileType == model.FileTypeUnknown {
		return p.fail(r, eris.Errorf("pipeline: unsupported file type for %s", doc.Filename))
	}

	var ext *model.ExtractionResult
	err := r.stage("extract", func() error {
		var err error
		ext, err = p.extract(ctx, r, qa, pc.backend)
		return err
	})
	if err != nil {
		return p.fail(r, err)
	}
	items := ext.Items

	err = r.stage("guard", func() error {
		dates, err := guard.RowDates(items, doc.Filename, normalize.YearFromFilename(doc.Filename))
		if err != nil {
			return err
		}
		return guard.AssertRowLevelDates(dates, guard.Options{
			Filename:    doc.Filename,
			ExtractedAt: p.opts.Clock().UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return p.fail(r, err)
	}
	r.log = r.log.Append("guard: %d row dates passed", len(items))

	var v *model.VerificationResult
	r.time("verify", func() { v = p.opts.Verifier.Verify(ctx, items, ext.SourceText, doc.Filename) })
	r.log = r.log.Extend(v.ProcessingLog)
	r.path = r.path.Add(stageName("verify", v.Model))

	var rec *model.ReconciliationResult
	if p.opts.Reconciler != nil && reconcile.ShouldReconcile(v, p.opts.ReconcileBelow) {
		r.time("reconcile", func() { rec = p.opts.Reconciler.Reconcile(ctx, items, v, doc, ext.SourceText) })
		r.log = r.log.Extend(rec.ProcessingLog)
		if rec.Model != "" {
			r.path = r.path.Add(stageName("reconcile", rec.Model))
		}
	}

	if err := ctx.Err(); err != nil {
		return p.fail(r, eris.Wrap(err, "pipeline: cancelled"))
	}

	unresolved := v.Issues
	stages := decide.Stages{Extraction: ext.Confidence, Verification: &v.Confidence}
	var anomalies []string
	if rec != nil {
		unresolved = rec.Unresolved
		anomalies = rec.Anomalies
		if rec.Model != "" {
			stages.Reconciliation = &rec.Confidence
		}
	}
	stages.UnresolvedErrors = model.CountSeverity(unresolved, model.SeverityError)
	warnings := model.CountSeverity(unresolved, model.SeverityWarning)

	conf := p.opts.Weighting.Aggregate(stages)
	status, reason := p.opts.Policy.Decide(conf, stages.UnresolvedErrors, warnings)
	r.log = r.log.Append("decide: %s (%s)", status, reason)

	data := assemble(ext, items, unresolved, anomalies, conf, doc.Filename)
	data.ProcessingLog = r.log

	r.zl.Info("pipeline: complete",
		zap.String("status", string(status)),
		zap.Float64("confidence", conf),
		zap.Int("items", len(items)),
		zap.String("model_path", r.path.String()),
	)

	return model.ProcessingResult{
		Success:       true,
		Data:          data,
		Status:        status,
		Confidence:    conf,
		ProcessingLog: r.log,
		ModelPath:     r.path.String(),
		Reason:        reason,
	}
}

func (p *Processor) assess(ctx context.Context, doc *model.Document) model.QualityAssessment {
	if p.opts.Assessor == nil {
		ft := doc.FileType()
		return model.QualityAssessment{FileType: ft, QualityScore: 0.7, Complexity: model.ComplexityMedium, SuggestedModel: extract.NameAgentic}
	}
	return p.opts.Assessor.Assess(ctx, doc)
}

// extract tries each selected backend in order. Only UnavailableError moves
// on to the next backend.
func (p *Processor) extract(ctx context.Context, r *run, qa model.QualityAssessment, override string) (*model.ExtractionResult, error) {
	if p.opts.Router == nil {
		return nil, eris.New("pipeline: no extraction backends configured")
	}
	backends, err := p.opts.Router.Select(qa, override)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, b := range backends {
		res, err := b.Extract(ctx, r.doc, qa, p.opts.Settings)
		if err == nil {
			r.path = r.path.Add(b.Name())
			r.log = r.log.Extend(res.ProcessingLog)
			return res, nil
		}
		var ue *extract.UnavailableError
		if !errors.As(err, &ue) {
			return nil, err
		}
		lastErr = err
		r.log = r.log.Append("extract: %s unavailable, trying next backend: %v", b.Name(), ue.Err)
		r.zl.Warn("pipeline: backend unavailable", zap.String("backend", b.Name()), zap.Error(ue.Err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (p *Processor) fail(r *run, err error) model.ProcessingResult {
	kind, reason := FailureReason(err)
	r.log = r.log.Append("pipeline: %s failure: %s", kind, reason)
	r.zl.Error("pipeline: document failed", zap.String("kind", string(kind)), zap.Error(err))
	return model.ProcessingResult{
		Success:       false,
		Status:        model.StatusError,
		ProcessingLog: r.log,
		ModelPath:     r.path.String(),
		Reason:        reason,
		FailureKind:   kind,
	}
}

func stageName(stage, modelName string) string {
	if modelName == "" {
		return stage
	}
	return stage + "(" + modelName + ")"
}
