package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/waste-pipeline/internal/config"
	"github.com/sells-group/waste-pipeline/internal/decide"
	"github.com/sells-group/waste-pipeline/internal/extract"
	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/ocr"
	"github.com/sells-group/waste-pipeline/internal/pipeline"
	"github.com/sells-group/waste-pipeline/internal/reconcile"
	"github.com/sells-group/waste-pipeline/internal/resilience"
	"github.com/sells-group/waste-pipeline/internal/router"
	"github.com/sells-group/waste-pipeline/internal/store"
	"github.com/sells-group/waste-pipeline/internal/verify"
	anthropicpkg "github.com/sells-group/waste-pipeline/pkg/anthropic"
	"github.com/sells-group/waste-pipeline/pkg/chat"
)

// processor is the part of pipeline.Processor the commands use.
type processor interface {
	Process(ctx context.Context, doc *model.Document, opts ...pipeline.ProcessOption) model.ProcessingResult
}

// appEnv holds the store and the processor shared by the commands.
type appEnv struct {
	Store     store.Store
	Processor processor
	closers   []func() error
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	for _, c := range e.closers {
		_ = c()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv validates config for mode, opens the store, builds every model
// client and assembles the processor. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	p, err := buildProcessor(ctx, cfg, env)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Processor = p
	return env, nil
}

func buildProcessor(ctx context.Context, c *config.Config, env *appEnv) (*pipeline.Processor, error) {
	for name, p := range c.Pricing.Anthropic {
		anthropicpkg.DefaultPricing[name] = anthropicpkg.Pricing{Input: p.Input, Output: p.Output}
	}

	var limiter *rate.Limiter
	if c.Batch.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.Batch.RequestsPerSecond), max(1, c.Batch.MaxConcurrentDocuments))
	}
	ai := anthropicpkg.WithRateLimit(anthropicpkg.NewClient(c.Anthropic.Key), limiter)

	ocrExt, err := ocr.NewExtractor(c.OCR, c.Mistral)
	if err != nil {
		return nil, err
	}

	breakers := resilience.NewBreakers(5, time.Minute)
	backoff := resilience.DefaultBackoff()

	// Agentic extraction and PDF assessment talk to Gemini, directly when a
	// key is set, otherwise through OpenRouter.
	var vision chat.Client
	var visionModel string
	switch {
	case c.Gemini.Key != "":
		g, err := chat.NewGemini(ctx, c.Gemini.Key, c.Gemini.Model)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, g.Close)
		vision, visionModel = g, c.Gemini.Model
	case c.OpenRouter.Key != "":
		vision = chat.NewOpenRouter(c.OpenRouter.Key, c.OpenRouter.BaseURL, c.OpenRouter.Model)
		visionModel = c.OpenRouter.Model
	}
	if vision != nil {
		vision = chat.WithRateLimit(vision, limiter)
	}

	var backends []extract.Backend
	if c.Mistral.Key != "" {
		mistralChat := chat.WithRateLimit(chat.NewMistral(c.Mistral.Key, c.Mistral.BaseURL, c.Mistral.ChatModel), limiter)
		backends = append(backends, extract.NewMistral(ocrExt, mistralChat, c.Mistral.ChatModel,
			extract.WithBreaker(breakers.Get(extract.NameMistral)), extract.WithBackoff(backoff)))
	}
	if vision != nil {
		backends = append(backends, extract.NewAgentic(vision, visionModel, ocrExt,
			extract.WithBreaker(breakers.Get(extract.NameAgentic)), extract.WithBackoff(backoff)))
	}
	backends = append(backends, extract.NewAdaptive(ai, c.Anthropic.HaikuModel, c.Anthropic.SonnetModel,
		extract.WithBreaker(breakers.Get(extract.NameAdaptive)), extract.WithBackoff(backoff)))

	synonyms, err := config.LoadMaterialSynonyms(c.Pipeline.SynonymsFile)
	if err != nil {
		return nil, err
	}

	pc := c.Pipeline
	vopts := verify.Options{
		Model:            c.Anthropic.HaikuModel,
		ChunkSize:        pc.VerificationChunkSize,
		PassConfidence:   pc.VerificationPassConfidence,
		MaterialSynonyms: synonyms,
		DefaultReceiver:  pc.DefaultReceiver,
		Backoff:          backoff,
		Penalties:        verify.DefaultPenalties(),
	}
	if pc.VerificationModelPass {
		vopts.Client = ai
	}

	names := make([]string, 0, len(backends))
	for _, b := range backends {
		names = append(names, b.Name())
	}
	zap.L().Info("pipeline configured",
		zap.Strings("backends", names),
		zap.Bool("verification_model_pass", pc.VerificationModelPass),
		zap.Int("auto_approve_threshold", pc.AutoApproveThreshold),
	)

	return pipeline.New(pipeline.Options{
		Assessor: router.NewAssessor(vision, visionModel),
		Router:   router.New(backends...),
		Verifier: verify.New(vopts),
		Reconciler: reconcile.New(reconcile.Options{
			Client:    ai,
			Model:     c.Anthropic.SonnetModel,
			Penalties: verify.DefaultPenalties(),
			Backoff:   backoff,
		}),
		Weighting: decide.WeightsFromConfig(pc.Weights),
		Policy:    decide.PolicyFromConfig(pc),
		Settings: extract.Settings{
			MaterialSynonyms:   synonyms,
			DefaultReceiver:    pc.DefaultReceiver,
			CustomInstructions: pc.CustomInstructions,
			ChunkSize:          pc.ExtractionChunkSize,
		},
		ReconcileBelow: pc.ReconciliationTrigger,
	}), nil
}
