package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings required by the given command mode
// ("process", "batch" or "serve").
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "process", "batch":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required")
	}
	if c.Mistral.Key == "" && c.OpenRouter.Key == "" && c.Gemini.Key == "" {
		errs = append(errs, "one of mistral.key, openrouter.key or gemini.key is required")
	}
	if c.OCR.Provider == "mistral" && c.Mistral.Key == "" {
		errs = append(errs, "mistral.key is required for ocr.provider mistral")
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}

	p := c.Pipeline
	if p.AutoApproveThreshold < 60 || p.AutoApproveThreshold > 99 {
		errs = append(errs, "pipeline.auto_approve_threshold must be between 60 and 99")
	}
	if p.ReconciliationTrigger < 0 || p.ReconciliationTrigger > 1 {
		errs = append(errs, "pipeline.reconciliation_trigger must be between 0 and 1")
	}
	if p.VerificationPassConfidence < 0 || p.VerificationPassConfidence > 1 {
		errs = append(errs, "pipeline.verification_pass_confidence must be between 0 and 1")
	}
	if p.VerificationChunkSize <= 0 || p.ExtractionChunkSize <= 0 {
		errs = append(errs, "pipeline chunk sizes must be > 0")
	}
	w := p.Weights
	if w.Extraction < 0 || w.Verification < 0 || w.Reconciliation < 0 || w.ErrorPenalty < 0 {
		errs = append(errs, "pipeline.weights values must be >= 0")
	}

	if c.Batch.MaxConcurrentDocuments < 1 || c.Batch.MaxConcurrentDocuments > 20 {
		errs = append(errs, "batch.max_concurrent_documents must be between 1 and 20")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
