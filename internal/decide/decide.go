// Package decide turns stage confidences into one document score and a
// routing status.
package decide

import (
	"fmt"
	"math"

	"github.com/sells-group/waste-pipeline/internal/config"
	"github.com/sells-group/waste-pipeline/internal/model"
)

// Stages holds the confidence each stage reported. Nil means the stage did
// not run.
type Stages struct {
	Extraction       float64
	Verification     *float64
	Reconciliation   *float64
	UnresolvedErrors int
}

// Weighting combines stage confidences into a document confidence.
type Weighting interface {
	Aggregate(s Stages) float64
}

// Weights is the default Weighting.
//
//	c = Extraction
//	if verified:   c = (We*c + Wv*Verification) / (We + Wv)
//	if reconciled: c = Wr*Reconciliation + (1-Wr)*c        (Wr clamped to [0,1])
//	c = c * (1 - ErrorPenalty)^UnresolvedErrors
//
// With the defaults (0.2, 0.8, 1.0, 0.25) verification mostly replaces the
// extractor's self-report and reconciliation replaces both.
type Weights struct {
	Extraction     float64
	Verification   float64
	Reconciliation float64
	ErrorPenalty   float64
}

// DefaultWeights returns the weights used when none are configured.
func DefaultWeights() Weights {
	return Weights{Extraction: 0.2, Verification: 0.8, Reconciliation: 1.0, ErrorPenalty: 0.25}
}

// WeightsFromConfig converts configured weights, falling back to the defaults
// when all of them are zero.
func WeightsFromConfig(w config.Weights) Weights {
	out := Weights(w)
	if out == (Weights{}) {
		return DefaultWeights()
	}
	return out
}

// Aggregate implements Weighting.
func (w Weights) Aggregate(s Stages) float64 {
	c := model.ClampUnit(s.Extraction)
	if s.Verification != nil {
		if sum := w.Extraction + w.Verification; sum > 0 {
			c = (w.Extraction*c + w.Verification*model.ClampUnit(*s.Verification)) / sum
		}
	}
	if s.Reconciliation != nil {
		wr := model.ClampUnit(w.Reconciliation)
		c = wr*model.ClampUnit(*s.Reconciliation) + (1-wr)*c
	}
	if s.UnresolvedErrors > 0 {
		c *= math.Pow(1-model.ClampUnit(w.ErrorPenalty), float64(s.UnresolvedErrors))
	}
	return model.ClampUnit(c)
}

// Policy decides whether a document may skip human review.
type Policy struct {
	// Threshold is the auto-approve threshold in percent, 60 to 99.
	Threshold int
	// EnterpriseAutoApprove lets trusted tenants skip review for low
	// confidence and warnings. Unresolved errors still go to review.
	EnterpriseAutoApprove bool
}

// PolicyFromConfig builds a Policy from pipeline settings.
func PolicyFromConfig(p config.PipelineConfig) Policy {
	return Policy{Threshold: p.AutoApproveThreshold, EnterpriseAutoApprove: p.EnterpriseAutoApprove}
}

func (p Policy) threshold() int {
	switch {
	case p.Threshold == 0:
		return 80
	case p.Threshold < 60:
		return 60
	case p.Threshold > 99:
		return 99
	}
	return p.Threshold
}

// Decide returns approved or needs_review with a reason. The error status is
// never produced here; it belongs to documents that did not get this far.
func (p Policy) Decide(confidence float64, unresolvedErrors, unresolvedWarnings int) (model.Status, string) {
	// Truncated, so 0.795 stays below a threshold of 80. The epsilon absorbs
	// float error such as 0.57*100 = 56.99999999999999.
	pct := int(math.Floor(model.ClampUnit(confidence)*100 + 1e-9))
	th := p.threshold()

	if unresolvedErrors > 0 {
		return model.StatusNeedsReview, fmt.Sprintf("%d unresolved error(s), confidence %d%%", unresolvedErrors, pct)
	}
	if p.EnterpriseAutoApprove && (pct < th || unresolvedWarnings > 0) {
		return model.StatusApproved, fmt.Sprintf("enterprise auto-approve, confidence %d%%, %d warning(s)", pct, unresolvedWarnings)
	}
	if pct < th {
		return model.StatusNeedsReview, fmt.Sprintf("confidence %d%% below threshold %d%%", pct, th)
	}
	if unresolvedWarnings > 0 {
		return model.StatusNeedsReview, fmt.Sprintf("%d unresolved warning(s)", unresolvedWarnings)
	}
	return model.StatusApproved, fmt.Sprintf("confidence %d%% meets threshold %d%%", pct, th)
}
