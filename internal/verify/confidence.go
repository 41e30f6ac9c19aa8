package verify

import "github.com/sells-group/waste-pipeline/internal/model"

// Penalties are the base cost of one issue by severity.
type Penalties struct {
	Error   float64
	Warning float64
}

// DefaultPenalties returns the penalties used unless configured otherwise.
func DefaultPenalties() Penalties {
	return Penalties{Error: 1.0, Warning: 0.3}
}

// Confidence scores a verified document in [0,1].
//
// Each issue costs base(severity) * (0.5 + 0.5*c), where c is the extractor's
// confidence in the flagged field, so a confident wrong value costs up to
// twice an honestly uncertain one. A row's cost is capped at 1 and the
// score is 1 minus the mean row cost over the rows checked. Rejected rows are
// not counted.
func Confidence(items []*model.LineItem, issues []model.VerificationIssue, p Penalties) float64 {
	rows := 0
	for _, li := range items {
		if li != nil && !li.Rejected {
			rows++
		}
	}
	if rows == 0 {
		return 0
	}

	cost := make(map[int]float64)
	for _, is := range issues {
		if is.RowIndex < 0 || is.RowIndex >= len(items) || items[is.RowIndex] == nil || items[is.RowIndex].Rejected {
			continue
		}
		base := p.Warning
		if is.Severity == model.SeverityError {
			base = p.Error
		}
		native := items[is.RowIndex].FieldConfidence(is.Field)
		cost[is.RowIndex] += base * (0.5 + 0.5*native)
	}

	var total float64
	for _, c := range cost {
		total += min(1, c)
	}
	return model.ClampUnit(1 - total/float64(rows))
}
