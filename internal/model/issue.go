package model

import "fmt"

// Severity grades a verification issue.
type Severity string

const (
	// SeverityWarning marks a plausible value that could not be confirmed.
	SeverityWarning Severity = "warning"
	// SeverityError marks a value contradicted by, or absent from, the source.
	SeverityError Severity = "error"
)

// VerificationIssue is a finding about one field of one row. Issues are data
// carried to the final result, never returned as errors.
type VerificationIssue struct {
	RowIndex   int      `json:"rowIndex"`
	Field      string   `json:"field"`
	Issue      string   `json:"issue"`
	Severity   Severity `json:"severity"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// String renders the issue for validation lists.
func (v VerificationIssue) String() string {
	s := fmt.Sprintf("Row %d (%s, %s): %s", v.RowIndex, v.Field, v.Severity, v.Issue)
	if v.Suggestion != "" {
		s += " (suggestion: " + v.Suggestion + ")"
	}
	return s
}

// CountSeverity counts issues with the given severity.
func CountSeverity(issues []VerificationIssue, sev Severity) int {
	n := 0
	for _, is := range issues {
		if is.Severity == sev {
			n++
		}
	}
	return n
}
