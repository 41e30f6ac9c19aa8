package model

import (
	"strconv"
)

// Canonical line item field names. These are also the names models use in
// verification issues and reconciliation corrections.
const (
	FieldDate        = "date"
	FieldMaterial    = "material"
	FieldHandling    = "handling"
	FieldWeightKg    = "weightKg"
	FieldPercentage  = "percentage"
	FieldCO2Saved    = "co2Saved"
	FieldIsHazardous = "isHazardous"
	FieldAddress     = "address"
	FieldReceiver    = "receiver"
)

// LineItemFields lists every line item field in display order.
var LineItemFields = []string{
	FieldDate,
	FieldMaterial,
	FieldHandling,
	FieldWeightKg,
	FieldPercentage,
	FieldCO2Saved,
	FieldIsHazardous,
	FieldAddress,
	FieldReceiver,
}

// IsLineItemField reports whether name is a canonical line item field.
func IsLineItemField(name string) bool {
	for _, f := range LineItemFields {
		if f == name {
			return true
		}
	}
	return false
}

// LineItem is one waste transaction row. Rows are never removed once
// extracted; a rejected row is marked so row indexes stay stable.
type LineItem struct {
	Date        Confidence[string]  `json:"date"`
	Material    Confidence[string]  `json:"material"`
	Handling    Confidence[string]  `json:"handling"`
	WeightKg    Confidence[float64] `json:"weightKg"`
	Percentage  Confidence[string]  `json:"percentage"`
	CO2Saved    Confidence[float64] `json:"co2Saved"`
	IsHazardous Confidence[bool]    `json:"isHazardous"`
	Address     Confidence[string]  `json:"address"`
	Receiver    Confidence[string]  `json:"receiver"`

	Issues   []VerificationIssue `json:"_verificationIssues,omitempty"`
	Rejected bool                `json:"_rejected,omitempty"`
}

// FieldConfidence returns the confidence score of the named field, or 0 for
// unknown names.
func (li *LineItem) FieldConfidence(name string) float64 {
	switch name {
	case FieldDate:
		return li.Date.Confidence
	case FieldMaterial:
		return li.Material.Confidence
	case FieldHandling:
		return li.Handling.Confidence
	case FieldWeightKg:
		return li.WeightKg.Confidence
	case FieldPercentage:
		return li.Percentage.Confidence
	case FieldCO2Saved:
		return li.CO2Saved.Confidence
	case FieldIsHazardous:
		return li.IsHazardous.Confidence
	case FieldAddress:
		return li.Address.Confidence
	case FieldReceiver:
		return li.Receiver.Confidence
	}
	return 0
}

// FieldString renders the named field's value as text, for prompts and
// audit messages.
func (li *LineItem) FieldString(name string) string {
	switch name {
	case FieldDate:
		return li.Date.Value
	case FieldMaterial:
		return li.Material.Value
	case FieldHandling:
		return li.Handling.Value
	case FieldWeightKg:
		return strconv.FormatFloat(li.WeightKg.Value, 'f', -1, 64)
	case FieldPercentage:
		return li.Percentage.Value
	case FieldCO2Saved:
		return strconv.FormatFloat(li.CO2Saved.Value, 'f', -1, 64)
	case FieldIsHazardous:
		return strconv.FormatBool(li.IsHazardous.Value)
	case FieldAddress:
		return li.Address.Value
	case FieldReceiver:
		return li.Receiver.Value
	}
	return ""
}

// MeanConfidence averages the confidence of the fields that were extracted.
// Absent fields are excluded; a row with nothing extracted scores 0.
func (li *LineItem) MeanConfidence() float64 {
	var sum float64
	var n int
	for _, f := range LineItemFields {
		c := li.FieldConfidence(f)
		if c <= 0 {
			continue
		}
		sum += c
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// HasErrors reports whether any attached issue has error severity.
func (li *LineItem) HasErrors() bool {
	for _, is := range li.Issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Field returns the named field's value, or nil for unknown names.
func (li *LineItem) Field(name string) any {
	switch name {
	case FieldDate:
		return li.Date.Value
	case FieldMaterial:
		return li.Material.Value
	case FieldHandling:
		return li.Handling.Value
	case FieldWeightKg:
		return li.WeightKg.Value
	case FieldPercentage:
		return li.Percentage.Value
	case FieldCO2Saved:
		return li.CO2Saved.Value
	case FieldIsHazardous:
		return li.IsHazardous.Value
	case FieldAddress:
		return li.Address.Value
	case FieldReceiver:
		return li.Receiver.Value
	}
	return nil
}
