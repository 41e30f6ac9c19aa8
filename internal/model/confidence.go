package model

import "math"

// Confidence wraps an extracted value with the model's certainty in it.
// A field that was not found still carries a Confidence with score 0.
type Confidence[T any] struct {
	Value      T       `json:"value"`
	Confidence float64 `json:"confidence"`
}

// NewConfidence returns a Confidence with the score clamped to [0,1].
// NaN scores are treated as 0.
func NewConfidence[T any](value T, confidence float64) Confidence[T] {
	return Confidence[T]{Value: value, Confidence: ClampUnit(confidence)}
}

// Absent returns the zero value with confidence 0.
func Absent[T any]() Confidence[T] {
	var zero T
	return Confidence[T]{Value: zero}
}

// IsAbsent reports whether the field carries no certainty at all.
func (c Confidence[T]) IsAbsent() bool {
	return c.Confidence <= 0
}

// ClampUnit clamps v to [0,1].
func ClampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
