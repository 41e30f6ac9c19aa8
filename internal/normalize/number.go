// Package normalize parses locale-formatted numbers and dates into canonical
// forms. Parsers are best effort and report failure with ok=false; only
// RequireDateISO returns errors.
package normalize

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var spaceRe = regexp.MustCompile(`\s+`)

// ParseLocaleNumber accepts numeric values as-is and parses strings written
// with a comma decimal separator ("185,00" -> 185). Non-finite results and
// anything unparsable return ok=false.
func ParseLocaleNumber(v any) (float64, bool) {
	if f, ok := numeric(v); ok {
		return f, finite(f)
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	cleaned := spaceRe.ReplaceAllString(strings.TrimSpace(s), "")
	if cleaned == "" {
		return 0, false
	}
	cleaned = strings.Replace(cleaned, ",", ".", 1)
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || !finite(f) {
		return 0, false
	}
	return f, true
}

var weightRe = regexp.MustCompile(`^([\d.]+)(kilo|kg|g|ton|t)?$`)

// ParseWeightKg parses a weight with an optional unit suffix and returns it
// in kilograms. "1.500 kg" reads as 1500, "1,5 t" as 1500 and "250 g" as 0.25.
// Negative weights are rejected.
func ParseWeightKg(v any) (float64, bool) {
	if f, ok := numeric(v); ok {
		return f, finite(f) && f >= 0
	}
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	str := spaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
	str = normalizeSeparators(str)

	m := weightRe.FindStringSubmatch(str)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil || !finite(f) {
		return 0, false
	}
	switch m[2] {
	case "t", "ton":
		f *= 1000
	case "g":
		f /= 1000
	}
	return f, true
}

// normalizeSeparators rewrites "1.234,5" and "1.234" to "1234.5" and "1234".
// A lone dot that is not followed by exactly three digits stays a decimal
// point.
func normalizeSeparators(s string) string {
	hasComma := strings.Contains(s, ",")
	if strings.Contains(s, ".") && (hasComma || thousandsGrouped(s)) {
		s = strings.ReplaceAll(s, ".", "")
	}
	return strings.Replace(s, ",", ".", 1)
}

var thousandsRe = regexp.MustCompile(`^\d{1,3}(\.\d{3})+(?:[a-z]*)$`)

func thousandsGrouped(s string) bool {
	return thousandsRe.MatchString(s)
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
