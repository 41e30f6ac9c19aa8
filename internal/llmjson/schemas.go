package llmjson

var unitNumber = map[string]any{"type": "number", "minimum": 0, "maximum": 1}

// ItemsSchema accepts an extraction response. Field values may be plain or
// {value, confidence} objects, so items are only required to be objects.
var ItemsSchema = NewSchema("items", map[string]any{
	"type":     "object",
	"required": []any{"items"},
	"properties": map[string]any{
		"items": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "object"},
		},
		"confidence": map[string]any{"type": "number"},
		"language":   map[string]any{"type": "string"},
	},
})

// IssuesSchema accepts a verification response.
var IssuesSchema = NewSchema("issues", map[string]any{
	"type":     "object",
	"required": []any{"issues"},
	"properties": map[string]any{
		"issues": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"rowIndex", "field", "issue", "severity"},
				"properties": map[string]any{
					"rowIndex":   map[string]any{"type": "integer", "minimum": 0},
					"field":      map[string]any{"type": "string"},
					"issue":      map[string]any{"type": "string"},
					"severity":   map[string]any{"enum": []any{"warning", "error"}},
					"suggestion": map[string]any{"type": []any{"string", "null"}},
				},
			},
		},
		"confidence": unitNumber,
	},
})

// CorrectionsSchema accepts a reconciliation response.
var CorrectionsSchema = NewSchema("corrections", map[string]any{
	"type":     "object",
	"required": []any{"corrections"},
	"properties": map[string]any{
		"corrections": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"rowIndex", "field", "value"},
				"properties": map[string]any{
					"rowIndex":   map[string]any{"type": "integer"},
					"field":      map[string]any{"type": "string"},
					"confidence": unitNumber,
					"reason":     map[string]any{"type": "string"},
				},
			},
		},
		"confidence": unitNumber,
	},
})

// AssessmentSchema accepts a document quality assessment.
var AssessmentSchema = NewSchema("assessment", map[string]any{
	"type":     "object",
	"required": []any{"qualityScore"},
	"properties": map[string]any{
		"qualityScore":     unitNumber,
		"complexity":       map[string]any{"enum": []any{"LOW", "MEDIUM", "HIGH"}},
		"tableCount":       map[string]any{"type": "integer", "minimum": 0},
		"hasHandwriting":   map[string]any{"type": "boolean"},
		"hasMergedCells":   map[string]any{"type": "boolean"},
		"detectedLanguage": map[string]any{"type": "string"},
		"reasoning":        map[string]any{"type": "string"},
	},
})

// StructureSchema accepts a spreadsheet column analysis.
var StructureSchema = NewSchema("structure", map[string]any{
	"type": "object",
	"properties": map[string]any{
		"dateColumn":     map[string]any{"type": []any{"string", "null"}},
		"locationColumn": map[string]any{"type": []any{"string", "null"}},
		"materialColumn": map[string]any{"type": []any{"string", "null"}},
		"weightColumn":   map[string]any{"type": []any{"string", "null"}},
		"unitColumn":     map[string]any{"type": []any{"string", "null"}},
		"receiverColumn": map[string]any{"type": []any{"string", "null"}},
		"costColumn":     map[string]any{"type": []any{"string", "null"}},
		"confidence":     unitNumber,
	},
})
