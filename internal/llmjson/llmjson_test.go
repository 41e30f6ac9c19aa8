package llmjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"fenced", "Here you go:\n```json\n{\"a\": 1}\n```\nThanks", `{"a": 1}`},
		{"prose around", `Sure! {"a": {"b": "}"}} done`, `{"a": {"b": "}"}}`},
		{"trailing commas", `{"items": [1, 2, ], "x": 3,}`, `{"items": [1, 2 ], "x": 3}`},
		{"comma inside string kept", `{"s": "a, ]"}`, `{"s": "a, ]"}`},
		{"array", `[{"a":1},]`, `[{"a":1}]`},
		{"escaped quote", `{"s": "he said \"hi\"}"}`, `{"s": "he said \"hi\"}"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractObject(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractObject_Errors(t *testing.T) {
	t.Parallel()

	_, err := ExtractObject("I could not read the document.")
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = ExtractObject(`{"a": [1, 2`)
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestDecode_ValidatesSchema(t *testing.T) {
	t.Parallel()

	var out struct {
		Issues []struct {
			RowIndex int    `json:"rowIndex"`
			Field    string `json:"field"`
			Severity string `json:"severity"`
		} `json:"issues"`
		Confidence float64 `json:"confidence"`
	}

	text := "```json\n{\"issues\":[{\"rowIndex\":2,\"field\":\"receiver\",\"issue\":\"not in source\",\"severity\":\"error\"}],\"confidence\":0.4}\n```"
	require.NoError(t, Decode(text, IssuesSchema, &out))
	require.Len(t, out.Issues, 1)
	assert.Equal(t, 2, out.Issues[0].RowIndex)
	assert.Equal(t, "error", out.Issues[0].Severity)

	bad := `{"issues":[{"rowIndex":2,"field":"receiver","issue":"x","severity":"fatal"}]}`
	err := Decode(bad, IssuesSchema, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issues schema")

	missing := `{"confidence": 0.9}`
	assert.Error(t, Decode(missing, IssuesSchema, &out))
}

func TestDecode_NilSchema(t *testing.T) {
	t.Parallel()

	var out map[string]any
	require.NoError(t, Decode(`{"k": "v"}`, nil, &out))
	assert.Equal(t, "v", out["k"])
}

func TestSchemasCompile(t *testing.T) {
	t.Parallel()

	for _, s := range []*Schema{ItemsSchema, IssuesSchema, CorrectionsSchema, AssessmentSchema, StructureSchema} {
		_, err := s.compile()
		assert.NoError(t, err, s.name)
	}
}

func TestCorrectionsSchema(t *testing.T) {
	t.Parallel()

	ok := []byte(`{"corrections":[{"rowIndex":0,"field":"material","value":"Gips","confidence":0.9,"reason":"header misread"}]}`)
	assert.NoError(t, CorrectionsSchema.Validate(ok))

	outOfRange := []byte(`{"corrections":[{"rowIndex":0,"field":"material","value":"Gips","confidence":1.5}]}`)
	assert.Error(t, CorrectionsSchema.Validate(outOfRange))
}
