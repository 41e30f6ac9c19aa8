// Package llmjson pulls JSON out of free-form model responses and validates
// it against a schema before decoding.
package llmjson

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrNoJSON is returned when a response contains no JSON object or array.
var ErrNoJSON = eris.New("llmjson: no JSON found in response")

// ExtractObject returns the outermost JSON object (or array) in text.
// Markdown code fences are ignored and trailing commas are removed.
func ExtractObject(text string) (string, error) {
	s := stripFences(text)

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}
	end, ok := matchClose(s, start)
	if !ok {
		return "", eris.Wrap(ErrNoJSON, "llmjson: unterminated JSON")
	}
	return removeTrailingCommas(s[start : end+1]), nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.LastIndex(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = rest
	}
	return s
}

// matchClose finds the bracket closing s[start], skipping string literals.
func matchClose(s string, start int) (int, bool) {
	depth := 0
	inStr, esc := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// removeTrailingCommas drops commas that directly precede } or ], outside of
// string literals.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inStr, esc := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inStr = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\r' || s[j] == '\t') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Schema is a lazily compiled JSON schema.
type Schema struct {
	name string
	def  map[string]any

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// NewSchema wraps a schema definition. It is compiled on first use.
func NewSchema(name string, def map[string]any) *Schema {
	return &Schema{name: name, def: def}
}

func (s *Schema) compile() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		b, err := json.Marshal(s.def)
		if err != nil {
			s.err = eris.Wrapf(err, "llmjson: marshal schema %s", s.name)
			return
		}
		url := s.name + ".json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
			s.err = eris.Wrapf(err, "llmjson: add schema %s", s.name)
			return
		}
		s.compiled, s.err = compiler.Compile(url)
		if s.err != nil {
			s.err = eris.Wrapf(s.err, "llmjson: compile schema %s", s.name)
		}
	})
	return s.compiled, s.err
}

// Validate checks raw JSON against the schema.
func (s *Schema) Validate(data []byte) error {
	compiled, err := s.compile()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return eris.Wrap(err, "llmjson: unmarshal data")
	}
	if err := compiled.Validate(v); err != nil {
		return eris.Wrapf(err, "llmjson: response does not match %s schema", s.name)
	}
	return nil
}

// Decode extracts JSON from a model response, validates it against schema
// (when non-nil) and unmarshals it into out.
func Decode(text string, schema *Schema, out any) error {
	raw, err := ExtractObject(text)
	if err != nil {
		return err
	}
	if schema != nil {
		if err := schema.Validate([]byte(raw)); err != nil {
			return err
		}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return eris.Wrap(err, "llmjson: decode response")
	}
	return nil
}
