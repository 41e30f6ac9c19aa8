// Package extract turns documents into line items through interchangeable
// model backends.
package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/normalize"
)

// Backend names used for routing and the model path.
const (
	NameMistral  = "mistral-ocr"
	NameAgentic  = "gemini-agentic"
	NameAdaptive = "adaptive"
)

// UnknownReceiver is used when neither settings nor the filename name one.
const UnknownReceiver = "Okänd mottagare"

// Backend extracts line items from one document.
type Backend interface {
	Name() string
	Supports(ft model.FileType) bool
	Extract(ctx context.Context, doc *model.Document, qa model.QualityAssessment, s Settings) (*model.ExtractionResult, error)
}

// Settings are per-tenant extraction options.
type Settings struct {
	MaterialSynonyms   map[string][]string
	DefaultReceiver    string
	CustomInstructions string
	ChunkSize          int
}

// UnavailableError is returned when a backend could not produce a result.
// Callers may retry with another backend.
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("extract: %s unavailable: %v", e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func unavailable(backend string, err error) error {
	return &UnavailableError{Backend: backend, Err: err}
}

// SynonymsPrompt renders material synonyms one category per line, sorted.
func SynonymsPrompt(synonyms map[string][]string) string {
	keys := make([]string, 0, len(synonyms))
	for k := range synonyms {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, strings.Join(synonyms[k], ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

var receiverHints = []struct {
	needles  []string
	receiver string
}{
	{[]string{"ragn-sells", "ragnsells", "ragn sells"}, "Ragn-Sells"},
	{[]string{"renova"}, "Renova"},
	{[]string{"nsr"}, "NSR"},
	{[]string{"collecct"}, "Collecct"},
}

// ReceiverFromFilename infers the receiving company from well-known names in
// the filename.
func ReceiverFromFilename(filename string) (string, bool) {
	fn := strings.ToLower(filename)
	for _, h := range receiverHints {
		for _, n := range h.needles {
			if strings.Contains(fn, n) {
				return h.receiver, true
			}
		}
	}
	return "", false
}

// fallbacks are values used when a row omits a field. They are not evidence;
// rows that use them get reduced confidence.
type fallbacks struct {
	Date     string
	Address  string
	Receiver string
}

func fallbacksFor(filename string, s Settings) fallbacks {
	fb := fallbacks{Receiver: UnknownReceiver}
	if d, ok := normalize.DateFromFilename(filename); ok {
		fb.Date = d
	}
	if r, ok := ReceiverFromFilename(filename); ok {
		fb.Receiver = r
	} else if s.DefaultReceiver != "" {
		fb.Receiver = s.DefaultReceiver
	}
	return fb
}

func (f fallbacks) dateOrNone() string {
	if f.Date == "" {
		return "none (leave empty)"
	}
	return f.Date
}

func customInstructions(s Settings) string {
	if strings.TrimSpace(s.CustomInstructions) == "" {
		return ""
	}
	return "\nCUSTOM INSTRUCTIONS (HIGHEST PRIORITY):\n" + strings.TrimSpace(s.CustomInstructions) + "\n"
}
