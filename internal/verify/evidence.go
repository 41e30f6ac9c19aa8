package verify

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/normalize"
)

// Support grades how well the source backs a value.
type Support int

const (
	// None means no trace of the value in the source.
	None Support = iota
	// Weak means part of the value was found.
	Weak
	// Strong means the value itself was found.
	Strong
)

// Evidence is a search index over the text an extractor conditioned on.
type Evidence struct {
	words   string
	numbers []quantity
	dates   map[string]bool
}

// quantity is one numeric reading of a source token.
type quantity struct {
	value float64
	// tol is half a unit of the last written digit.
	tol float64
	// tonnes is set when the token carries a tonne unit or a decimal part,
	// so reading it as tonnes is plausible.
	tonnes bool
}

const epsilon = 1e-9

func (q quantity) backs(v float64) bool {
	if math.Abs(q.value-v) <= q.tol+epsilon {
		return true
	}
	return q.tonnes && math.Abs(q.value*1000-v) <= q.tol*1000+epsilon
}

// tenfold reports whether v is the value shifted by one decimal place.
func (q quantity) tenfold(v float64) bool {
	return q.value != 0 && (math.Abs(q.value*10-v) <= q.tol*10+epsilon ||
		math.Abs(q.value/10-v) <= q.tol/10+epsilon)
}

var (
	numberRe = regexp.MustCompile(`\d{1,3}(?:[ \x{00A0}.]\d{3})+(?:,\d+)?|\d+(?:[.,]\d+)?`)
	tonneRe  = regexp.MustCompile(`^[ \x{00A0}]*(?:t|ton|tons|tonn|tonne|tonnes)\b`)
	groupRe  = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	dateRe   = regexp.MustCompile(`\d{4}[-/.]\d{1,2}[-/.]\d{1,2}|\d{1,2}[-/.]\d{1,2}[-/.]\d{4}|\b\d{8}\b`)
)

// NewEvidence indexes source.
func NewEvidence(source string) *Evidence {
	e := &Evidence{words: " " + fold(source) + " ", dates: make(map[string]bool)}

	lower := strings.ToLower(source)
	for _, tok := range dateRe.FindAllString(lower, -1) {
		if iso, ok := tokenDate(tok); ok {
			e.dates[iso] = true
		}
	}
	// Date digits are not weights.
	scrubbed := dateRe.ReplaceAllString(lower, " ")
	for _, loc := range numberRe.FindAllStringIndex(scrubbed, -1) {
		unit := tonneRe.MatchString(scrubbed[loc[1]:])
		e.numbers = append(e.numbers, tokenNumbers(scrubbed[loc[0]:loc[1]], unit)...)
	}
	return e
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var foldReplacer = strings.NewReplacer("ø", "o", "æ", "ae", "ß", "ss", "đ", "d", "ł", "l")

// fold lowercases s, strips diacritics and turns punctuation runs into
// single spaces.
func fold(s string) string {
	out, _, err := transform.String(foldTransformer, strings.ToLower(s))
	if err != nil {
		out = strings.ToLower(s)
	}
	out = foldReplacer.Replace(out)
	return strings.Join(strings.FieldsFunc(out, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

// Text grades a free-text value. The whole phrase scores Strong; at least
// half of its significant words scores Weak.
func (e *Evidence) Text(value string) Support {
	v := fold(value)
	if v == "" {
		return None
	}
	if strings.Contains(e.words, " "+v+" ") {
		return Strong
	}
	var total, found int
	for _, w := range strings.Fields(v) {
		if len([]rune(w)) < 3 {
			continue
		}
		total++
		if strings.Contains(e.words, " "+w+" ") {
			found++
		}
	}
	if total > 0 && found*2 >= total {
		return Weak
	}
	return None
}

// HasText reports whether the whole phrase occurs in the source.
func (e *Evidence) HasText(value string) bool {
	return e.Text(value) == Strong
}

// HasDate reports whether an ISO date appears in the source in any of the
// common written forms.
func (e *Evidence) HasDate(iso string) bool {
	return e.dates[iso]
}

// HasNumber reports whether v appears in the source, directly or written in
// tonnes, within the precision the source wrote it with.
func (e *Evidence) HasNumber(v float64) bool {
	ok, _ := e.Number(v)
	return ok
}

// Number looks v up. When v is not found but a value off by a factor of ten
// is, that value is returned as a likely correction.
func (e *Evidence) Number(v float64) (bool, float64) {
	for _, q := range e.numbers {
		if q.backs(v) {
			return true, 0
		}
	}
	for _, q := range e.numbers {
		if q.tenfold(v) {
			return false, q.value
		}
	}
	return false, 0
}

// tokenNumbers returns every plausible reading of a numeric token. unit is
// set when a tonne unit follows the token.
func tokenNumbers(tok string, unit bool) []quantity {
	compact := strings.NewReplacer(" ", "", "\u00a0", "").Replace(tok)
	var out []quantity
	add := func(v float64, decimals int) {
		out = append(out, quantity{
			value:  v,
			tol:    0.5 * math.Pow10(-decimals),
			tonnes: unit || decimals > 0,
		})
	}
	if f, ok := normalize.ParseWeightKg(compact); ok {
		add(f, weightDecimals(compact))
	}
	// "1.200" is ambiguous; index the decimal reading too.
	if f, err := strconv.ParseFloat(compact, 64); err == nil && (len(out) == 0 || f != out[0].value) {
		add(f, fractionDigits(compact, "."))
	}
	// "120 450" may be two cells rather than one grouped number.
	if parts := strings.Fields(strings.ReplaceAll(tok, "\u00a0", " ")); len(parts) > 1 {
		for _, p := range parts {
			if f, ok := normalize.ParseWeightKg(p); ok {
				add(f, weightDecimals(p))
			}
		}
	}
	return out
}

// weightDecimals counts the decimal digits of s as ParseWeightKg reads it:
// a comma is always decimal, a dot only when it is not thousands grouping.
func weightDecimals(s string) int {
	switch {
	case strings.Contains(s, ","):
		return fractionDigits(s, ",")
	case groupRe.MatchString(s):
		return 0
	}
	return fractionDigits(s, ".")
}

func fractionDigits(s, sep string) int {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return 0
	}
	return len(s) - i - 1
}

func tokenDate(tok string) (string, bool) {
	parts := strings.FieldsFunc(tok, func(r rune) bool { return r == '-' || r == '/' || r == '.' })
	var y, m, d string
	switch {
	case len(parts) == 1 && len(tok) == 8:
		y, m, d = tok[0:4], tok[4:6], tok[6:8]
	case len(parts) == 3 && len(parts[0]) == 4:
		y, m, d = parts[0], parts[1], parts[2]
	case len(parts) == 3 && len(parts[2]) == 4:
		y, m, d = parts[2], parts[1], parts[0]
	default:
		return "", false
	}
	iso := y + "-" + pad2(m) + "-" + pad2(d)
	if _, err := time.Parse("2006-01-02", iso); err != nil {
		return "", false
	}
	return iso, true
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// Backs reports whether the source supports the current value of one line
// item field. Fields without a textual form in the source (isHazardous,
// co2Saved) are always backed.
func (e *Evidence) Backs(li *model.LineItem, field string) bool {
	switch field {
	case model.FieldDate:
		return e.HasDate(li.Date.Value)
	case model.FieldWeightKg:
		return e.HasNumber(li.WeightKg.Value)
	case model.FieldIsHazardous, model.FieldCO2Saved:
		return true
	}
	return e.HasText(li.FieldString(field))
}
