package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const isoLayout = "2006-01-02"

// excelEpochOffset is the number of days between 1899-12-30 and 1970-01-01.
const excelEpochOffset = 25569

var (
	compactPeriodRe = regexp.MustCompile(`(\d{8})\s*[-–]\s*(\d{8})`)
	isoPeriodRe     = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s*[-–]\s*(\d{4}-\d{2}-\d{2})`)
	euPeriodRe      = regexp.MustCompile(`(\d{2})[/\-](\d{2})[/\-](\d{4})\s*[-–]\s*(\d{2})[/\-](\d{2})[/\-](\d{4})`)

	isoRe     = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})(?:[ T].*)?$`)
	slashRe   = regexp.MustCompile(`^(\d{4})/(\d{2})/(\d{2})(?:\s.*)?$`)
	dmyRe     = regexp.MustCompile(`^(\d{2})[/\-](\d{2})[/\-](\d{4})(?:\s.*)?$`)
	compactRe = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
)

// ParseDateToISO normalizes a date value to YYYY-MM-DD. It accepts
// time.Time, Excel serial numbers, period ranges (resolving to the end date),
// ISO, slash-ISO, day-first and compact YYYYMMDD strings. Anything else, or a
// date that does not exist on the calendar, returns ok=false.
func ParseDateToISO(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case time.Time:
		if t.IsZero() {
			return "", false
		}
		return t.UTC().Format(isoLayout), true
	case *time.Time:
		if t == nil {
			return "", false
		}
		return ParseDateToISO(*t)
	case string:
		return parseDateString(t)
	}

	if f, ok := numeric(v); ok && finite(f) {
		ms := math.Round((f - excelEpochOffset) * 86400 * 1000)
		if math.Abs(ms) > 8.64e15 {
			return "", false
		}
		return time.UnixMilli(int64(ms)).UTC().Format(isoLayout), true
	}
	return "", false
}

func parseDateString(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if end, ok := PeriodEndDate(s); ok {
		return end, true
	}
	if m := isoRe.FindStringSubmatch(s); m != nil {
		return validISO(m[1], m[2], m[3])
	}
	if m := slashRe.FindStringSubmatch(s); m != nil {
		return validISO(m[1], m[2], m[3])
	}
	if m := dmyRe.FindStringSubmatch(s); m != nil {
		return validISO(m[3], m[2], m[1])
	}
	if m := compactRe.FindStringSubmatch(s); m != nil {
		return validISO(m[1], m[2], m[3])
	}
	return "", false
}

// PeriodEndDate extracts the end date of a period range such as
// "Period 20251201-20251231" or "01/12/2025 - 31/12/2025".
func PeriodEndDate(s string) (string, bool) {
	if m := compactPeriodRe.FindStringSubmatch(s); m != nil {
		end := m[2]
		if iso, ok := validISO(end[0:4], end[4:6], end[6:8]); ok {
			return iso, true
		}
	}
	if m := isoPeriodRe.FindStringSubmatch(s); m != nil {
		if _, err := time.Parse(isoLayout, m[2]); err == nil {
			return m[2], true
		}
	}
	if m := euPeriodRe.FindStringSubmatch(s); m != nil {
		if iso, ok := validISO(m[6], m[5], m[4]); ok {
			return iso, true
		}
	}
	return "", false
}

func validISO(year, month, day string) (string, bool) {
	iso := year + "-" + month + "-" + day
	if _, err := time.Parse(isoLayout, iso); err != nil {
		return "", false
	}
	return iso, true
}

// DateContext locates a date value for diagnostics. A zero YearHint disables
// the year check; a negative RowIndex means the row is unknown.
type DateContext struct {
	Filename string
	RowIndex int
	Column   string
	YearHint int
}

func (c DateContext) where() string {
	var b strings.Builder
	if c.RowIndex >= 0 {
		fmt.Fprintf(&b, " at row=%d", c.RowIndex)
	}
	if c.Filename != "" {
		fmt.Fprintf(&b, " in file=%s", c.Filename)
	}
	return b.String()
}

// ParseError reports a date value that could not be normalized.
type ParseError struct {
	Value    string
	Filename string
	RowIndex int
	Column   string
}

func (e *ParseError) Error() string {
	col := e.Column
	if col == "" {
		col = "unknown column"
	}
	ctx := DateContext{Filename: e.Filename, RowIndex: e.RowIndex}
	return fmt.Sprintf("normalize: could not parse date from value=%q (%s)%s", e.Value, col, ctx.where())
}

// YearMismatchError reports a parsed date outside the expected year.
type YearMismatchError struct {
	Date     string
	YearHint int
	Filename string
	RowIndex int
	Column   string
}

func (e *YearMismatchError) Error() string {
	ctx := DateContext{Filename: e.Filename, RowIndex: e.RowIndex}
	return fmt.Sprintf("normalize: date %q does not match expected year %d%s", e.Date, e.YearHint, ctx.where())
}

// RequireDateISO is ParseDateToISO that fails with *ParseError when the
// value cannot be normalized and *YearMismatchError when ctx.YearHint is set
// and the year is more than one year away from it. Exports named after the
// run date routinely carry rows from the neighbouring year.
func RequireDateISO(v any, ctx DateContext) (string, error) {
	iso, ok := ParseDateToISO(v)
	if !ok {
		return "", &ParseError{
			Value:    fmt.Sprint(v),
			Filename: ctx.Filename,
			RowIndex: ctx.RowIndex,
			Column:   ctx.Column,
		}
	}
	if ctx.YearHint != 0 && yearDistance(iso, ctx.YearHint) > 1 {
		return "", &YearMismatchError{
			Date:     iso,
			YearHint: ctx.YearHint,
			Filename: ctx.Filename,
			RowIndex: ctx.RowIndex,
			Column:   ctx.Column,
		}
	}
	return iso, nil
}

func yearDistance(iso string, hint int) int {
	y, err := strconv.Atoi(iso[:4])
	if err != nil {
		return math.MaxInt
	}
	if y < hint {
		return hint - y
	}
	return y - hint
}

var (
	duplicateMarkerRe = regexp.MustCompile(`\s*\(\d+\)`)
	filenameISORe     = regexp.MustCompile(`(\d{4})[-_](\d{2})[-_](\d{2})`)
	filenameCompactRe = regexp.MustCompile(`(?:^|\D)(20\d{2})(\d{2})(\d{2})(?:\D|$)`)
	filenameEURe      = regexp.MustCompile(`(?:^|\D)(\d{2})[.\-_](\d{2})[.\-_](20\d{2})(?:\D|$)`)
)

// DateFromFilename finds a date embedded in a filename, ignoring duplicate
// markers such as "(1)".
func DateFromFilename(name string) (string, bool) {
	clean := duplicateMarkerRe.ReplaceAllString(name, "")
	if m := filenameISORe.FindStringSubmatch(clean); m != nil {
		if iso, ok := validISO(m[1], m[2], m[3]); ok {
			return iso, true
		}
	}
	if m := filenameCompactRe.FindStringSubmatch(clean); m != nil {
		if iso, ok := validISO(m[1], m[2], m[3]); ok {
			return iso, true
		}
	}
	if m := filenameEURe.FindStringSubmatch(clean); m != nil {
		if iso, ok := validISO(m[3], m[2], m[1]); ok {
			return iso, true
		}
	}
	return "", false
}

// YearFromFilename returns the year of a date embedded in the filename, or 0.
func YearFromFilename(name string) int {
	iso, ok := DateFromFilename(name)
	if !ok {
		return 0
	}
	t, err := time.Parse(isoLayout, iso)
	if err != nil {
		return 0
	}
	return t.Year()
}
