// Package guard runs statistical sanity checks over a document's extracted
// row dates. A failure here means the extractor malfunctioned systemically,
// so every error is fatal for the document.
package guard

import (
	"fmt"

	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/normalize"
)

// Options configures AssertRowLevelDates. Zero values select defaults.
type Options struct {
	Filename string
	// MinUnique overrides the minimum number of distinct dates.
	MinUnique int
	// TotalRows is the document's row count when it differs from len(dates).
	TotalRows int
	// ExtractedAt is the processing timestamp (RFC 3339 or YYYY-MM-DD).
	ExtractedAt string
}

func inFile(name string) string {
	if name == "" {
		return ""
	}
	return " in file=" + name
}

// EmptyDateSetError means there were no dates to validate.
type EmptyDateSetError struct {
	Filename string
}

func (e *EmptyDateSetError) Error() string {
	return "guard: no dates to validate" + inFile(e.Filename)
}

// SuspiciousExtractionError means too few distinct dates for the row count.
type SuspiciousExtractionError struct {
	Filename  string
	Unique    int
	Total     int
	MinUnique int
}

func (e *SuspiciousExtractionError) Error() string {
	return fmt.Sprintf("guard: suspicious date extraction: only %d unique dates across %d rows (want %d)%s",
		e.Unique, e.Total, e.MinUnique, inFile(e.Filename))
}

// DateBugDetectedError means every row carries the processing day instead of
// its transaction date.
type DateBugDetectedError struct {
	Filename string
	Day      string
	Rows     int
}

func (e *DateBugDetectedError) Error() string {
	return fmt.Sprintf("guard: date bug detected: all %d rows have date=%s, looks like the extraction time, not the transaction date%s",
		e.Rows, e.Day, inFile(e.Filename))
}

// dateBugMinRows is the row count below which identical dates are plausible.
const dateBugMinRows = 10

// DefaultMinUnique returns the distinct-date floor for a document of total
// rows.
func DefaultMinUnique(total int) int {
	if total >= 200 {
		return 5
	}
	return 2
}

// AssertRowLevelDates checks the ISO dates of a document's rows. The
// extraction-time check runs before the uniqueness check so the more specific
// error wins.
func AssertRowLevelDates(dates []string, opts Options) error {
	if len(dates) == 0 {
		return &EmptyDateSetError{Filename: opts.Filename}
	}

	total := len(dates)
	if opts.TotalRows > 0 {
		total = opts.TotalRows
	}

	if opts.ExtractedAt != "" && len(dates) >= dateBugMinRows {
		day := opts.ExtractedAt
		if len(day) > 10 {
			day = day[:10]
		}
		if allEqual(dates, day) {
			return &DateBugDetectedError{Filename: opts.Filename, Day: day, Rows: len(dates)}
		}
	}

	minUnique := opts.MinUnique
	if minUnique <= 0 {
		minUnique = DefaultMinUnique(total)
		// A one-row document with no reported row count cannot span two
		// days. A reported total always keeps the size-based floor.
		if opts.TotalRows == 0 && len(dates) == 1 {
			minUnique = 1
		}
	}

	unique := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		unique[d] = struct{}{}
	}
	if len(unique) < minUnique {
		return &SuspiciousExtractionError{
			Filename:  opts.Filename,
			Unique:    len(unique),
			Total:     total,
			MinUnique: minUnique,
		}
	}
	return nil
}

func allEqual(dates []string, day string) bool {
	for _, d := range dates {
		if d != day {
			return false
		}
	}
	return true
}

// RowDates normalizes the date of every non-rejected row. The first row that
// cannot be normalized fails the whole document with its row context.
func RowDates(items []*model.LineItem, filename string, yearHint int) ([]string, error) {
	dates := make([]string, 0, len(items))
	for i, li := range items {
		if li == nil || li.Rejected {
			continue
		}
		iso, err := normalize.RequireDateISO(li.Date.Value, normalize.DateContext{
			Filename: filename,
			RowIndex: i,
			Column:   model.FieldDate,
			YearHint: yearHint,
		})
		if err != nil {
			return nil, err
		}
		dates = append(dates, iso)
	}
	return dates, nil
}
