// Package sheet reads spreadsheet and CSV documents into a flat table and
// renders it as the text extraction models condition on.
package sheet

import (
	"bytes"
	"encoding/csv"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/waste-pipeline/internal/model"
)

// Table is the concatenation of every sheet in a workbook. Rows[0] is
// normally the header row; call HeaderIndex to locate it.
type Table struct {
	Sheets      []string
	Rows        [][]string
	MergedCells int
	// Irregular counts data rows whose width differs from the header.
	Irregular int
}

// headerRe matches the column names that mark a repeated header row on
// later sheets.
var headerRe = regexp.MustCompile(`(?i)material|vikt|datum|weight|date`)

// Read parses content of the given file type.
func Read(ft model.FileType, content []byte) (*Table, error) {
	switch ft {
	case model.FileTypeXLSX:
		return readXLSX(content)
	case model.FileTypeCSV:
		return readCSV(content)
	}
	return nil, eris.Errorf("sheet: unsupported file type %q", ft)
}

func readXLSX(content []byte) (*Table, error) {
	f, err := xlsx.OpenBinary(content)
	if err != nil {
		return nil, eris.Wrap(err, "sheet: open workbook")
	}

	t := &Table{}
	for _, sh := range f.Sheets {
		t.Sheets = append(t.Sheets, sh.Name)
		rows := make([][]string, 0, len(sh.Rows))
		for _, row := range sh.Rows {
			if row == nil {
				continue
			}
			cells, merged := rowToStrings(row, f.Date1904)
			t.MergedCells += merged
			rows = append(rows, cells)
		}
		t.appendSheet(rows)
	}
	if len(t.Rows) == 0 {
		return nil, eris.New("sheet: workbook has no rows")
	}
	t.trim()
	return t, nil
}

func rowToStrings(row *xlsx.Row, date1904 bool) ([]string, int) {
	cells := make([]string, len(row.Cells))
	merged := 0
	for j, cell := range row.Cells {
		if cell == nil {
			continue
		}
		cells[j] = cellText(cell, date1904)
		if cell.HMerge > 0 || cell.VMerge > 0 {
			merged++
		}
	}
	return cells, merged
}

// cellText renders a cell as text. Date-formatted cells become ISO dates
// rather than the workbook's display format (often mm-dd-yy).
func cellText(cell *xlsx.Cell, date1904 bool) string {
	if cell.IsTime() {
		if t, err := cell.GetTime(date1904); err == nil {
			t = t.Round(time.Second)
			if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
				return t.Format(time.DateOnly)
			}
			return t.Format("2006-01-02 15:04")
		}
	}
	return strings.TrimSpace(cell.String())
}

// appendSheet adds a sheet's rows, dropping its first row when it repeats
// the header of an earlier sheet.
func (t *Table) appendSheet(rows [][]string) {
	if len(rows) == 0 {
		return
	}
	if len(t.Rows) > 0 && looksLikeHeader(rows[0]) {
		rows = rows[1:]
	}
	t.Rows = append(t.Rows, rows...)
}

func looksLikeHeader(row []string) bool {
	for _, c := range row {
		if headerRe.MatchString(c) {
			return true
		}
	}
	return false
}

func readCSV(content []byte) (*Table, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(content))
	r.Comma = sniffDelimiter(content)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	t := &Table{Sheets: []string{"csv"}}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "sheet: read csv row")
		}
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}
		t.Rows = append(t.Rows, record)
	}
	if len(t.Rows) == 0 {
		return nil, eris.New("sheet: csv has no rows")
	}
	t.trim()
	return t, nil
}

// sniffDelimiter picks the most frequent of ; \t , on the first line.
// Swedish exports commonly use semicolons.
func sniffDelimiter(content []byte) rune {
	line := content
	if i := bytes.IndexByte(content, '\n'); i >= 0 {
		line = content[:i]
	}
	best, bestN := ',', 0
	for _, d := range []rune{';', '\t', ','} {
		if n := bytes.Count(line, []byte(string(d))); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

// trim drops blank rows and counts rows whose width differs from the header.
func (t *Table) trim() {
	kept := t.Rows[:0]
	for _, row := range t.Rows {
		if blank(row) {
			continue
		}
		kept = append(kept, row)
	}
	t.Rows = kept
	if len(t.Rows) == 0 {
		return
	}
	h := t.HeaderIndex()
	width := nonEmptyWidth(t.Rows[h])
	for _, row := range t.Rows[h+1:] {
		if nonEmptyWidth(row) != width {
			t.Irregular++
		}
	}
}

func blank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}

func nonEmptyWidth(row []string) int {
	w := 0
	for i, c := range row {
		if c != "" {
			w = i + 1
		}
	}
	return w
}
