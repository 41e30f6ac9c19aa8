package sheet

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// headerKeywordRe matches header cells in the supported Nordic languages
// and English.
var headerKeywordRe = regexp.MustCompile(`(?i)datum|material|vikt|kvantitet|adress|weight|date|mængde|määrä|paino|päivämäärä|vekt|dato`)

// headerScanRows is how far down the table a header row is looked for.
const headerScanRows = 10

// HeaderIndex returns the index of the first row within the first ten that
// names a known column. It returns 0 when none does.
func (t *Table) HeaderIndex() int {
	for i, row := range t.Rows {
		if i >= headerScanRows {
			break
		}
		for _, c := range row {
			if headerKeywordRe.MatchString(c) {
				return i
			}
		}
	}
	return 0
}

// Header returns the detected header row.
func (t *Table) Header() []string {
	if len(t.Rows) == 0 {
		return nil
	}
	return t.Rows[t.HeaderIndex()]
}

// DataRows returns every row after the header.
func (t *Table) DataRows() [][]string {
	if len(t.Rows) == 0 {
		return nil
	}
	return t.Rows[t.HeaderIndex()+1:]
}

// Markdown renders the table as a markdown table starting at the header.
// Cells are cut to maxCell runes and at most maxRows data rows are written;
// non-positive limits mean unlimited.
func (t *Table) Markdown(maxCell, maxRows int) string {
	header := t.Header()
	if header == nil {
		return ""
	}
	var b strings.Builder
	writeMarkdownRow(&b, header, len(header), maxCell)
	b.WriteString("|")
	for range header {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for i, row := range t.DataRows() {
		if maxRows > 0 && i >= maxRows {
			break
		}
		writeMarkdownRow(&b, row, len(header), maxCell)
	}
	return b.String()
}

func writeMarkdownRow(b *strings.Builder, row []string, width, maxCell int) {
	if len(row) > width {
		width = len(row)
	}
	b.WriteString("|")
	for i := 0; i < width; i++ {
		c := ""
		if i < len(row) {
			c = strings.ReplaceAll(row[i], "|", "/")
			c = strings.ReplaceAll(c, "\n", " ")
		}
		b.WriteString(" ")
		b.WriteString(truncate(c, maxCell))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// TSV renders the header followed by rows as tab-separated lines.
func TSV(header []string, rows [][]string) string {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, strings.Join(header, "\t"))
	for _, r := range rows {
		lines = append(lines, strings.Join(r, "\t"))
	}
	return strings.Join(lines, "\n")
}

// TSV renders the whole table from the header row onward.
func (t *Table) TSV() string {
	return TSV(t.Header(), t.DataRows())
}

// Chunk is a contiguous slice of data rows. Offset is the index of the
// chunk's first row among all data rows.
type Chunk struct {
	Header []string
	Rows   [][]string
	Offset int
}

// TSV renders the chunk with its header.
func (c Chunk) TSV() string {
	return TSV(c.Header, c.Rows)
}

// Chunks splits the data rows into chunks of at most size rows, each
// carrying the header.
func (t *Table) Chunks(size int) []Chunk {
	data := t.DataRows()
	if size <= 0 {
		size = len(data)
	}
	var out []Chunk
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		out = append(out, Chunk{Header: t.Header(), Rows: data[off:end], Offset: off})
	}
	return out
}
