package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateToISO(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     any
		want   string
		wantOK bool
	}{
		{"iso", "2024-01-16", "2024-01-16", true},
		{"iso with time", "2024-01-16 09:59:46", "2024-01-16", true},
		{"iso with T", "2024-01-16T09:59:46Z", "2024-01-16", true},
		{"slash iso", "2024/01/16", "2024-01-16", true},
		{"day first slash", "16/01/2024", "2024-01-16", true},
		{"day first dash", "16-01-2024", "2024-01-16", true},
		{"compact", "20240116", "2024-01-16", true},
		{"compact period", "Period 20251201-20251231", "2025-12-31", true},
		{"iso period", "2025-12-01 - 2025-12-31", "2025-12-31", true},
		{"iso period tight", "2025-12-01-2025-12-31", "2025-12-31", true},
		{"eu period", "01/12/2025 – 31/12/2025", "2025-12-31", true},
		{"excel serial", 45000.0, "2023-03-15", true},
		{"excel serial int", 45000, "2023-03-15", true},
		{"time value", time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC), "2024-02-29", true},
		{"invalid calendar day", "2023-02-30", "", false},
		{"american ambiguous", "1/2/2024", "", false},
		{"text", "yesterday", "", false},
		{"empty", "", "", false},
		{"nil", nil, "", false},
		{"zero time", time.Time{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseDateToISO(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDateToISORoundTrip(t *testing.T) {
	t.Parallel()

	day := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 1500; i += 7 {
		s := day.AddDate(0, 0, i).Format("2006-01-02")
		got, ok := ParseDateToISO(s)
		require.True(t, ok, s)
		assert.Equal(t, s, got)

		again, ok := ParseDateToISO(got)
		require.True(t, ok)
		assert.Equal(t, got, again)
	}
}

func TestRequireDateISO(t *testing.T) {
	t.Parallel()

	iso, err := RequireDateISO("16/01/2024", DateContext{YearHint: 2024})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-16", iso)

	_, err = RequireDateISO("garbage", DateContext{Filename: "a.pdf", RowIndex: 3, Column: "Datum"})
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 3, pe.RowIndex)
	assert.Equal(t, "Datum", pe.Column)
	assert.Contains(t, err.Error(), "row=3")
	assert.Contains(t, err.Error(), "file=a.pdf")

	_, err = RequireDateISO("2021-05-01", DateContext{Filename: "b.xlsx", RowIndex: 1, YearHint: 2024})
	var ye *YearMismatchError
	require.True(t, errors.As(err, &ye))
	assert.Equal(t, "2021-05-01", ye.Date)
	assert.Equal(t, 2024, ye.YearHint)
}

func TestRequireDateISO_NeighbouringYearAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value   string
		hint    int
		wantErr bool
	}{
		{"2024-12-30", 2025, false},
		{"2026-01-02", 2025, false},
		{"2025-06-01", 2025, false},
		{"2023-12-31", 2025, true},
		{"2027-01-01", 2025, true},
	}
	for _, tt := range tests {
		_, err := RequireDateISO(tt.value, DateContext{YearHint: tt.hint})
		if tt.wantErr {
			var ye *YearMismatchError
			assert.True(t, errors.As(err, &ye), tt.value)
			continue
		}
		assert.NoError(t, err, tt.value)
	}
}

func TestDateFromFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"813d83d5_1764596766239_2025-10-13.pdf", "2025-10-13", true},
		{"rapport 2025-10-13 (1).pdf", "2025-10-13", true},
		{"renova_20240315.xlsx", "2024-03-15", true},
		{"vagsedel 15.03.2024.pdf", "2024-03-15", true},
		{"ragn-sells_2024_06_30.xlsx", "2024-06-30", true},
		{"no-date.pdf", "", false},
		{"bad_2024-13-40.pdf", "", false},
	}

	for _, tt := range tests {
		got, ok := DateFromFilename(tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	assert.Equal(t, 2024, YearFromFilename("renova_20240315.xlsx"))
	assert.Equal(t, 0, YearFromFilename("none.pdf"))
}
