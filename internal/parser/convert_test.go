package parser

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ParseAmount
// =============================================================================

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name  string
		input string
		sep   string
		want  string
	}{
		{"plain", "12.50", DecimalAuto, "12.50"},
		{"leading minus", "-4.50", DecimalAuto, "-4.5"},
		{"accounting negative", "(12.90)", DecimalAuto, "-12.90"},
		{"space thousands comma decimal", "1 300,54", DecimalAuto, "1300.54"},
		{"nbsp thousands with euro", "1\u00a0300,54 \u20ac", DecimalAuto, "1300.54"},
		{"us thousands", "1,234.56", DecimalAuto, "1234.56"},
		{"eu thousands", "1.234,56", DecimalAuto, "1234.56"},
		{"currency symbol", "$1,234.56", DecimalAuto, "1234.56"},
		{"currency code", "EUR 45,00", DecimalAuto, "45"},
		{"short comma decimal", "12,5", DecimalAuto, "12.5"},
		{"comma thousands only", "1,300", DecimalAuto, "1300"},
		{"trailing minus", "12.50-", DecimalAuto, "-12.5"},
		{"debit suffix", "100.00 DR", DecimalAuto, "-100"},
		{"credit suffix", "100.00 CR", DecimalAuto, "100"},
		{"explicit plus", "+3.00", DecimalAuto, "3"},
		{"forced comma", "1.300,5", DecimalComma, "1300.5"},
		{"forced point", "1,300.5", DecimalPoint, "1300.5"},
		{"excel text prefix", `="42.10"`, DecimalAuto, "42.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input, tt.sep)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
		})
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, input := range []string{"", "   ", "abc", "1-2", "--"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseAmount(input, DecimalAuto)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestParseAmount_RoundTrip(t *testing.T) {
	for _, v := range []string{"0", "-12.9", "1300.54", "1234567.891", "-0.01", "2500"} {
		d := decimal.RequireFromString(v)
		got, err := ParseAmount(d.String(), DecimalAuto)
		require.NoError(t, err)
		assert.True(t, d.Equal(got), "round trip of %s gave %s", d, got)
	}
}

// =============================================================================
// ParseDate
// =============================================================================

func TestParseDate(t *testing.T) {
	jan15 := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		input string
		want  time.Time
	}{
		{"2024-01-15", jan15},
		{"01/15/2024", jan15},
		{"1/15/2024", jan15},
		{"15/01/2024", jan15},
		{"15.01.2024", jan15},
		{"Jan 15, 2024", jan15},
		{"15 Jan 2024", jan15},
		{"20240115", jan15},
		{"2024-01-15 10:30:00", jan15},
		{"2024-01-15T10:30:00Z", jan15},
		{"01/15/24", jan15},
		// Month-first wins for ambiguous input.
		{"03/04/2024", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDate(tt.input, nil, time.Time{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDate_Deterministic(t *testing.T) {
	first, err := ParseDate("05/06/2024", nil, time.Time{})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := ParseDate("05/06/2024", nil, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, time.May, first.Month())
}

func TestParseDate_CustomLayouts(t *testing.T) {
	got, err := ParseDate("05/06/2024", []string{"2/1/2006"}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, time.June, got.Month())
	assert.Equal(t, 5, got.Day())
}

func TestParseDate_TwoDigitYearFollowsClock(t *testing.T) {
	tests := []struct {
		name  string
		input string
		now   time.Time
		want  int
	}{
		{"near future stays", "01/15/40", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), 2040},
		{"far future moves back", "01/15/50", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), 1950},
		{"later clock keeps century", "01/15/50", time.Date(2035, 6, 1, 0, 0, 0, 0, time.UTC), 2050},
		{"zero clock uses time package rule", "01/15/50", time.Time{}, 2050},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input, nil, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Year())
		})
	}
}

func TestParseDate_Invalid(t *testing.T) {
	for _, input := range []string{"", "not a date", "2024-13-45"} {
		_, err := ParseDate(input, nil, time.Time{})
		assert.ErrorIs(t, err, ErrInvalidDate, "input %q", input)
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"  hello  ", "hello"},
		{`="00123"`, "00123"},
		{`"quoted"`, "quoted"},
		{"\ufeffDate", "Date"},
		{"\u00a0value\u00a0", "value"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanCell(tt.input))
	}
}
