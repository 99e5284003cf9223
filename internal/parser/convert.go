package parser

// convert.go turns statement cell text into amounts and dates.
//
// Statement exports are messy in predictable ways:
//   - Currency symbols and ISO codes next to the number
//   - Accounting negatives "(12.90)" and trailing minus "12.90-"
//   - Space, NBSP or apostrophe thousands separators ("1 300,54")
//   - Comma decimals from continental European banks
//   - US and EU day/month orders in the same corpus of files

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is wrapped by ParseAmount failures.
var ErrInvalidAmount = errors.New("invalid number")

// ErrInvalidDate is wrapped by ParseDate failures.
var ErrInvalidDate = errors.New("invalid date")

// Decimal separator settings for AmountFormat.
const (
	DecimalAuto  = ""
	DecimalPoint = "."
	DecimalComma = ","
)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would land more than this many years in the future are
// moved to the previous century.
var TwoDigitYearPivot = 20

// DefaultDateLayouts is the fixed priority order used when a parser config
// does not override it. US month-first wins over day-first for ambiguous
// input such as 03/04/2024.
var DefaultDateLayouts = []string{
	"2006-1-2",
	"1/2/2006",
	"2/1/2006",
	"2006/1/2",
	"2.1.2006",
	"1-2-2006",
	"2-1-2006",
	"Jan 2 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"2-Jan-2006",
	"January 2, 2006",
	"2 January 2006",
	"20060102",
	"1/2/06",
	"2.1.06",
	"1-2-06",
	"2-Jan-06",
}

var (
	plainNumberRegex = regexp.MustCompile(`^(\d+(\.\d+)?|\.\d+)$`)
	creditSuffix     = regexp.MustCompile(`(?i)\s*CR\.?$`)
	debitSuffix      = regexp.MustCompile(`(?i)\s*DR\.?$`)
)

// ParseAmount converts a cell to a decimal using the given decimal separator
// (DecimalAuto, DecimalPoint or DecimalComma).
//
// Formatting a result with Decimal.String and parsing it again yields the
// same value.
func ParseAmount(s, decimalSep string) (decimal.Decimal, error) {
	raw := s
	s = CleanCell(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}

	negative := false

	// Accounting format "(123.45)"
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	// "12.50 DR" / "12.50 CR"
	if debitSuffix.MatchString(s) && hasDigit(s) {
		negative = true
		s = debitSuffix.ReplaceAllString(s, "")
	} else if creditSuffix.MatchString(s) && hasDigit(s) {
		s = creditSuffix.ReplaceAllString(s, "")
	}

	s = stripAmountNoise(s)
	s = strings.ReplaceAll(s, "\u2212", "-")

	switch {
	case strings.HasPrefix(s, "-"):
		negative = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if strings.HasSuffix(s, "-") {
		negative = true
		s = s[:len(s)-1]
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = normalizeSeparators(s, decimalSep)
	if !plainNumberRegex.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, raw, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// stripAmountNoise drops currency symbols, currency codes and grouping spaces.
func stripAmountNoise(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',', r == '-', r == '+', r == '(', r == ')', r == '\u2212':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '\'', r == '\u2019':
			// grouping separators
		case unicode.Is(unicode.Sc, r), unicode.IsLetter(r):
			// currency symbols and codes
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeSeparators rewrites s to use '.' as the only decimal separator.
func normalizeSeparators(s, decimalSep string) string {
	switch decimalSep {
	case DecimalPoint:
		return strings.ReplaceAll(s, ",", "")
	case DecimalComma:
		s = strings.ReplaceAll(s, ".", "")
		return strings.Replace(s, ",", ".", 1)
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")

	case lastComma >= 0:
		digitsAfter := len(s) - lastComma - 1
		if strings.Count(s, ",") == 1 && digitsAfter > 0 && digitsAfter <= 2 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")

	case lastDot >= 0 && strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}

	return s
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

// ParseDate tries each layout in order and returns the first match as a
// UTC calendar date. A nil or empty layouts slice uses DefaultDateLayouts.
// Two-digit years are pivoted around now; a zero now keeps the time
// package's century rule.
func ParseDate(s string, layouts []string, now time.Time) (time.Time, error) {
	s = strings.Join(strings.Fields(CleanCell(s)), " ")
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrInvalidDate)
	}
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}

	candidates := []string{s}
	// "2024-01-15 10:30:00" and "2024-01-15T10:30:00Z"
	if i := strings.IndexAny(s, "T "); i > 0 && strings.Contains(s[i:], ":") {
		candidates = append(candidates, s[:i])
	}

	for _, c := range candidates {
		for _, layout := range layouts {
			t, err := time.Parse(layout, c)
			if err != nil {
				continue
			}
			if isTwoDigitYearLayout(layout) && !now.IsZero() {
				t = applyYearPivot(t, now)
			}
			return dateOnly(t), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

func isTwoDigitYearLayout(layout string) bool {
	return strings.HasSuffix(layout, "06") && !strings.HasSuffix(layout, "2006")
}

func applyYearPivot(t, now time.Time) time.Time {
	if t.Year() > now.Year()+TwoDigitYearPivot {
		return t.AddDate(-100, 0, 0)
	}
	return t
}

// dateOnly truncates t to midnight UTC of its calendar day.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CleanCell removes common export artifacts from a cell value:
//   - Surrounding whitespace and NBSP
//   - Excel formula prefix (="...")
//   - Surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(strings.Trim(s, "\ufeff\u00a0"))

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	}

	if len(s) >= 2 && strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") {
		s = s[1 : len(s)-1]
	}

	return strings.TrimSpace(s)
}
