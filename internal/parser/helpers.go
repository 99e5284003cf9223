package parser

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxMerchantLength caps extracted merchant names.
const MaxMerchantLength = 50

// MaxTransactionAgeYears is how far back a date may be before it draws a warning.
const MaxTransactionAgeYears = 10

var (
	embeddedDateRegex = regexp.MustCompile(`\b\d{1,4}[/.\-]\d{1,2}(?:[/.\-]\d{2,4})?\b`)
	hashRefRegex      = regexp.MustCompile(`#\s*\w+`)
	refTokenRegex     = regexp.MustCompile(`(?i)\b(?:ref|reference|trx|txn|auth|id)[:.#]?\s*[\w\-]*\d[\w\-]*`)
	maskedCardRegex   = regexp.MustCompile(`(?i)\b(?:x{2,}|\*{2,})[\dx*]*\b|\*+\d{2,}`)
	longDigitsRegex   = regexp.MustCompile(`\b\w*\d{4,}\w*\b`)
	cardPrefixRegex   = regexp.MustCompile(`(?i)^(?:pos|card payment|card purchase|purchase|debit card|visa|mastercard|contactless|platba kartou|nakup)\s+`)
	spaceRunRegex     = regexp.MustCompile(`\s+`)
	trailingJunk      = " -*/.,:;"
)

// ExtractMerchant derives a merchant name from a bank description by removing
// dates, reference numbers and card masks. Returns "" when nothing
// meaningful remains.
func ExtractMerchant(description string) string {
	s := description
	s = embeddedDateRegex.ReplaceAllString(s, " ")
	s = refTokenRegex.ReplaceAllString(s, " ")
	s = hashRefRegex.ReplaceAllString(s, " ")
	s = maskedCardRegex.ReplaceAllString(s, " ")
	s = longDigitsRegex.ReplaceAllString(s, " ")
	s = spaceRunRegex.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = cardPrefixRegex.ReplaceAllString(s, "")
	s = strings.Trim(s, trailingJunk)

	if utf8.RuneCountInString(s) > MaxMerchantLength {
		s = strings.TrimSpace(string([]rune(s)[:MaxMerchantLength]))
	}
	if !hasLetter(s) {
		return ""
	}
	return s
}

func hasLetter(s string) bool {
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 127 {
			return true
		}
	}
	return false
}

// Category names produced by GuessCategory.
const (
	CategoryGroceries = "Groceries"
	CategoryGas       = "Gas"
	CategoryDining    = "Dining"
	CategoryPharmacy  = "Pharmacy"
	CategoryShopping  = "Shopping"
)

// categoryKeywords is checked in order; the first category with a matching
// keyword wins.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryGroceries, []string{"grocery", "supermarket", "market", "whole foods", "trader joe", "safeway", "kroger", "aldi", "lidl", "tesco", "billa", "kaufland", "albert", "coop", "fresh"}},
	{CategoryGas, []string{"gas station", "fuel", "petrol", "shell", "chevron", "exxon", "mobil", "bp ", "texaco", "omv", "slovnaft", "orlen", "benzin"}},
	{CategoryPharmacy, []string{"pharmacy", "drugstore", "cvs", "walgreens", "rite aid", "lekaren", "lekarna", "apotheke", "dr.max", "dm drogerie"}},
	{CategoryDining, []string{"restaurant", "cafe", "coffee", "starbucks", "mcdonald", "burger", "pizza", "kfc", "subway", "bistro", "diner", "bar ", "pub", "grill", "sushi", "kebab", "bakery", "wolt", "bolt food", "doordash", "uber eats"}},
	{CategoryShopping, []string{"amazon", "walmart", "target", "ebay", "ikea", "best buy", "mall", "store", "shop", "zara", "h&m", "alza", "decathlon"}},
}

// GuessCategory returns an advisory category for a description, or "".
func GuessCategory(description string) string {
	d := " " + strings.ToLower(description) + " "
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(d, kw) {
				return c.category
			}
		}
	}
	return ""
}

// ValidateTransaction returns warnings for suspicious but importable rows.
func ValidateTransaction(tx ParsedTransaction, now time.Time) []string {
	var warnings []string

	if strings.TrimSpace(tx.Description) == "" {
		warnings = append(warnings, "missing description")
	}
	if tx.Amount.IsZero() {
		warnings = append(warnings, "amount is zero")
	}

	today := dateOnly(now)
	if tx.Date.After(today) {
		warnings = append(warnings, "date "+tx.Date.Format("2006-01-02")+" is in the future")
	}
	if tx.Date.Before(today.AddDate(-MaxTransactionAgeYears, 0, 0)) {
		warnings = append(warnings, "date "+tx.Date.Format("2006-01-02")+" is more than 10 years old")
	}

	return warnings
}

// joinNonEmpty joins the non-blank parts with sep, skipping exact repeats.
func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		key := strings.ToLower(p)
		if p == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return strings.Join(out, sep)
}

// isBlankRow reports whether every cell is empty after trimming.
func isBlankRow(row []string) bool {
	for _, cell := range row {
		if CleanCell(cell) != "" {
			return false
		}
	}
	return true
}

// hasExtension reports whether path ends in one of exts (case-insensitive).
func hasExtension(path string, exts []string) bool {
	lower := strings.ToLower(path)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// mimeMatches compares a detected MIME type against a list, ignoring parameters.
func mimeMatches(mimeHint string, types []string) bool {
	if mimeHint == "" {
		return false
	}
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeHint, ";", 2)[0]))
	for _, t := range types {
		if base == t {
			return true
		}
	}
	return false
}
