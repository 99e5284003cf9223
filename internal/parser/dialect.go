package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Dialect recognizes and reads one institution's statement layout.
// Dialects are tried by the PDF parser after table extraction fails.
type Dialect interface {
	Name() string
	Detect(pages []string) bool
	Extract(pages []string, now time.Time) ([]ParsedTransaction, []string)
}

// CardStatementDialectName identifies the built-in card statement layout
// and doubles as its bank hint.
const CardStatementDialectName = "card-statement"

// followUpLines is how many lines after a transaction line may carry its
// reference, location and foreign currency details.
const followUpLines = 4

var (
	cardPeriodRegex  = regexp.MustCompile(`(?i)(?:statement period|period|obdobie|obdob[ií])\s*:?\s*(\d{1,2})\.\s*(\d{1,2})\.\s*(\d{4})\s*[-–]\s*(\d{1,2})\.\s*(\d{1,2})\.\s*(\d{4})`)
	cardAnyYearRegex = regexp.MustCompile(`\b\d{1,2}\.\s*\d{1,2}\.\s*((?:19|20)\d{2})\b`)
	cardTxnRegex     = regexp.MustCompile(`^\s*(\d{1,2})\.\s*(\d{1,2})\.\s+(.+?)\s+([-+]?\s?\d{1,3}(?:[ \x{00a0}]\d{3})*,\d{2})\s*(?:EUR|€)?\s*$`)
	cardRefRegex     = regexp.MustCompile(`(?i)^\s*(?:ref(?:erence|erencia)?|referencia)\s*[:.]?\s*(\S+)`)
	cardLocRegex     = regexp.MustCompile(`(?i)^\s*(?:location|miesto)\s*:\s*(.+?)\s*$`)
	cardFXRegex      = regexp.MustCompile(`(\d{1,3}(?:[ \x{00a0}]\d{3})*,\d{2})\s*([A-Z]{3})\b`)
	cardRateRegex    = regexp.MustCompile(`(?i)(?:rate|kurz)\s*:?\s*(\d+[.,]\d+)`)
)

// cardPhrases are header and footer texts whose occurrences identify the
// layout.
var cardPhrases = []string{
	"statement period",
	"card statement",
	"card number",
	"location:",
	"reference:",
	"total debit",
	"available balance",
	"výpis",
	"obdobie",
	"číslo karty",
	"miesto:",
	"disponibilný zostatok",
}

// creditWords mark unsigned amounts that add money to the account.
var creditWords = []string{"refund", "credit", "payment received", "vrátenie", "vratenie", "splátka", "splatka", "vklad"}

// CardStatementDialect reads card statements with "D. M." dates, comma
// decimals and space thousands. Each transaction line may be followed by
// a reference line, a "Location:" line and a foreign currency line.
type CardStatementDialect struct {
	threshold  int
	cities     []string
	decimalSep string
}

// NewCardStatementDialect builds the dialect from PDF settings.
func NewCardStatementDialect(cfg PDFConfig) *CardStatementDialect {
	cities := make([]string, 0, len(cfg.KnownCities))
	for _, c := range cfg.KnownCities {
		if c = strings.TrimSpace(c); c != "" {
			cities = append(cities, c)
		}
	}
	return &CardStatementDialect{
		threshold:  cfg.DialectThreshold,
		cities:     cities,
		decimalSep: DecimalComma,
	}
}

func (d *CardStatementDialect) Name() string { return CardStatementDialectName }

// Detect counts phrase occurrences across all pages.
func (d *CardStatementDialect) Detect(pages []string) bool {
	hits := 0
	for _, page := range pages {
		lower := strings.ToLower(page)
		for _, phrase := range cardPhrases {
			hits += strings.Count(lower, phrase)
		}
	}
	return hits >= d.threshold
}

// statementPeriod is the date range printed in the statement header.
type statementPeriod struct {
	startYear int
	endYear   int
	endMonth  int
}

// yearFor resolves the year of a "D. M." date. Statements spanning a new
// year place months after the period end month in the start year.
func (sp statementPeriod) yearFor(month int) int {
	if sp.startYear != sp.endYear && month > sp.endMonth {
		return sp.startYear
	}
	return sp.endYear
}

// Extract implements Dialect.
func (d *CardStatementDialect) Extract(pages []string, now time.Time) ([]ParsedTransaction, []string) {
	var warnings []string

	text := strings.Join(pages, "\n")
	period, ok := findStatementPeriod(text)
	if !ok {
		year := now.Year()
		if m := cardAnyYearRegex.FindStringSubmatch(text); m != nil {
			year, _ = strconv.Atoi(m[1])
		}
		period = statementPeriod{startYear: year, endYear: year, endMonth: 12}
		warnings = append(warnings, fmt.Sprintf("statement period not found; assuming year %d", year))
	}

	lines := strings.Split(text, "\n")
	var txs []ParsedTransaction

	for i := 0; i < len(lines); i++ {
		m := cardTxnRegex.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}

		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			warnings = append(warnings, fmt.Sprintf("line %d: invalid month %d", i+1, month))
			continue
		}
		year := period.yearFor(month)
		date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if date.Day() != day {
			warnings = append(warnings, fmt.Sprintf("line %d: invalid date %d.%d.%d", i+1, day, month, year))
			continue
		}

		description := strings.Join(strings.Fields(m[3]), " ")
		amount, err := d.signedAmount(m[4], description)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("line %d: %v", i+1, err))
			continue
		}

		tx := ParsedTransaction{
			Date:        date,
			Description: description,
			Amount:      amount,
			RawFields:   map[string]string{"line": strings.TrimSpace(lines[i])},
		}

		var notes []string
		for j := i + 1; j < len(lines) && j <= i+followUpLines; j++ {
			next := lines[j]
			if cardTxnRegex.MatchString(next) {
				break
			}
			switch {
			case cardRefRegex.MatchString(next):
				tx.Reference = cardRefRegex.FindStringSubmatch(next)[1]
			case cardLocRegex.MatchString(next):
				merchant, city := d.splitLocation(cardLocRegex.FindStringSubmatch(next)[1])
				tx.Merchant = merchant
				if city != "" {
					tx.RawFields["city"] = city
					notes = append(notes, "City: "+city)
				}
			case cardFXRegex.MatchString(next):
				notes = append(notes, foreignAmountNote(next))
			}
		}

		if tx.Merchant == "" {
			tx.Merchant = ExtractMerchant(description)
		}
		tx.Category = GuessCategory(joinNonEmpty(" ", description, tx.Merchant))
		tx.Notes = strings.Join(notes, "; ")
		txs = append(txs, tx)
	}

	return txs, warnings
}

// signedAmount applies the sign convention: an explicit sign wins,
// otherwise card charges are debits unless the description reads as a
// credit.
func (d *CardStatementDialect) signedAmount(raw, description string) (decimal.Decimal, error) {
	amount, err := ParseAmount(raw, d.decimalSep)
	if err != nil {
		return decimal.Zero, err
	}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "+") {
		return amount, nil
	}

	lower := strings.ToLower(description)
	for _, w := range creditWords {
		if strings.Contains(lower, w) {
			return amount.Abs(), nil
		}
	}
	return amount.Abs().Neg(), nil
}

// splitLocation separates a trailing known city from the merchant name.
func (d *CardStatementDialect) splitLocation(loc string) (string, string) {
	loc = strings.Join(strings.Fields(loc), " ")
	lower := strings.ToLower(loc)
	for _, city := range d.cities {
		suffix := " " + strings.ToLower(city)
		if strings.HasSuffix(lower, suffix) {
			merchant := strings.TrimSpace(loc[:len(loc)-len(suffix)])
			return strings.Trim(merchant, " ,"), strings.TrimSpace(loc[len(loc)-len(city):])
		}
	}
	return loc, ""
}

func findStatementPeriod(text string) (statementPeriod, bool) {
	m := cardPeriodRegex.FindStringSubmatch(text)
	if m == nil {
		return statementPeriod{}, false
	}
	startYear, _ := strconv.Atoi(m[3])
	endMonth, _ := strconv.Atoi(m[5])
	endYear, _ := strconv.Atoi(m[6])
	return statementPeriod{startYear: startYear, endYear: endYear, endMonth: endMonth}, true
}

func foreignAmountNote(line string) string {
	m := cardFXRegex.FindStringSubmatch(line)
	note := "Original amount " + m[1] + " " + m[2]
	if amount, err := ParseAmount(m[1], DecimalComma); err == nil {
		note = "Original amount " + amount.StringFixed(2) + " " + m[2]
	}
	if r := cardRateRegex.FindStringSubmatch(line); r != nil {
		note += ", rate " + strings.ReplaceAll(r[1], ",", ".")
	}
	return note
}
