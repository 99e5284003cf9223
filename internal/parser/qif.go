package parser

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/frno10/ExpenseTracker-sub000/internal/detect"
)

// qifDateLayouts covers the Quicken export variants; apostrophe years are
// handled before these are tried.
var qifDateLayouts = []string{
	"1/2/2006",
	"1/2/06",
	"2.1.2006",
	"2006-1-2",
	"1-2-2006",
	"1-2-06",
}

// qifSkippedSections hold lists rather than transactions.
var qifSkippedSections = map[string]bool{
	"cat":       true,
	"class":     true,
	"memorized": true,
	"prices":    true,
	"security":  true,
}

// QIFParser reads Quicken Interchange Format files.
type QIFParser struct {
	cfg QIFConfig
}

// NewQIFParser validates cfg and returns a parser.
func NewQIFParser(cfg QIFConfig) (*QIFParser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &QIFParser{cfg: cfg}, nil
}

func (p *QIFParser) Name() string { return "qif" }

func (p *QIFParser) Extensions() []string { return []string{".qif"} }

func (p *QIFParser) MIMETypes() []string {
	return []string{"application/qif", "application/x-qif", "application/vnd.intu.qif"}
}

// CanParse requires a leading !Type, !Account or !Option line when the
// content is known.
func (p *QIFParser) CanParse(c Candidate) bool {
	if c.sniffed() {
		return looksLikeQIF(c.Head)
	}
	return c.matches(p.Extensions(), p.MIMETypes())
}

// qifSplit is one S/E/$ group inside a record.
type qifSplit struct {
	category string
	memo     string
	amount   string
}

// qifRecord accumulates field codes until the '^' terminator.
type qifRecord struct {
	line   int
	fields map[byte]string
	splits []qifSplit
}

func (r *qifRecord) empty() bool {
	return len(r.fields) == 0 && len(r.splits) == 0
}

// Parse streams the file line by line.
func (p *QIFParser) Parse(ctx context.Context, path string, opts Options) (res ParseResult) {
	b := newResultBuilder(p.Name())
	defer recoverInto(b, &res)

	f, err := os.Open(path)
	if err != nil {
		b.errorf("read file: %v", err)
		return b.result()
	}
	defer f.Close()

	b.meta("encoding", encodingLabel(opts.Encoding))

	scanner := bufio.NewScanner(detect.NewReader(f, opts.Encoding))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		section    = "bank"
		account    string
		inAccount  bool
		rec        = &qifRecord{fields: map[byte]string{}}
		lineNo     int
		total      int
		skipped    int
		headerSeen bool
		now        = opts.now()
	)

	flush := func() {
		if rec.empty() {
			return
		}
		if inAccount {
			if name := rec.fields['N']; name != "" {
				account = name
			}
		} else if !qifSkippedSections[section] {
			total++
			tx, err := p.convert(rec, account, now)
			if err != nil {
				skipped++
				b.warnf("record at line %d: %v", rec.line, err)
			} else {
				for _, w := range ValidateTransaction(tx, now) {
					b.warnf("record at line %d: %s", rec.line, w)
				}
				b.add(tx)
			}
		}
		rec = &qifRecord{fields: map[byte]string{}}
	}

	for scanner.Scan() {
		lineNo++
		if lineNo%contextCheckInterval == 0 && ctx.Err() != nil {
			b.errorf("parse cancelled: %v", ctx.Err())
			return b.result()
		}

		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if line[0] == '!' {
			flush()
			header := strings.ToLower(strings.TrimSpace(line[1:]))
			switch {
			case header == "account":
				inAccount = true
			case strings.HasPrefix(header, "type:"):
				inAccount = false
				section = strings.TrimSpace(strings.TrimPrefix(header, "type:"))
				headerSeen = true
				b.meta("account_type", section)
			}
			continue
		}

		code, value := line[0], strings.TrimSpace(line[1:])
		if rec.empty() {
			rec.line = lineNo
		}

		switch code {
		case '^':
			flush()
		case 'S':
			rec.splits = append(rec.splits, qifSplit{category: value})
		case 'E':
			if n := len(rec.splits); n > 0 {
				rec.splits[n-1].memo = value
			}
		case '$':
			if n := len(rec.splits); n > 0 {
				rec.splits[n-1].amount = value
			}
		case 'A':
			rec.fields['A'] = joinNonEmpty(", ", rec.fields['A'], value)
		default:
			rec.fields[code] = value
		}
	}
	if err := scanner.Err(); err != nil {
		b.errorf("read file: %v", err)
		return b.result()
	}
	if !rec.empty() {
		b.warnf("record at line %d is missing its '^' terminator", rec.line)
		flush()
	}

	if !headerSeen {
		b.warnf("no !Type header; assuming bank transactions")
	}
	if account != "" {
		b.meta("account", account)
	}
	b.meta("total_rows", total)
	b.meta("parsed_rows", len(b.transactions))
	b.meta("skipped_rows", skipped)
	return b.result()
}

func (p *QIFParser) convert(rec *qifRecord, account string, now time.Time) (ParsedTransaction, error) {
	var tx ParsedTransaction

	rawDate := rec.fields['D']
	if rawDate == "" {
		return tx, fmt.Errorf("%w: date", errMissingField)
	}
	date, err := p.parseDate(rawDate, now)
	if err != nil {
		return tx, err
	}

	rawAmount := rec.fields['T']
	if rawAmount == "" {
		rawAmount = rec.fields['U']
	}
	if rawAmount == "" {
		return tx, fmt.Errorf("%w: amount", errMissingField)
	}
	amount, err := ParseAmount(rawAmount, p.cfg.DecimalSeparator)
	if err != nil {
		return tx, err
	}

	payee := rec.fields['P']
	memo := rec.fields['M']
	ref := ""
	if n := rec.fields['N']; n != "" {
		ref = "Ref " + n
	}
	category, transfer := qifCategory(rec.fields['L'])

	description := joinNonEmpty(" - ", payee, memo, ref)
	if description == "" {
		description = category
	}
	if category == "" {
		category = GuessCategory(description)
	}
	if transfer {
		category = CategoryTransfer
	}

	raw := make(map[string]string, len(rec.fields))
	for code, v := range rec.fields {
		raw[string(code)] = v
	}

	tx = ParsedTransaction{
		Date:        date,
		Description: description,
		Amount:      amount,
		Merchant:    ExtractMerchant(payee),
		Category:    category,
		Account:     account,
		Reference:   rec.fields['N'],
		Notes:       splitNotes(rec.splits),
		RawFields:   raw,
	}
	return tx, nil
}

// parseDate handles Quicken's apostrophe years ("1/15'24" is 2024) before
// falling back to the configured layouts.
func (p *QIFParser) parseDate(s string, now time.Time) (time.Time, error) {
	compact := strings.ReplaceAll(strings.TrimSpace(s), " ", "")

	if i := strings.Index(compact, "'"); i > 0 {
		md := strings.FieldsFunc(compact[:i], func(r rune) bool { return r == '/' || r == '-' || r == '.' })
		year, err := strconv.Atoi(compact[i+1:])
		if len(md) == 2 && err == nil {
			month, errM := strconv.Atoi(md[0])
			day, errD := strconv.Atoi(md[1])
			if errM == nil && errD == nil && month >= 1 && month <= 12 && day >= 1 && day <= 31 {
				if year < 100 {
					year += 2000
				}
				t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
				if t.Day() == day {
					return t, nil
				}
			}
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}

	layouts := p.cfg.DateLayouts
	if len(layouts) == 0 {
		layouts = qifDateLayouts
	}
	return ParseDate(compact, layouts, now)
}

// qifCategory returns the L field as a category. "[Account]" denotes a
// transfer to another account.
func qifCategory(l string) (string, bool) {
	l = strings.TrimSpace(l)
	if strings.HasPrefix(l, "[") && strings.HasSuffix(l, "]") {
		return strings.TrimSpace(l[1 : len(l)-1]), true
	}
	if i := strings.Index(l, "/"); i >= 0 {
		l = l[:i]
	}
	return l, false
}

func splitNotes(splits []qifSplit) string {
	if len(splits) == 0 {
		return ""
	}
	parts := make([]string, 0, len(splits))
	for _, s := range splits {
		part := joinNonEmpty(" ", s.category, s.amount)
		if s.memo != "" {
			part += " (" + s.memo + ")"
		}
		parts = append(parts, strings.TrimSpace(part))
	}
	return "Split: " + strings.Join(parts, "; ")
}
