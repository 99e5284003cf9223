package parser

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/frno10/ExpenseTracker-sub000/internal/detect"
)

// Extraction methods reported in CSV metadata.
const (
	methodStructured = "structured"
	methodManual     = "manual"
)

// CSVParser reads delimited bank exports.
type CSVParser struct {
	cfg        CSVConfig
	delimiters []rune
}

// NewCSVParser validates cfg and returns a parser.
func NewCSVParser(cfg CSVConfig) (*CSVParser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	delims := make([]rune, 0, len(cfg.Delimiters))
	for _, d := range cfg.Delimiters {
		delims = append(delims, []rune(d)[0])
	}
	return &CSVParser{cfg: cfg, delimiters: delims}, nil
}

func (p *CSVParser) Name() string { return "csv" }

func (p *CSVParser) Extensions() []string { return []string{".csv", ".txt"} }

func (p *CSVParser) MIMETypes() []string {
	return []string{"text/csv", "text/plain", "application/csv", "text/tab-separated-values"}
}

// CanParse accepts text content that either looks delimited or carries a
// CSV name or type. Binary content is never accepted.
func (p *CSVParser) CanParse(c Candidate) bool {
	if c.sniffed() {
		if !isText(c.Head) {
			return false
		}
		if looksDelimited(c.Head, p.delimiters) {
			return true
		}
	}
	return c.matches(p.Extensions(), p.MIMETypes())
}

// Parse reads the file, infers the delimiter and header, and converts every
// data row. Rows without a date or amount are skipped and counted.
func (p *CSVParser) Parse(ctx context.Context, path string, opts Options) (res ParseResult) {
	b := newResultBuilder(p.Name())
	defer recoverInto(b, &res)

	data, err := os.ReadFile(path)
	if err != nil {
		b.errorf("read file: %v", err)
		return b.result()
	}
	text := detect.Decode(data, opts.Encoding)
	b.meta("encoding", encodingLabel(opts.Encoding))

	delim := sniffDelimiter(sampleLines(text, p.cfg.SampleLines), p.delimiters)
	b.meta("delimiter", string(delim))

	rows, method := readStructured(text, delim)
	if rows == nil {
		rows = readManual(text, delim)
		method = methodManual
	}
	b.meta("extraction_method", method)

	headerIdx, cols, ok := findHeader(rows, p.cfg.Columns, p.cfg.MaxHeaderSearchRows)
	if !ok {
		b.errorf("no header row with date and amount columns in the first %d rows", p.cfg.MaxHeaderSearchRows)
		return b.result()
	}
	b.meta("header_row", headerIdx+1)

	conv := rowConverter{
		cols:        cols,
		dateLayouts: p.cfg.DateLayouts,
		decimalSep:  p.cfg.DecimalSeparator,
		invertSign:  p.cfg.InvertSign,
		now:         opts.now(),
	}
	convertRows(ctx, b, rows, headerIdx, conv, nil, opts)
	return b.result()
}

// convertRows converts every non-blank row after the header and records
// row accounting in the builder metadata. skip, when non-nil, reports rows
// that should be dropped without conversion (e.g. totals).
func convertRows(ctx context.Context, b *resultBuilder, rows [][]string, headerIdx int, conv rowConverter, skip func([]string) string, opts Options) {
	total, parsed, skipped := 0, 0, 0
	now := opts.now()

	for i := headerIdx + 1; i < len(rows); i++ {
		if i%contextCheckInterval == 0 && ctx.Err() != nil {
			b.errorf("parse cancelled: %v", ctx.Err())
			break
		}

		row := rows[i]
		if isBlankRow(row) {
			continue
		}
		total++
		lineNo := i + 1

		if skip != nil {
			if reason := skip(row); reason != "" {
				skipped++
				b.warnf("row %d: skipped %s", lineNo, reason)
				continue
			}
		}

		tx, err := conv.convert(row)
		if err != nil {
			skipped++
			b.warnf("row %d: %v", lineNo, err)
			continue
		}

		for _, w := range ValidateTransaction(tx, now) {
			b.warnf("row %d: %s", lineNo, w)
		}
		b.add(tx)
		parsed++
	}

	b.meta("total_rows", total)
	b.meta("parsed_rows", parsed)
	b.meta("skipped_rows", skipped)
}

// contextCheckInterval is how often row loops check for cancellation.
const contextCheckInterval = 100

func encodingLabel(enc string) string {
	if enc == "" {
		return detect.UTF8
	}
	return detect.Canonical(enc)
}

// sampleLines returns up to n non-empty lines from the start of text.
func sampleLines(text string, n int) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return lines
}

// sniffDelimiter picks the candidate whose per-line count (outside quotes)
// is most consistent across lines, preferring higher counts on ties and
// earlier candidates after that.
func sniffDelimiter(lines []string, candidates []rune) rune {
	best := ','
	if len(candidates) > 0 {
		best = candidates[0]
	}
	bestConsistency, bestCount := 0.0, 0

	for _, c := range candidates {
		counts := make(map[int]int)
		for _, line := range lines {
			counts[countUnquoted(line, c)]++
		}

		mode, modeFreq := 0, 0
		for count, freq := range counts {
			if count == 0 {
				continue
			}
			if freq > modeFreq || (freq == modeFreq && count > mode) {
				mode, modeFreq = count, freq
			}
		}
		if mode == 0 {
			continue
		}

		consistency := float64(modeFreq) / float64(len(lines))
		if consistency > bestConsistency || (consistency == bestConsistency && mode > bestCount) {
			best, bestConsistency, bestCount = c, consistency, mode
		}
	}
	return best
}

func countUnquoted(line string, delim rune) int {
	n := 0
	inQuotes := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == delim && !inQuotes:
			n++
		}
	}
	return n
}

// readStructured parses text with encoding/csv. It returns nil when the
// reader fails or every record has fewer than two fields.
func readStructured(text string, delim rune) ([][]string, string) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, ""
	}

	widest := 0
	for _, rec := range records {
		if len(rec) > widest {
			widest = len(rec)
		}
	}
	if widest < 2 {
		return nil, ""
	}
	return records, methodStructured
}

// readManual splits each line on delim, honouring double quotes.
func readManual(text string, delim rune) [][]string {
	var rows [][]string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		rows = append(rows, splitQuoted(line, delim))
	}
	return rows
}

func splitQuoted(line string, delim rune) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	runes := []rune(line)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' && inQuotes && i+1 < len(runes) && runes[i+1] == '"':
			cur.WriteRune('"')
			i++
		case r == '"':
			inQuotes = !inQuotes
		case r == delim && !inQuotes:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, cur.String())
}

// String describes the parser for logs.
func (p *CSVParser) String() string {
	return fmt.Sprintf("csv(delimiters=%q)", p.cfg.Delimiters)
}
