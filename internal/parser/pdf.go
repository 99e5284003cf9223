package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/shopspring/decimal"
)

// PDF extraction methods reported in metadata.
const (
	methodTable   = "table"
	methodDialect = "dialect"
	methodPattern = "pattern"
)

// PageExtractor returns the plain text of every page of a document.
type PageExtractor interface {
	ExtractPages(ctx context.Context, path string) ([]string, error)
}

// FitzExtractor extracts page text with MuPDF.
type FitzExtractor struct{}

// ExtractPages implements PageExtractor.
func (FitzExtractor) ExtractPages(ctx context.Context, path string) ([]string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

var (
	columnGapRegex  = regexp.MustCompile(`\s{2,}|\t+`)
	lineDateRegex   = regexp.MustCompile(`^\s*(\d{4}-\d{1,2}-\d{1,2}|\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4}|[A-Z][a-z]{2}\.? \d{1,2},? \d{4}|\d{1,2} [A-Z][a-z]{2} \d{4})\b`)
	lineAmountRegex = regexp.MustCompile(`[-+(]?[$€£]?\s?\d{1,3}(?:[,.\x{00a0} ]?\d{3})*[.,]\d{2}\)?(?:\s?(?:CR|DR))?-?`)
)

// PDFParser extracts transactions from text-based statement PDFs. It tries
// table extraction, then the registered dialects, then generic line patterns,
// and keeps the first strategy that yields transactions.
type PDFParser struct {
	cfg       PDFConfig
	extractor PageExtractor
	dialects  []Dialect
	summary   []string
}

// NewPDFParser validates cfg and returns a parser. A nil extractor uses
// FitzExtractor; no dialects means the built-in card statement dialect.
func NewPDFParser(cfg PDFConfig, extractor PageExtractor, dialects ...Dialect) (*PDFParser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if extractor == nil {
		extractor = FitzExtractor{}
	}
	if len(dialects) == 0 {
		dialects = []Dialect{NewCardStatementDialect(cfg)}
	}
	return &PDFParser{
		cfg:       cfg,
		extractor: extractor,
		dialects:  dialects,
		summary:   normalizeAliases(cfg.SummaryKeywords),
	}, nil
}

func (p *PDFParser) Name() string { return "pdf" }

func (p *PDFParser) Extensions() []string { return []string{".pdf"} }

func (p *PDFParser) MIMETypes() []string { return []string{"application/pdf"} }

func (p *PDFParser) CanParse(c Candidate) bool {
	if c.sniffed() {
		return looksLikePDF(c.Head)
	}
	return c.matches(p.Extensions(), p.MIMETypes())
}

// Parse implements Parser.
func (p *PDFParser) Parse(ctx context.Context, path string, opts Options) (res ParseResult) {
	b := newResultBuilder(p.Name())
	defer recoverInto(b, &res)

	pages, err := p.extractor.ExtractPages(ctx, path)
	if err != nil {
		b.errorf("extract text: %v", err)
		return b.result()
	}
	b.meta("page_count", len(pages))

	if strings.TrimSpace(strings.Join(pages, "")) == "" {
		b.errorf("document has no extractable text; scanned statements are not supported")
		return b.result()
	}

	now := opts.now()
	txs, method, warnings := p.extract(pages, opts.BankHint, now)
	b.meta("extraction_method", method)
	for _, w := range warnings {
		b.warnf("%s", w)
	}
	if len(txs) == 0 {
		b.warnf("no transactions recognized in %d page(s)", len(pages))
	}
	for i, tx := range txs {
		for _, w := range ValidateTransaction(tx, now) {
			b.warnf("transaction %d: %s", i+1, w)
		}
		b.add(tx)
	}
	b.meta("parsed_rows", len(txs))
	return b.result()
}

func (p *PDFParser) extract(pages []string, bankHint string, now time.Time) ([]ParsedTransaction, string, []string) {
	if txs := p.extractTable(pages, now); len(txs) > 0 {
		return txs, methodTable, nil
	}

	for _, d := range p.orderedDialects(bankHint) {
		if !d.Detect(pages) && !strings.EqualFold(d.Name(), bankHint) {
			continue
		}
		txs, warnings := d.Extract(pages, now)
		if len(txs) > 0 {
			return txs, methodDialect + ":" + d.Name(), warnings
		}
	}

	return p.extractPattern(pages, now), methodPattern, nil
}

// orderedDialects puts the dialect named by bankHint first.
func (p *PDFParser) orderedDialects(bankHint string) []Dialect {
	if bankHint == "" {
		return p.dialects
	}
	out := make([]Dialect, 0, len(p.dialects))
	for _, d := range p.dialects {
		if strings.EqualFold(d.Name(), bankHint) {
			out = append([]Dialect{d}, out...)
		} else {
			out = append(out, d)
		}
	}
	return out
}

func (p *PDFParser) isSummaryLine(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range p.summary {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// extractTable reads lines whose columns are separated by runs of spaces.
// Fewer than Table.MinRows matches means the page is not a table.
func (p *PDFParser) extractTable(pages []string, now time.Time) []ParsedTransaction {
	var txs []ParsedTransaction
	for _, page := range pages {
		for _, line := range strings.Split(page, "\n") {
			if p.isSummaryLine(line) {
				continue
			}
			cols := columnGapRegex.Split(strings.TrimSpace(line), -1)
			if len(cols) < 3 {
				continue
			}
			dateCell, ok1 := pick(cols, p.cfg.Table.DateColumn)
			descCell, ok2 := pick(cols, p.cfg.Table.DescriptionColumn)
			amountCell, ok3 := pick(cols, p.cfg.Table.AmountColumn)
			if !ok1 || !ok2 || !ok3 {
				continue
			}
			date, err := ParseDate(dateCell, p.cfg.DateLayouts, now)
			if err != nil {
				continue
			}
			amount, err := ParseAmount(amountCell, p.cfg.DecimalSeparator)
			if err != nil {
				continue
			}
			txs = append(txs, p.newTransaction(date, descCell, amount, line))
		}
	}
	if len(txs) < p.cfg.Table.MinRows {
		return nil
	}
	return txs
}

// extractPattern finds a date at the start of a line and the last
// money-looking token; the text between them is the description.
func (p *PDFParser) extractPattern(pages []string, now time.Time) []ParsedTransaction {
	var txs []ParsedTransaction
	for _, page := range pages {
		for _, line := range strings.Split(page, "\n") {
			if p.isSummaryLine(line) {
				continue
			}
			dm := lineDateRegex.FindStringSubmatchIndex(line)
			if dm == nil {
				continue
			}
			date, err := ParseDate(line[dm[2]:dm[3]], p.cfg.DateLayouts, now)
			if err != nil {
				continue
			}

			rest := line[dm[1]:]
			amounts := lineAmountRegex.FindAllStringIndex(rest, -1)
			if len(amounts) == 0 {
				continue
			}
			last := amounts[len(amounts)-1]
			amount, err := ParseAmount(rest[last[0]:last[1]], p.cfg.DecimalSeparator)
			if err != nil {
				continue
			}
			desc := strings.TrimSpace(rest[:last[0]])
			if desc == "" {
				continue
			}
			txs = append(txs, p.newTransaction(date, desc, amount, line))
		}
	}
	return txs
}

func (p *PDFParser) newTransaction(date time.Time, desc string, amount decimal.Decimal, line string) ParsedTransaction {
	desc = strings.Join(strings.Fields(desc), " ")
	return ParsedTransaction{
		Date:        date,
		Description: desc,
		Amount:      amount,
		Merchant:    ExtractMerchant(desc),
		Category:    GuessCategory(desc),
		RawFields:   map[string]string{"line": strings.TrimSpace(line)},
	}
}

// pick returns cols[idx], counting negative indices from the end.
func pick(cols []string, idx int) (string, bool) {
	if idx < 0 {
		idx = len(cols) + idx
	}
	if idx < 0 || idx >= len(cols) {
		return "", false
	}
	return cols[idx], true
}
