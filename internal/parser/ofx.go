package parser

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/frno10/ExpenseTracker-sub000/internal/detect"
)

// Category hints derived from OFX transaction types.
const (
	CategoryIncome   = "Income"
	CategoryFees     = "Fees"
	CategoryTransfer = "Transfer"
	CategoryCash     = "Cash"
	CategoryCheck    = "Check"
)

var (
	stmtTrnRegex   = regexp.MustCompile(`(?is)<STMTTRN>(.*?)(?:</STMTTRN>|<STMTTRN>|</BANKTRANLIST>)`)
	sgmlTagRegex   = regexp.MustCompile(`(?i)<([A-Z0-9.]+)>([^<\r\n]*)`)
	acctIDRegex    = regexp.MustCompile(`(?i)<ACCTID>([^<\r\n]+)`)
	fitIDLikeRegex = regexp.MustCompile(`\b[A-Z0-9]{10,}\b`)
)

// OFXParser reads OFX and QFX statements (bank and credit card).
type OFXParser struct {
	cfg OFXConfig
}

// NewOFXParser validates cfg and returns a parser.
func NewOFXParser(cfg OFXConfig) (*OFXParser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OFXParser{cfg: cfg}, nil
}

func (p *OFXParser) Name() string { return "ofx" }

func (p *OFXParser) Extensions() []string { return []string{".ofx", ".qfx"} }

func (p *OFXParser) MIMETypes() []string {
	return []string{"application/x-ofx", "application/ofx", "application/vnd.intu.qfx", "application/x-qfx"}
}

// CanParse trusts an OFX header or root element in the content over the
// file name.
func (p *OFXParser) CanParse(c Candidate) bool {
	if c.sniffed() {
		return looksLikeOFX(c.Head)
	}
	return c.matches(p.Extensions(), p.MIMETypes())
}

// Parse tries each configured encoding until the document parses, then
// salvages <STMTTRN> blocks directly if none did.
func (p *OFXParser) Parse(ctx context.Context, path string, opts Options) (res ParseResult) {
	b := newResultBuilder(p.Name())
	defer recoverInto(b, &res)

	data, err := os.ReadFile(path)
	if err != nil {
		b.errorf("read file: %v", err)
		return b.result()
	}

	var lastErr error
	for _, enc := range p.encodings(opts.Encoding) {
		if ctx.Err() != nil {
			b.errorf("parse cancelled: %v", ctx.Err())
			return b.result()
		}
		resp, err := ofxgo.ParseResponse(strings.NewReader(detect.Decode(data, enc)))
		if err != nil {
			lastErr = err
			continue
		}
		b.meta("encoding", enc)
		b.meta("extraction_method", "structured")
		p.collect(b, resp, opts.now())
		return b.result()
	}

	text := detect.Decode(data, opts.Encoding)
	if !p.salvage(b, text, opts.now()) {
		b.errorf("invalid OFX document: %v", lastErr)
		return b.result()
	}
	b.warnf("document did not parse as OFX (%v); transactions were recovered from raw records", lastErr)
	b.meta("encoding", encodingLabel(opts.Encoding))
	b.meta("extraction_method", "lenient")
	return b.result()
}

func (p *OFXParser) encodings(detected string) []string {
	out := make([]string, 0, len(p.cfg.Encodings)+1)
	seen := make(map[string]bool)
	for _, e := range append([]string{detected}, p.cfg.Encodings...) {
		e = detect.Canonical(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func (p *OFXParser) collect(b *resultBuilder, resp *ofxgo.Response, now time.Time) {
	statements := 0

	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		statements++
		p.addTransactions(b, stmt.BankTranList.Transactions, stmt.BankAcctFrom.AcctID.String(), now)
	}
	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		statements++
		p.addTransactions(b, stmt.BankTranList.Transactions, stmt.CCAcctFrom.AcctID.String(), now)
	}

	b.meta("statements", statements)
	b.meta("parsed_rows", len(b.transactions))
	if statements == 0 {
		b.warnf("no bank or credit card statements found")
	}
}

func (p *OFXParser) addTransactions(b *resultBuilder, txs []ofxgo.Transaction, account string, now time.Time) {
	for i, t := range txs {
		amount, err := decimal.NewFromString(t.TrnAmt.Rat.FloatString(4))
		if err != nil {
			b.warnf("transaction %d: invalid amount: %v", i+1, err)
			continue
		}

		payee := t.Name.String()
		if t.Payee != nil && t.Payee.Name.String() != "" {
			payee = t.Payee.Name.String()
		}

		tx := ofxRecord{
			trnType:  t.TrnType.String(),
			date:     t.DtPosted.Time,
			amount:   amount,
			payee:    payee,
			memo:     t.Memo.String(),
			checkNum: t.CheckNum.String(),
			fitID:    t.FiTID.String(),
			account:  account,
		}.transaction()

		for _, w := range ValidateTransaction(tx, now) {
			b.warnf("transaction %d: %s", i+1, w)
		}
		b.add(tx)
	}
}

// salvage extracts transactions from raw <STMTTRN> blocks. It reports
// whether any transaction was recovered.
func (p *OFXParser) salvage(b *resultBuilder, text string, now time.Time) bool {
	account := ""
	if m := acctIDRegex.FindStringSubmatch(text); m != nil {
		account = strings.TrimSpace(m[1])
	}

	blocks := stmtTrnRegex.FindAllStringSubmatch(text, -1)
	for i, block := range blocks {
		fields := make(map[string]string)
		for _, m := range sgmlTagRegex.FindAllStringSubmatch(block[1], -1) {
			fields[strings.ToUpper(m[1])] = strings.TrimSpace(m[2])
		}

		date, err := parseOFXDate(fields["DTPOSTED"])
		if err != nil {
			b.warnf("record %d: %v", i+1, err)
			continue
		}
		amount, err := ParseAmount(fields["TRNAMT"], DecimalAuto)
		if err != nil {
			b.warnf("record %d: %v", i+1, err)
			continue
		}

		tx := ofxRecord{
			trnType:  strings.ToUpper(fields["TRNTYPE"]),
			date:     date,
			amount:   amount,
			payee:    fields["NAME"],
			memo:     fields["MEMO"],
			checkNum: fields["CHECKNUM"],
			fitID:    fields["FITID"],
			account:  account,
		}.transaction()

		for _, w := range ValidateTransaction(tx, now) {
			b.warnf("record %d: %s", i+1, w)
		}
		b.add(tx)
	}
	b.meta("parsed_rows", len(b.transactions))
	return len(b.transactions) > 0
}

// parseOFXDate reads the leading YYYYMMDD of an OFX datetime.
func parseOFXDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) < 8 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	t, err := time.Parse("20060102", s[:8])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// ofxRecord is the format-neutral view of one statement transaction.
type ofxRecord struct {
	trnType  string
	date     time.Time
	amount   decimal.Decimal
	payee    string
	memo     string
	checkNum string
	fitID    string
	account  string
}

func (r ofxRecord) transaction() ParsedTransaction {
	check := ""
	if r.checkNum != "" {
		check = "Check #" + r.checkNum
	}
	description := joinNonEmpty(" - ", r.payee, r.memo, check)

	merchant := cleanOFXMerchant(r.payee)
	if merchant == "" {
		merchant = cleanOFXMerchant(r.memo)
	}

	raw := map[string]string{
		"TRNTYPE": r.trnType,
		"NAME":    r.payee,
		"MEMO":    r.memo,
		"FITID":   r.fitID,
	}
	if r.checkNum != "" {
		raw["CHECKNUM"] = r.checkNum
	}

	return ParsedTransaction{
		Date:        dateOnly(r.date),
		Description: description,
		Amount:      r.amount,
		Merchant:    merchant,
		Category:    ofxCategory(r.trnType, description),
		Account:     r.account,
		Reference:   r.fitID,
		RawFields:   raw,
	}
}

// cleanOFXMerchant removes transaction-id-like tokens before the shared
// merchant cleanup.
func cleanOFXMerchant(s string) string {
	return ExtractMerchant(fitIDLikeRegex.ReplaceAllString(s, " "))
}

// ofxCategory maps TRNTYPE to an advisory category.
func ofxCategory(trnType, description string) string {
	switch strings.ToUpper(trnType) {
	case "INT", "DIV":
		return CategoryIncome
	case "FEE", "SRVCHG":
		return CategoryFees
	case "XFER":
		return CategoryTransfer
	case "ATM", "CASH":
		return CategoryCash
	case "CHECK":
		return CategoryCheck
	}
	return GuessCategory(description)
}
