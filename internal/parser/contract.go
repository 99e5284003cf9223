// Package parser turns bank statement files into normalized transactions.
//
// Every format parser implements Parser and reports its outcome as a
// ParseResult instead of returning errors: partial success is the normal case
// for real-world statements, so rejected rows become warnings and the caller
// decides what to do with the rest.
//
// # Sign Convention
//
// Amounts are signed with debits negative and credits positive. Each parser
// normalizes its source format to this convention before returning, so the
// matcher and importer never need to know where a transaction came from.
package parser

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ParsedTransaction is one normalized statement line.
type ParsedTransaction struct {
	Date        time.Time         `json:"date"`
	Description string            `json:"description"`
	Amount      decimal.Decimal   `json:"amount"`
	Merchant    string            `json:"merchant,omitempty"`
	Category    string            `json:"category,omitempty"`
	Account     string            `json:"account,omitempty"`
	Reference   string            `json:"reference,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	RawFields   map[string]string `json:"raw_fields,omitempty"`
}

// IsDebit reports whether the transaction takes money out of the account.
func (t ParsedTransaction) IsDebit() bool {
	return t.Amount.IsNegative()
}

// ParseResult is the outcome of parsing one file.
// Success is true exactly when Errors is empty; an empty transaction list
// with no errors is still a success.
type ParseResult struct {
	Success      bool                `json:"success"`
	Transactions []ParsedTransaction `json:"transactions"`
	Errors       []string            `json:"errors,omitempty"`
	Warnings     []string            `json:"warnings,omitempty"`
	Metadata     map[string]any      `json:"metadata,omitempty"`
}

// Options carries per-call hints for a parse.
type Options struct {
	// BankHint selects an institution-specific layout when one is registered.
	BankHint string

	// Encoding is the detected text encoding; empty means lossy UTF-8.
	Encoding string

	// Now anchors validation of future and stale dates. Zero means time.Now().
	Now time.Time
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

// Parser is implemented by every statement format.
//
// Parse must not panic or return an error; failures are reported through
// ParseResult.Errors. Implementations are stateless between calls.
type Parser interface {
	Name() string
	Extensions() []string
	MIMETypes() []string
	CanParse(c Candidate) bool
	Parse(ctx context.Context, path string, opts Options) ParseResult
}

// resultBuilder accumulates transactions and diagnostics for one parse.
type resultBuilder struct {
	transactions []ParsedTransaction
	errors       []string
	warnings     []string
	metadata     map[string]any
}

func newResultBuilder(parserName string) *resultBuilder {
	return &resultBuilder{
		metadata: map[string]any{"parser": parserName},
	}
}

func (b *resultBuilder) add(tx ParsedTransaction) {
	b.transactions = append(b.transactions, tx)
}

func (b *resultBuilder) errorf(format string, args ...any) {
	b.errors = append(b.errors, fmt.Sprintf(format, args...))
}

func (b *resultBuilder) warnf(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

func (b *resultBuilder) meta(key string, value any) {
	b.metadata[key] = value
}

func (b *resultBuilder) result() ParseResult {
	txs := b.transactions
	if txs == nil {
		txs = []ParsedTransaction{}
	}
	return ParseResult{
		Success:      len(b.errors) == 0,
		Transactions: txs,
		Errors:       b.errors,
		Warnings:     b.warnings,
		Metadata:     b.metadata,
	}
}

// recoverInto converts a panic inside a parser into a result error.
// Use as: defer recoverInto(b, &res)
func recoverInto(b *resultBuilder, res *ParseResult) {
	if r := recover(); r != nil {
		b.errorf("parser failure: %v", r)
		*res = b.result()
	}
}
