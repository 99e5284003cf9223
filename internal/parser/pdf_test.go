package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExtractor returns canned page text instead of reading a document.
type fakeExtractor struct {
	pages []string
	err   error
}

func (f fakeExtractor) ExtractPages(ctx context.Context, path string) ([]string, error) {
	return f.pages, f.err
}

func newTestPDFParser(t *testing.T, pages ...string) *PDFParser {
	t.Helper()
	p, err := NewPDFParser(DefaultConfig().PDF, fakeExtractor{pages: pages})
	require.NoError(t, err)
	return p
}

const cardStatementPage = `Card statement
Card number: **** 1234
Statement period: 15.12.2023 - 14.01.2024
20. 12.  LIDL BRATISLAVA             -12,50
Reference: 123456789
Location: LIDL SLOVENSKO Bratislava
5. 1.  AMAZON EU                   1 300,54
Location: AMAZON EU SARL Luxembourg
Original amount: 1 400,00 USD rate 1,0770
7. 1.  REFUND SHOP                 +5,00
Available balance 1 000,00
`

func TestPDFParser_Table(t *testing.T) {
	page := "Date        Description          Amount\n" +
		"01/15/2024  COFFEE SHOP          -4.50\n" +
		"01/16/2024  GROCERY STORE        -23.10\n" +
		"Total                            -27.60\n"

	res := newTestPDFParser(t, page).Parse(context.Background(), "statement.pdf", Options{Now: fixedNow})

	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, "table", res.Metadata["extraction_method"])
	assert.Equal(t, 1, res.Metadata["page_count"])
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, date(2024, 1, 15), res.Transactions[0].Date)
	assert.Equal(t, "COFFEE SHOP", res.Transactions[0].Description)
	assertAmount(t, "-4.50", res.Transactions[0].Amount)
	assertAmount(t, "-23.10", res.Transactions[1].Amount)
}

func TestPDFParser_CardStatementDialect(t *testing.T) {
	res := newTestPDFParser(t, cardStatementPage).Parse(context.Background(), "card.pdf", Options{Now: date(2024, 2, 1)})

	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, "dialect:card-statement", res.Metadata["extraction_method"])
	require.Len(t, res.Transactions, 3)

	lidl := res.Transactions[0]
	assert.Equal(t, date(2023, 12, 20), lidl.Date, "December belongs to the period start year")
	assertAmount(t, "-12.50", lidl.Amount)
	assert.Equal(t, "LIDL BRATISLAVA", lidl.Description)
	assert.Equal(t, "123456789", lidl.Reference)
	assert.Equal(t, "LIDL SLOVENSKO", lidl.Merchant)
	assert.Equal(t, "Bratislava", lidl.RawFields["city"])
	assert.Equal(t, "City: Bratislava", lidl.Notes)
	assert.Equal(t, CategoryGroceries, lidl.Category)

	amazon := res.Transactions[1]
	assert.Equal(t, date(2024, 1, 5), amazon.Date)
	assertAmount(t, "-1300.54", amazon.Amount)
	assert.Equal(t, "AMAZON EU SARL Luxembourg", amazon.Merchant)
	assert.Equal(t, "Original amount 1400.00 USD, rate 1.0770", amazon.Notes)

	refund := res.Transactions[2]
	assert.Equal(t, date(2024, 1, 7), refund.Date)
	assertAmount(t, "5", refund.Amount)
}

func TestPDFParser_DialectWithoutPeriod(t *testing.T) {
	page := "Card statement\nCard number: 1234\nLocation: head office\nIssued 01.03.2023\n3. 2.  BOOKSHOP  -9,99\n"

	res := newTestPDFParser(t, page).Parse(context.Background(), "card.pdf", Options{Now: fixedNow})

	require.True(t, res.Success)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, date(2023, 2, 3), res.Transactions[0].Date)
	assertAmount(t, "-9.99", res.Transactions[0].Amount)
	assert.Contains(t, res.Warnings, "statement period not found; assuming year 2023")
}

func TestPDFParser_Pattern(t *testing.T) {
	page := "Statement\n2024-01-15 COFFEE SHOP -4.50\n2024-01-16 BOOK STORE 12.00\n"

	res := newTestPDFParser(t, page).Parse(context.Background(), "plain.pdf", Options{Now: fixedNow})

	require.True(t, res.Success)
	assert.Equal(t, "pattern", res.Metadata["extraction_method"])
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, "COFFEE SHOP", res.Transactions[0].Description)
	assertAmount(t, "-4.50", res.Transactions[0].Amount)
	assert.Equal(t, "BOOK STORE", res.Transactions[1].Description)
	assertAmount(t, "12", res.Transactions[1].Amount)
}

func TestPDFParser_NoText(t *testing.T) {
	res := newTestPDFParser(t, "", "  \n").Parse(context.Background(), "scan.pdf", Options{})

	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "no extractable text")
	assert.Equal(t, 2, res.Metadata["page_count"])
}

func TestPDFParser_ExtractorError(t *testing.T) {
	p, err := NewPDFParser(DefaultConfig().PDF, fakeExtractor{err: errors.New("encrypted")})
	require.NoError(t, err)

	res := p.Parse(context.Background(), "locked.pdf", Options{})

	assert.False(t, res.Success)
	assert.Contains(t, res.Errors[0], "encrypted")
}

func TestPDFParser_NothingRecognized(t *testing.T) {
	res := newTestPDFParser(t, "Dear customer,\nthank you for banking with us.\n").Parse(context.Background(), "letter.pdf", Options{})

	assert.True(t, res.Success)
	assert.Empty(t, res.Transactions)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "no transactions recognized")
}

func TestStatementPeriod_YearFor(t *testing.T) {
	spanning := statementPeriod{startYear: 2023, endYear: 2024, endMonth: 1}
	assert.Equal(t, 2023, spanning.yearFor(12))
	assert.Equal(t, 2024, spanning.yearFor(1))

	single := statementPeriod{startYear: 2024, endYear: 2024, endMonth: 6}
	assert.Equal(t, 2024, single.yearFor(3))
}

func TestCardStatementDialect_Detect(t *testing.T) {
	d := NewCardStatementDialect(DefaultConfig().PDF)
	assert.True(t, d.Detect([]string{cardStatementPage}))
	assert.False(t, d.Detect([]string{"Account summary\nDate Description Amount"}))
}

func TestPick(t *testing.T) {
	cols := []string{"a", "b", "c"}

	v, ok := pick(cols, -1)
	assert.True(t, ok)
	assert.Equal(t, "c", v)

	_, ok = pick(cols, 3)
	assert.False(t, ok)
}
