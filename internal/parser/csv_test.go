package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCSVParser(t *testing.T) *CSVParser {
	t.Helper()
	p, err := NewCSVParser(DefaultConfig().CSV)
	require.NoError(t, err)
	return p
}

func TestCSVParser_Basic(t *testing.T) {
	path := writeFile(t, "bank.csv", "Date,Description,Amount\n"+
		"2024-01-05,Coffee Shop,-4.50\n"+
		"2024-01-05,Salary,2500.00\n"+
		"2024-01-06,Coffee Shop,-4.50\n")

	res := newTestCSVParser(t).Parse(context.Background(), path, Options{Now: fixedNow})

	require.True(t, res.Success, "errors: %v", res.Errors)
	require.Len(t, res.Transactions, 3)

	first := res.Transactions[0]
	assert.Equal(t, date(2024, 1, 5), first.Date)
	assert.Equal(t, "Coffee Shop", first.Description)
	assertAmount(t, "-4.50", first.Amount)
	assert.Equal(t, CategoryDining, first.Category)
	assert.Empty(t, first.Merchant)
	assert.Equal(t, "Coffee Shop", first.RawFields["Description"])

	assertAmount(t, "2500", res.Transactions[1].Amount)
	assertAmount(t, "-4.50", res.Transactions[2].Amount)

	assert.Equal(t, "csv", res.Metadata["parser"])
	assert.Equal(t, ",", res.Metadata["delimiter"])
	assert.Equal(t, 3, res.Metadata["total_rows"])
	assert.Equal(t, 3, res.Metadata["parsed_rows"])
	assert.Equal(t, 0, res.Metadata["skipped_rows"])
}

func TestCSVParser_RowAccounting(t *testing.T) {
	path := writeFile(t, "bank.csv", "Date,Description,Amount\n"+
		"2024-01-05,A,1.00\n"+
		",B,2.00\n"+
		"2024-01-07,C,\n"+
		"2024-01-08,D,3.00\n"+
		"\n")

	res := newTestCSVParser(t).Parse(context.Background(), path, Options{Now: fixedNow})

	require.True(t, res.Success)
	assert.Len(t, res.Transactions, 2)
	assert.Equal(t, 4, res.Metadata["total_rows"])
	assert.Equal(t, 2, res.Metadata["parsed_rows"])
	assert.Equal(t, 2, res.Metadata["skipped_rows"])
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "row 3")
	assert.Contains(t, res.Warnings[0], "date")
	assert.Contains(t, res.Warnings[1], "row 4")
}

func TestCSVParser_DebitCreditColumns(t *testing.T) {
	path := writeFile(t, "vypis.csv", "Datum;Popis;Debit;Credit\n"+
		"15.01.2024;LIDL;12,50;\n"+
		"16.01.2024;Refund;;3,00\n")

	res := newTestCSVParser(t).Parse(context.Background(), path, Options{Now: fixedNow})

	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, ";", res.Metadata["delimiter"])
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, date(2024, 1, 15), res.Transactions[0].Date)
	assertAmount(t, "-12.50", res.Transactions[0].Amount)
	assert.Equal(t, CategoryGroceries, res.Transactions[0].Category)
	assertAmount(t, "3.00", res.Transactions[1].Amount)
}

func TestCSVParser_AccountingAndQuotedAmounts(t *testing.T) {
	path := writeFile(t, "bank.csv", "Date,Description,Amount\n"+
		"2024-01-05,Fee,(12.90)\n"+
		"2024-01-06,Rent,\"1,300.00\"\n")

	res := newTestCSVParser(t).Parse(context.Background(), path, Options{Now: fixedNow})

	require.True(t, res.Success)
	assert.Equal(t, ",", res.Metadata["delimiter"])
	require.Len(t, res.Transactions, 2)
	assertAmount(t, "-12.90", res.Transactions[0].Amount)
	assertAmount(t, "1300", res.Transactions[1].Amount)
}

func TestCSVParser_HeaderAfterPreamble(t *testing.T) {
	path := writeFile(t, "export.txt", "Account statement\n"+
		"Generated 2024\n"+
		"Date\tDescription\tAmount\n"+
		"2024-01-05\tCoffee\t-4.50\n")

	res := newTestCSVParser(t).Parse(context.Background(), path, Options{Now: fixedNow})

	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, "\t", res.Metadata["delimiter"])
	assert.Equal(t, 3, res.Metadata["header_row"])
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "Coffee", res.Transactions[0].Description)
}

func TestCSVParser_InvertSign(t *testing.T) {
	cfg := DefaultConfig().CSV
	cfg.InvertSign = true
	p, err := NewCSVParser(cfg)
	require.NoError(t, err)

	path := writeFile(t, "card.csv", "Date,Description,Amount\n2024-01-05,Dinner,45.00\n")
	res := p.Parse(context.Background(), path, Options{Now: fixedNow})

	require.Len(t, res.Transactions, 1)
	assertAmount(t, "-45", res.Transactions[0].Amount)
}

func TestCSVParser_NoHeader(t *testing.T) {
	path := writeFile(t, "junk.csv", "foo,bar\n1,2\n")

	res := newTestCSVParser(t).Parse(context.Background(), path, Options{})

	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "no header row")
	assert.NotNil(t, res.Transactions)
}

func TestCSVParser_MissingFile(t *testing.T) {
	res := newTestCSVParser(t).Parse(context.Background(), "/nonexistent/file.csv", Options{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Errors[0], "read file")
}

func TestSniffDelimiter(t *testing.T) {
	candidates := []rune{',', ';', '\t', '|'}

	tests := []struct {
		name  string
		lines []string
		want  rune
	}{
		{"comma", []string{"a,b,c", "1,2,3"}, ','},
		{"semicolon with decimal commas", []string{"a;b;c", "1,5;2;3", "2,5;4;5"}, ';'},
		{"quoted commas ignored", []string{"a|b", `"x,y,z"|1`}, '|'},
		{"no candidates defaults to first", []string{"abc"}, ','},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, string(tt.want), string(sniffDelimiter(tt.lines, candidates)))
		})
	}
}

func TestSplitQuoted(t *testing.T) {
	assert.Equal(t, []string{"a", "b,c", `say "hi"`}, splitQuoted(`a,"b,c","say ""hi"""`, ','))
}

func TestMapColumns_PrefixMatch(t *testing.T) {
	m := mapColumns([]string{"Posting Date", "Amount (EUR)", "Details"}, DefaultColumnAliases())
	assert.Equal(t, 0, m.date)
	assert.Equal(t, 1, m.amount)
	assert.Equal(t, 2, m.description)
	assert.True(t, m.usable())
}
