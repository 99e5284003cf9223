package parser

// columns.go maps tabular rows (CSV and spreadsheet) onto transactions.

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// errMissingField marks rows that lack a required value and are skipped.
var errMissingField = errors.New("missing required field")

// columnMap holds the column index of each field, or -1 when absent.
type columnMap struct {
	header      []string
	date        int
	description int
	amount      int
	debit       int
	credit      int
	merchant    int
	category    int
	account     int
	reference   int
	notes       int
}

func (m columnMap) usable() bool {
	return m.date >= 0 && (m.amount >= 0 || m.debit >= 0 || m.credit >= 0)
}

// mapColumns resolves header cells against aliases. Exact matches are
// assigned first, then headers that start with an alias ("Amount (EUR)").
func mapColumns(header []string, aliases ColumnAliases) columnMap {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = normalizeHeader(h)
	}

	m := columnMap{header: header}
	fields := []struct {
		idx     *int
		aliases []string
	}{
		{&m.date, aliases.Date},
		{&m.debit, aliases.Debit},
		{&m.credit, aliases.Credit},
		{&m.amount, aliases.Amount},
		{&m.merchant, aliases.Merchant},
		{&m.description, aliases.Description},
		{&m.category, aliases.Category},
		{&m.account, aliases.Account},
		{&m.reference, aliases.Reference},
		{&m.notes, aliases.Notes},
	}

	taken := make(map[int]bool)
	for _, f := range fields {
		*f.idx = -1
	}

	match := func(prefix bool) {
		for _, f := range fields {
			if *f.idx >= 0 {
				continue
			}
			for _, alias := range normalizeAliases(f.aliases) {
				for i, h := range normalized {
					if taken[i] || h == "" {
						continue
					}
					if h == alias || (prefix && strings.HasPrefix(h, alias+" ")) {
						*f.idx = i
						taken[i] = true
						break
					}
				}
				if *f.idx >= 0 {
					break
				}
			}
		}
	}
	match(false)
	match(true)

	return m
}

func normalizeHeader(h string) string {
	h = strings.ToLower(CleanCell(h))
	h = strings.Map(func(r rune) rune {
		switch r {
		case '_', '*', ':', '(', ')', '[', ']':
			return ' '
		}
		return r
	}, h)
	return strings.Join(strings.Fields(h), " ")
}

// findHeader scans the first maxRows rows for one that maps a date and an
// amount column.
func findHeader(rows [][]string, aliases ColumnAliases, maxRows int) (int, columnMap, bool) {
	for i := 0; i < len(rows) && i < maxRows; i++ {
		if isBlankRow(rows[i]) {
			continue
		}
		m := mapColumns(rows[i], aliases)
		if m.usable() {
			return i, m, true
		}
	}
	return -1, columnMap{}, false
}

// rowConverter turns one data row into a ParsedTransaction.
type rowConverter struct {
	cols        columnMap
	dateLayouts []string
	decimalSep  string
	invertSign  bool
	now         time.Time

	// excelSerials accepts spreadsheet serial day numbers in the date column.
	excelSerials bool
}

func (c rowConverter) cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return CleanCell(row[idx])
}

func (c rowConverter) convert(row []string) (ParsedTransaction, error) {
	var tx ParsedTransaction

	dateCell := c.cell(row, c.cols.date)
	if dateCell == "" {
		return tx, fmt.Errorf("%w: date", errMissingField)
	}
	date, err := c.parseDate(dateCell)
	if err != nil {
		return tx, err
	}
	tx.Date = date

	amount, err := c.parseAmount(row)
	if err != nil {
		return tx, err
	}
	if c.invertSign {
		amount = amount.Neg()
	}
	tx.Amount = amount

	tx.Description = c.cell(row, c.cols.description)
	tx.Merchant = c.cell(row, c.cols.merchant)
	tx.Category = c.cell(row, c.cols.category)
	if tx.Category == "" {
		tx.Category = GuessCategory(tx.Description)
	}
	tx.Account = c.cell(row, c.cols.account)
	tx.Reference = c.cell(row, c.cols.reference)
	tx.Notes = c.cell(row, c.cols.notes)

	tx.RawFields = make(map[string]string, len(c.cols.header))
	for i, h := range c.cols.header {
		key := CleanCell(h)
		if key == "" {
			key = "column_" + strconv.Itoa(i+1)
		}
		tx.RawFields[key] = c.cell(row, i)
	}

	return tx, nil
}

func (c rowConverter) parseDate(s string) (time.Time, error) {
	t, err := ParseDate(s, c.dateLayouts, c.now)
	if err == nil || !c.excelSerials {
		return t, err
	}
	serial, convErr := strconv.ParseFloat(s, 64)
	if convErr != nil || serial < 1 || serial > 2958465 {
		return t, err
	}
	et, convErr := excelize.ExcelDateToTime(serial, false)
	if convErr != nil {
		return t, err
	}
	return dateOnly(et), nil
}

// parseAmount reads the single amount column, falling back to debit/credit
// columns. Debits are always stored negative.
func (c rowConverter) parseAmount(row []string) (decimal.Decimal, error) {
	if raw := c.cell(row, c.cols.amount); raw != "" {
		return ParseAmount(raw, c.decimalSep)
	}

	debitRaw := c.cell(row, c.cols.debit)
	creditRaw := c.cell(row, c.cols.credit)
	if debitRaw == "" && creditRaw == "" {
		return decimal.Zero, fmt.Errorf("%w: amount", errMissingField)
	}

	total := decimal.Zero
	if debitRaw != "" {
		d, err := ParseAmount(debitRaw, c.decimalSep)
		if err != nil {
			return decimal.Zero, fmt.Errorf("debit: %w", err)
		}
		total = total.Sub(d.Abs())
	}
	if creditRaw != "" {
		cr, err := ParseAmount(creditRaw, c.decimalSep)
		if err != nil {
			return decimal.Zero, fmt.Errorf("credit: %w", err)
		}
		total = total.Add(cr.Abs())
	}
	return total, nil
}
