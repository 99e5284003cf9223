package parser

import (
	"errors"
	"fmt"
	"strings"
)

// Config collects the typed settings of every built-in parser.
// Field tags match the optional parser tunables YAML file.
type Config struct {
	CSV         CSVConfig         `yaml:"csv"`
	Spreadsheet SpreadsheetConfig `yaml:"spreadsheet"`
	OFX         OFXConfig         `yaml:"ofx"`
	QIF         QIFConfig         `yaml:"qif"`
	PDF         PDFConfig         `yaml:"pdf"`
}

// ColumnAliases lists accepted header names per field, compared after
// lowercasing and trimming.
type ColumnAliases struct {
	Date        []string `yaml:"date"`
	Description []string `yaml:"description"`
	Amount      []string `yaml:"amount"`
	Debit       []string `yaml:"debit"`
	Credit      []string `yaml:"credit"`
	Merchant    []string `yaml:"merchant"`
	Category    []string `yaml:"category"`
	Account     []string `yaml:"account"`
	Reference   []string `yaml:"reference"`
	Notes       []string `yaml:"notes"`
}

// CSVConfig configures the delimited-text parser.
type CSVConfig struct {
	Delimiters          []string      `yaml:"delimiters"`
	SampleLines         int           `yaml:"sample_lines"`
	MaxHeaderSearchRows int           `yaml:"max_header_search_rows"`
	Columns             ColumnAliases `yaml:"columns"`
	DateLayouts         []string      `yaml:"date_layouts"`
	DecimalSeparator    string        `yaml:"decimal_separator"`

	// InvertSign flips every amount, for exports that list charges as positive.
	InvertSign bool `yaml:"invert_sign"`
}

// SpreadsheetConfig configures the xlsx/xls parser.
type SpreadsheetConfig struct {
	SheetName           string        `yaml:"sheet_name"`
	MaxHeaderSearchRows int           `yaml:"max_header_search_rows"`
	Columns             ColumnAliases `yaml:"columns"`
	DateLayouts         []string      `yaml:"date_layouts"`
	DecimalSeparator    string        `yaml:"decimal_separator"`
	InvertSign          bool          `yaml:"invert_sign"`
	TotalKeywords       []string      `yaml:"total_keywords"`
}

// OFXConfig configures the OFX/QFX parser.
type OFXConfig struct {
	// Encodings are tried in order when the raw bytes do not parse.
	Encodings []string `yaml:"encodings"`
}

// QIFConfig configures the QIF parser.
type QIFConfig struct {
	DateLayouts      []string `yaml:"date_layouts"`
	DecimalSeparator string   `yaml:"decimal_separator"`
}

// PDFTableConfig locates columns in table-shaped statement pages.
// Negative indices count from the end of the row.
type PDFTableConfig struct {
	DateColumn        int `yaml:"date_column"`
	DescriptionColumn int `yaml:"description_column"`
	AmountColumn      int `yaml:"amount_column"`
	MinRows           int `yaml:"min_rows"`
}

// PDFConfig configures the page-document parser and its dialects.
type PDFConfig struct {
	Table            PDFTableConfig `yaml:"table"`
	SummaryKeywords  []string       `yaml:"summary_keywords"`
	DateLayouts      []string       `yaml:"date_layouts"`
	DecimalSeparator string         `yaml:"decimal_separator"`
	DialectThreshold int            `yaml:"dialect_threshold"`
	KnownCities      []string       `yaml:"known_cities"`
}

// DefaultColumnAliases returns the header names recognized out of the box.
func DefaultColumnAliases() ColumnAliases {
	return ColumnAliases{
		Date:        []string{"date", "transaction date", "trans date", "posting date", "posted date", "value date", "booking date", "datum", "dátum", "datum transakce", "dátum transakcie"},
		Description: []string{"description", "details", "memo", "narrative", "payee", "name", "transaction", "text", "popis", "poznámka"},
		Amount:      []string{"amount", "transaction amount", "value", "sum", "suma", "částka", "castka"},
		Debit:       []string{"debit", "debit amount", "withdrawal", "withdrawals", "money out", "paid out", "charge"},
		Credit:      []string{"credit", "credit amount", "deposit", "deposits", "money in", "paid in", "payment"},
		Merchant:    []string{"merchant", "merchant name", "vendor", "obchodník"},
		Category:    []string{"category", "type", "kategorie", "kategória"},
		Account:     []string{"account", "account number", "account name", "účet", "ucet"},
		Reference:   []string{"reference", "ref", "check number", "cheque number", "transaction id", "id"},
		Notes:       []string{"notes", "note", "comment", "comments"},
	}
}

// DefaultConfig returns the built-in parser settings.
func DefaultConfig() Config {
	return Config{
		CSV: CSVConfig{
			Delimiters:          []string{",", ";", "\t", "|"},
			SampleLines:         10,
			MaxHeaderSearchRows: 20,
			Columns:             DefaultColumnAliases(),
		},
		Spreadsheet: SpreadsheetConfig{
			MaxHeaderSearchRows: 20,
			Columns:             DefaultColumnAliases(),
			TotalKeywords:       []string{"total", "subtotal", "sum", "balance", "opening balance", "closing balance", "carried forward", "brought forward"},
		},
		OFX: OFXConfig{
			Encodings: []string{"utf-8", "windows-1252", "iso-8859-1"},
		},
		QIF: QIFConfig{},
		PDF: PDFConfig{
			Table: PDFTableConfig{
				DateColumn:        0,
				DescriptionColumn: 1,
				AmountColumn:      -1,
				MinRows:           2,
			},
			SummaryKeywords:  []string{"total", "balance", "opening", "closing", "summary", "brought forward", "carried forward", "page"},
			DialectThreshold: 3,
			KnownCities:      []string{"Bratislava", "Kosice", "Košice", "Zilina", "Žilina", "Nitra", "Presov", "Prešov", "Trnava", "Praha", "Prague", "Brno", "Ostrava", "Wien", "Vienna", "Budapest", "Berlin", "London", "Paris"},
		},
	}
}

// Validate checks the CSV settings.
func (c CSVConfig) Validate() error {
	var errs []error
	if len(c.Delimiters) == 0 {
		errs = append(errs, errors.New("csv: at least one delimiter is required"))
	}
	for _, d := range c.Delimiters {
		if len([]rune(d)) != 1 {
			errs = append(errs, fmt.Errorf("csv: delimiter %q must be a single character", d))
		}
	}
	if c.SampleLines <= 0 {
		errs = append(errs, errors.New("csv: sample_lines must be positive"))
	}
	if c.MaxHeaderSearchRows <= 0 {
		errs = append(errs, errors.New("csv: max_header_search_rows must be positive"))
	}
	errs = append(errs, validateDecimalSeparator("csv", c.DecimalSeparator))
	errs = append(errs, c.Columns.validate("csv"))
	return errors.Join(errs...)
}

// Validate checks the spreadsheet settings.
func (c SpreadsheetConfig) Validate() error {
	var errs []error
	if c.MaxHeaderSearchRows <= 0 {
		errs = append(errs, errors.New("spreadsheet: max_header_search_rows must be positive"))
	}
	errs = append(errs, validateDecimalSeparator("spreadsheet", c.DecimalSeparator))
	errs = append(errs, c.Columns.validate("spreadsheet"))
	return errors.Join(errs...)
}

// Validate checks the OFX settings.
func (c OFXConfig) Validate() error {
	if len(c.Encodings) == 0 {
		return errors.New("ofx: at least one encoding is required")
	}
	return nil
}

// Validate checks the QIF settings.
func (c QIFConfig) Validate() error {
	return validateDecimalSeparator("qif", c.DecimalSeparator)
}

// Validate checks the PDF settings.
func (c PDFConfig) Validate() error {
	var errs []error
	if c.Table.MinRows <= 0 {
		errs = append(errs, errors.New("pdf: table.min_rows must be positive"))
	}
	if c.Table.DateColumn == c.Table.DescriptionColumn || c.Table.DescriptionColumn == c.Table.AmountColumn {
		errs = append(errs, errors.New("pdf: table columns must be distinct"))
	}
	if c.DialectThreshold <= 0 {
		errs = append(errs, errors.New("pdf: dialect_threshold must be positive"))
	}
	errs = append(errs, validateDecimalSeparator("pdf", c.DecimalSeparator))
	return errors.Join(errs...)
}

// Validate checks every section and reports all problems together.
func (c Config) Validate() error {
	return errors.Join(
		c.CSV.Validate(),
		c.Spreadsheet.Validate(),
		c.OFX.Validate(),
		c.QIF.Validate(),
		c.PDF.Validate(),
	)
}

func (a ColumnAliases) validate(section string) error {
	var errs []error
	if len(a.Date) == 0 {
		errs = append(errs, fmt.Errorf("%s: columns.date needs at least one alias", section))
	}
	if len(a.Amount) == 0 && (len(a.Debit) == 0 || len(a.Credit) == 0) {
		errs = append(errs, fmt.Errorf("%s: columns.amount or both columns.debit and columns.credit are required", section))
	}
	return errors.Join(errs...)
}

func validateDecimalSeparator(section, sep string) error {
	switch sep {
	case DecimalAuto, DecimalPoint, DecimalComma:
		return nil
	}
	return fmt.Errorf("%s: decimal_separator %q must be empty, %q or %q", section, sep, DecimalPoint, DecimalComma)
}

// normalizeAliases lowercases and trims alias lists for lookup.
func normalizeAliases(aliases []string) []string {
	out := make([]string, 0, len(aliases))
	for _, a := range aliases {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			out = append(out, a)
		}
	}
	return out
}
