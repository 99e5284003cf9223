package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// SpreadsheetParser reads .xlsx workbooks with excelize and legacy .xls
// workbooks with extrame/xls.
type SpreadsheetParser struct {
	cfg           SpreadsheetConfig
	totalKeywords []string
}

// NewSpreadsheetParser validates cfg and returns a parser.
func NewSpreadsheetParser(cfg SpreadsheetConfig) (*SpreadsheetParser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SpreadsheetParser{cfg: cfg, totalKeywords: normalizeAliases(cfg.TotalKeywords)}, nil
}

func (p *SpreadsheetParser) Name() string { return "spreadsheet" }

func (p *SpreadsheetParser) Extensions() []string { return []string{".xlsx", ".xls"} }

func (p *SpreadsheetParser) MIMETypes() []string {
	return []string{
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel",
	}
}

// CanParse needs both a container signature and a spreadsheet name or type,
// since ZIP and OLE files are not always workbooks.
func (p *SpreadsheetParser) CanParse(c Candidate) bool {
	if c.sniffed() && !looksLikeSpreadsheet(c.Head) {
		return false
	}
	return c.matches(p.Extensions(), p.MIMETypes())
}

// Parse reads the configured (or first) sheet, skipping blank and total rows.
func (p *SpreadsheetParser) Parse(ctx context.Context, path string, opts Options) (res ParseResult) {
	b := newResultBuilder(p.Name())
	defer recoverInto(b, &res)

	var (
		sheet string
		rows  [][]string
		err   error
	)
	if hasExtension(path, []string{".xls"}) {
		sheet, rows, err = readXLS(path, p.cfg.SheetName)
	} else {
		sheet, rows, err = readXLSX(path, p.cfg.SheetName)
	}
	if err != nil {
		b.errorf("read workbook: %v", err)
		return b.result()
	}
	b.meta("sheet", sheet)

	headerIdx, cols, ok := findHeader(rows, p.cfg.Columns, p.cfg.MaxHeaderSearchRows)
	if !ok {
		b.errorf("no header row with date and amount columns in the first %d rows of sheet %q", p.cfg.MaxHeaderSearchRows, sheet)
		return b.result()
	}
	b.meta("header_row", headerIdx+1)

	conv := rowConverter{
		cols:         cols,
		dateLayouts:  p.cfg.DateLayouts,
		decimalSep:   p.cfg.DecimalSeparator,
		invertSign:   p.cfg.InvertSign,
		now:          opts.now(),
		excelSerials: true,
	}
	skip := func(row []string) string {
		if p.isTotalRow(row, conv) {
			return "total row"
		}
		return ""
	}
	convertRows(ctx, b, rows, headerIdx, conv, skip, opts)
	return b.result()
}

// isTotalRow reports rows like "Total  -1 234,00" that carry a summary
// keyword and no usable date.
func (p *SpreadsheetParser) isTotalRow(row []string, conv rowConverter) bool {
	if dateCell := conv.cell(row, conv.cols.date); dateCell != "" {
		if _, err := conv.parseDate(dateCell); err == nil {
			return false
		}
	}
	for _, cell := range row {
		text := strings.ToLower(CleanCell(cell))
		if text == "" {
			continue
		}
		for _, kw := range p.totalKeywords {
			if text == kw || strings.HasPrefix(text, kw+" ") || strings.HasPrefix(text, kw+":") {
				return true
			}
		}
	}
	return false
}

func readXLSX(path, sheetName string) (string, [][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil, fmt.Errorf("workbook has no sheets")
	}
	sheet := sheets[0]
	if sheetName != "" {
		if idx, err := f.GetSheetIndex(sheetName); err != nil || idx < 0 {
			return "", nil, fmt.Errorf("sheet %q not found", sheetName)
		}
		sheet = sheetName
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return sheet, nil, err
	}
	return sheet, rows, nil
}

func readXLS(path, sheetName string) (string, [][]string, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return "", nil, err
	}
	if wb.NumSheets() == 0 {
		return "", nil, fmt.Errorf("workbook has no sheets")
	}

	ws := wb.GetSheet(0)
	if sheetName != "" {
		ws = nil
		for i := 0; i < wb.NumSheets(); i++ {
			if s := wb.GetSheet(i); s != nil && s.Name == sheetName {
				ws = s
				break
			}
		}
	}
	if ws == nil {
		return "", nil, fmt.Errorf("sheet %q not found", sheetName)
	}

	rows := make([][]string, 0, int(ws.MaxRow)+1)
	for i := 0; i <= int(ws.MaxRow); i++ {
		row := ws.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, 0, row.LastCol())
		for j := 0; j < row.LastCol(); j++ {
			cells = append(cells, row.Col(j))
		}
		rows = append(rows, cells)
	}
	return ws.Name, rows, nil
}
