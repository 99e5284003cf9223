package parser

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubParser struct {
	name string
	exts []string
}

func (s stubParser) Name() string         { return s.name }
func (s stubParser) Extensions() []string { return s.exts }
func (s stubParser) MIMETypes() []string  { return nil }

func (s stubParser) CanParse(c Candidate) bool {
	return hasExtension(c.Name, s.exts)
}

func (s stubParser) Parse(ctx context.Context, path string, opts Options) ParseResult {
	return ParseResult{Success: true, Transactions: []ParsedTransaction{}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_RegisterReplacesInPlace(t *testing.T) {
	r := NewRegistry(quietLogger())
	r.Register(stubParser{name: "a", exts: []string{".a"}})
	r.Register(stubParser{name: "b", exts: []string{".b"}})
	r.Register(stubParser{name: "a", exts: []string{".aa"}})

	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Equal(t, 2, r.Count())

	p, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, []string{".aa"}, p.Extensions())
	assert.Equal(t, []string{".aa", ".b"}, r.SupportedExtensions())
}

func TestRegistry_FirstMatchWins(t *testing.T) {
	r := NewRegistry(quietLogger())
	r.Register(stubParser{name: "specific", exts: []string{".txt"}})
	r.Register(stubParser{name: "generic", exts: []string{".txt", ".csv"}})

	p, ok := r.FindParser(Candidate{Name: "notes.txt"})
	require.True(t, ok)
	assert.Equal(t, "specific", p.Name())

	p, ok = r.FindParser(Candidate{Name: "data.csv"})
	require.True(t, ok)
	assert.Equal(t, "generic", p.Name())

	_, ok = r.FindParser(Candidate{Name: "image.png"})
	assert.False(t, ok)
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(stubParser{name: "a"})

	assert.True(t, r.Unregister("a"))
	assert.False(t, r.Unregister("a"))
	assert.Zero(t, r.Count())
}

func TestNewDefaultRegistry(t *testing.T) {
	r, err := NewDefaultRegistry(DefaultConfig(), fakeExtractor{}, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"ofx", "qif", "spreadsheet", "pdf", "csv"}, r.Names())
	assert.Equal(t, []string{".csv", ".ofx", ".pdf", ".qfx", ".qif", ".txt", ".xls", ".xlsx"}, r.SupportedExtensions())
	assert.Contains(t, r.SupportedMIMETypes(), "application/pdf")

	tests := []struct {
		path, mime, want string
	}{
		{"statement.ofx", "", "ofx"},
		{"STATEMENT.QFX", "", "ofx"},
		{"export.qif", "", "qif"},
		{"book.xlsx", "", "spreadsheet"},
		{"legacy.xls", "", "spreadsheet"},
		{"card.pdf", "", "pdf"},
		{"bank.csv", "", "csv"},
		{"upload.bin", "application/pdf", "pdf"},
		{"upload.bin", "text/plain; charset=utf-8", "csv"},
	}
	for _, tt := range tests {
		t.Run(tt.path+" "+tt.mime, func(t *testing.T) {
			p, ok := r.FindParser(Candidate{Name: tt.path, MIMEType: tt.mime})
			require.True(t, ok)
			assert.Equal(t, tt.want, p.Name())
		})
	}

	_, ok := r.FindParser(Candidate{Name: "upload.bin"})
	assert.False(t, ok)
}

func TestFindParser_ContentOverridesExtension(t *testing.T) {
	r, err := NewDefaultRegistry(DefaultConfig(), fakeExtractor{}, quietLogger())
	require.NoError(t, err)

	tests := []struct {
		name, file, content, mime, want string
	}{
		{"ofx body named txt", "export.txt", sampleOFX, "text/plain", "ofx"},
		{"ofx xml named csv", "export.csv", "<?xml version=\"1.0\"?>\n<?OFX OFXHEADER=\"200\"?>\n<OFX></OFX>\n", "text/xml", "ofx"},
		{"qif body named csv", "export.csv", sampleQIF, "text/csv", "qif"},
		{"qif after bom and blank lines", "export.txt", "\ufeff\n\n!type:CCard\nD01/02/2024\nT-1.00\n^\n", "", "qif"},
		{"csv body named qif", "export.qif", "Date,Description,Amount\n2024-01-05,Coffee,-4.50\n2024-01-06,Salary,2000.00\n", "", "csv"},
		{"csv body named ofx", "export.ofx", "Date;Amount\n05.01.2024;-4,50\n06.01.2024;2000,00\n", "", "csv"},
		{"csv with preamble", "download", "Account 1234\nDate,Description,Amount\n2024-01-05,Coffee,-4.50\n2024-01-06,Salary,2000.00\n", "", "csv"},
		{"pdf magic named txt", "statement.txt", "%PDF-1.7\n%binary\n", "text/plain", "pdf"},
		{"plain text named csv", "notes.csv", "just one line of notes", "text/plain", "csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "stored.bin", tt.content)
			c, err := NewCandidate(path, tt.file, tt.mime)
			require.NoError(t, err)

			p, ok := r.FindParser(c)
			require.True(t, ok)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}

func TestFindParser_RejectsMismatchedContent(t *testing.T) {
	r, err := NewDefaultRegistry(DefaultConfig(), fakeExtractor{}, quietLogger())
	require.NoError(t, err)

	tests := []struct {
		name, file, content string
	}{
		{"binary named csv", "export.csv", "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"},
		{"text named xlsx", "book.xlsx", "Date,Amount\x00"},
		{"binary named qif", "export.qif", "\x00\x01\x02\x03"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "stored.bin", tt.content)
			c, err := NewCandidate(path, tt.file, "application/octet-stream")
			require.NoError(t, err)

			_, ok := r.FindParser(c)
			assert.False(t, ok)
		})
	}
}

func TestNewCandidate(t *testing.T) {
	big := strings.Repeat("a,b\n", SniffSize)
	c, err := NewCandidate(writeFile(t, "big.csv", big), "big.csv", "text/csv")
	require.NoError(t, err)
	assert.Len(t, c.Head, SniffSize)
	assert.Equal(t, "big.csv", c.Name)

	c, err = NewCandidate(writeFile(t, "small.csv", "a,b\n"), "small.csv", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("a,b\n"), c.Head)

	_, err = NewCandidate(filepath.Join(t.TempDir(), "missing"), "missing.csv", "")
	assert.Error(t, err)
}

func TestNewDefaultRegistry_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CSV.Delimiters = nil
	cfg.PDF.Table.MinRows = 0

	_, err := NewDefaultRegistry(cfg, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: at least one delimiter")
	assert.Contains(t, err.Error(), "pdf: table.min_rows")
}
