package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// SniffSize is how much of a file is read to recognise its format.
const SniffSize = 8 << 10

var (
	pdfMagic  = []byte("%PDF-")
	zipMagic  = []byte("PK\x03\x04")
	oleMagic  = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
	utf16LE   = []byte{0xFF, 0xFE}
	utf16BE   = []byte{0xFE, 0xFF}
	qifPrefix = []string{"!type:", "!account", "!option", "!clear"}
)

// Candidate describes a file offered to the registry. Name supplies the
// extension, which may differ from the stored path. A nil Head means the
// content is unknown and only Name and MIMEType are consulted.
type Candidate struct {
	Name     string
	MIMEType string
	Head     []byte
}

// NewCandidate reads the first SniffSize bytes of path.
func NewCandidate(path, name, mimeType string) (Candidate, error) {
	c := Candidate{Name: name, MIMEType: mimeType}
	f, err := os.Open(path)
	if err != nil {
		return c, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	buf := make([]byte, SniffSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return c, fmt.Errorf("read %s: %w", name, err)
	}
	c.Head = buf[:n]
	return c, nil
}

func (c Candidate) sniffed() bool { return c.Head != nil }

func (c Candidate) matches(exts, types []string) bool {
	return hasExtension(c.Name, exts) || mimeMatches(c.MIMEType, types)
}

func looksLikeOFX(head []byte) bool {
	upper := bytes.ToUpper(head)
	return bytes.Contains(upper, []byte("OFXHEADER")) || bytes.Contains(upper, []byte("<OFX>"))
}

func looksLikeQIF(head []byte) bool {
	text := string(bytes.TrimPrefix(head, utf8BOM))
	for _, line := range strings.Split(text, "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		for _, prefix := range qifPrefix {
			if strings.HasPrefix(line, prefix) {
				return true
			}
		}
		return false
	}
	return false
}

func looksLikePDF(head []byte) bool {
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, pdfMagic)
}

func looksLikeSpreadsheet(head []byte) bool {
	return bytes.HasPrefix(head, zipMagic) || bytes.HasPrefix(head, oleMagic)
}

// isText rejects content with NUL bytes unless a UTF-16 byte order mark
// explains them.
func isText(head []byte) bool {
	if bytes.HasPrefix(head, utf16LE) || bytes.HasPrefix(head, utf16BE) {
		return true
	}
	return bytes.IndexByte(head, 0) < 0
}

// looksDelimited reports whether most leading lines, and at least two,
// carry the same non-zero count of one delimiter. Preamble lines above the
// header are tolerated.
func looksDelimited(head []byte, delimiters []rune) bool {
	text := string(bytes.TrimPrefix(head, utf8BOM))
	if len(head) == SniffSize {
		// The last line was probably cut short.
		if i := strings.LastIndexByte(text, '\n'); i > 0 {
			text = text[:i]
		}
	}
	lines := sampleLines(text, 10)
	if len(lines) < 2 {
		return false
	}
	delim := sniffDelimiter(lines, delimiters)
	counts := make(map[int]int)
	for _, line := range lines {
		if n := countUnquoted(line, delim); n > 0 {
			counts[n]++
		}
	}
	for _, freq := range counts {
		if freq >= 2 && freq*2 >= len(lines) {
			return true
		}
	}
	return false
}
