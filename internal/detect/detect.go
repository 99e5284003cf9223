// Package detect identifies the MIME type and text encoding of uploaded
// statement files and decodes their bytes to UTF-8.
package detect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
)

// Unknown is returned by DetectMIME when neither sniffing nor the
// extension table identifies the file.
const Unknown = "unknown"

// DefaultSampleSize is how many leading bytes DetectEncoding inspects.
const DefaultSampleSize = 8 * 1024

// MinConfidence is the statistical detector score (0-100) required to
// accept its guess without verification.
const MinConfidence = 70

// Canonical encoding names.
const (
	UTF8        = "utf-8"
	Latin1      = "iso-8859-1"
	Windows1252 = "windows-1252"
)

// Validation errors returned by Validate.
var (
	ErrFileNotFound = errors.New("file not found")
	ErrEmptyFile    = errors.New("empty file")
	ErrFileTooLarge = errors.New("file too large")
	ErrUnreadable   = errors.New("file is not readable")
)

// extensionTypes maps known statement extensions to MIME types.
var extensionTypes = map[string]string{
	".csv":  "text/csv",
	".txt":  "text/plain",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ofx":  "application/x-ofx",
	".qfx":  "application/vnd.intu.qfx",
	".qif":  "application/qif",
	".pdf":  "application/pdf",
}

// genericTypes are sniff results too vague to override the extension table.
var genericTypes = map[string]bool{
	"application/octet-stream":  true,
	"text/plain":                true,
	"application/zip":           true,
	"application/x-ole-storage": true,
}

// fallbackEncodings are verified in order when statistical detection is
// not confident enough.
var fallbackEncodings = []string{UTF8, Latin1, Windows1252}

// Detector sniffs MIME types and encodings. The zero value is not usable;
// call New.
type Detector struct {
	sampleSize int
	text       *chardet.Detector
}

// New returns a Detector that samples sampleSize bytes for encoding
// detection. Non-positive sizes use DefaultSampleSize.
func New(sampleSize int) *Detector {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &Detector{
		sampleSize: sampleSize,
		text:       chardet.NewTextDetector(),
	}
}

// ExtensionMIME returns the table MIME type for a file name, or "".
func ExtensionMIME(name string) string {
	return extensionTypes[strings.ToLower(filepath.Ext(name))]
}

// SupportedExtension reports whether name has an extension in the table.
func SupportedExtension(name string) bool {
	return ExtensionMIME(name) != ""
}

// DetectMIME identifies a file by content, falling back to its extension.
// Never fails; returns Unknown when nothing matches.
func (d *Detector) DetectMIME(path string) string {
	return d.DetectMIMEAs(path, path)
}

// DetectMIMEAs sniffs the content at path but consults the extension of
// name. Uploads are stored under generated names, so the original file
// name carries the extension.
func (d *Detector) DetectMIMEAs(path, name string) string {
	sniffed := ""
	if m, err := mimetype.DetectFile(path); err == nil && m != nil {
		sniffed = baseType(m.String())
	}

	if sniffed != "" && !genericTypes[sniffed] {
		return sniffed
	}
	if ext := ExtensionMIME(name); ext != "" {
		return ext
	}
	if sniffed != "" {
		return sniffed
	}
	return Unknown
}

// DetectEncoding guesses the text encoding of the first sample bytes of a
// file. The boolean is false when no candidate could be confirmed.
func (d *Detector) DetectEncoding(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	sample := make([]byte, d.sampleSize)
	n, err := io.ReadFull(f, sample)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", false
	}
	return d.DetectEncodingBytes(sample[:n])
}

// DetectEncodingBytes is DetectEncoding over an in-memory sample.
func (d *Detector) DetectEncodingBytes(sample []byte) (string, bool) {
	if len(sample) > d.sampleSize {
		sample = sample[:d.sampleSize]
	}
	if len(sample) == 0 {
		return "", false
	}
	if bytes.HasPrefix(sample, utf8BOM) {
		return UTF8, true
	}

	if res, err := d.text.DetectBest(sample); err == nil && res != nil && res.Confidence >= MinConfidence {
		name := Canonical(res.Charset)
		if _, ok := lookupEncoding(name); ok {
			return name, true
		}
	}

	for _, name := range fallbackEncodings {
		if verifies(sample, name) {
			return name, true
		}
	}
	return "", false
}

// verifies decodes sample with the named encoding and rejects the result
// if it produced replacement characters.
func verifies(sample []byte, name string) bool {
	if name == UTF8 {
		return utf8.Valid(trimPartialRune(sample))
	}
	decoded, err := decodeBytes(sample, name)
	if err != nil {
		return false
	}
	return !strings.ContainsRune(decoded, utf8.RuneError)
}

// trimPartialRune drops an incomplete multi-byte sequence cut off by sampling.
func trimPartialRune(b []byte) []byte {
	if n := incompleteTrailingBytes(b); n > 0 {
		return b[:len(b)-n]
	}
	return b
}

// Validate checks that path is a readable, non-empty regular file no larger
// than maxSize bytes. A non-positive maxSize disables the size check.
func Validate(path string, maxSize int64) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, filepath.Base(path))
		}
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrUnreadable, filepath.Base(path))
	}
	if info.Size() == 0 {
		return ErrEmptyFile
	}
	if maxSize > 0 && info.Size() > maxSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, info.Size(), maxSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	var one [1]byte
	if _, err := f.Read(one[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return nil
}

func baseType(mime string) string {
	return strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
}
