package detect

// decode.go converts statement bytes to UTF-8 text.
//
// Decoding is lossy: undecodable input becomes U+FFFD rather than an error.

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// namedEncodings bypasses htmlindex, which folds ISO-8859-1 into Windows-1252.
var namedEncodings = map[string]encoding.Encoding{
	UTF8:           unicode.UTF8,
	Latin1:         charmap.ISO8859_1,
	Windows1252:    charmap.Windows1252,
	"iso-8859-2":   charmap.ISO8859_2,
	"windows-1250": charmap.Windows1250,
}

// Canonical normalizes an encoding label ("UTF8", "latin1", "cp1252").
func Canonical(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "utf8":
		return UTF8
	case "latin1", "latin-1", "iso8859-1", "iso_8859-1":
		return Latin1
	case "cp1252", "win1252", "windows1252":
		return Windows1252
	case "cp1250", "windows1250":
		return "windows-1250"
	}
	return n
}

func lookupEncoding(name string) (encoding.Encoding, bool) {
	name = Canonical(name)
	if e, ok := namedEncodings[name]; ok {
		return e, true
	}
	e, err := htmlindex.Get(name)
	if err != nil {
		return nil, false
	}
	return e, true
}

func decodeBytes(data []byte, name string) (string, error) {
	e, ok := lookupEncoding(name)
	if !ok {
		return "", fmt.Errorf("unsupported encoding %q", name)
	}
	out, err := e.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Decode converts data in the named encoding to UTF-8, stripping a UTF-8 BOM.
// Empty or unknown encodings fall back to lossy UTF-8.
func Decode(data []byte, encodingName string) string {
	data = bytes.TrimPrefix(data, utf8BOM)

	name := Canonical(encodingName)
	if name != "" && name != UTF8 {
		if s, err := decodeBytes(data, name); err == nil {
			return s
		}
	}
	return strings.ToValidUTF8(string(data), string(unicodeReplacement))
}

const unicodeReplacement = '\uFFFD'

// NewReader wraps r so that it yields UTF-8 without a leading BOM.
// Invalid UTF-8 in the fallback path is sanitized on the fly.
func NewReader(r io.Reader, encodingName string) io.Reader {
	r = NewBOMSkippingReader(r)

	name := Canonical(encodingName)
	if name != "" && name != UTF8 {
		if e, ok := lookupEncoding(name); ok {
			return transform.NewReader(r, e.NewDecoder())
		}
	}
	return NewStreamingUTF8Sanitizer(r)
}
