package encoding

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Decoder converts raw column bytes read from a legacy database into UTF-8 text
type Decoder func(b []byte) string

var charsets = map[string]*charmap.Charmap{
	"WIN1252":     charmap.Windows1252,
	"WINDOWS1252": charmap.Windows1252,
	"ISO8859_1":   charmap.ISO8859_1,
	"LATIN1":      charmap.ISO8859_1,
	"WIN1250":     charmap.Windows1250,
}

// ForCharset returns the decoder for a legacy charset name such as WIN1252
// (common in Firebird legacy DBs). Unknown or empty names pass bytes through.
func ForCharset(name string) Decoder {
	cm, ok := charsets[strings.ToUpper(strings.ReplaceAll(name, "-", ""))]
	if !ok {
		return passthrough
	}
	return func(b []byte) string {
		return decode(cm, b)
	}
}

func passthrough(b []byte) string {
	return string(b)
}

// decode converts b to UTF-8. Bytes that are already valid UTF-8 and contain
// multi-byte sequences are returned as is.
func decode(cm encoding.Encoding, b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) && !isASCII(b) {
		return string(b)
	}

	decoded, err := cm.NewDecoder().Bytes(b)
	if err != nil {
		// Fallback: return raw string if decoding fails
		return string(b)
	}
	return string(decoded)
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
