package protocol

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

// Record keywords. Each record starts with one of these, unquoted.
const (
	KeyNodeID  = "NODEID"
	KeyBinary  = "BINARY"
	KeyChannel = "CHANNEL"
	KeyCatalog = "CATALOG"
	KeySchema  = "SCHEMA"
	KeyTable   = "TABLE"
	KeyKeys    = "KEYS"
	KeyColumns = "COLUMNS"
	KeyBatch   = "BATCH"
	KeyCommit  = "COMMIT"
	KeyInsert  = "INSERT"
	KeyUpdate  = "UPDATE"
	KeyDelete  = "DELETE"
	KeyOld     = "OLD"
	KeySQL     = "SQL"
)

// EncodeValues renders values as comma separated fields. Every non-null value
// is double quoted with embedded quotes doubled; NULL is an empty field.
func EncodeValues(values models.Values) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		if v == nil {
			continue
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(*v, `"`, `""`))
		b.WriteByte('"')
	}
	return b.String()
}

// ParseValues splits encoded fields. A quoted field may contain commas, quotes
// and newlines; an empty unquoted field is NULL. Unquoted non-empty fields are
// accepted as plain text.
func ParseValues(s string) (models.Values, error) {
	var out models.Values
	i := 0
	for {
		if i < len(s) && s[i] == '"' {
			var b strings.Builder
			i++
			for {
				j := strings.IndexByte(s[i:], '"')
				if j < 0 {
					return nil, fmt.Errorf("unterminated quoted field")
				}
				b.WriteString(s[i : i+j])
				i += j + 1
				if i < len(s) && s[i] == '"' {
					b.WriteByte('"')
					i++
					continue
				}
				break
			}
			v := b.String()
			out = append(out, &v)
			if i == len(s) {
				return out, nil
			}
			if s[i] != ',' {
				return nil, fmt.Errorf("unexpected %q after closing quote at offset %d", s[i], i)
			}
			i++
			continue
		}

		j := strings.IndexByte(s[i:], ',')
		tok := s[i:]
		if j >= 0 {
			tok = s[i : i+j]
		}
		if strings.ContainsRune(tok, '"') {
			return nil, fmt.Errorf("bare quote in unquoted field %q", tok)
		}
		if tok == "" {
			out = append(out, nil)
		} else {
			v := tok
			out = append(out, &v)
		}
		if j < 0 {
			return out, nil
		}
		i += j + 1
	}
}

// EncodeBinary renders raw bytes in the stream's binary encoding
func EncodeBinary(enc models.BinaryEncoding, b []byte) string {
	switch enc {
	case models.EncodingHex:
		return strings.ToUpper(hex.EncodeToString(b))
	case models.EncodingBase64:
		return base64.StdEncoding.EncodeToString(b)
	}
	return string(b)
}

// DecodeBinary reverses EncodeBinary. Whitespace is ignored for hex and base64
// since some databases wrap long encoded values.
func DecodeBinary(enc models.BinaryEncoding, s string) ([]byte, error) {
	switch enc {
	case models.EncodingHex:
		b, err := hex.DecodeString(stripSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid hex value: %w", err)
		}
		return b, nil
	case models.EncodingBase64:
		b, err := base64.StdEncoding.DecodeString(stripSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 value: %w", err)
		}
		return b, nil
	}
	return []byte(s), nil
}

func stripSpace(s string) string {
	if !strings.ContainsAny(s, " \t\r\n") {
		return s
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}
