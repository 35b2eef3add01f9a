package dml

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/dialect"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
	"github.com/Guizzs26/go-trigger-sync/internal/protocol"
)

// Convert turns a protocol text value into a bind argument for a parameter of
// type t. Nil stays nil.
func Convert(d *dialect.Dialect, t models.TypeCode, v *string, enc models.BinaryEncoding) (any, error) {
	if v == nil {
		return nil, nil
	}
	s := *v

	switch {
	case t.IsBinary():
		b, err := protocol.DecodeBinary(enc, s)
		if err != nil {
			return nil, err
		}
		return b, nil

	case t.IsText():
		return s, nil
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	switch {
	case t.IsBoolean():
		return parseBool(s)

	case t.IsInteger():
		i, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return i, nil
		}
		// some databases render integral columns with a fraction, e.g. "10.0"
		dec, derr := decimal.NewFromString(s)
		if derr != nil || !dec.Equal(dec.Truncate(0)) {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return dec.IntPart(), nil

	case t == models.Decimal || t == models.Numeric:
		dec, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid decimal %q: %w", s, err)
		}
		return dec, nil

	case t.IsFloating():
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q: %w", s, err)
		}
		return f, nil

	case t == models.Time:
		return s, nil

	case t.IsTemporal():
		if d.DatesAsText {
			return s, nil
		}
		ts, err := db.ParseTime(s)
		if err != nil {
			return nil, err
		}
		return ts, nil
	}
	return s, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "t", "true", "y", "yes":
		return true, nil
	case "0", "f", "false", "n", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}
