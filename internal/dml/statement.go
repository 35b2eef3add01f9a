package dml

import (
	"fmt"
	"strings"

	"github.com/Guizzs26/go-trigger-sync/internal/dialect"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

type DmlType int

const (
	Insert DmlType = iota
	Update
	Delete
	Count
)

func (t DmlType) String() string {
	switch t {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case Count:
		return "count"
	}
	return "unknown"
}

// Statement is a parameterized DML statement. Columns and Types describe the
// bind parameters in order.
type Statement struct {
	Type    DmlType
	SQL     string
	Columns []string
	Types   []models.TypeCode
}

// Coerce maps a column type to the type its parameter is bound as
func Coerce(d *dialect.Dialect, t models.TypeCode) models.TypeCode {
	switch {
	case d.BlobAsBinary && (t == models.Blob || t == models.LongVarBinary):
		return models.VarBinary
	case d.DateAsTimestamp && t == models.Date:
		return models.Timestamp
	case d.FloatAsDecimal && t.IsFloating():
		return models.Decimal
	}
	return t
}

// Build renders a statement against table, an already quoted qualified name.
// Nil column slots are skipped in the column list and the parameters alike.
// UPDATE binds the value columns first, then the keys. A key flagged in
// nullKeys is matched with "is null" and binds nothing.
func Build(d *dialect.Dialect, typ DmlType, table string, keys, values []*models.Column, nullKeys []bool) *Statement {
	st := &Statement{Type: typ}

	var sql string
	switch typ {
	case Insert:
		cols := make([]string, 0, len(values))
		marks := make([]string, 0, len(values))
		for _, c := range values {
			if c == nil {
				continue
			}
			cols = append(cols, d.Quote(c.Name))
			marks = append(marks, "?")
			st.bind(d, c)
		}
		sql = fmt.Sprintf("insert into %s (%s) values (%s)", table, strings.Join(cols, ", "), strings.Join(marks, ", "))

	case Update:
		sets := make([]string, 0, len(values))
		for _, c := range values {
			if c == nil {
				continue
			}
			sets = append(sets, d.Quote(c.Name)+" = ?")
			st.bind(d, c)
		}
		sql = fmt.Sprintf("update %s set %s where %s", table, strings.Join(sets, ", "), st.where(d, keys, nullKeys))

	case Delete:
		sql = fmt.Sprintf("delete from %s where %s", table, st.where(d, keys, nullKeys))

	case Count:
		sql = fmt.Sprintf("select count(*) from %s where %s", table, st.where(d, keys, nullKeys))
	}

	st.SQL = d.Rebind(sql)
	return st
}

func (st *Statement) bind(d *dialect.Dialect, c *models.Column) {
	st.Columns = append(st.Columns, c.Name)
	st.Types = append(st.Types, Coerce(d, c.Type))
}

func (st *Statement) where(d *dialect.Dialect, keys []*models.Column, nullKeys []bool) string {
	preds := make([]string, 0, len(keys))
	for i, c := range keys {
		if c == nil {
			continue
		}
		if i < len(nullKeys) && nullKeys[i] {
			preds = append(preds, d.Quote(c.Name)+" is null")
			continue
		}
		preds = append(preds, d.Quote(c.Name)+" = ?")
		st.bind(d, c)
	}
	if len(preds) == 0 {
		return "1=0"
	}
	return strings.Join(preds, " and ")
}
