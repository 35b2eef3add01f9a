package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchTransitions(t *testing.T) {
	b := NewBatch(7, "sales", "store-1", EncodingHex)
	assert.Equal(t, StatusOpen, b.Status)

	require.NoError(t, b.Transition(StatusLoading))
	require.Error(t, b.Transition(StatusOpen))
	require.NoError(t, b.Transition(StatusCommitted))
	assert.True(t, b.IsTerminal())
	assert.Error(t, b.Transition(StatusRolledBack))

	b = NewBatch(8, "sales", "store-1", EncodingHex)
	require.NoError(t, b.Transition(StatusRolledBack))
	assert.True(t, b.IsTerminal())
}

func TestBatchCount(t *testing.T) {
	b := NewBatch(1, "default", "store-1", EncodingNone)
	for _, e := range []EventType{EventInsert, EventInsert, EventUpdate, EventDelete, EventSQL} {
		b.Count(e)
	}
	assert.Equal(t, BatchStats{RowCount: 5, InsertCount: 2, UpdateCount: 1, DeleteCount: 1, SQLCount: 1}, b.Stats)
}

func TestTriggerConditions(t *testing.T) {
	tr := &Trigger{SourceSchema: "public", SourceTable: "items", SyncOnInsert: true, UpdateCondition: "new.qty <> old.qty"}
	assert.True(t, tr.SyncOn(EventInsert))
	assert.False(t, tr.SyncOn(EventUpdate))
	assert.False(t, tr.SyncOn(EventSQL))
	assert.Equal(t, "1=1", tr.Condition(EventInsert))
	assert.Equal(t, "new.qty <> old.qty", tr.Condition(EventUpdate))
	assert.Equal(t, "public.items", tr.QualifiedTableName())
}

func TestTableKeys(t *testing.T) {
	table := NewTable("", "", "lines",
		Column{Name: "order_id", Type: Integer, PrimaryKey: true},
		Column{Name: "line_no", Type: Integer, PrimaryKey: true},
		Column{Name: "note", Type: Varchar},
	)
	assert.Equal(t, []string{"order_id", "line_no"}, table.PrimaryKeyColumnNames())
	assert.Equal(t, 1, table.ColumnIndex("LINE_NO"))
	assert.Nil(t, table.Column("missing"))

	keyless := NewTable("", "", "audit", Column{Name: "a"}, Column{Name: "b"})
	assert.Equal(t, []string{"a", "b"}, keyless.PrimaryKeyColumnNames())
}

func TestTableWithoutColumnsCopies(t *testing.T) {
	table := NewTable("", "", "items", Column{Name: "id", PrimaryKey: true}, Column{Name: "secret"}, Column{Name: "name"})
	trimmed := table.WithoutColumns([]string{"SECRET"})

	assert.Equal(t, []string{"id", "name"}, trimmed.ColumnNames())
	assert.Equal(t, []string{"id", "secret", "name"}, table.ColumnNames())
	assert.False(t, table.Equal(trimmed))
	assert.True(t, table.Equal(table.Copy()))
}

func TestTypeCodes(t *testing.T) {
	code, ok := ParseTypeCode(" varchar ")
	require.True(t, ok)
	assert.Equal(t, Varchar, code)
	assert.True(t, code.IsText())
	assert.Equal(t, "VARCHAR", code.String())

	_, ok = ParseTypeCode("GEOMETRY")
	assert.False(t, ok)
	assert.True(t, Blob.IsBinary())
	assert.True(t, Decimal.IsNumeric())
	assert.False(t, Decimal.IsFloating())
}

func TestValuesStrings(t *testing.T) {
	v := Values{Str("a"), nil}
	assert.Equal(t, []string{"a", "<null>"}, v.Strings())
	assert.Equal(t, "DELETE", EventDelete.String())
	assert.False(t, EventType("X").Valid())
}
