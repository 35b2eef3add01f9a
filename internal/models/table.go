package models

import "strings"

// Column describes one column of a table as read from database metadata
type Column struct {
	Name          string
	Type          TypeCode
	Size          int
	Scale         int
	Required      bool
	PrimaryKey    bool
	AutoIncrement bool
	DefaultValue  *string
	Description   string
}

type ForeignKey struct {
	Name           string
	ForeignTable   string
	LocalColumns   []string
	ForeignColumns []string
}

// Table owns its columns in declaration order. Identity is (catalog, schema, name)
type Table struct {
	Catalog     string
	Schema      string
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
}

func NewTable(catalog, schema, name string, columns ...Column) *Table {
	return &Table{
		Catalog: catalog,
		Schema:  schema,
		Name:    name,
		Columns: columns,
	}
}

// FullyQualifiedName joins the non-empty identity parts with dots
func (t *Table) FullyQualifiedName() string {
	return QualifiedName(t.Catalog, t.Schema, t.Name)
}

func QualifiedName(catalog, schema, name string) string {
	parts := make([]string, 0, 3)
	if catalog != "" {
		parts = append(parts, catalog)
	}
	if schema != "" {
		parts = append(parts, schema)
	}
	parts = append(parts, name)
	return strings.Join(parts, ".")
}

// ColumnIndex returns the position of a column, matched case-insensitively, or -1
func (t *Table) ColumnIndex(name string) int {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return i
		}
	}
	return -1
}

func (t *Table) Column(name string) *Column {
	if i := t.ColumnIndex(name); i >= 0 {
		return &t.Columns[i]
	}
	return nil
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func (t *Table) HasPrimaryKey() bool {
	for _, c := range t.Columns {
		if c.PrimaryKey {
			return true
		}
	}
	return false
}

// PrimaryKeyColumns returns the key columns in column order. A keyless table
// uses every column as its effective key.
func (t *Table) PrimaryKeyColumns() []Column {
	if !t.HasPrimaryKey() {
		return append([]Column(nil), t.Columns...)
	}
	keys := make([]Column, 0, 2)
	for _, c := range t.Columns {
		if c.PrimaryKey {
			keys = append(keys, c)
		}
	}
	return keys
}

func (t *Table) PrimaryKeyColumnNames() []string {
	keys := t.PrimaryKeyColumns()
	names := make([]string, len(keys))
	for i, c := range keys {
		names[i] = c.Name
	}
	return names
}

// WithoutColumns returns a copy of the table minus the named columns
func (t *Table) WithoutColumns(names []string) *Table {
	c := t.Copy()
	if len(names) == 0 {
		return c
	}
	kept := c.Columns[:0]
	for _, col := range c.Columns {
		excluded := false
		for _, n := range names {
			if strings.EqualFold(n, col.Name) {
				excluded = true
				break
			}
		}
		if !excluded {
			kept = append(kept, col)
		}
	}
	c.Columns = kept
	return c
}

func (t *Table) Copy() *Table {
	c := *t
	c.Columns = append([]Column(nil), t.Columns...)
	c.ForeignKeys = append([]ForeignKey(nil), t.ForeignKeys...)
	return &c
}

// Equal compares identity and the structural column shape (name, type, size, key flag)
func (t *Table) Equal(o *Table) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil {
		return false
	}
	if !strings.EqualFold(t.Catalog, o.Catalog) || !strings.EqualFold(t.Schema, o.Schema) ||
		!strings.EqualFold(t.Name, o.Name) || len(t.Columns) != len(o.Columns) {
		return false
	}
	for i := range t.Columns {
		a, b := t.Columns[i], o.Columns[i]
		if !strings.EqualFold(a.Name, b.Name) || a.Type != b.Type || a.Size != b.Size || a.PrimaryKey != b.PrimaryKey {
			return false
		}
	}
	return true
}
