package dialect

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

// Category groups type codes that share a capture serialization template
type Category int

const (
	CategoryString Category = iota
	CategoryChar
	CategoryNumber
	CategoryDatetime
	CategoryBinary
	CategoryBoolean
)

func CategoryOf(t models.TypeCode) Category {
	switch {
	case t == models.Char || t == models.NChar:
		return CategoryChar
	case t.IsBoolean():
		return CategoryBoolean
	case t.IsNumeric():
		return CategoryNumber
	case t.IsTemporal():
		return CategoryDatetime
	case t.IsBinary():
		return CategoryBinary
	}
	return CategoryString
}

// NativeType maps a JDBC type to the platform keyword used in DDL
type NativeType struct {
	Keyword     string
	Sized       bool
	Scaled      bool
	DefaultSize int
}

type Placeholder int

const (
	PlaceholderQuestion Placeholder = iota
	PlaceholderDollar
	PlaceholderColon
)

// TriggerTemplates holds the capture trigger text for a dialect. Templates use
// $(name) placeholders filled in by the trigger generator.
type TriggerTemplates struct {
	// Create holds the statements that install the trigger for one operation
	Create map[models.EventType][]string
	// Drop holds the statements that remove one operation's trigger
	Drop []string
	// Columns renders one column value as a quoted protocol field, or the empty
	// string for NULL. $(value) is the aliased column reference.
	Columns         map[Category]string
	NewAlias        string
	OldAlias        string
	ConcatOpen      string
	ConcatSeparator string
	ConcatClose     string
	ChangeLogInsert string
}

// Dialect is the capability table for one database product
type Dialect struct {
	Name                 string
	DriverName           string
	IdentifierQuote      string
	UpperCaseIdentifiers bool
	MaxIdentifierLength  int
	Placeholder          Placeholder
	TxIsolation          sql.IsolationLevel

	NativeTypes        map[models.TypeCode]NativeType
	TypeAliases        map[string]models.TypeCode
	IdentityColumnType string
	InlineIdentityKey  bool

	CharPadded        bool
	EmptyStringIsNull bool
	DateAsTimestamp   bool
	BlobAsBinary      bool
	FloatAsDecimal    bool
	DatesAsText       bool
	TransactionalDDL  bool
	ReplacesTriggers  bool
	BinaryEncoding    models.BinaryEncoding
	LegacyCharset     string

	SyncTriggersCondition   string
	DisableSyncSQL          string
	EnableSyncSQL           string
	TransactionIDExpression string
	CurrentTimestamp        string
	LastIdentitySQL         string
	TriggerExistsSQL        string

	TableLookupSQL     string
	ColumnsSQL         string
	PrimaryKeySQL      string
	MetadataUsesSchema bool

	Triggers TriggerTemplates
}

// DefaultChangeLogInsert is the insert every capture trigger runs against the change log
const DefaultChangeLogInsert = `insert into $(changeLog) (table_name, event_type, trigger_hist_id, channel_id, transaction_id, row_data, pk_data, old_data, create_time) values ($(tableName), '$(eventType)', $(historyId), $(channelId), $(txId), $(rowData), $(pkData), $(oldData), $(now))`

// Quote wraps an identifier in the dialect quote token, doubling embedded quotes
func (d *Dialect) Quote(name string) string {
	if d.UpperCaseIdentifiers {
		name = strings.ToUpper(name)
	}
	q := d.IdentifierQuote
	if q == "" {
		return name
	}
	return q + strings.ReplaceAll(name, q, q+q) + q
}

func (d *Dialect) QualifiedName(catalog, schema, name string) string {
	parts := make([]string, 0, 3)
	if catalog != "" {
		parts = append(parts, d.Quote(catalog))
	}
	if schema != "" {
		parts = append(parts, d.Quote(schema))
	}
	parts = append(parts, d.Quote(name))
	return strings.Join(parts, ".")
}

func (d *Dialect) TableName(t *models.Table) string {
	return d.QualifiedName(t.Catalog, t.Schema, t.Name)
}

// Literal renders s as a SQL string literal
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Rebind rewrites ? placeholders into the dialect's positional style. Question
// marks inside string literals are left alone.
func (d *Dialect) Rebind(query string) string {
	if d.Placeholder == PlaceholderQuestion {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inLiteral := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inLiteral = !inLiteral
			b.WriteByte(c)
		case c == '?' && !inLiteral:
			n++
			if d.Placeholder == PlaceholderDollar {
				b.WriteByte('$')
			} else {
				b.WriteByte(':')
			}
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// MetadataArgs returns the bind arguments for the metadata queries
func (d *Dialect) MetadataArgs(schema, name string) []any {
	if d.MetadataUsesSchema {
		return []any{schema, name}
	}
	return []any{name}
}

// Render replaces $(name) placeholders in one pass; substituted text is not rescanned
func Render(tmpl string, vars map[string]string) string {
	var b strings.Builder
	b.Grow(len(tmpl))
	for {
		start := strings.Index(tmpl, "$(")
		if start < 0 {
			b.WriteString(tmpl)
			return b.String()
		}
		end := strings.IndexByte(tmpl[start:], ')')
		if end < 0 {
			b.WriteString(tmpl)
			return b.String()
		}
		key := tmpl[start+2 : start+end]
		b.WriteString(tmpl[:start])
		if v, ok := vars[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(tmpl[start : start+end+1])
		}
		tmpl = tmpl[start+end+1:]
	}
}

var typeFallbacks = map[models.TypeCode]models.TypeCode{
	models.NChar:         models.Char,
	models.NVarchar:      models.Varchar,
	models.LongNVarchar:  models.LongVarchar,
	models.NClob:         models.Clob,
	models.Clob:          models.LongVarchar,
	models.LongVarchar:   models.Clob,
	models.LongVarBinary: models.Blob,
	models.Blob:          models.LongVarBinary,
	models.VarBinary:     models.Blob,
	models.Binary:        models.VarBinary,
	models.Bit:           models.Boolean,
	models.Boolean:       models.Bit,
	models.TinyInt:       models.SmallInt,
	models.SmallInt:      models.Integer,
	models.Real:          models.Float,
	models.Float:         models.Double,
	models.Numeric:       models.Decimal,
	models.Decimal:       models.Numeric,
	models.Time:          models.Timestamp,
	models.Date:          models.Timestamp,
	models.Other:         models.LongVarchar,
}

// NativeTypeFor resolves the native type, walking the fallback chain when the
// dialect has no direct mapping
func (d *Dialect) NativeTypeFor(t models.TypeCode) (NativeType, bool) {
	seen := map[models.TypeCode]bool{}
	for !seen[t] {
		if nt, ok := d.NativeTypes[t]; ok {
			return nt, true
		}
		seen[t] = true
		next, ok := typeFallbacks[t]
		if !ok {
			break
		}
		t = next
	}
	return NativeType{}, false
}

// TypeSQL renders the DDL type of a column
func (d *Dialect) TypeSQL(c models.Column) string {
	nt, ok := d.NativeTypeFor(c.Type)
	if !ok {
		nt = NativeType{Keyword: "varchar", Sized: true, DefaultSize: 255}
	}
	size := c.Size
	if size <= 0 {
		size = nt.DefaultSize
	}
	switch {
	case nt.Scaled && size > 0:
		return fmt.Sprintf("%s(%d,%d)", nt.Keyword, size, c.Scale)
	case nt.Sized && size > 0:
		return fmt.Sprintf("%s(%d)", nt.Keyword, size)
	}
	return nt.Keyword
}

func (d *Dialect) columnSQL(c models.Column) string {
	if c.AutoIncrement && d.IdentityColumnType != "" {
		return d.Quote(c.Name) + " " + d.IdentityColumnType
	}
	def := d.Quote(c.Name) + " " + d.TypeSQL(c)
	if c.DefaultValue != nil {
		def += " default " + *c.DefaultValue
	}
	if c.Required || c.PrimaryKey {
		def += " not null"
	}
	return def
}

// CreateTableSQL renders a create table statement for t
func (d *Dialect) CreateTableSQL(t *models.Table) string {
	lines := make([]string, 0, len(t.Columns)+1)
	inlineKey := false
	for _, c := range t.Columns {
		lines = append(lines, "  "+d.columnSQL(c))
		if c.AutoIncrement && d.InlineIdentityKey {
			inlineKey = true
		}
	}
	if t.HasPrimaryKey() && !inlineKey {
		keys := make([]string, 0, 2)
		for _, c := range t.Columns {
			if c.PrimaryKey {
				keys = append(keys, d.Quote(c.Name))
			}
		}
		lines = append(lines, "  primary key ("+strings.Join(keys, ", ")+")")
	}
	return "create table " + d.TableName(t) + " (\n" + strings.Join(lines, ",\n") + "\n)"
}

// AddColumnSQL renders an alter table statement adding c. New columns are
// added nullable unless they carry a default.
func (d *Dialect) AddColumnSQL(t *models.Table, c models.Column) string {
	if c.DefaultValue == nil {
		c.Required = false
		c.PrimaryKey = false
	}
	c.AutoIncrement = false
	return "alter table " + d.TableName(t) + " add " + d.columnSQL(c)
}

var genericTypes = map[string]models.TypeCode{
	"bit":                         models.Bit,
	"tinyint":                     models.TinyInt,
	"smallint":                    models.SmallInt,
	"int2":                        models.SmallInt,
	"mediumint":                   models.Integer,
	"int":                         models.Integer,
	"integer":                     models.Integer,
	"int4":                        models.Integer,
	"serial":                      models.Integer,
	"bigint":                      models.BigInt,
	"int8":                        models.BigInt,
	"bigserial":                   models.BigInt,
	"float":                       models.Float,
	"binary_float":                models.Float,
	"real":                        models.Real,
	"float4":                      models.Real,
	"double":                      models.Double,
	"double precision":            models.Double,
	"float8":                      models.Double,
	"binary_double":               models.Double,
	"numeric":                     models.Numeric,
	"decimal":                     models.Decimal,
	"number":                      models.Decimal,
	"char":                        models.Char,
	"character":                   models.Char,
	"bpchar":                      models.Char,
	"nchar":                       models.NChar,
	"varchar":                     models.Varchar,
	"character varying":           models.Varchar,
	"varchar2":                    models.Varchar,
	"nvarchar":                    models.NVarchar,
	"nvarchar2":                   models.NVarchar,
	"text":                        models.LongVarchar,
	"tinytext":                    models.LongVarchar,
	"mediumtext":                  models.LongVarchar,
	"longtext":                    models.LongVarchar,
	"clob":                        models.Clob,
	"nclob":                       models.NClob,
	"blob sub_type text":          models.Clob,
	"blob sub_type 1":             models.Clob,
	"date":                        models.Date,
	"time":                        models.Time,
	"time without time zone":      models.Time,
	"timestamp":                   models.Timestamp,
	"datetime":                    models.Timestamp,
	"timestamp without time zone": models.Timestamp,
	"timestamp with time zone":    models.Timestamp,
	"timestamptz":                 models.Timestamp,
	"binary":                      models.Binary,
	"varbinary":                   models.VarBinary,
	"raw":                         models.VarBinary,
	"long raw":                    models.LongVarBinary,
	"bytea":                       models.Blob,
	"blob":                        models.Blob,
	"tinyblob":                    models.Blob,
	"mediumblob":                  models.Blob,
	"longblob":                    models.Blob,
	"boolean":                     models.Boolean,
	"bool":                        models.Boolean,
}

// ParseNativeType maps a declared column type such as "varchar(50)" or
// "NUMBER(10,2)" back to a type code, size and scale
func (d *Dialect) ParseNativeType(decl string) (models.TypeCode, int, int) {
	decl = strings.ToLower(strings.TrimSpace(decl))
	size, scale := 0, 0
	if open := strings.IndexByte(decl, '('); open >= 0 {
		if end := strings.IndexByte(decl[open:], ')'); end > 0 {
			args := strings.Split(decl[open+1:open+end], ",")
			size, _ = strconv.Atoi(strings.TrimSpace(args[0]))
			if len(args) > 1 {
				scale, _ = strconv.Atoi(strings.TrimSpace(args[1]))
			}
			decl = strings.TrimSpace(decl[:open] + " " + decl[open+end+1:])
		}
	}
	decl = strings.Join(strings.Fields(decl), " ")
	decl = strings.TrimSuffix(decl, " unsigned")

	if t, ok := d.TypeAliases[decl]; ok {
		return t, size, scale
	}
	if t, ok := genericTypes[decl]; ok {
		return t, size, scale
	}
	return affinity(decl), size, scale
}

// affinity applies SQLite-style column affinity rules to unknown declarations
func affinity(decl string) models.TypeCode {
	switch {
	case strings.Contains(decl, "int"):
		return models.Integer
	case strings.Contains(decl, "char"), strings.Contains(decl, "clob"), strings.Contains(decl, "text"):
		return models.Varchar
	case decl == "" || strings.Contains(decl, "blob"):
		return models.Blob
	case strings.Contains(decl, "real"), strings.Contains(decl, "floa"), strings.Contains(decl, "doub"):
		return models.Double
	}
	return models.Numeric
}

// KeepsSize reports whether size and scale are part of a type's structural identity
func KeepsSize(t models.TypeCode) bool {
	switch t {
	case models.Char, models.Varchar, models.NChar, models.NVarchar,
		models.Binary, models.VarBinary, models.Decimal, models.Numeric:
		return true
	}
	return false
}

// perOperation expands one trigger body into the per operation create map
func perOperation(statements ...string) map[models.EventType][]string {
	m := make(map[models.EventType][]string, 3)
	for _, e := range []models.EventType{models.EventInsert, models.EventUpdate, models.EventDelete} {
		m[e] = statements
	}
	return m
}
