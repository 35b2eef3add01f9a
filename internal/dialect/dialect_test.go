package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

func TestRebind(t *testing.T) {
	q := "select * from t where a = ? and b = '?' and c = ?"

	assert.Equal(t, q, SQLite().Rebind(q))
	assert.Equal(t, "select * from t where a = $1 and b = '?' and c = $2", Postgres().Rebind(q))
	assert.Equal(t, "select * from t where a = :1 and b = '?' and c = :2", Oracle().Rebind(q))
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"order"`, SQLite().Quote("order"))
	assert.Equal(t, "`we``ird`", MySQL().Quote("we`ird"))
	assert.Equal(t, `"CUSTOMER"`, Firebird().Quote("customer"))
	assert.Equal(t, `"app"."items"`, Postgres().QualifiedName("", "app", "items"))

	noQuote := SQLite()
	noQuote.IdentifierQuote = ""
	assert.Equal(t, "items", noQuote.Quote("items"))
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	out := Render("create trigger $(name) on $(table) $(missing)", map[string]string{
		"name":  "t_$(table)",
		"table": "items",
	})
	assert.Equal(t, "create trigger t_$(table) on items $(missing)", out)
}

func TestParseNativeType(t *testing.T) {
	d := SQLite()
	cases := []struct {
		decl  string
		code  models.TypeCode
		size  int
		scale int
	}{
		{"VARCHAR(50)", models.Varchar, 50, 0},
		{"numeric(10, 2)", models.Numeric, 10, 2},
		{"character varying", models.Varchar, 0, 0},
		{"TIMESTAMP(6) WITH TIME ZONE", models.Timestamp, 6, 0},
		{"int unsigned", models.Integer, 0, 0},
		{"BLOB SUB_TYPE TEXT", models.Clob, 0, 0},
		{"UNSIGNED BIG INT", models.Integer, 0, 0},
		{"", models.Blob, 0, 0},
		{"whatever", models.Numeric, 0, 0},
	}
	for _, c := range cases {
		t.Run(c.decl, func(t *testing.T) {
			code, size, scale := d.ParseNativeType(c.decl)
			assert.Equal(t, c.code, code)
			assert.Equal(t, c.size, size)
			assert.Equal(t, c.scale, scale)
		})
	}
}

func TestCreateTableSQL(t *testing.T) {
	table := models.NewTable("", "", "items",
		models.Column{Name: "id", Type: models.Integer, PrimaryKey: true},
		models.Column{Name: "name", Type: models.Varchar, Size: 40, Required: true},
		models.Column{Name: "price", Type: models.Decimal, Size: 10, Scale: 2},
		models.Column{Name: "payload", Type: models.LongVarBinary},
	)

	sql := SQLite().CreateTableSQL(table)
	assert.Contains(t, sql, `create table "items"`)
	assert.Contains(t, sql, `"id" integer not null`)
	assert.Contains(t, sql, `"name" varchar(40) not null`)
	assert.Contains(t, sql, `"price" decimal(10,2)`)
	assert.Contains(t, sql, `"payload" blob`)
	assert.Contains(t, sql, `primary key ("id")`)

	mysql := MySQL().CreateTableSQL(table)
	assert.Contains(t, mysql, "`payload` longblob")
}

func TestCreateTableSQLInlineIdentity(t *testing.T) {
	table := models.NewTable("", "", "sync_data",
		models.Column{Name: "data_id", Type: models.BigInt, PrimaryKey: true, AutoIncrement: true},
		models.Column{Name: "row_data", Type: models.LongVarchar},
	)

	sql := SQLite().CreateTableSQL(table)
	assert.Contains(t, sql, `"data_id" integer primary key autoincrement`)
	assert.NotContains(t, sql, "primary key (")
}

func TestAddColumnSQLDropsNotNullWithoutDefault(t *testing.T) {
	table := models.NewTable("", "", "items")
	sql := Postgres().AddColumnSQL(table, models.Column{Name: "email", Type: models.Varchar, Size: 80, Required: true})
	assert.Equal(t, `alter table "items" add "email" varchar(80)`, sql)
}

func TestNativeTypeFallback(t *testing.T) {
	nt, ok := Oracle().NativeTypeFor(models.LongNVarchar)
	require.True(t, ok)
	assert.Equal(t, "clob", nt.Keyword)
}

func TestOracleDatetimeKeepsFractionalSeconds(t *testing.T) {
	tmpl := Oracle().Triggers.Columns[CategoryDatetime]
	// DATE columns are cast so the FF6 mask applies to both types
	assert.Contains(t, tmpl, "cast($(value) as timestamp)")
	assert.Contains(t, tmpl, "'YYYY-MM-DD HH24:MI:SS.FF6'")
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"firebird", "mysql", "oracle", "postgres", "sqlite"}, r.Names())

	d, err := r.Get("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, "pgx", d.DriverName)

	d.LegacyCharset = "WIN1252"
	again, err := r.Get("postgres")
	require.NoError(t, err)
	assert.Empty(t, again.LegacyCharset)

	_, err = r.Get("db2")
	assert.Error(t, err)
}

func TestEveryDialectHasCaptureTemplates(t *testing.T) {
	r := DefaultRegistry()
	for _, name := range r.Names() {
		d, err := r.Get(name)
		require.NoError(t, err)
		for _, e := range []models.EventType{models.EventInsert, models.EventUpdate, models.EventDelete} {
			assert.NotEmpty(t, d.Triggers.Create[e], "%s %s", name, e)
		}
		for _, c := range []Category{CategoryString, CategoryChar, CategoryNumber, CategoryDatetime, CategoryBinary, CategoryBoolean} {
			assert.Contains(t, d.Triggers.Columns[c], "$(value)", "%s category %d", name, c)
		}
		assert.NotEmpty(t, d.SyncTriggersCondition, name)
		assert.NotEmpty(t, d.TableLookupSQL, name)
	}
}
