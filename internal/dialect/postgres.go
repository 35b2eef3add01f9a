package dialect

import (
	"database/sql"

	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

// Postgres runs through the pgx stdlib driver. The capture function and its
// trigger are created in the same transaction so a swap is atomic.
func Postgres() *Dialect {
	return &Dialect{
		Name:                "postgres",
		DriverName:          "pgx",
		IdentifierQuote:     `"`,
		MaxIdentifierLength: 63,
		Placeholder:         PlaceholderDollar,
		TxIsolation:         sql.LevelReadCommitted,

		NativeTypes: map[models.TypeCode]NativeType{
			models.Boolean:     {Keyword: "boolean"},
			models.TinyInt:     {Keyword: "smallint"},
			models.SmallInt:    {Keyword: "smallint"},
			models.Integer:     {Keyword: "integer"},
			models.BigInt:      {Keyword: "bigint"},
			models.Float:       {Keyword: "double precision"},
			models.Real:        {Keyword: "real"},
			models.Double:      {Keyword: "double precision"},
			models.Numeric:     {Keyword: "numeric", Sized: true, Scaled: true},
			models.Decimal:     {Keyword: "decimal", Sized: true, Scaled: true},
			models.Char:        {Keyword: "char", Sized: true},
			models.Varchar:     {Keyword: "varchar", Sized: true},
			models.LongVarchar: {Keyword: "text"},
			models.Date:        {Keyword: "date"},
			models.Time:        {Keyword: "time"},
			models.Timestamp:   {Keyword: "timestamp"},
			models.Blob:        {Keyword: "bytea"},
		},
		TypeAliases: map[string]models.TypeCode{
			"user-defined": models.Varchar,
			"json":         models.LongVarchar,
			"jsonb":        models.LongVarchar,
			"uuid":         models.Varchar,
		},
		IdentityColumnType: "bigserial primary key",
		InlineIdentityKey:  true,

		CharPadded:       true,
		BlobAsBinary:     true,
		TransactionalDDL: true,
		BinaryEncoding:   models.EncodingBase64,

		SyncTriggersCondition:   "coalesce(current_setting('sync.triggers_disabled', true), '') <> '1'",
		DisableSyncSQL:          "select set_config('sync.triggers_disabled', '1', true)",
		EnableSyncSQL:           "select set_config('sync.triggers_disabled', '', true)",
		TransactionIDExpression: "cast(txid_current() as text)",
		CurrentTimestamp:        "current_timestamp",
		LastIdentitySQL:         "select lastval()",
		TriggerExistsSQL:        "select count(*) from information_schema.triggers where trigger_name = ?",

		TableLookupSQL: `select table_name from information_schema.tables
where table_schema = coalesce(nullif(?, ''), current_schema()) and lower(table_name) = lower(?)`,
		ColumnsSQL: `select column_name, data_type, character_maximum_length, numeric_precision, numeric_scale, is_nullable, column_default
from information_schema.columns
where table_schema = coalesce(nullif(?, ''), current_schema()) and table_name = ?
order by ordinal_position`,
		PrimaryKeySQL: `select kcu.column_name
from information_schema.table_constraints tc
join information_schema.key_column_usage kcu
  on tc.constraint_name = kcu.constraint_name and tc.table_schema = kcu.table_schema and tc.table_name = kcu.table_name
where tc.constraint_type = 'PRIMARY KEY' and tc.table_schema = coalesce(nullif(?, ''), current_schema()) and tc.table_name = ?
order by kcu.ordinal_position`,
		MetadataUsesSchema: true,

		Triggers: TriggerTemplates{
			Create: perOperation(
				`create or replace function $(triggerName)() returns trigger as $function$
begin
  if $(syncCondition) and ($(condition)) then
    $(changeLogInsert);
  end if;
  return null;
end;
$function$ language plpgsql`,
				"drop trigger if exists $(triggerName) on $(table)",
				"create trigger $(triggerName) after $(triggerEvent) on $(table) for each row execute procedure $(triggerName)()",
			),
			Drop: []string{
				"drop trigger if exists $(triggerName) on $(table)",
				"drop function if exists $(triggerName)()",
			},
			Columns: map[Category]string{
				CategoryString:   `case when $(value) is null then '' else '"' || replace(cast($(value) as text), '"', '""') || '"' end`,
				CategoryChar:     `case when $(value) is null then '' else '"' || replace(rtrim(cast($(value) as text)), '"', '""') || '"' end`,
				CategoryNumber:   `case when $(value) is null then '' else '"' || cast($(value) as text) || '"' end`,
				CategoryDatetime: `case when $(value) is null then '' else '"' || cast($(value) as text) || '"' end`,
				CategoryBinary:   `case when $(value) is null then '' else '"' || encode($(value), 'base64') || '"' end`,
				CategoryBoolean:  `case when $(value) is null then '' when $(value) then '"1"' else '"0"' end`,
			},
			NewAlias:        "new",
			OldAlias:        "old",
			ConcatSeparator: " || ',' || ",
			ChangeLogInsert: DefaultChangeLogInsert,
		},
	}
}
