package dialect

import (
	"database/sql"

	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

// SQLite describes the modernc.org/sqlite driver. Sync is disabled through a
// row in sync_context, so the flag is scoped to the loading transaction.
func SQLite() *Dialect {
	return &Dialect{
		Name:                "sqlite",
		DriverName:          "sqlite",
		IdentifierQuote:     `"`,
		MaxIdentifierLength: 128,
		Placeholder:         PlaceholderQuestion,
		TxIsolation:         sql.LevelDefault,

		NativeTypes: map[models.TypeCode]NativeType{
			models.Boolean:     {Keyword: "boolean"},
			models.TinyInt:     {Keyword: "tinyint"},
			models.SmallInt:    {Keyword: "smallint"},
			models.Integer:     {Keyword: "integer"},
			models.BigInt:      {Keyword: "bigint"},
			models.Float:       {Keyword: "float"},
			models.Real:        {Keyword: "real"},
			models.Double:      {Keyword: "double"},
			models.Numeric:     {Keyword: "numeric", Sized: true, Scaled: true},
			models.Decimal:     {Keyword: "decimal", Sized: true, Scaled: true},
			models.Char:        {Keyword: "char", Sized: true},
			models.Varchar:     {Keyword: "varchar", Sized: true},
			models.LongVarchar: {Keyword: "text"},
			models.Date:        {Keyword: "date"},
			models.Time:        {Keyword: "time"},
			models.Timestamp:   {Keyword: "timestamp"},
			models.Blob:        {Keyword: "blob"},
		},
		IdentityColumnType: "integer primary key autoincrement",
		InlineIdentityKey:  true,

		DatesAsText:      true,
		TransactionalDDL: true,
		BinaryEncoding:   models.EncodingHex,

		SyncTriggersCondition:   "(select count(*) from sync_context where name = 'sync_disabled') = 0",
		DisableSyncSQL:          "insert or replace into sync_context (name, context_value) values ('sync_disabled', '1')",
		EnableSyncSQL:           "delete from sync_context where name = 'sync_disabled'",
		TransactionIDExpression: "null",
		CurrentTimestamp:        "current_timestamp",
		LastIdentitySQL:         "select last_insert_rowid()",
		TriggerExistsSQL:        "select count(*) from sqlite_master where type = 'trigger' and name = ?",

		TableLookupSQL: "select name from sqlite_master where type = 'table' and lower(name) = lower(?)",
		ColumnsSQL: `select name, type, null, null, null, case when "notnull" = 1 then 'NO' else 'YES' end, dflt_value
from pragma_table_info(?) order by cid`,
		PrimaryKeySQL: "select name from pragma_table_info(?) where pk > 0 order by pk",

		Triggers: TriggerTemplates{
			Create: perOperation(`create trigger $(triggerName) after $(triggerEvent) on $(table)
for each row when $(syncCondition) and ($(condition))
begin
  $(changeLogInsert);
end`),
			Drop: []string{"drop trigger if exists $(triggerName)"},
			Columns: map[Category]string{
				CategoryString:   `case when $(value) is null then '' else '"' || replace($(value), '"', '""') || '"' end`,
				CategoryChar:     `case when $(value) is null then '' else '"' || replace($(value), '"', '""') || '"' end`,
				CategoryNumber:   `case when $(value) is null then '' else '"' || cast($(value) as text) || '"' end`,
				CategoryDatetime: `case when $(value) is null then '' else '"' || replace($(value), '"', '""') || '"' end`,
				CategoryBinary:   `case when $(value) is null then '' else '"' || hex($(value)) || '"' end`,
				CategoryBoolean:  `case when $(value) is null then '' else '"' || cast($(value) as text) || '"' end`,
			},
			NewAlias:        "new",
			OldAlias:        "old",
			ConcatSeparator: " || ',' || ",
			ChangeLogInsert: DefaultChangeLogInsert,
		},
	}
}
