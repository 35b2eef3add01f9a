package dialect

import (
	"database/sql"

	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

// Firebird runs through nakagami/firebirdsql (Firebird 3+, base64_encode needs 4.0).
// Sync is disabled with a USER_TRANSACTION context variable.
func Firebird() *Dialect {
	return &Dialect{
		Name:                 "firebird",
		DriverName:           "firebirdsql",
		IdentifierQuote:      `"`,
		UpperCaseIdentifiers: true,
		MaxIdentifierLength:  31,
		Placeholder:          PlaceholderQuestion,
		TxIsolation:          sql.LevelReadCommitted,

		NativeTypes: map[models.TypeCode]NativeType{
			models.Boolean:     {Keyword: "boolean"},
			models.TinyInt:     {Keyword: "smallint"},
			models.SmallInt:    {Keyword: "smallint"},
			models.Integer:     {Keyword: "integer"},
			models.BigInt:      {Keyword: "bigint"},
			models.Float:       {Keyword: "float"},
			models.Double:      {Keyword: "double precision"},
			models.Numeric:     {Keyword: "numeric", Sized: true, Scaled: true},
			models.Decimal:     {Keyword: "decimal", Sized: true, Scaled: true},
			models.Char:        {Keyword: "char", Sized: true, DefaultSize: 1},
			models.Varchar:     {Keyword: "varchar", Sized: true, DefaultSize: 255},
			models.LongVarchar: {Keyword: "blob sub_type text"},
			models.Date:        {Keyword: "date"},
			models.Time:        {Keyword: "time"},
			models.Timestamp:   {Keyword: "timestamp"},
			models.Blob:        {Keyword: "blob"},
		},
		IdentityColumnType: "bigint generated by default as identity primary key",
		InlineIdentityKey:  true,

		CharPadded:       true,
		ReplacesTriggers: true,
		BinaryEncoding:   models.EncodingBase64,

		SyncTriggersCondition:   "rdb$get_context('USER_TRANSACTION', 'sync_disabled') is null",
		DisableSyncSQL:          "select rdb$set_context('USER_TRANSACTION', 'sync_disabled', '1') from rdb$database",
		EnableSyncSQL:           "select rdb$set_context('USER_TRANSACTION', 'sync_disabled', null) from rdb$database",
		TransactionIDExpression: "cast(current_transaction as varchar(30))",
		CurrentTimestamp:        "current_timestamp",
		TriggerExistsSQL:        "select count(*) from rdb$triggers where rdb$trigger_name = upper(?)",

		TableLookupSQL: "select trim(rdb$relation_name) from rdb$relations where rdb$relation_name = upper(?)",
		ColumnsSQL: `select trim(rf.rdb$field_name),
  case f.rdb$field_type
    when 7 then case when f.rdb$field_scale < 0 then 'NUMERIC' else 'SMALLINT' end
    when 8 then case when f.rdb$field_scale < 0 then 'NUMERIC' else 'INTEGER' end
    when 16 then case when f.rdb$field_scale < 0 then 'NUMERIC' else 'BIGINT' end
    when 10 then 'FLOAT'
    when 27 then 'DOUBLE PRECISION'
    when 12 then 'DATE'
    when 13 then 'TIME'
    when 35 then 'TIMESTAMP'
    when 14 then 'CHAR'
    when 37 then 'VARCHAR'
    when 23 then 'BOOLEAN'
    when 261 then case when f.rdb$field_sub_type = 1 then 'BLOB SUB_TYPE TEXT' else 'BLOB' end
    else 'OTHER' end,
  f.rdb$character_length, f.rdb$field_precision, -f.rdb$field_scale,
  case when rf.rdb$null_flag = 1 then 'NO' else 'YES' end,
  null
from rdb$relation_fields rf
join rdb$fields f on f.rdb$field_name = rf.rdb$field_source
where rf.rdb$relation_name = upper(?)
order by rf.rdb$field_position`,
		PrimaryKeySQL: `select trim(s.rdb$field_name)
from rdb$relation_constraints rc
join rdb$index_segments s on s.rdb$index_name = rc.rdb$index_name
where rc.rdb$constraint_type = 'PRIMARY KEY' and rc.rdb$relation_name = upper(?)
order by s.rdb$field_position`,

		Triggers: TriggerTemplates{
			Create: perOperation(`create or alter trigger $(triggerName) for $(table) after $(triggerEvent) as
begin
  if ($(syncCondition) and ($(condition))) then
    $(changeLogInsert);
end`),
			Drop: []string{"drop trigger $(triggerName)"},
			Columns: map[Category]string{
				CategoryString:   `case when $(value) is null then '' else '"' || replace($(value), '"', '""') || '"' end`,
				CategoryChar:     `case when $(value) is null then '' else '"' || replace(trim(trailing from $(value)), '"', '""') || '"' end`,
				CategoryNumber:   `case when $(value) is null then '' else '"' || cast($(value) as varchar(50)) || '"' end`,
				CategoryDatetime: `case when $(value) is null then '' else '"' || cast($(value) as varchar(30)) || '"' end`,
				CategoryBinary:   `case when $(value) is null then '' else '"' || base64_encode($(value)) || '"' end`,
				CategoryBoolean:  `case when $(value) is null then '' when $(value) then '"1"' else '"0"' end`,
			},
			NewAlias:        "new",
			OldAlias:        "old",
			ConcatSeparator: " || ',' || ",
			ChangeLogInsert: DefaultChangeLogInsert,
		},
	}
}
