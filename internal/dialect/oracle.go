package dialect

import (
	"database/sql"

	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

// Oracle runs through sijms/go-ora. "create or replace trigger" swaps the
// capture trigger in place, so no drop is needed on reinstall.
func Oracle() *Dialect {
	return &Dialect{
		Name:                 "oracle",
		DriverName:           "oracle",
		IdentifierQuote:      `"`,
		UpperCaseIdentifiers: true,
		MaxIdentifierLength:  30,
		Placeholder:          PlaceholderColon,
		TxIsolation:          sql.LevelReadCommitted,

		NativeTypes: map[models.TypeCode]NativeType{
			models.Boolean:     {Keyword: "number(1)"},
			models.TinyInt:     {Keyword: "number(3)"},
			models.SmallInt:    {Keyword: "number(5)"},
			models.Integer:     {Keyword: "number(10)"},
			models.BigInt:      {Keyword: "number(19)"},
			models.Float:       {Keyword: "number"},
			models.Double:      {Keyword: "number"},
			models.Decimal:     {Keyword: "number", Sized: true, Scaled: true},
			models.Char:        {Keyword: "char", Sized: true, DefaultSize: 1},
			models.Varchar:     {Keyword: "varchar2", Sized: true, DefaultSize: 255},
			models.NVarchar:    {Keyword: "nvarchar2", Sized: true, DefaultSize: 255},
			models.Clob:        {Keyword: "clob"},
			models.Date:        {Keyword: "date"},
			models.Timestamp:   {Keyword: "timestamp"},
			models.VarBinary:   {Keyword: "raw", Sized: true, DefaultSize: 2000},
			models.Blob:        {Keyword: "blob"},
			models.LongVarchar: {Keyword: "clob"},
		},
		IdentityColumnType: "number(19) generated by default as identity primary key",
		InlineIdentityKey:  true,

		CharPadded:        true,
		EmptyStringIsNull: true,
		DateAsTimestamp:   true,
		BlobAsBinary:      true,
		FloatAsDecimal:    true,
		ReplacesTriggers:  true,
		BinaryEncoding:    models.EncodingHex,

		SyncTriggersCondition:   "(sys_context('USERENV', 'CLIENT_IDENTIFIER') is null or sys_context('USERENV', 'CLIENT_IDENTIFIER') <> 'sync_disabled')",
		DisableSyncSQL:          "begin dbms_session.set_identifier('sync_disabled'); end;",
		EnableSyncSQL:           "begin dbms_session.clear_identifier; end;",
		TransactionIDExpression: "dbms_transaction.local_transaction_id",
		CurrentTimestamp:        "systimestamp",
		TriggerExistsSQL:        "select count(*) from user_triggers where trigger_name = upper(?)",

		TableLookupSQL: "select table_name from all_tables where owner = coalesce(upper(?), user) and table_name = upper(?)",
		ColumnsSQL: `select column_name, data_type, char_length, data_precision, data_scale,
  case nullable when 'Y' then 'YES' else 'NO' end, null
from all_tab_columns
where owner = coalesce(upper(?), user) and table_name = upper(?)
order by column_id`,
		PrimaryKeySQL: `select cc.column_name
from all_constraints c
join all_cons_columns cc on c.owner = cc.owner and c.constraint_name = cc.constraint_name
where c.constraint_type = 'P' and c.owner = coalesce(upper(?), user) and c.table_name = upper(?)
order by cc.position`,
		MetadataUsesSchema: true,

		Triggers: TriggerTemplates{
			Create: perOperation(`create or replace trigger $(triggerName) after $(triggerEvent) on $(table) for each row
begin
  if $(syncCondition) and ($(condition)) then
    $(changeLogInsert);
  end if;
end;`),
			Drop: []string{"drop trigger $(triggerName)"},
			Columns: map[Category]string{
				CategoryString:   `case when $(value) is null then '' else '"' || replace($(value), '"', '""') || '"' end`,
				CategoryChar:     `case when $(value) is null then '' else '"' || replace(rtrim($(value)), '"', '""') || '"' end`,
				CategoryNumber:   `case when $(value) is null then '' else '"' || cast($(value) as varchar2(50)) || '"' end`,
				CategoryDatetime: `case when $(value) is null then '' else '"' || to_char(cast($(value) as timestamp), 'YYYY-MM-DD HH24:MI:SS.FF6') || '"' end`,
				CategoryBinary:   `case when $(value) is null then '' else '"' || rawtohex($(value)) || '"' end`,
				CategoryBoolean:  `case when $(value) is null then '' else '"' || cast($(value) as varchar2(1)) || '"' end`,
			},
			NewAlias:        ":new",
			OldAlias:        ":old",
			ConcatSeparator: " || ',' || ",
			ChangeLogInsert: DefaultChangeLogInsert,
		},
	}
}
