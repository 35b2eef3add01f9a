package dialect

import (
	"database/sql"

	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

// MySQL covers MySQL and MariaDB through go-sql-driver/mysql. The DSN must set
// parseTime=true. Trigger DDL commits implicitly, so swaps are drop-then-create.
func MySQL() *Dialect {
	return &Dialect{
		Name:                "mysql",
		DriverName:          "mysql",
		IdentifierQuote:     "`",
		MaxIdentifierLength: 64,
		Placeholder:         PlaceholderQuestion,
		TxIsolation:         sql.LevelReadCommitted,

		NativeTypes: map[models.TypeCode]NativeType{
			models.Boolean:       {Keyword: "boolean"},
			models.Bit:           {Keyword: "bit"},
			models.TinyInt:       {Keyword: "tinyint"},
			models.SmallInt:      {Keyword: "smallint"},
			models.Integer:       {Keyword: "int"},
			models.BigInt:        {Keyword: "bigint"},
			models.Float:         {Keyword: "float"},
			models.Real:          {Keyword: "float"},
			models.Double:        {Keyword: "double"},
			models.Numeric:       {Keyword: "decimal", Sized: true, Scaled: true},
			models.Decimal:       {Keyword: "decimal", Sized: true, Scaled: true},
			models.Char:          {Keyword: "char", Sized: true, DefaultSize: 1},
			models.Varchar:       {Keyword: "varchar", Sized: true, DefaultSize: 255},
			models.LongVarchar:   {Keyword: "longtext"},
			models.Date:          {Keyword: "date"},
			models.Time:          {Keyword: "time"},
			models.Timestamp:     {Keyword: "datetime"},
			models.Binary:        {Keyword: "binary", Sized: true, DefaultSize: 1},
			models.VarBinary:     {Keyword: "varbinary", Sized: true, DefaultSize: 255},
			models.LongVarBinary: {Keyword: "longblob"},
		},
		TypeAliases: map[string]models.TypeCode{
			"enum": models.Varchar,
			"set":  models.Varchar,
			"json": models.LongVarchar,
			"year": models.SmallInt,
		},
		IdentityColumnType: "bigint auto_increment primary key",
		InlineIdentityKey:  true,

		FloatAsDecimal: true,
		BinaryEncoding: models.EncodingHex,

		SyncTriggersCondition:   "@sync_triggers_disabled is null",
		DisableSyncSQL:          "set @sync_triggers_disabled = 1",
		EnableSyncSQL:           "set @sync_triggers_disabled = null",
		TransactionIDExpression: "(select trx_id from information_schema.innodb_trx where trx_mysql_thread_id = connection_id())",
		CurrentTimestamp:        "current_timestamp",
		LastIdentitySQL:         "select last_insert_id()",
		TriggerExistsSQL:        "select count(*) from information_schema.triggers where trigger_schema = database() and trigger_name = ?",

		TableLookupSQL: `select table_name from information_schema.tables
where table_schema = coalesce(nullif(?, ''), database()) and table_name = ?`,
		ColumnsSQL: `select column_name, data_type, character_maximum_length, numeric_precision, numeric_scale, is_nullable, column_default
from information_schema.columns
where table_schema = coalesce(nullif(?, ''), database()) and table_name = ?
order by ordinal_position`,
		PrimaryKeySQL: `select column_name from information_schema.key_column_usage
where constraint_name = 'PRIMARY' and table_schema = coalesce(nullif(?, ''), database()) and table_name = ?
order by ordinal_position`,
		MetadataUsesSchema: true,

		Triggers: TriggerTemplates{
			Create: perOperation(`create trigger $(triggerName) after $(triggerEvent) on $(table) for each row
begin
  if $(syncCondition) and ($(condition)) then
    $(changeLogInsert);
  end if;
end`),
			Drop: []string{"drop trigger if exists $(triggerName)"},
			Columns: map[Category]string{
				CategoryString:   `if($(value) is null, '', concat('"', replace($(value), '"', '""'), '"'))`,
				CategoryChar:     `if($(value) is null, '', concat('"', replace($(value), '"', '""'), '"'))`,
				CategoryNumber:   `if($(value) is null, '', concat('"', cast($(value) as char), '"'))`,
				CategoryDatetime: `if($(value) is null, '', concat('"', cast($(value) as char), '"'))`,
				CategoryBinary:   `if($(value) is null, '', concat('"', hex($(value)), '"'))`,
				CategoryBoolean:  `if($(value) is null, '', concat('"', cast($(value) as char), '"'))`,
			},
			NewAlias:        "new",
			OldAlias:        "old",
			ConcatOpen:      "concat(",
			ConcatSeparator: ", ',', ",
			ConcatClose:     ")",
			ChangeLogInsert: DefaultChangeLogInsert,
		},
	}
}
