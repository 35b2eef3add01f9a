package platform

import (
	"context"
	"fmt"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

// ChangeLogTable is written by every capture trigger
const ChangeLogTable = "sync_data"

func col(name string, t models.TypeCode, size int) models.Column {
	return models.Column{Name: name, Type: t, Size: size}
}

func required(c models.Column) models.Column {
	c.Required = true
	return c
}

func key(c models.Column) models.Column {
	c.PrimaryKey = true
	c.Required = true
	return c
}

func identity(name string) models.Column {
	return models.Column{Name: name, Type: models.BigInt, PrimaryKey: true, Required: true, AutoIncrement: true}
}

// RuntimeTables are the bookkeeping tables the capture pipeline needs on every node
func RuntimeTables() []*models.Table {
	return []*models.Table{
		models.NewTable("", "", "sync_trigger_hist",
			identity("trigger_hist_id"),
			required(col("trigger_id", models.Varchar, 128)),
			col("source_catalog_name", models.Varchar, 255),
			col("source_schema_name", models.Varchar, 255),
			required(col("source_table_name", models.Varchar, 255)),
			required(col("column_names", models.LongVarchar, 0)),
			required(col("pk_column_names", models.LongVarchar, 0)),
			col("name_for_insert_trigger", models.Varchar, 255),
			col("name_for_update_trigger", models.Varchar, 255),
			col("name_for_delete_trigger", models.Varchar, 255),
			required(col("table_hash", models.BigInt, 0)),
			required(col("last_trigger_build_reason", models.Char, 1)),
			required(col("create_time", models.Timestamp, 0)),
			col("inactive_time", models.Timestamp, 0),
		),
		models.NewTable("", "", ChangeLogTable,
			identity("data_id"),
			required(col("table_name", models.Varchar, 255)),
			required(col("event_type", models.Char, 1)),
			required(col("trigger_hist_id", models.BigInt, 0)),
			col("row_data", models.LongVarchar, 0),
			col("pk_data", models.LongVarchar, 0),
			col("old_data", models.LongVarchar, 0),
			col("channel_id", models.Varchar, 128),
			col("transaction_id", models.Varchar, 255),
			col("source_node_id", models.Varchar, 50),
			col("create_time", models.Timestamp, 0),
			col("batch_id", models.BigInt, 0),
		),
		models.NewTable("", "", "sync_outgoing_batch",
			identity("batch_id"),
			col("node_id", models.Varchar, 50),
			required(col("channel_id", models.Varchar, 128)),
			required(col("status", models.Char, 2)),
			col("row_count", models.BigInt, 0),
			col("byte_count", models.BigInt, 0),
			col("sql_message", models.Varchar, 2000),
			col("create_time", models.Timestamp, 0),
			col("last_update_time", models.Timestamp, 0),
		),
		models.NewTable("", "", "sync_incoming_batch",
			key(col("batch_id", models.BigInt, 0)),
			key(col("node_id", models.Varchar, 50)),
			col("channel_id", models.Varchar, 128),
			required(col("status", models.Char, 2)),
			col("row_count", models.BigInt, 0),
			col("byte_count", models.BigInt, 0),
			col("failed_line", models.BigInt, 0),
			col("failed_table", models.Varchar, 255),
			col("sql_message", models.Varchar, 2000),
			col("create_time", models.Timestamp, 0),
			col("last_update_time", models.Timestamp, 0),
		),
		models.NewTable("", "", "sync_context",
			key(col("name", models.Varchar, 80)),
			col("context_value", models.Varchar, 255),
		),
	}
}

// EnsureRuntimeTables creates the runtime tables or adds columns missing from
// an older install
func (p *Platform) EnsureRuntimeTables(ctx context.Context, q db.Querier) error {
	for _, t := range RuntimeTables() {
		if _, err := p.AlterTable(ctx, q, t); err != nil {
			return fmt.Errorf("failed to prepare runtime table %s: %w", t.Name, err)
		}
	}
	return nil
}
