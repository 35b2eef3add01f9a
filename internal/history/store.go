package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/dialect"
)

const TableName = "sync_trigger_hist"

var ErrNotFound = errors.New("trigger history not found")

const selectColumns = `select trigger_hist_id, trigger_id, source_catalog_name, source_schema_name, source_table_name,
  column_names, pk_column_names, name_for_insert_trigger, name_for_update_trigger, name_for_delete_trigger,
  table_hash, last_trigger_build_reason, create_time, inactive_time
from sync_trigger_hist`

// Store persists trigger histories. Every method takes a Querier so the
// installer can read and write inside its DDL transaction.
type Store struct {
	dialect *dialect.Dialect
}

func NewStore(d *dialect.Dialect) *Store {
	return &Store{dialect: d}
}

// Insert stores h and assigns its id
func (s *Store) Insert(ctx context.Context, q db.Querier, h *TriggerHistory) error {
	var catalog, schema any
	if h.SourceCatalogName != "" {
		catalog = h.SourceCatalogName
	}
	if h.SourceSchemaName != "" {
		schema = h.SourceSchemaName
	}
	id, err := db.InsertWithID(ctx, q, s.dialect, TableName, "trigger_hist_id",
		[]string{
			"trigger_id", "source_catalog_name", "source_schema_name", "source_table_name",
			"column_names", "pk_column_names", "name_for_insert_trigger", "name_for_update_trigger",
			"name_for_delete_trigger", "table_hash", "last_trigger_build_reason", "create_time",
		},
		[]any{
			h.TriggerID, catalog, schema, h.SourceTableName,
			h.ColumnNames, h.PKColumnNames, h.NameForInsertTrigger, h.NameForUpdateTrigger,
			h.NameForDeleteTrigger, int64(h.TableHash), string(h.LastTriggerBuildReason), h.CreateTime,
		})
	if err != nil {
		return fmt.Errorf("failed to insert trigger history for %s: %w", h.TriggerID, err)
	}
	h.ID = int(id)
	return nil
}

// Inactivate marks a superseded history. The row itself is never changed otherwise.
func (s *Store) Inactivate(ctx context.Context, q db.Querier, id int, at time.Time) error {
	_, err := q.ExecContext(ctx, s.dialect.Rebind(
		"update sync_trigger_hist set inactive_time = ? where trigger_hist_id = ? and inactive_time is null"), at, id)
	if err != nil {
		return fmt.Errorf("failed to inactivate trigger history %d: %w", id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, q db.Querier, id int) (*TriggerHistory, error) {
	rows, err := q.QueryContext(ctx, s.dialect.Rebind(selectColumns+" where trigger_hist_id = ?"), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load trigger history %d: %w", id, err)
	}
	list, err := scanHistories(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("trigger history %d: %w", id, ErrNotFound)
	}
	return list[0], nil
}

// FindActive returns the newest active history of a trigger, or nil
func (s *Store) FindActive(ctx context.Context, q db.Querier, triggerID string) (*TriggerHistory, error) {
	rows, err := q.QueryContext(ctx, s.dialect.Rebind(
		selectColumns+" where trigger_id = ? and inactive_time is null order by trigger_hist_id desc"), triggerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find active history for %s: %w", triggerID, err)
	}
	list, err := scanHistories(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListActive(ctx context.Context, q db.Querier) ([]*TriggerHistory, error) {
	rows, err := q.QueryContext(ctx, selectColumns+" where inactive_time is null order by trigger_hist_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list active histories: %w", err)
	}
	return scanHistories(rows)
}

func scanHistories(rows *sql.Rows) ([]*TriggerHistory, error) {
	defer rows.Close()

	var out []*TriggerHistory
	for rows.Next() {
		var h TriggerHistory
		var catalog, schema, columns, pkColumns sql.NullString
		var insertName, updateName, deleteName sql.NullString
		var hash int64
		var reason string
		var created, inactive db.NullTime
		if err := rows.Scan(&h.ID, &h.TriggerID, &catalog, &schema, &h.SourceTableName,
			&columns, &pkColumns, &insertName, &updateName, &deleteName,
			&hash, &reason, &created, &inactive); err != nil {
			return nil, fmt.Errorf("trigger history scan error: %w", err)
		}
		h.SourceCatalogName = catalog.String
		h.SourceSchemaName = schema.String
		h.ColumnNames = columns.String
		h.PKColumnNames = pkColumns.String
		h.NameForInsertTrigger = insertName.String
		h.NameForUpdateTrigger = updateName.String
		h.NameForDeleteTrigger = deleteName.String
		h.TableHash = int32(hash)
		h.LastTriggerBuildReason = BuildReason(reason)
		h.CreateTime = created.Time
		h.InactiveTime = inactive.Ptr()
		out = append(out, &h)
	}
	return out, rows.Err()
}
