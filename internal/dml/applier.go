package dml

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/dialect"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

// ApplyError attributes a failed row to its table, operation and key values
type ApplyError struct {
	Table     string
	Type      DmlType
	KeyValues []string
	Err       error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s on %s failed for key %v: %v", e.Type, e.Table, e.KeyValues, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

var ErrNoKeys = errors.New("no key column exists on the target table")

// Result describes what applying one row did
type Result struct {
	Type         DmlType
	RowsAffected int64
	// Fallback is set when an update found no row and inserted it instead
	Fallback bool
}

// Applier replays captured rows against a target table
type Applier struct {
	dialect *dialect.Dialect
	cache   *StatementCache
	logger  *slog.Logger
}

func NewApplier(d *dialect.Dialect, cache *StatementCache, logger *slog.Logger) *Applier {
	return &Applier{dialect: d, cache: cache, logger: logger}
}

func (a *Applier) Cache() *StatementCache {
	return a.cache
}

// mapping aligns the columns of a stream table with a live target table.
// Stream columns the target lacks become nil slots.
type mapping struct {
	values []*models.Column
	keys   []*models.Column
}

func align(source, target *models.Table) mapping {
	m := mapping{values: make([]*models.Column, len(source.Columns))}
	for i, c := range source.Columns {
		if j := target.ColumnIndex(c.Name); j >= 0 {
			m.values[i] = &target.Columns[j]
		}
	}
	pk := source.PrimaryKeyColumns()
	m.keys = make([]*models.Column, len(pk))
	for i, c := range pk {
		if j := target.ColumnIndex(c.Name); j >= 0 {
			m.keys[i] = &target.Columns[j]
		}
	}
	return m
}

func (m mapping) hasKey() bool {
	for _, k := range m.keys {
		if k != nil {
			return true
		}
	}
	return false
}

// Apply executes one row change. source is the table shape the row was
// captured with; target is the live table it is written to.
func (a *Applier) Apply(ctx context.Context, q db.Querier, source, target *models.Table, data *models.Data, enc models.BinaryEncoding) (Result, error) {
	if data.EventType == models.EventSQL {
		return a.execSQL(ctx, q, data)
	}

	m := align(source, target)
	table := a.dialect.TableName(target)

	switch data.EventType {
	case models.EventInsert:
		if len(data.RowData) != len(source.Columns) {
			return Result{}, a.fail(target, Insert, data, fmt.Errorf("expected %d values, got %d", len(source.Columns), len(data.RowData)))
		}
		n, err := a.insert(ctx, q, table, m, data, enc)
		if err != nil {
			return Result{}, a.fail(target, Insert, data, err)
		}
		return Result{Type: Insert, RowsAffected: n}, nil

	case models.EventUpdate:
		if len(data.RowData) != len(source.Columns) {
			return Result{}, a.fail(target, Update, data, fmt.Errorf("expected %d values, got %d", len(source.Columns), len(data.RowData)))
		}
		return a.update(ctx, q, table, target, m, data, enc)

	case models.EventDelete:
		if !m.hasKey() {
			return Result{}, a.fail(target, Delete, data, ErrNoKeys)
		}
		if len(data.PKData) != len(m.keys) {
			return Result{}, a.fail(target, Delete, data, fmt.Errorf("expected %d key values, got %d", len(m.keys), len(data.PKData)))
		}
		nulls := a.nullKeys(m, data.PKData)
		st := a.cache.Get(Delete, table, m.keys, nil, nulls)
		args, err := a.args(st, nil, nil, m.keys, data.PKData, nulls, enc)
		if err != nil {
			return Result{}, a.fail(target, Delete, data, err)
		}
		res, err := q.ExecContext(ctx, st.SQL, args...)
		if err != nil {
			return Result{}, a.fail(target, Delete, data, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			a.logger.Debug("Delete found no row", "table", target.Name, "keys", data.PKData.Strings())
		}
		return Result{Type: Delete, RowsAffected: n}, nil
	}
	return Result{}, fmt.Errorf("unsupported event type %q", data.EventType)
}

func (a *Applier) insert(ctx context.Context, q db.Querier, table string, m mapping, data *models.Data, enc models.BinaryEncoding) (int64, error) {
	st := a.cache.Get(Insert, table, nil, m.values, nil)
	args, err := a.args(st, m.values, data.RowData, nil, nil, nil, enc)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, st.SQL, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// update sets every mapped column, keys included. When no row matched and a
// count confirms the row is missing, the row is inserted instead.
func (a *Applier) update(ctx context.Context, q db.Querier, table string, target *models.Table, m mapping, data *models.Data, enc models.BinaryEncoding) (Result, error) {
	if !m.hasKey() {
		return Result{}, a.fail(target, Update, data, ErrNoKeys)
	}
	keyValues := data.PKData
	if len(keyValues) == 0 {
		keyValues = data.OldData
	}
	if len(keyValues) != len(m.keys) {
		return Result{}, a.fail(target, Update, data, fmt.Errorf("expected %d key values, got %d", len(m.keys), len(keyValues)))
	}
	nulls := a.nullKeys(m, keyValues)

	st := a.cache.Get(Update, table, m.keys, m.values, nulls)
	args, err := a.args(st, m.values, data.RowData, m.keys, keyValues, nulls, enc)
	if err != nil {
		return Result{}, a.fail(target, Update, data, err)
	}
	res, err := q.ExecContext(ctx, st.SQL, args...)
	if err != nil {
		return Result{}, a.fail(target, Update, data, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return Result{Type: Update, RowsAffected: n}, nil
	}

	// some drivers report unchanged rows as not affected
	count := a.cache.Get(Count, table, m.keys, nil, nulls)
	countArgs, err := a.args(count, nil, nil, m.keys, keyValues, nulls, enc)
	if err != nil {
		return Result{}, a.fail(target, Update, data, err)
	}
	var existing int64
	if err := q.QueryRowContext(ctx, count.SQL, countArgs...).Scan(&existing); err != nil {
		return Result{}, a.fail(target, Count, data, err)
	}
	if existing > 0 {
		return Result{Type: Update}, nil
	}

	a.logger.Debug("Update found no row, inserting", "table", target.Name, "keys", keyValues.Strings())
	n, err = a.insert(ctx, q, table, m, data, enc)
	if err != nil {
		return Result{}, a.fail(target, Insert, data, err)
	}
	return Result{Type: Update, RowsAffected: n, Fallback: true}, nil
}

func (a *Applier) execSQL(ctx context.Context, q db.Querier, data *models.Data) (Result, error) {
	if len(data.RowData) != 1 || data.RowData[0] == nil {
		return Result{}, fmt.Errorf("sql event without statement")
	}
	res, err := q.ExecContext(ctx, *data.RowData[0])
	if err != nil {
		return Result{}, &ApplyError{Table: data.TableName, Type: Update, Err: err}
	}
	n, _ := res.RowsAffected()
	return Result{Type: Update, RowsAffected: n}, nil
}

// nullKeys flags key values that must be matched with "is null"
func (a *Applier) nullKeys(m mapping, values models.Values) []bool {
	nulls := make([]bool, len(m.keys))
	for i := range m.keys {
		if i >= len(values) {
			continue
		}
		v := values[i]
		nulls[i] = v == nil || (a.dialect.EmptyStringIsNull && *v == "")
	}
	return nulls
}

// args converts the value and key texts in statement parameter order: mapped
// row values first, then the non-null keys
func (a *Applier) args(st *Statement, values []*models.Column, rowValues models.Values, keys []*models.Column, keyValues models.Values, nulls []bool, enc models.BinaryEncoding) ([]any, error) {
	texts := make([]*string, 0, len(st.Types))
	for i, c := range values {
		if c != nil {
			texts = append(texts, rowValues[i])
		}
	}
	for i, c := range keys {
		if c == nil || (i < len(nulls) && nulls[i]) {
			continue
		}
		texts = append(texts, keyValues[i])
	}
	if len(texts) != len(st.Types) {
		return nil, fmt.Errorf("statement expects %d parameters, got %d", len(st.Types), len(texts))
	}

	args := make([]any, len(texts))
	for i, v := range texts {
		arg, err := Convert(a.dialect, st.Types[i], v, enc)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", st.Columns[i], err)
		}
		args[i] = arg
	}
	return args, nil
}

func (a *Applier) fail(target *models.Table, typ DmlType, data *models.Data, err error) error {
	keys := data.PKData
	if len(keys) == 0 {
		keys = data.RowData
	}
	return &ApplyError{Table: target.Name, Type: typ, KeyValues: keys.Strings(), Err: err}
}
