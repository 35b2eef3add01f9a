package platform

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/dialect"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

// Platform describes and alters live tables through a dialect's metadata
// queries. Tables read from the database are cached until invalidated.
type Platform struct {
	dialect *dialect.Dialect
	logger  *slog.Logger

	mu     sync.RWMutex
	tables map[string]*models.Table
}

func New(d *dialect.Dialect, logger *slog.Logger) *Platform {
	return &Platform{
		dialect: d,
		logger:  logger.With("dialect", d.Name),
		tables:  make(map[string]*models.Table),
	}
}

func (p *Platform) Dialect() *dialect.Dialect {
	return p.dialect
}

func cacheKey(catalog, schema, name string) string {
	return strings.ToLower(models.QualifiedName(catalog, schema, name))
}

// ReadTable returns the live definition of a table, or nil when it does not
// exist. The returned table is shared and must not be modified.
func (p *Platform) ReadTable(ctx context.Context, q db.Querier, catalog, schema, name string) (*models.Table, error) {
	key := cacheKey(catalog, schema, name)
	p.mu.RLock()
	t, ok := p.tables[key]
	p.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := p.readTable(ctx, q, catalog, schema, name)
	if err != nil || t == nil {
		return nil, err
	}

	p.mu.Lock()
	p.tables[key] = t
	p.mu.Unlock()
	return t, nil
}

func (p *Platform) readTable(ctx context.Context, q db.Querier, catalog, schema, name string) (*models.Table, error) {
	d := p.dialect

	var actual string
	err := q.QueryRowContext(ctx, d.Rebind(d.TableLookupSQL), d.MetadataArgs(schema, name)...).Scan(&actual)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up table %s: %w", name, err)
	}
	actual = strings.TrimSpace(actual)

	columns, err := p.readColumns(ctx, q, schema, actual)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, nil
	}

	keys, err := p.readPrimaryKey(ctx, q, schema, actual)
	if err != nil {
		return nil, err
	}

	t := models.NewTable(catalog, schema, actual, columns...)
	for _, k := range keys {
		if i := t.ColumnIndex(k); i >= 0 {
			t.Columns[i].PrimaryKey = true
			t.Columns[i].Required = true
		}
	}
	return t, nil
}

func (p *Platform) readColumns(ctx context.Context, q db.Querier, schema, name string) ([]models.Column, error) {
	d := p.dialect
	rows, err := q.QueryContext(ctx, d.Rebind(d.ColumnsSQL), d.MetadataArgs(schema, name)...)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", name, err)
	}
	defer rows.Close()

	var columns []models.Column
	for rows.Next() {
		var colName, decl string
		var length, precision, scale sql.NullInt64
		var nullable sql.NullString
		var def sql.NullString
		if err := rows.Scan(&colName, &decl, &length, &precision, &scale, &nullable, &def); err != nil {
			return nil, fmt.Errorf("column metadata scan error for %s: %w", name, err)
		}

		code, size, sc := d.ParseNativeType(decl)
		if size == 0 {
			switch {
			case code.IsText() && length.Valid:
				size = int(length.Int64)
			case code.IsNumeric() && precision.Valid:
				size = int(precision.Int64)
			}
		}
		if sc == 0 && scale.Valid {
			sc = int(scale.Int64)
		}
		if !dialect.KeepsSize(code) {
			size, sc = 0, 0
		}

		c := models.Column{
			Name:     strings.TrimSpace(colName),
			Type:     code,
			Size:     size,
			Scale:    sc,
			Required: strings.EqualFold(strings.TrimSpace(nullable.String), "NO"),
		}
		if def.Valid {
			v := strings.TrimSpace(def.String)
			if strings.HasPrefix(strings.ToLower(v), "nextval(") {
				c.AutoIncrement = true
			} else {
				c.DefaultValue = &v
			}
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

func (p *Platform) readPrimaryKey(ctx context.Context, q db.Querier, schema, name string) ([]string, error) {
	d := p.dialect
	rows, err := q.QueryContext(ctx, d.Rebind(d.PrimaryKeySQL), d.MetadataArgs(schema, name)...)
	if err != nil {
		return nil, fmt.Errorf("failed to read primary key of %s: %w", name, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("primary key scan error for %s: %w", name, err)
		}
		keys = append(keys, strings.TrimSpace(k))
	}
	return keys, rows.Err()
}

func (p *Platform) Invalidate(catalog, schema, name string) {
	p.mu.Lock()
	delete(p.tables, cacheKey(catalog, schema, name))
	p.mu.Unlock()
}

func (p *Platform) InvalidateAll() {
	p.mu.Lock()
	p.tables = make(map[string]*models.Table)
	p.mu.Unlock()
}

// CreateTable creates t as described
func (p *Platform) CreateTable(ctx context.Context, q db.Querier, t *models.Table) error {
	if _, err := q.ExecContext(ctx, p.dialect.CreateTableSQL(t)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	p.Invalidate(t.Catalog, t.Schema, t.Name)
	p.logger.Info("Created table", "table", t.FullyQualifiedName())
	return nil
}

// AlterTable brings the live table up to the desired definition: a missing
// table is created, missing columns are added. Columns are never dropped or
// retyped. It returns the names of the columns it added.
func (p *Platform) AlterTable(ctx context.Context, q db.Querier, desired *models.Table) ([]string, error) {
	current, err := p.ReadTable(ctx, q, desired.Catalog, desired.Schema, desired.Name)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return desired.ColumnNames(), p.CreateTable(ctx, q, desired)
	}

	var added []string
	for _, c := range desired.Columns {
		if current.ColumnIndex(c.Name) >= 0 {
			continue
		}
		if _, err := q.ExecContext(ctx, p.dialect.AddColumnSQL(current, c)); err != nil {
			return added, fmt.Errorf("failed to add column %s.%s: %w", desired.Name, c.Name, err)
		}
		added = append(added, c.Name)
	}
	if len(added) > 0 {
		p.Invalidate(desired.Catalog, desired.Schema, desired.Name)
		p.logger.Info("Altered table", "table", desired.FullyQualifiedName(), "added_columns", added)
	}
	return added, nil
}

// TriggerExists checks the catalog for a trigger by its generated name
func (p *Platform) TriggerExists(ctx context.Context, q db.Querier, name string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, p.dialect.Rebind(p.dialect.TriggerExistsSQL), name).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check trigger %s: %w", name, err)
	}
	return n > 0, nil
}
