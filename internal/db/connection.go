package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Guizzs26/go-trigger-sync/internal/dialect"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/nakagami/firebirdsql"
	_ "github.com/sijms/go-ora/v2"
	_ "modernc.org/sqlite"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so metadata and DML code can
// run inside or outside a transaction
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open initializes a connection pool for the given dialect and verifies it with a ping
func Open(ctx context.Context, d *dialect.Dialect, dsn string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open(d.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", d.Name, err)
	}

	switch d.Name {
	case "firebird", "sqlite":
		// Legacy Firebird servers and SQLite files serialize writers anyway
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping failed: %w", d.Name, err)
	}

	logger.Info("Connected to database", "dialect", d.Name, "driver", d.DriverName)
	return db, nil
}

// BeginTx starts a transaction with the dialect's preferred isolation level
func BeginTx(ctx context.Context, db *sql.DB, d *dialect.Dialect) (*sql.Tx, error) {
	return db.BeginTx(ctx, &sql.TxOptions{Isolation: d.TxIsolation})
}

// InsertWithID inserts a row into a table with a generated key and returns the
// key. Dialects without a last-identity query get max(id)+1 assigned explicitly,
// which is only safe inside the caller's transaction.
func InsertWithID(ctx context.Context, q Querier, d *dialect.Dialect, table, idColumn string, columns []string, args []any) (int64, error) {
	if d.LastIdentitySQL == "" {
		var next int64
		query := fmt.Sprintf("select coalesce(max(%s), 0) + 1 from %s", d.Quote(idColumn), d.Quote(table))
		if err := q.QueryRowContext(ctx, query).Scan(&next); err != nil {
			return 0, fmt.Errorf("failed to allocate id for %s: %w", table, err)
		}
		columns = append([]string{idColumn}, columns...)
		args = append([]any{next}, args...)
		if _, err := q.ExecContext(ctx, insertSQL(d, table, columns), args...); err != nil {
			return 0, fmt.Errorf("insert into %s failed: %w", table, err)
		}
		return next, nil
	}

	if _, err := q.ExecContext(ctx, insertSQL(d, table, columns), args...); err != nil {
		return 0, fmt.Errorf("insert into %s failed: %w", table, err)
	}
	var id int64
	if err := q.QueryRowContext(ctx, d.LastIdentitySQL).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read identity for %s: %w", table, err)
	}
	return id, nil
}

func insertSQL(d *dialect.Dialect, table string, columns []string) string {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.Quote(c)
		marks[i] = "?"
	}
	return d.Rebind(fmt.Sprintf("insert into %s (%s) values (%s)",
		d.Quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", ")))
}
