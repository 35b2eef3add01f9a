package platform

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/dialect"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
)

func openSQLite(t *testing.T) (*sql.DB, *Platform) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := dialect.SQLite()
	conn, err := db.Open(context.Background(), d, filepath.Join(t.TempDir(), "platform.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, New(d, logger)
}

func TestReadTable(t *testing.T) {
	ctx := context.Background()
	conn, p := openSQLite(t)

	_, err := conn.Exec(`create table items (
		id integer primary key,
		name varchar(50) not null,
		price decimal(10,2),
		note text
	)`)
	require.NoError(t, err)

	table, err := p.ReadTable(ctx, conn, "", "", "ITEMS")
	require.NoError(t, err)
	require.NotNil(t, table)

	assert.Equal(t, "items", table.Name)
	assert.Equal(t, []string{"id", "name", "price", "note"}, table.ColumnNames())
	assert.Equal(t, []string{"id"}, table.PrimaryKeyColumnNames())

	name := table.Column("name")
	require.NotNil(t, name)
	assert.Equal(t, models.Varchar, name.Type)
	assert.Equal(t, 50, name.Size)
	assert.True(t, name.Required)

	price := table.Column("price")
	require.NotNil(t, price)
	assert.Equal(t, models.Decimal, price.Type)
	assert.Equal(t, 10, price.Size)
	assert.Equal(t, 2, price.Scale)

	assert.Equal(t, models.LongVarchar, table.Column("note").Type)
	assert.Equal(t, models.Integer, table.Column("id").Type)
}

func TestReadTableMissing(t *testing.T) {
	conn, p := openSQLite(t)

	table, err := p.ReadTable(context.Background(), conn, "", "", "nope")
	require.NoError(t, err)
	assert.Nil(t, table)
}

func TestReadTableIsCachedUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	conn, p := openSQLite(t)

	_, err := conn.Exec("create table t1 (id integer primary key, a varchar(10))")
	require.NoError(t, err)

	first, err := p.ReadTable(ctx, conn, "", "", "t1")
	require.NoError(t, err)

	_, err = conn.Exec("alter table t1 add b varchar(10)")
	require.NoError(t, err)

	cached, err := p.ReadTable(ctx, conn, "", "", "t1")
	require.NoError(t, err)
	assert.Same(t, first, cached)
	assert.Len(t, cached.Columns, 2)

	p.Invalidate("", "", "T1")
	fresh, err := p.ReadTable(ctx, conn, "", "", "t1")
	require.NoError(t, err)
	assert.Len(t, fresh.Columns, 3)
}

func TestAlterTableAddsMissingColumns(t *testing.T) {
	ctx := context.Background()
	conn, p := openSQLite(t)

	desired := models.NewTable("", "", "people",
		models.Column{Name: "id", Type: models.Integer, PrimaryKey: true},
		models.Column{Name: "name", Type: models.Varchar, Size: 40},
	)
	added, err := p.AlterTable(ctx, conn, desired)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, added)

	desired.Columns = append(desired.Columns, models.Column{Name: "email", Type: models.Varchar, Size: 80, Required: true})
	added, err = p.AlterTable(ctx, conn, desired)
	require.NoError(t, err)
	assert.Equal(t, []string{"email"}, added)

	table, err := p.ReadTable(ctx, conn, "", "", "people")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "email"}, table.ColumnNames())
	assert.False(t, table.Column("email").Required)

	added, err = p.AlterTable(ctx, conn, desired)
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestEnsureRuntimeTables(t *testing.T) {
	ctx := context.Background()
	conn, p := openSQLite(t)

	require.NoError(t, p.EnsureRuntimeTables(ctx, conn))
	require.NoError(t, p.EnsureRuntimeTables(ctx, conn))

	for _, rt := range RuntimeTables() {
		table, err := p.ReadTable(ctx, conn, "", "", rt.Name)
		require.NoError(t, err)
		require.NotNil(t, table, rt.Name)
		assert.Equal(t, rt.ColumnNames(), table.ColumnNames())
	}

	incoming, err := p.ReadTable(ctx, conn, "", "", "sync_incoming_batch")
	require.NoError(t, err)
	assert.Equal(t, []string{"batch_id", "node_id"}, incoming.PrimaryKeyColumnNames())
}

func TestTriggerExists(t *testing.T) {
	ctx := context.Background()
	conn, p := openSQLite(t)

	_, err := conn.Exec("create table t1 (id integer primary key)")
	require.NoError(t, err)
	_, err = conn.Exec("create table t2 (id integer)")
	require.NoError(t, err)

	ok, err := p.TriggerExists(ctx, conn, "t1_ins")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = conn.Exec("create trigger t1_ins after insert on t1 begin insert into t2 (id) values (new.id); end")
	require.NoError(t, err)

	ok, err = p.TriggerExists(ctx, conn, "t1_ins")
	require.NoError(t, err)
	assert.True(t, ok)
}
