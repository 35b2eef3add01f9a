package node

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/dialect"
	"github.com/Guizzs26/go-trigger-sync/internal/platform"
)

type fixedGenerator struct {
	id string
}

func (g fixedGenerator) SelectID(string, []string) string { return "" }
func (g fixedGenerator) GenerateID(string) string         { return g.id }
func (g fixedGenerator) GeneratePassword() string         { return "secret-" + g.id }

func TestDefaultIDGenerator(t *testing.T) {
	gen := DefaultIDGenerator{}

	assert.Equal(t, "store-01", gen.SelectID("  Store 01 ", nil))
	assert.Equal(t, "", gen.SelectID("store-01", []string{"STORE-01"}))
	assert.Equal(t, "", gen.SelectID("***", nil))

	id := gen.GenerateID("Store 01")
	assert.True(t, strings.HasPrefix(id, "store-01-"), id)
	assert.Len(t, id, len("store-01-")+12)
	assert.NotEqual(t, id, gen.GenerateID("Store 01"))

	assert.True(t, strings.HasPrefix(gen.GenerateID(""), "node-"))
	assert.LessOrEqual(t, len(gen.GenerateID(strings.Repeat("x", 80))), maxIDLength)
}

func TestIdentity(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := dialect.SQLite()

	conn, err := db.Open(ctx, d, filepath.Join(t.TempDir(), "node.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, platform.New(d, logger).EnsureRuntimeTables(ctx, conn))

	id, err := Identity(ctx, conn, d, "", fixedGenerator{id: "generated-1"})
	require.NoError(t, err)
	assert.Equal(t, "generated-1", id)

	// stored id survives restarts
	id, err = Identity(ctx, conn, d, "", fixedGenerator{id: "generated-2"})
	require.NoError(t, err)
	assert.Equal(t, "generated-1", id)

	// configured id replaces it
	id, err = Identity(ctx, conn, d, "store-9", fixedGenerator{id: "unused"})
	require.NoError(t, err)
	assert.Equal(t, "store-9", id)

	id, err = Identity(ctx, conn, d, "", fixedGenerator{id: "unused"})
	require.NoError(t, err)
	assert.Equal(t, "store-9", id)
}

func TestPassword(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := dialect.SQLite()

	conn, err := db.Open(ctx, d, filepath.Join(t.TempDir(), "node.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, platform.New(d, logger).EnsureRuntimeTables(ctx, conn))

	pw, err := Password(ctx, conn, d, fixedGenerator{id: "a"})
	require.NoError(t, err)
	assert.Equal(t, "secret-a", pw)

	pw, err = Password(ctx, conn, d, fixedGenerator{id: "b"})
	require.NoError(t, err)
	assert.Equal(t, "secret-a", pw)

	assert.Len(t, DefaultIDGenerator{}.GeneratePassword(), 64)
}
