package db_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/dialect"
	"github.com/Guizzs26/go-trigger-sync/internal/platform"
)

func openRepository(t *testing.T) *db.Repository {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := dialect.SQLite()

	conn, err := db.Open(ctx, d, filepath.Join(t.TempDir(), "node.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, platform.New(d, logger).EnsureRuntimeTables(ctx, conn))
	return db.NewRepository(conn, d, logger)
}

func capture(t *testing.T, repo *db.Repository, channel, txID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := repo.DB().Exec(`insert into sync_data (table_name, event_type, trigger_hist_id, row_data, channel_id, transaction_id)
			values ('items', 'I', 1, '"1"', ?, ?)`, channel, txID)
		require.NoError(t, err)
	}
}

func batchSizes(t *testing.T, repo *db.Repository, ids []int64) []int {
	t.Helper()
	sizes := make([]int, len(ids))
	for i, id := range ids {
		require.NoError(t, repo.DB().QueryRow(`select count(*) from sync_data where batch_id = ?`, id).Scan(&sizes[i]))
	}
	return sizes
}

func TestCreateBatchesKeepsTransactionsWhole(t *testing.T) {
	ctx := context.Background()
	repo := openRepository(t)
	capture(t, repo, "default", "tx1", 3)
	capture(t, repo, "default", "tx2", 1)
	capture(t, repo, "default", "tx3", 2)

	ids, err := repo.CreateBatches(ctx, "central", "default", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2}, batchSizes(t, repo, ids))

	n, err := repo.CountUnbatched(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateBatchesReadsPastScanLimitToFinishTransaction(t *testing.T) {
	ctx := context.Background()
	repo := openRepository(t)
	// the scan limit is ten times the batch size
	capture(t, repo, "default", "tx1", 11)
	capture(t, repo, "default", "tx2", 1)

	ids, err := repo.CreateBatches(ctx, "central", "default", 1)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, []int{11}, batchSizes(t, repo, ids))

	// the next transaction waits for the next round
	n, err := repo.CountUnbatched(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ids, err = repo.CreateBatches(ctx, "central", "default", 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, batchSizes(t, repo, ids))
}

func TestCreateBatchesLargeTransactionAtEndOfLog(t *testing.T) {
	ctx := context.Background()
	repo := openRepository(t)
	capture(t, repo, "default", "tx1", 25)

	ids, err := repo.CreateBatches(ctx, "central", "default", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{25}, batchSizes(t, repo, ids))
}

func TestPreviousBatchIDFollowsChannel(t *testing.T) {
	ctx := context.Background()
	repo := openRepository(t)
	capture(t, repo, "default", "", 2)
	capture(t, repo, "orders", "", 1)

	first, err := repo.CreateBatches(ctx, "central", "default", 1)
	require.NoError(t, err)
	require.Len(t, first, 2)
	other, err := repo.CreateBatches(ctx, "central", "orders", 1)
	require.NoError(t, err)
	require.Len(t, other, 1)

	prev, err := repo.PreviousBatchID(ctx, first[0])
	require.NoError(t, err)
	assert.Zero(t, prev)

	prev, err = repo.PreviousBatchID(ctx, first[1])
	require.NoError(t, err)
	assert.Equal(t, first[0], prev)

	// channels do not chain into each other
	prev, err = repo.PreviousBatchID(ctx, other[0])
	require.NoError(t, err)
	assert.Zero(t, prev)
}

func TestIsBatchTerminal(t *testing.T) {
	ctx := context.Background()
	repo := openRepository(t)

	terminal, err := repo.IsBatchTerminal(ctx, 7, "store-1")
	require.NoError(t, err)
	assert.False(t, terminal)

	require.NoError(t, repo.RecordIncoming(ctx, repo.DB(), db.IncomingBatch{
		BatchID: 7, NodeID: "store-1", ChannelID: "default", Status: db.IncomingError, Message: "no such table",
	}))
	terminal, err = repo.IsBatchTerminal(ctx, 7, "store-1")
	require.NoError(t, err)
	assert.True(t, terminal)

	terminal, err = repo.IsBatchTerminal(ctx, 7, "store-2")
	require.NoError(t, err)
	assert.False(t, terminal)
}

func TestRecordIncomingTruncatesOnRuneBoundary(t *testing.T) {
	ctx := context.Background()
	repo := openRepository(t)
	// 'é' is two bytes, so the byte limit falls inside a rune
	msg := "x" + strings.Repeat("é", 1500)

	require.NoError(t, repo.RecordIncoming(ctx, repo.DB(), db.IncomingBatch{
		BatchID: 1, NodeID: "store-1", ChannelID: "default", Status: db.IncomingError, Message: msg,
	}))

	var stored string
	require.NoError(t, repo.DB().QueryRow(`select sql_message from sync_incoming_batch where batch_id = 1`).Scan(&stored))
	assert.True(t, utf8.ValidString(stored))
	assert.Equal(t, 1999, len(stored))
	assert.True(t, strings.HasPrefix(msg, stored))
}
