package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/Guizzs26/go-trigger-sync/internal/dialect"
	"github.com/Guizzs26/go-trigger-sync/pkg/encoding"
)

// Outgoing batch status codes
const (
	OutgoingNew   = "NE"
	OutgoingSent  = "SE"
	OutgoingOK    = "OK"
	OutgoingError = "ER"
)

// Incoming batch status codes
const (
	IncomingOK    = "OK"
	IncomingError = "ER"
)

const maxMessageLength = 2000

// ChangeRow is one change-log row as stored by the capture triggers
type ChangeRow struct {
	DataID        int64
	TableName     string
	EventType     string
	TriggerHistID int
	RowData       *string
	PKData        *string
	OldData       *string
	ChannelID     string
	TransactionID string
	SourceNodeID  string
}

type OutgoingBatch struct {
	BatchID   int64
	NodeID    string
	ChannelID string
	Status    string
	RowCount  int64
	ByteCount int64
}

type IncomingBatch struct {
	BatchID     int64
	NodeID      string
	ChannelID   string
	Status      string
	RowCount    int64
	ByteCount   int64
	FailedLine  int64
	FailedTable string
	Message     string
}

// Repository wraps the change-log and batch bookkeeping queries
type Repository struct {
	db      *sql.DB
	dialect *dialect.Dialect
	decode  encoding.Decoder
	logger  *slog.Logger
	now     func() time.Time
}

func NewRepository(db *sql.DB, d *dialect.Dialect, logger *slog.Logger) *Repository {
	return &Repository{
		db:      db,
		dialect: d,
		decode:  encoding.ForCharset(d.LegacyCharset),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository) DB() *sql.DB {
	return r.db
}

func (r *Repository) Dialect() *dialect.Dialect {
	return r.dialect
}

// CountUnbatched returns the change-log backlog not yet assigned to a batch
func (r *Repository) CountUnbatched(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "select count(*) from sync_data where batch_id is null").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count backlog: %w", err)
	}
	return n, nil
}

type pendingRow struct {
	dataID int64
	txID   string
}

// CreateBatches assigns unbatched change-log rows of a channel to new outgoing
// batches of about maxRows rows. A source transaction is never split: a batch
// only closes on a transaction boundary.
func (r *Repository) CreateBatches(ctx context.Context, nodeID, channelID string, maxRows int) ([]int64, error) {
	if maxRows < 1 {
		maxRows = 1
	}
	scanLimit := maxRows * 10

	tx, err := BeginTx(ctx, r.db, r.dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, r.dialect.Rebind(
		`select data_id, transaction_id from sync_data
		 where batch_id is null and channel_id = ? order by data_id`), channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unbatched rows: %w", err)
	}

	var groups [][]pendingRow
	var current []pendingRow
	capped := false
	read := 0
	for rows.Next() {
		var p pendingRow
		var txID sql.NullString
		if err := rows.Scan(&p.dataID, &txID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("change log scan error: %w", err)
		}
		p.txID = txID.String

		if len(current) >= maxRows {
			last := current[len(current)-1]
			if p.txID == "" || p.txID != last.txID {
				groups = append(groups, current)
				current = nil
			}
		}
		current = append(current, p)

		// past the limit the scan only goes on to finish the first transaction
		read++
		if read >= scanLimit && len(groups) > 0 {
			capped = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("change log iteration error: %w", err)
	}
	rows.Close()

	if len(current) > 0 {
		// a capped scan cut the last transaction short; leave it for the next round
		if !capped {
			groups = append(groups, current)
		}
	}
	if len(groups) == 0 {
		return nil, nil
	}

	now := r.now()
	ids := make([]int64, 0, len(groups))
	for _, g := range groups {
		id, err := InsertWithID(ctx, tx, r.dialect, "sync_outgoing_batch", "batch_id",
			[]string{"node_id", "channel_id", "status", "row_count", "byte_count", "create_time", "last_update_time"},
			[]any{nodeID, channelID, OutgoingNew, int64(len(g)), int64(0), now, now})
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx, r.dialect.Rebind(
			`update sync_data set batch_id = ?
			 where channel_id = ? and batch_id is null and data_id between ? and ?`),
			id, channelID, g[0].dataID, g[len(g)-1].dataID)
		if err != nil {
			return nil, fmt.Errorf("failed to assign rows to batch %d: %w", id, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit failed: %w", err)
	}

	r.logger.Debug("Created outgoing batches", "channel", channelID, "count", len(ids))
	return ids, nil
}

// FetchBatchData returns the change-log rows of a batch in capture order
func (r *Repository) FetchBatchData(ctx context.Context, batchID int64) ([]ChangeRow, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(
		`select data_id, table_name, event_type, trigger_hist_id, row_data, pk_data, old_data,
		        channel_id, transaction_id, source_node_id
		 from sync_data where batch_id = ? order by data_id`), batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch batch %d: %w", batchID, err)
	}
	defer rows.Close()

	var out []ChangeRow
	for rows.Next() {
		var c ChangeRow
		var rowData, pkData, oldData []byte
		var channel, txID, source sql.NullString
		if err := rows.Scan(&c.DataID, &c.TableName, &c.EventType, &c.TriggerHistID,
			&rowData, &pkData, &oldData, &channel, &txID, &source); err != nil {
			return nil, fmt.Errorf("change log scan error: %w", err)
		}
		c.RowData = r.text(rowData)
		c.PKData = r.text(pkData)
		c.OldData = r.text(oldData)
		c.ChannelID = channel.String
		c.TransactionID = txID.String
		c.SourceNodeID = source.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) text(b []byte) *string {
	if b == nil {
		return nil
	}
	s := r.decode(b)
	return &s
}

// OutgoingBatches lists outgoing batches in a status, oldest first
func (r *Repository) OutgoingBatches(ctx context.Context, status string, limit int) ([]OutgoingBatch, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(
		`select batch_id, node_id, channel_id, status, row_count, byte_count
		 from sync_outgoing_batch where status = ? order by batch_id`), status)
	if err != nil {
		return nil, fmt.Errorf("failed to list outgoing batches: %w", err)
	}
	defer rows.Close()

	var out []OutgoingBatch
	for rows.Next() && (limit <= 0 || len(out) < limit) {
		var b OutgoingBatch
		var node sql.NullString
		if err := rows.Scan(&b.BatchID, &node, &b.ChannelID, &b.Status, &b.RowCount, &b.ByteCount); err != nil {
			return nil, fmt.Errorf("outgoing batch scan error: %w", err)
		}
		b.NodeID = node.String
		out = append(out, b)
	}
	return out, rows.Err()
}

// PreviousBatchID returns the batch created for the same target and channel
// just before batchID, or 0 when there is none
func (r *Repository) PreviousBatchID(ctx context.Context, batchID int64) (int64, error) {
	var prev sql.NullInt64
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(
		`select max(p.batch_id) from sync_outgoing_batch p
		 join sync_outgoing_batch b on b.node_id = p.node_id and b.channel_id = p.channel_id
		 where b.batch_id = ? and p.batch_id < ?`), batchID, batchID).Scan(&prev)
	if err != nil {
		return 0, fmt.Errorf("failed to find batch before %d: %w", batchID, err)
	}
	return prev.Int64, nil
}

// MarkSent records that a batch was handed to the transport
func (r *Repository) MarkSent(ctx context.Context, batchID, rowCount, byteCount int64) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(
		`update sync_outgoing_batch set status = ?, row_count = ?, byte_count = ?, last_update_time = ?
		 where batch_id = ?`), OutgoingSent, rowCount, byteCount, r.now(), batchID)
	if err != nil {
		return fmt.Errorf("failed to mark batch %d as sent: %w", batchID, err)
	}
	return nil
}

// SetOutgoingStatus applies an acknowledgement (OK or ER) from the receiving node
func (r *Repository) SetOutgoingStatus(ctx context.Context, batchID int64, status, message string) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(
		`update sync_outgoing_batch set status = ?, sql_message = ?, last_update_time = ?
		 where batch_id = ?`), status, truncate(message), r.now(), batchID)
	if err != nil {
		return fmt.Errorf("failed to set batch %d status: %w", batchID, err)
	}
	return nil
}

// ResetStaleBatches returns sent or errored batches without a positive
// acknowledgement back to NE so they are resent
func (r *Repository) ResetStaleBatches(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(
		`update sync_outgoing_batch set status = ?, last_update_time = ?
		 where status in (?, ?) and last_update_time < ?`),
		OutgoingNew, r.now(), OutgoingSent, OutgoingError, r.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale batches: %w", err)
	}
	return res.RowsAffected()
}

// PurgeAcknowledged deletes change-log rows of batches acknowledged before the cutoff
func (r *Repository) PurgeAcknowledged(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(
		`delete from sync_data where batch_id in (
		   select batch_id from sync_outgoing_batch where status = ? and last_update_time < ?)`),
		OutgoingOK, r.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge change log: %w", err)
	}
	return res.RowsAffected()
}

// IsBatchLoaded checks whether a batch from a node was already committed here.
// This is the idempotency guard for at-least-once delivery.
func (r *Repository) IsBatchLoaded(ctx context.Context, q Querier, batchID int64, nodeID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, r.dialect.Rebind(
		`select count(*) from sync_incoming_batch where batch_id = ? and node_id = ? and status = ?`),
		batchID, nodeID, IncomingOK).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check incoming batch: %w", err)
	}
	return n > 0, nil
}

// IsBatchTerminal reports whether a batch from a node was loaded here or
// failed for good
func (r *Repository) IsBatchTerminal(ctx context.Context, batchID int64, nodeID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(
		`select count(*) from sync_incoming_batch where batch_id = ? and node_id = ? and status in (?, ?)`),
		batchID, nodeID, IncomingOK, IncomingError).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check incoming batch: %w", err)
	}
	return n > 0, nil
}

// RecordIncoming stores the outcome of loading a batch, replacing any earlier attempt
func (r *Repository) RecordIncoming(ctx context.Context, q Querier, in IncomingBatch) error {
	if _, err := q.ExecContext(ctx, r.dialect.Rebind(
		`delete from sync_incoming_batch where batch_id = ? and node_id = ?`), in.BatchID, in.NodeID); err != nil {
		return fmt.Errorf("failed to clear incoming batch %d: %w", in.BatchID, err)
	}
	now := r.now()
	_, err := q.ExecContext(ctx, r.dialect.Rebind(
		`insert into sync_incoming_batch
		   (batch_id, node_id, channel_id, status, row_count, byte_count, failed_line, failed_table, sql_message, create_time, last_update_time)
		 values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		in.BatchID, in.NodeID, in.ChannelID, in.Status, in.RowCount, in.ByteCount,
		in.FailedLine, in.FailedTable, truncate(in.Message), now, now)
	if err != nil {
		if IsDuplicate(err) {
			r.logger.Warn("Idempotency race detected: incoming batch already recorded", "batch_id", in.BatchID)
			return nil
		}
		return fmt.Errorf("failed to record incoming batch %d: %w", in.BatchID, err)
	}
	return nil
}

// truncate cuts s to maxMessageLength bytes without splitting a rune
func truncate(s string) string {
	if len(s) <= maxMessageLength {
		return s
	}
	n := maxMessageLength
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
