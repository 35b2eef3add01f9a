package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/history"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
	"github.com/Guizzs26/go-trigger-sync/internal/protocol"
	"github.com/Guizzs26/go-trigger-sync/pkg/metrics"
)

// Extractor groups captured rows into outgoing batches and renders them in
// the row protocol. Each row is written against the table shape recorded by
// the history that captured it, not the live table.
type Extractor struct {
	repo      *db.Repository
	histories *history.Cache
	nodeID    string
	target    string
	encoding  models.BinaryEncoding
	logger    *slog.Logger
}

func NewExtractor(repo *db.Repository, histories *history.Cache, nodeID, target string, logger *slog.Logger) *Extractor {
	return &Extractor{
		repo:      repo,
		histories: histories,
		nodeID:    nodeID,
		target:    target,
		encoding:  repo.Dialect().BinaryEncoding,
		logger:    logger.With("component", "extractor"),
	}
}

// CreateBatches closes the unbatched rows of every enabled channel into
// outgoing batches
func (e *Extractor) CreateBatches(ctx context.Context, channels []models.Channel) ([]int64, error) {
	var all []int64
	for _, ch := range channels {
		if !ch.Enabled {
			continue
		}
		ids, err := e.repo.CreateBatches(ctx, e.target, ch.ID, ch.MaxBatchSize)
		if err != nil {
			return all, fmt.Errorf("channel %s: %w", ch.ID, err)
		}
		all = append(all, ids...)
	}
	if n, err := e.repo.CountUnbatched(ctx); err == nil {
		metrics.ChangeLogBacklog.Set(float64(n))
	}
	return all, nil
}

// ExtractBatch writes one outgoing batch to w
func (e *Extractor) ExtractBatch(ctx context.Context, batchID int64, w *protocol.Writer) (*models.Batch, error) {
	rows, err := e.repo.FetchBatchData(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("batch %d has no rows", batchID)
	}

	b := models.NewBatch(batchID, rows[0].ChannelID, e.nodeID, e.encoding)
	if err := w.StartBatch(b); err != nil {
		return nil, err
	}

	tables := make(map[int]*models.Table)
	for _, row := range rows {
		data, err := toData(row)
		if err != nil {
			return nil, err
		}
		if data.EventType != models.EventSQL {
			table, ok := tables[row.TriggerHistID]
			if !ok {
				h, err := e.histories.Get(ctx, row.TriggerHistID)
				if err != nil {
					return nil, fmt.Errorf("data %d: history %d: %w", row.DataID, row.TriggerHistID, err)
				}
				table = h.Table()
				tables[row.TriggerHistID] = table
			}
			if err := w.WriteTable(table); err != nil {
				return nil, err
			}
		}
		if err := w.WriteData(data); err != nil {
			return nil, err
		}
		b.Count(data.EventType)
	}

	if err := w.EndBatch(); err != nil {
		return nil, err
	}
	return b, nil
}

func toData(row db.ChangeRow) (*models.Data, error) {
	d := &models.Data{
		DataID:        row.DataID,
		EventType:     models.EventType(row.EventType),
		TableName:     row.TableName,
		TriggerHistID: row.TriggerHistID,
		ChannelID:     row.ChannelID,
		TransactionID: row.TransactionID,
		SourceNodeID:  row.SourceNodeID,
	}
	if !d.EventType.Valid() {
		return nil, fmt.Errorf("data %d has unknown event type %q", row.DataID, row.EventType)
	}
	var err error
	if d.RowData, err = parse(row.RowData); err != nil {
		return nil, fmt.Errorf("data %d row_data: %w", row.DataID, err)
	}
	if d.PKData, err = parse(row.PKData); err != nil {
		return nil, fmt.Errorf("data %d pk_data: %w", row.DataID, err)
	}
	if d.OldData, err = parse(row.OldData); err != nil {
		return nil, fmt.Errorf("data %d old_data: %w", row.DataID, err)
	}
	return d, nil
}

func parse(s *string) (models.Values, error) {
	if s == nil {
		return nil, nil
	}
	return protocol.ParseValues(*s)
}

// Send extracts pending outgoing batches one by one and hands each to the
// sink. A batch is marked sent only after the sink accepted it. A failure
// holds back the rest of its channel for this round so batches leave in id
// order; other channels carry on.
func (e *Extractor) Send(ctx context.Context, sink Sink, limit int) (int, error) {
	pending, err := e.repo.OutgoingBatches(ctx, db.OutgoingNew, limit)
	if err != nil {
		return 0, err
	}

	sent := 0
	blocked := make(map[string]bool)
	var errs []error
	for _, ob := range pending {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if blocked[ob.ChannelID] {
			continue
		}
		if err := e.send(ctx, sink, ob); err != nil {
			metrics.BatchesExtracted.WithLabelValues("error", ob.ChannelID).Inc()
			blocked[ob.ChannelID] = true
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (e *Extractor) send(ctx context.Context, sink Sink, ob db.OutgoingBatch) error {
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf, e.nodeID, e.encoding)
	b, err := e.ExtractBatch(ctx, ob.BatchID, w)
	if err != nil {
		// stays NE so later batches of the channel keep waiting behind it
		if serr := e.repo.SetOutgoingStatus(ctx, ob.BatchID, db.OutgoingNew, err.Error()); serr != nil {
			e.logger.Warn("Failed to record extract error", "batch_id", ob.BatchID, "error", serr)
		}
		return fmt.Errorf("extract batch %d: %w", ob.BatchID, err)
	}

	prev, err := e.repo.PreviousBatchID(ctx, b.BatchID)
	if err != nil {
		return err
	}
	env := Envelope{ChannelID: b.ChannelID, BatchID: b.BatchID, PrevBatchID: prev, Payload: buf.Bytes()}
	if err := sink.Put(ctx, env); err != nil {
		return fmt.Errorf("send batch %d: %w", b.BatchID, err)
	}
	if err := e.repo.MarkSent(ctx, b.BatchID, b.Stats.RowCount, b.Stats.ByteCount); err != nil {
		return err
	}

	metrics.BatchesExtracted.WithLabelValues("sent", b.ChannelID).Inc()
	metrics.RowsExtracted.WithLabelValues(b.ChannelID).Add(float64(b.Stats.RowCount))
	metrics.BatchSize.Observe(float64(b.Stats.RowCount))
	e.logger.Debug("Batch sent",
		"batch_id", b.BatchID,
		"channel", b.ChannelID,
		"rows", b.Stats.RowCount,
		"bytes", b.Stats.ByteCount,
	)
	return nil
}
