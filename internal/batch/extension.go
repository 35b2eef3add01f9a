package batch

import (
	"context"
	"log/slog"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
	"github.com/Guizzs26/go-trigger-sync/pkg/metrics"
)

// RowFilter runs before each row is applied. Returning false skips the row.
// Filters run inside the batch transaction and may write through q.
type RowFilter interface {
	FilterRow(ctx context.Context, q db.Querier, batch *models.Batch, target *models.Table, data *models.Data) (bool, error)
}

// RowFilterFunc adapts a function to RowFilter
type RowFilterFunc func(ctx context.Context, q db.Querier, batch *models.Batch, target *models.Table, data *models.Data) (bool, error)

func (f RowFilterFunc) FilterRow(ctx context.Context, q db.Querier, batch *models.Batch, target *models.Table, data *models.Data) (bool, error) {
	return f(ctx, q, batch, target, data)
}

// Listener is told about every batch once it reached a terminal status
type Listener interface {
	BatchCommitted(batch *models.Batch)
	BatchRolledBack(batch *models.Batch, err error)
}

type LogListener struct {
	logger *slog.Logger
}

func NewLogListener(logger *slog.Logger) *LogListener {
	return &LogListener{logger: logger}
}

func (l *LogListener) BatchCommitted(b *models.Batch) {
	if b.AlreadyLoaded {
		l.logger.Info("Batch already loaded, skipping", "batch_id", b.BatchID, "channel", b.ChannelID, "source_node", b.SourceNodeID)
		return
	}
	l.logger.Info("✅ Batch loaded",
		"batch_id", b.BatchID,
		"channel", b.ChannelID,
		"source_node", b.SourceNodeID,
		"rows", b.Stats.RowCount,
		"inserts", b.Stats.InsertCount,
		"updates", b.Stats.UpdateCount,
		"deletes", b.Stats.DeleteCount,
		"skipped", b.Stats.SkippedCount,
		"fallbacks", b.Stats.Fallbacks,
		"duration", b.Stats.LoadDuration,
	)
}

func (l *LogListener) BatchRolledBack(b *models.Batch, err error) {
	l.logger.Error("❌ Batch rolled back",
		"batch_id", b.BatchID,
		"channel", b.ChannelID,
		"source_node", b.SourceNodeID,
		"failed_line", b.ErrorLine,
		"failed_table", b.ErrorTable,
		"error", err,
	)
}

// MetricsListener feeds the consumer metrics
type MetricsListener struct{}

func (MetricsListener) BatchCommitted(b *models.Batch) {
	status := "committed"
	if b.AlreadyLoaded {
		status = "skipped"
	}
	metrics.BatchesLoaded.WithLabelValues(status, b.SourceNodeID).Inc()
	metrics.LoadDuration.WithLabelValues(status, b.ChannelID).Observe(b.Stats.LoadDuration.Seconds())
}

func (MetricsListener) BatchRolledBack(b *models.Batch, _ error) {
	metrics.BatchesLoaded.WithLabelValues("rolled_back", b.SourceNodeID).Inc()
	metrics.LoadDuration.WithLabelValues("rolled_back", b.ChannelID).Observe(b.Stats.LoadDuration.Seconds())
}
