package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/dml"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
	"github.com/Guizzs26/go-trigger-sync/internal/platform"
	"github.com/Guizzs26/go-trigger-sync/internal/protocol"
	"github.com/Guizzs26/go-trigger-sync/pkg/metrics"
)

// Loader applies a row protocol stream to the target database. Every batch is
// loaded in its own transaction with capture disabled, so loaded rows are not
// captured again and a failed batch leaves no trace.
type Loader struct {
	db        *sql.DB
	platform  *platform.Platform
	repo      *db.Repository
	applier   *dml.Applier
	filters   []RowFilter
	listeners []Listener
	logger    *slog.Logger
}

func NewLoader(conn *sql.DB, p *platform.Platform, repo *db.Repository, applier *dml.Applier, logger *slog.Logger) *Loader {
	return &Loader{
		db:       conn,
		platform: p,
		repo:     repo,
		applier:  applier,
		logger:   logger,
	}
}

func (l *Loader) AddFilter(f RowFilter) {
	l.filters = append(l.filters, f)
}

func (l *Loader) AddListener(li Listener) {
	l.listeners = append(l.listeners, li)
}

// Load reads every batch of the stream. It stops at the first batch that
// fails, so later batches of the channel are never applied ahead of it. The
// returned slice holds every batch that was started, the failed one included.
func (l *Loader) Load(ctx context.Context, r io.Reader) ([]*models.Batch, error) {
	reader := protocol.NewReader(r)
	var batches []*models.Batch
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return batches, nil
		}
		if err != nil {
			return batches, err
		}
		if ev.Kind != protocol.EventBatch {
			return batches, fmt.Errorf("line %d: unexpected %s event outside of a batch", ev.Line, ev.Kind)
		}
		batches = append(batches, ev.Batch)
		if err := l.loadBatch(ctx, reader, ev.Batch); err != nil {
			return batches, err
		}
	}
}

// loaded carries the state of one batch while its events are applied
type loaded struct {
	batch   *models.Batch
	tx      *sql.Tx
	source  *models.Table
	target  *models.Table
	targets map[*models.Table]*models.Table
	line    int64
	start   time.Time
}

func (l *Loader) loadBatch(ctx context.Context, reader *protocol.Reader, b *models.Batch) (err error) {
	logger := l.logger.With("batch_id", b.BatchID, "channel", b.ChannelID, "source_node", b.SourceNodeID)

	if b.SourceNodeID == "" {
		return fmt.Errorf("FATAL: batch %d has no source node id", b.BatchID)
	}
	if err := b.Transition(models.StatusLoading); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, l.db, l.platform.Dialect())
	if err != nil {
		b.Transition(models.StatusRolledBack)
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	// Safety: Rollback is a no-op if Commit was already called
	defer tx.Rollback()

	state := &loaded{batch: b, tx: tx, targets: make(map[*models.Table]*models.Table), start: time.Now()}
	defer func() {
		if err != nil {
			l.fail(ctx, logger, state, err)
		}
	}()

	already, err := l.repo.IsBatchLoaded(ctx, tx, b.BatchID, b.SourceNodeID)
	if err != nil {
		return err
	}
	if already {
		b.AlreadyLoaded = true
		if err := l.skip(reader); err != nil {
			return err
		}
		tx.Rollback()
		b.Transition(models.StatusCommitted)
		l.committed(state)
		return nil
	}

	d := l.platform.Dialect()
	if _, err := tx.ExecContext(ctx, d.DisableSyncSQL); err != nil {
		return fmt.Errorf("failed to disable capture: %w", err)
	}

	for {
		ev, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("stream ended inside batch %d", b.BatchID)
			}
			var perr *protocol.ParseError
			if errors.As(err, &perr) {
				state.line = perr.Line
			}
			return err
		}
		state.line = ev.Line

		switch ev.Kind {
		case protocol.EventTable:
			if err := l.resolve(ctx, logger, state, ev.Table); err != nil {
				return err
			}
		case protocol.EventData:
			if err := l.apply(ctx, state, ev.Data); err != nil {
				return err
			}
		case protocol.EventCommit:
			return l.commit(ctx, logger, state)
		case protocol.EventBatch:
			return fmt.Errorf("line %d: batch %d started inside batch %d", ev.Line, ev.Batch.BatchID, b.BatchID)
		}
	}
}

// resolve maps a stream table to the live target table, once per batch
func (l *Loader) resolve(ctx context.Context, logger *slog.Logger, state *loaded, source *models.Table) error {
	state.source = source
	if target, ok := state.targets[source]; ok {
		state.target = target
		return nil
	}
	target, err := l.platform.ReadTable(ctx, state.tx, source.Catalog, source.Schema, source.Name)
	if err != nil {
		return err
	}
	if target == nil {
		logger.Warn("⚠️ Target table does not exist, skipping its rows", "table", source.FullyQualifiedName())
	}
	state.targets[source] = target
	state.target = target
	return nil
}

func (l *Loader) apply(ctx context.Context, state *loaded, data *models.Data) error {
	b := state.batch
	if data.EventType != models.EventSQL && state.target == nil {
		b.Stats.SkippedCount++
		return nil
	}

	for _, f := range l.filters {
		ok, err := f.FilterRow(ctx, state.tx, b, state.target, data)
		if err != nil {
			return fmt.Errorf("row filter failed: %w", err)
		}
		if !ok {
			b.Stats.SkippedCount++
			return nil
		}
	}

	res, err := l.applier.Apply(ctx, state.tx, state.source, state.target, data, b.BinaryEncoding)
	if err != nil {
		return err
	}
	b.Count(data.EventType)
	if res.Fallback {
		b.Stats.Fallbacks++
		metrics.UpdateFallbacks.WithLabelValues(data.TableName).Inc()
	}
	metrics.RowsLoaded.WithLabelValues(data.EventType.String(), data.TableName).Inc()
	return nil
}

func (l *Loader) commit(ctx context.Context, logger *slog.Logger, state *loaded) error {
	b := state.batch
	err := l.repo.RecordIncoming(ctx, state.tx, db.IncomingBatch{
		BatchID:   b.BatchID,
		NodeID:    b.SourceNodeID,
		ChannelID: b.ChannelID,
		Status:    db.IncomingOK,
		RowCount:  b.Stats.RowCount,
		ByteCount: b.Stats.ByteCount,
	})
	if err != nil {
		return err
	}
	if _, err := state.tx.ExecContext(ctx, l.platform.Dialect().EnableSyncSQL); err != nil {
		return fmt.Errorf("failed to enable capture: %w", err)
	}
	if err := state.tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	if err := b.Transition(models.StatusCommitted); err != nil {
		return err
	}
	logger.Debug("Batch committed", "rows", b.Stats.RowCount)
	l.committed(state)
	return nil
}

// fail rolls the batch back and records the failure outside the transaction
func (l *Loader) fail(ctx context.Context, logger *slog.Logger, state *loaded, cause error) {
	b := state.batch
	if b.IsTerminal() {
		return
	}
	if _, err := state.tx.ExecContext(ctx, l.platform.Dialect().EnableSyncSQL); err != nil {
		logger.Debug("Could not re-enable capture before rollback", "error", err)
	}
	state.tx.Rollback()
	b.Transition(models.StatusRolledBack)
	b.Stats.LoadDuration = time.Since(state.start)

	b.ErrorLine = state.line
	var applyErr *dml.ApplyError
	if errors.As(cause, &applyErr) {
		b.ErrorTable = applyErr.Table
	} else if state.source != nil {
		b.ErrorTable = state.source.Name
	}
	// a retry must see the target as it is now
	if s := state.source; s != nil {
		l.platform.Invalidate(s.Catalog, s.Schema, s.Name)
	}

	err := l.repo.RecordIncoming(ctx, l.db, db.IncomingBatch{
		BatchID:     b.BatchID,
		NodeID:      b.SourceNodeID,
		ChannelID:   b.ChannelID,
		Status:      db.IncomingError,
		RowCount:    b.Stats.RowCount,
		ByteCount:   b.Stats.ByteCount,
		FailedLine:  b.ErrorLine,
		FailedTable: b.ErrorTable,
		Message:     cause.Error(),
	})
	if err != nil {
		logger.Warn("Failed to record batch error", "error", err)
	}
	for _, li := range l.listeners {
		li.BatchRolledBack(b, cause)
	}
}

func (l *Loader) committed(state *loaded) {
	b := state.batch
	b.Stats.LoadDuration = time.Since(state.start)
	for _, li := range l.listeners {
		li.BatchCommitted(b)
	}
}

// skip consumes the events of a batch that is not applied
func (l *Loader) skip(reader *protocol.Reader) error {
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ev.Kind == protocol.EventCommit {
			return nil
		}
	}
}
