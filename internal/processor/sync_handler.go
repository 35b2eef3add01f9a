package processor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-trigger-sync/internal/batch"
	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/pkg/metrics"
)

const maxLockRetries = 3

// SyncHandler loads received batches into the target database
type SyncHandler struct {
	loader      *batch.Loader
	logger      *slog.Logger
	loadTimeout time.Duration
	lockBackoff time.Duration
}

// NewSyncHandler creates a new instance of the synchronization orchestrator
func NewSyncHandler(loader *batch.Loader, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		loader:      loader,
		logger:      logger,
		loadTimeout: 5 * time.Minute,
		lockBackoff: 200 * time.Millisecond,
	}
}

// Handle loads one job. Lock contention is retried here a few times before the
// error goes back to the dispatcher; a retry reloads the whole payload, and
// batches that already committed are skipped by the loader.
func (h *SyncHandler) Handle(ctx context.Context, job batch.Job) (err error) {
	l := h.logger.With("batch_id", job.BatchID, "channel", job.ChannelID)

	defer func() {
		if err == nil {
			return
		}
		if batch.IsFatal(err) {
			metrics.BatchesLoaded.WithLabelValues("fatal", job.SourceNodeID).Inc()
			l.Error("❌ Batch cannot be loaded, giving up", "error", err)
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= maxLockRetries; attempt++ {
		loadCtx, cancel := context.WithTimeout(ctx, h.loadTimeout)
		batches, err := h.loader.Load(loadCtx, bytes.NewReader(job.Payload))
		cancel()

		if err == nil {
			if len(batches) == 0 {
				return fmt.Errorf("FATAL: payload of batch %d holds no batch", job.BatchID)
			}
			return nil
		}

		if !db.IsDeadlock(err) {
			return err
		}
		lastErr = err
		metrics.ConsumerRetries.WithLabelValues(job.ChannelID).Inc()

		// Attempt 1: 200ms, Attempt 2: 400ms, Attempt 3: 600ms
		backoff := time.Duration(attempt) * h.lockBackoff
		l.Warn("Lock contention detected, retrying internally",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("failed after %d attempts (last error: %w)", maxLockRetries, lastErr)
}
