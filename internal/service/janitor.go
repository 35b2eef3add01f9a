package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/pkg/metrics"
)

// MaintenanceRepository defines the bookkeeping the janitor relies on
type MaintenanceRepository interface {
	ResetStaleBatches(ctx context.Context, olderThan time.Duration) (int64, error)
	PurgeAcknowledged(ctx context.Context, olderThan time.Duration) (int64, error)
	OutgoingBatches(ctx context.Context, status string, limit int) ([]db.OutgoingBatch, error)
	CountUnbatched(ctx context.Context) (int64, error)
}

// Janitor resends batches that were never acknowledged and purges the change
// log of acknowledged ones
type Janitor struct {
	repo       MaintenanceRepository
	staleAfter time.Duration
	purgeAfter time.Duration
	logger     *slog.Logger
}

func NewJanitor(repo MaintenanceRepository, staleAfter, purgeAfter time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{repo: repo, staleAfter: staleAfter, purgeAfter: purgeAfter, logger: logger}
}

func (j *Janitor) RunOnce(ctx context.Context) {
	j.logger.Info("🧹 Janitor: Starting structural health checks")

	affected, err := j.repo.ResetStaleBatches(ctx, j.staleAfter)
	if err != nil {
		j.logger.Error("Janitor: Failed to reset stale batches", "error", err)
	} else if affected > 0 {
		j.logger.Warn("Janitor: Rescued unacknowledged batches", "count", affected)
	}

	purged, err := j.repo.PurgeAcknowledged(ctx, j.purgeAfter)
	if err != nil {
		j.logger.Error("Janitor: Failed to purge change log", "error", err)
	} else if purged > 0 {
		j.logger.Info("Janitor: Purged acknowledged change log rows", "count", purged)
	}

	if failed, err := j.repo.OutgoingBatches(ctx, db.OutgoingError, 0); err == nil {
		metrics.ErrorBatches.Set(float64(len(failed)))
	}
	if n, err := j.repo.CountUnbatched(ctx); err == nil {
		metrics.ChangeLogBacklog.Set(float64(n))
	}
}

// Run blocks until ctx is canceled; done is closed on return
func (j *Janitor) Run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-ctx.Done():
			j.logger.Info("🛑 Janitor: Stopping maintenance goroutine")
			return
		}
	}
}
