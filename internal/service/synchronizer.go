package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-trigger-sync/internal/models"
	"github.com/Guizzs26/go-trigger-sync/internal/trigger"
)

// TriggerInstaller defines the trigger maintenance contract
type TriggerInstaller interface {
	SyncTriggers(ctx context.Context, triggers []*models.Trigger, force bool) (*trigger.Report, error)
}

// TriggerSynchronizer re-checks the capture triggers periodically so schema
// changes and dropped triggers are picked up without a restart
type TriggerSynchronizer struct {
	installer TriggerInstaller
	triggers  []*models.Trigger
	logger    *slog.Logger
}

func NewTriggerSynchronizer(installer TriggerInstaller, triggers []*models.Trigger, logger *slog.Logger) *TriggerSynchronizer {
	return &TriggerSynchronizer{installer: installer, triggers: triggers, logger: logger}
}

// SyncOnce installs or rebuilds what drifted and logs every failure
func (s *TriggerSynchronizer) SyncOnce(ctx context.Context) (*trigger.Report, error) {
	report, err := s.installer.SyncTriggers(ctx, s.triggers, false)
	if err != nil {
		return report, err
	}
	for _, res := range report.Skipped() {
		s.logger.Debug("Source table missing, trigger skipped", "trigger", res.TriggerID, "table", res.Table)
	}
	for _, res := range report.Failed() {
		s.logger.Error("Trigger sync failed", "trigger", res.TriggerID, "table", res.Table, "error", res.Err)
	}
	return report, nil
}

// Run blocks until ctx is canceled
func (s *TriggerSynchronizer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.logger.Debug("Checking capture triggers for drift")
			if _, err := s.SyncOnce(ctx); err != nil {
				s.logger.Error("Trigger drift check failed", "error", err)
			}
		case <-ctx.Done():
			s.logger.Info("🛑 Trigger synchronizer stopped")
			return
		}
	}
}
