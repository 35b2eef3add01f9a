package trigger

import (
	"log/slog"

	"github.com/Guizzs26/go-trigger-sync/internal/history"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
	"github.com/Guizzs26/go-trigger-sync/pkg/metrics"
)

// Listener is notified about trigger lifecycle events
type Listener interface {
	TableDoesNotExist(trigger *models.Trigger)
	TriggerCreated(trigger *models.Trigger, h *history.TriggerHistory)
	TriggerFailed(trigger *models.Trigger, err error)
	TriggerInactivated(trigger *models.Trigger, h *history.TriggerHistory)
}

type LogListener struct {
	logger *slog.Logger
}

func NewLogListener(logger *slog.Logger) *LogListener {
	return &LogListener{logger: logger}
}

func (l *LogListener) TableDoesNotExist(trigger *models.Trigger) {
	l.logger.Warn("⚠️ Source table does not exist, capture skipped",
		"trigger_id", trigger.ID, "table", trigger.QualifiedTableName())
}

func (l *LogListener) TriggerCreated(trigger *models.Trigger, h *history.TriggerHistory) {
	l.logger.Info("Capture triggers installed",
		"trigger_id", trigger.ID,
		"table", h.QualifiedTableName(),
		"trigger_hist_id", h.ID,
		"reason", h.LastTriggerBuildReason,
		"columns", h.ColumnNames,
	)
}

func (l *LogListener) TriggerFailed(trigger *models.Trigger, err error) {
	l.logger.Error("❌ Failed to install capture triggers",
		"trigger_id", trigger.ID, "table", trigger.QualifiedTableName(), "error", err)
}

func (l *LogListener) TriggerInactivated(trigger *models.Trigger, h *history.TriggerHistory) {
	l.logger.Info("Trigger history inactivated", "trigger_id", trigger.ID, "trigger_hist_id", h.ID)
}

// MetricsListener counts trigger builds by outcome and reason
type MetricsListener struct{}

func (MetricsListener) TableDoesNotExist(*models.Trigger) {
	metrics.TriggerBuilds.WithLabelValues("missing_table", "").Inc()
}

func (MetricsListener) TriggerCreated(_ *models.Trigger, h *history.TriggerHistory) {
	metrics.TriggerBuilds.WithLabelValues("created", string(h.LastTriggerBuildReason)).Inc()
}

func (MetricsListener) TriggerFailed(*models.Trigger, error) {
	metrics.TriggerBuilds.WithLabelValues("failed", "").Inc()
}

func (MetricsListener) TriggerInactivated(*models.Trigger, *history.TriggerHistory) {
	metrics.TriggerBuilds.WithLabelValues("inactivated", "").Inc()
}
