package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-trigger-sync/internal/extract"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
	"github.com/Guizzs26/go-trigger-sync/pkg/metrics"
)

// BatchExtractor defines the extraction contract for the Collector
type BatchExtractor interface {
	CreateBatches(ctx context.Context, channels []models.Channel) ([]int64, error)
	Send(ctx context.Context, sink extract.Sink, limit int) (int, error)
}

// MessageBroker reports whether publishing can currently succeed
type MessageBroker interface {
	IsHealthy() bool
}

// Collector moves captured changes out of the change log: it closes pending
// rows into batches and sends every batch that was not sent yet
type Collector struct {
	extractor BatchExtractor
	sink      extract.Sink
	broker    MessageBroker
	channels  []models.Channel
	limit     int
	logger    *slog.Logger
}

// NewCollector creates a collector. broker may be nil when the sink does not
// depend on one.
func NewCollector(extractor BatchExtractor, sink extract.Sink, broker MessageBroker, channels []models.Channel, limit int, logger *slog.Logger) *Collector {
	return &Collector{
		extractor: extractor,
		sink:      sink,
		broker:    broker,
		channels:  channels,
		limit:     limit,
		logger:    logger,
	}
}

// Run starts the polling loop. It blocks until the context is canceled
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("🔥 Collector started", "interval", interval, "channels", len(c.channels))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Collector shutting down...")
			return
		case <-ticker.C:
			// Check broker health before attempting to read DB
			if c.broker != nil && !c.broker.IsHealthy() {
				c.logger.Warn("Broker is offline, skipping collection cycle")
				continue
			}

			if _, err := c.RunOnce(ctx); err != nil {
				c.logger.Error("Collector cycle failed", "error", err)
			}
		}
	}
}

// RunOnce performs one round and returns the number of batches sent
func (c *Collector) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.ExtractDuration.Observe(time.Since(start).Seconds())
	}()

	created, err := c.extractor.CreateBatches(ctx, c.channels)
	if err != nil {
		return 0, fmt.Errorf("failed to create batches: %w", err)
	}

	sent, err := c.extractor.Send(ctx, c.sink, c.limit)
	if sent > 0 || len(created) > 0 {
		c.logger.Info("Collector cycle telemetry",
			"created", len(created),
			"sent", sent,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	if err != nil {
		return sent, fmt.Errorf("failed to send batches: %w", err)
	}
	return sent, nil
}
