package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/go-trigger-sync/internal/app"
	"github.com/Guizzs26/go-trigger-sync/internal/batch"
	"github.com/Guizzs26/go-trigger-sync/internal/broker"
	"github.com/Guizzs26/go-trigger-sync/internal/config"
	"github.com/Guizzs26/go-trigger-sync/internal/processor"
	"github.com/Guizzs26/go-trigger-sync/pkg/infra"
)

// prefetch bounds the batches held in memory per consumer
const prefetch = 16

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("CRITICAL: Node database connection failed", "dialect", cfg.Dialect, "error", err)
		os.Exit(1)
	}
	defer node.Close()
	logger = node.Logger()

	logger.Info("🔥 Consumer initializing...",
		"dialect", cfg.Dialect,
		"version", "1.0.0",
	)

	// Initialize Core Logic
	handler := processor.NewSyncHandler(node.Loader(), logger)
	dispatcher := batch.NewDispatcher(handler, batch.NewSequencer(node.Repo), logger)

	jobs := make(chan batch.Job)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		if err := dispatcher.Run(ctx, jobs); err != nil {
			logger.Error("Dispatcher stopped", "error", err)
		}
	}()

	// Start Observability Server
	go infra.StartObservabilityServer(cfg.MetricsPort, "CONSUMER", logger)

	runMainLoop(ctx, cfg, node.ID, jobs, logger)

	<-dispatched
	logger.Info("✅ Consumer shut down successfully.")
}

func runMainLoop(ctx context.Context, cfg *config.Config, nodeID string, jobs chan<- batch.Job, logger *slog.Logger) {
	connBackoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)

	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 Shutdown signal received")
			return
		default:
		}

		consumer, err := broker.NewRabbitMQConsumer(cfg.RabbitMQURL, nodeID, prefetch, logger)
		if err != nil {
			if !wait(ctx, connBackoff, logger, err) {
				return
			}
			continue
		}
		acks, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, logger)
		if err != nil {
			consumer.Close()
			if !wait(ctx, connBackoff, logger, err) {
				return
			}
			continue
		}

		connBackoff.Reset()
		logger.Info("✅ Connected to Broker. Listening for batches...")

		if err := consumer.ListenBatches(ctx, jobs, acks); err != nil {
			logger.Error("⚠️ Consumer connection lost", "error", err)
		}

		consumer.Close()
		acks.Close()
	}
}

func wait(ctx context.Context, b *infra.Backoff, logger *slog.Logger, err error) bool {
	d := b.Next()
	logger.Error("RabbitMQ connection failed, retrying...",
		"wait_duration", d,
		"attempt", b.Attempts(),
		"error", err,
	)
	return infra.Sleep(ctx, d)
}
