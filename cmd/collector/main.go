package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Guizzs26/go-trigger-sync/internal/app"
	"github.com/Guizzs26/go-trigger-sync/internal/broker"
	"github.com/Guizzs26/go-trigger-sync/internal/config"
	"github.com/Guizzs26/go-trigger-sync/internal/extract"
	"github.com/Guizzs26/go-trigger-sync/internal/service"
	"github.com/Guizzs26/go-trigger-sync/pkg/infra"
)

func main() {
	// Configuration & Logger Initialization
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	// This context will be canceled when SIGINT (Ctrl+C) or SIGTERM (Docker stop) is received
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capture, err := config.LoadTriggers(cfg.TriggersFile, cfg.BatchSize)
	if err != nil {
		logger.Error("FATAL: Failed to load capture definitions", "file", cfg.TriggersFile, "error", err)
		os.Exit(1)
	}

	node, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("FATAL: Failed to open node database", "dialect", cfg.Dialect, "error", err)
		os.Exit(1)
	}
	defer node.Close()
	logger = node.Logger()

	logger.Info("🔧 Initializing Collector Service...",
		"dialect", cfg.Dialect,
		"target", cfg.TargetNodeID,
		"triggers", len(capture.Triggers),
	)

	installer := node.Installer()
	report, err := installer.SyncTriggers(ctx, capture.Triggers, false)
	if err != nil {
		logger.Error("FATAL: Trigger synchronization failed", "error", err)
		os.Exit(1)
	}
	for _, r := range report.Failed() {
		logger.Warn("⚠️ Trigger not installed", "trigger", r.TriggerID, "table", r.Table, "error", r.Err)
	}
	for _, r := range report.Skipped() {
		logger.Info("Source table missing, capture skipped until it exists", "trigger", r.TriggerID, "table", r.Table)
	}
	logger.Info("✅ Triggers in place", "rebuilt", report.Rebuilt(), "skipped", len(report.Skipped()), "failed", len(report.Failed()))

	go infra.StartObservabilityServer(cfg.MetricsPort, "COLLECTOR", logger)

	janitorDone := make(chan struct{})
	go service.NewJanitor(node.Repo, cfg.StaleAfter, cfg.PurgeAfter, logger).Run(ctx, cfg.MaintenanceInterval, janitorDone)
	go service.NewTriggerSynchronizer(installer, capture.Triggers, logger).Run(ctx, cfg.DriftCheckInterval)

	var staging *extract.FileSink
	if cfg.StagingDir != "" {
		staging = extract.NewFileSink(cfg.StagingDir)
		logger.Info("Staging extracted batches on disk", "dir", cfg.StagingDir)
	}

	logger.Info("🚀 Collector is running. Polling the change log...")
	runMainLoop(ctx, cfg, node, capture, staging, logger)

	<-janitorDone
	logger.Info("✅ Collector service shut down successfully.")
}

// runMainLoop keeps one broker session alive at a time. A session ends when
// the connection drops, and a new one starts after a backoff.
func runMainLoop(ctx context.Context, cfg *config.Config, node *app.Node, capture *config.Capture, staging *extract.FileSink, logger *slog.Logger) {
	backoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)
	extractor := node.Extractor()
	feedback := service.NewFeedbackService(node.Repo, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("👋 Shutting down main loop...")
			return
		default:
		}

		rabbit, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, logger)
		if err != nil {
			wait := backoff.Next()
			logger.Error("RabbitMQ link failure, retrying", "wait", wait, "attempt", backoff.Attempts(), "error", err)
			if !infra.Sleep(ctx, wait) {
				return
			}
			continue
		}
		acks, err := broker.NewRabbitMQConsumer(cfg.RabbitMQURL, node.ID, 1, logger)
		if err != nil {
			rabbit.Close()
			wait := backoff.Next()
			logger.Error("RabbitMQ ack consumer failure, retrying", "wait", wait, "error", err)
			if !infra.Sleep(ctx, wait) {
				return
			}
			continue
		}

		logger.Info("RabbitMQ link established 🚀")
		backoff.Reset()

		var sink extract.Sink = broker.NewBatchPublisher(rabbit, node.ID, cfg.TargetNodeID)
		if staging != nil {
			sink = extract.MultiSink{staging, sink}
		}
		collector := service.NewCollector(extractor, sink, rabbit, capture.Channels, cfg.BatchSize, logger)

		session, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(session)
		g.Go(func() error {
			collector.Run(gctx, cfg.PollInterval)
			return nil
		})
		g.Go(func() error {
			return acks.ListenAcks(gctx, feedback.HandleAck)
		})
		g.Go(func() error {
			watchHealth(gctx, rabbit, cancel)
			return nil
		})
		if err := g.Wait(); err != nil {
			logger.Error("⚠️ Broker session lost", "error", err)
		}
		cancel()
		acks.Close()
		rabbit.Close()
	}
}

// watchHealth ends the session once the publishing connection is gone
func watchHealth(ctx context.Context, rabbit *broker.RabbitMQClient, cancel context.CancelFunc) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !rabbit.IsHealthy() {
				cancel()
				return
			}
		}
	}
}
