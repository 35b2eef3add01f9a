package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesExtracted tracks the outgoing batches written and published by the collector
	// Labels allow filtering by status (sent/error) and channel
	BatchesExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_batches_extracted_total",
		Help: "Total number of outgoing batches extracted by the collector",
	}, []string{"status", "channel"})

	// RowsExtracted counts captured rows that left the change log
	RowsExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_rows_extracted_total",
		Help: "Total number of change log rows written into outgoing batches",
	}, []string{"channel"})

	// ExtractDuration measures how long it takes to route, extract and publish one round
	ExtractDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "collector_round_duration_seconds",
		Help:    "Duration of one collector round in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BatchSize tracks the number of rows in each outgoing batch
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "collector_batch_rows",
		Help:    "Number of rows per outgoing batch",
		Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
	})

	// RabbitMQReconnections counts how many times the service had to restore the link
	// Frequent increments indicate network instability between the nodes
	RabbitMQReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_rabbitmq_reconnections_total",
		Help: "Total number of RabbitMQ reconnection attempts",
	})

	// HealthStatus provides a binary 0/1 signal for the service's health
	// 1 = Healthy, 0 = Unhealthy (Connection to RabbitMQ is down)
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_healthy",
		Help: "Current health status of the service (1 for healthy, 0 for unhealthy)",
	})

	// ChangeLogBacklog tracks the captured rows not yet assigned to a batch
	// This is the primary indicator of system lag
	ChangeLogBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_change_log_backlog",
		Help: "Current number of unbatched rows in the change log",
	})

	// ErrorBatches tracks outgoing batches the remote side rejected
	// If this number grows, manual intervention in the database is required
	ErrorBatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_error_batches",
		Help: "Current number of outgoing batches in error status",
	})

	// TriggerBuilds counts trigger lifecycle events by outcome and build reason
	TriggerBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_trigger_builds_total",
		Help: "Total number of capture trigger builds, failures and inactivations",
	}, []string{"status", "reason"})
)
