package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoadDuration tracks the latency of loading one batch, from BATCH to commit
	// We use larger buckets because legacy targets on HDDs can be slow
	LoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consumer_batch_load_duration_seconds",
		Help:    "Time taken to load a batch into the target database",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"status", "channel"}) // status: committed, rolled_back, skipped

	// BatchesLoaded tracks the throughput and result of batch loading
	BatchesLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_batches_total",
		Help: "Total number of batches handled by the consumer",
	}, []string{"status", "source_node"}) // status: committed, rolled_back, skipped, fatal

	// RowsLoaded counts applied rows per table and operation
	RowsLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_rows_total",
		Help: "Total number of rows applied to the target database",
	}, []string{"operation", "table"})

	// UpdateFallbacks counts updates that found no row and were inserted instead
	UpdateFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_update_fallbacks_total",
		Help: "Number of updates turned into inserts because the row was missing",
	}, []string{"table"})

	// ConsumerRetries tracks how many times we had to retry internally due to locks
	ConsumerRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_lock_retries_total",
		Help: "Number of internal retries triggered by locks/deadlocks",
	}, []string{"channel"})
)
