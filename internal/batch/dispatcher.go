package batch

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Guizzs26/go-trigger-sync/internal/protocol"
	"github.com/Guizzs26/go-trigger-sync/pkg/infra"
	"github.com/Guizzs26/go-trigger-sync/pkg/metrics"
)

// Job is one received batch waiting to be loaded
type Job struct {
	ChannelID    string
	BatchID      int64
	SourceNodeID string
	// PrevBatchID is the batch the source sent before this one on the
	// channel, 0 when there is none
	PrevBatchID int64
	Payload     []byte
	// Done is called once the job will not be retried: nil after success,
	// the error when it failed for good
	Done func(err error)
}

// lane groups the batches whose ids are ordered against each other
func (j Job) lane() string {
	return j.SourceNodeID + "/" + j.ChannelID
}

type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// IsFatal reports errors that retrying cannot fix
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var perr *protocol.ParseError
	return errors.As(err, &perr) || strings.HasPrefix(err.Error(), "FATAL:")
}

type jobHeap []Job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].BatchID < h[j].BatchID }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)        { *h = append(*h, x.(Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// jobQueue hands out the lowest pending batch id of one channel
type jobQueue struct {
	mu     sync.Mutex
	jobs   jobHeap
	ready  chan struct{}
	closed bool
}

func newJobQueue() *jobQueue {
	return &jobQueue{ready: make(chan struct{}, 1)}
}

func (q *jobQueue) push(job Job) {
	q.mu.Lock()
	heap.Push(&q.jobs, job)
	q.mu.Unlock()
	q.signal()
}

// hold puts back a job that is not ready yet without waking the worker
func (q *jobQueue) hold(job Job) {
	q.mu.Lock()
	heap.Push(&q.jobs, job)
	q.mu.Unlock()
}

func (q *jobQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *jobQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *jobQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop returns false once the queue is closed and drained, or ctx is done
func (q *jobQueue) pop(ctx context.Context) (Job, bool) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := heap.Pop(&q.jobs).(Job)
			q.mu.Unlock()
			return job, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Job{}, false
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return Job{}, false
		}
	}
}

// Dispatcher runs one worker per source node and channel. Lanes load
// concurrently; within a lane batches load one at a time, lowest id first,
// and a batch waits until its predecessor is terminal even when it arrived
// first. A batch failing with a transient error is retried with backoff
// before the lane moves on.
type Dispatcher struct {
	handler   Handler
	sequencer *Sequencer
	logger    *slog.Logger

	minDelay     time.Duration
	maxDelay     time.Duration
	pollInterval time.Duration
}

func NewDispatcher(handler Handler, sequencer *Sequencer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handler:      handler,
		sequencer:    sequencer,
		logger:       logger,
		minDelay:     time.Second,
		maxDelay:     time.Minute,
		pollInterval: 2 * time.Second,
	}
}

// Run consumes jobs until the channel is closed or ctx is cancelled, then
// waits for the workers to drain
func (d *Dispatcher) Run(ctx context.Context, jobs <-chan Job) error {
	g, gctx := errgroup.WithContext(ctx)
	queues := make(map[string]*jobQueue)

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case job, ok := <-jobs:
			if !ok {
				break loop
			}
			lane := job.lane()
			q, exists := queues[lane]
			if !exists {
				q = newJobQueue()
				queues[lane] = q
				channel, source := job.ChannelID, job.SourceNodeID
				g.Go(func() error {
					return d.work(gctx, channel, source, q)
				})
			}
			q.push(job)
		}
	}

	for _, q := range queues {
		q.close()
	}
	return g.Wait()
}

func (d *Dispatcher) work(ctx context.Context, channel, source string, q *jobQueue) error {
	logger := d.logger.With("channel", channel, "source_node_id", source)
	backoff := infra.NewBackoff(d.minDelay, d.maxDelay, 2.0)
	logger.Debug("Lane worker started")

	for {
		job, ok := q.pop(ctx)
		if !ok {
			return nil
		}

		changed := d.sequencer.Changed(job)
		ready, err := d.sequencer.Ready(ctx, job)
		if err != nil {
			logger.Warn("Failed to check previous batch", "batch_id", job.BatchID, "prev_batch_id", job.PrevBatchID, "error", err)
		}
		if !ready {
			if q.isClosed() {
				// left unacknowledged, the broker hands it out again
				logger.Warn("Stopping with batch still waiting on its predecessor",
					"batch_id", job.BatchID, "prev_batch_id", job.PrevBatchID)
				return nil
			}
			logger.Debug("Batch waiting on its predecessor", "batch_id", job.BatchID, "prev_batch_id", job.PrevBatchID)
			q.hold(job)
			select {
			case <-q.ready:
			case <-changed:
			case <-time.After(d.pollInterval):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		err = d.handler.Handle(ctx, job)
		if err == nil || IsFatal(err) {
			backoff.Reset()
			d.sequencer.Finish(job)
			if job.Done != nil {
				job.Done(err)
			}
			continue
		}

		// transient: the batch keeps its place, later ids of the lane wait behind it
		wait := backoff.Next()
		metrics.ConsumerRetries.WithLabelValues(channel).Inc()
		logger.Warn("Batch failed, retrying",
			"batch_id", job.BatchID,
			"attempt", backoff.Attempts(),
			"retry_in", wait,
			"error", err,
		)
		if !infra.Sleep(ctx, wait) {
			return nil
		}
		q.push(job)
	}
}
