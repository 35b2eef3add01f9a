package batch

import (
	"context"
	"sync"
)

// Ledger answers for batches that finished before this process saw them
type Ledger interface {
	IsBatchTerminal(ctx context.Context, batchID int64, nodeID string) (bool, error)
}

type laneState struct {
	done    map[int64]bool
	changed chan struct{}
}

// Sequencer holds a batch back until the batch sent before it on the same
// source node and channel is terminal here, loaded or failed for good.
// Lanes are independent of each other.
type Sequencer struct {
	mu     sync.Mutex
	lanes  map[string]*laneState
	ledger Ledger
}

// NewSequencer builds a sequencer. With a nil ledger only batches finished
// by this sequencer count as terminal.
func NewSequencer(ledger Ledger) *Sequencer {
	return &Sequencer{lanes: make(map[string]*laneState), ledger: ledger}
}

func (s *Sequencer) lane(job Job) *laneState {
	key := job.lane()
	st, ok := s.lanes[key]
	if !ok {
		st = &laneState{done: make(map[int64]bool), changed: make(chan struct{})}
		s.lanes[key] = st
	}
	return st
}

// Ready reports whether the predecessor of job is terminal
func (s *Sequencer) Ready(ctx context.Context, job Job) (bool, error) {
	if job.PrevBatchID == 0 {
		return true, nil
	}
	s.mu.Lock()
	done := s.lane(job).done[job.PrevBatchID]
	s.mu.Unlock()
	if done || s.ledger == nil {
		return done, nil
	}

	done, err := s.ledger.IsBatchTerminal(ctx, job.PrevBatchID, job.SourceNodeID)
	if err != nil || !done {
		return false, err
	}
	s.mu.Lock()
	s.lane(job).done[job.PrevBatchID] = true
	s.mu.Unlock()
	return true, nil
}

// Changed is closed the next time a batch of the job's lane finishes
func (s *Sequencer) Changed(job Job) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lane(job).changed
}

// Finish marks job terminal and wakes the waiters of its lane
func (s *Sequencer) Finish(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.lane(job)
	st.done[job.BatchID] = true
	// only the finished batch could have been waiting on its predecessor
	delete(st.done, job.PrevBatchID)
	close(st.changed)
	st.changed = make(chan struct{})
}
