package models

import (
	"fmt"
	"time"
)

type BatchStatus string

const (
	StatusOpen       BatchStatus = "OPEN"
	StatusLoading    BatchStatus = "LOADING"
	StatusCommitted  BatchStatus = "COMMITTED"
	StatusRolledBack BatchStatus = "ROLLED_BACK"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	StatusOpen:    {StatusLoading, StatusRolledBack},
	StatusLoading: {StatusCommitted, StatusRolledBack},
}

type BatchStats struct {
	RowCount     int64
	ByteCount    int64
	InsertCount  int64
	UpdateCount  int64
	DeleteCount  int64
	SQLCount     int64
	SkippedCount int64
	Fallbacks    int64
	LoadDuration time.Duration
}

// Batch is the atomic unit of apply for one channel
type Batch struct {
	BatchID        int64
	ChannelID      string
	SourceNodeID   string
	BinaryEncoding BinaryEncoding
	Status         BatchStatus
	Stats          BatchStats

	// AlreadyLoaded is set when the receiving node had committed this batch before
	AlreadyLoaded bool
	ErrorLine     int64
	ErrorTable    string
}

func NewBatch(id int64, channelID, sourceNodeID string, enc BinaryEncoding) *Batch {
	return &Batch{
		BatchID:        id,
		ChannelID:      channelID,
		SourceNodeID:   sourceNodeID,
		BinaryEncoding: enc,
		Status:         StatusOpen,
	}
}

// Transition moves the batch through OPEN -> LOADING -> COMMITTED | ROLLED_BACK
func (b *Batch) Transition(to BatchStatus) error {
	for _, allowed := range batchTransitions[b.Status] {
		if allowed == to {
			b.Status = to
			return nil
		}
	}
	return fmt.Errorf("batch %d: illegal transition %s -> %s", b.BatchID, b.Status, to)
}

func (b *Batch) IsTerminal() bool {
	return b.Status == StatusCommitted || b.Status == StatusRolledBack
}

// Count records an applied event in the batch statistics
func (b *Batch) Count(e EventType) {
	b.Stats.RowCount++
	switch e {
	case EventInsert:
		b.Stats.InsertCount++
	case EventUpdate:
		b.Stats.UpdateCount++
	case EventDelete:
		b.Stats.DeleteCount++
	case EventSQL:
		b.Stats.SQLCount++
	}
}
