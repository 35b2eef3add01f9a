package service

import (
	"context"
	"log/slog"

	"github.com/Guizzs26/go-trigger-sync/internal/broker"
	"github.com/Guizzs26/go-trigger-sync/internal/db"
)

type FeedbackRepository interface {
	SetOutgoingStatus(ctx context.Context, batchID int64, status, message string) error
}

// FeedbackService applies the acknowledgements of receiving nodes to the
// outgoing batches
type FeedbackService struct {
	repo   FeedbackRepository
	logger *slog.Logger
}

func NewFeedbackService(r FeedbackRepository, l *slog.Logger) *FeedbackService {
	return &FeedbackService{repo: r, logger: l}
}

func (s *FeedbackService) HandleAck(ctx context.Context, ack broker.Ack) error {
	l := s.logger.With("batch_id", ack.BatchID, "node_id", ack.NodeID)

	if ack.Status == db.OutgoingError {
		l.Warn("Feedback: batch rejected by receiving node", "message", ack.Message)
	} else {
		l.Debug("Feedback: batch acknowledged")
	}

	if err := s.repo.SetOutgoingStatus(ctx, ack.BatchID, ack.Status, ack.Message); err != nil {
		l.Error("Feedback: failed to update outgoing batch", "error", err)
		return err
	}
	return nil
}
