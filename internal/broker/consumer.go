package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Guizzs26/go-trigger-sync/internal/batch"
	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/models"
	"github.com/Guizzs26/go-trigger-sync/internal/protocol"
)

// Ack is the load result a receiving node sends back for one batch
type Ack struct {
	BatchID      int64
	SourceNodeID string
	NodeID       string
	Status       string
	Message      string
}

func (a Ack) publishing() amqp.Publishing {
	return amqp.Publishing{
		Headers: amqp.Table{
			HeaderBatchID:    a.BatchID,
			HeaderSourceNode: a.SourceNodeID,
			HeaderNodeID:     a.NodeID,
			HeaderStatus:     a.Status,
		},
		ContentType: "text/plain",
		Body:        []byte(a.Message),
	}
}

func ackFromDelivery(d amqp.Delivery) (Ack, error) {
	id, ok := headerInt(d.Headers, HeaderBatchID)
	if !ok {
		return Ack{}, fmt.Errorf("ack without %s header", HeaderBatchID)
	}
	ack := Ack{
		BatchID:      id,
		SourceNodeID: headerString(d.Headers, HeaderSourceNode),
		NodeID:       headerString(d.Headers, HeaderNodeID),
		Status:       headerString(d.Headers, HeaderStatus),
		Message:      string(d.Body),
	}
	if ack.Status != db.OutgoingOK && ack.Status != db.OutgoingError {
		return Ack{}, fmt.Errorf("ack of batch %d has unknown status %q", id, ack.Status)
	}
	return ack, nil
}

// jobFromDelivery builds a load job from a batch message. Headers are
// optional; the payload is authoritative when they are missing. Without a
// prev_batch_id header the batch is only ordered against the ones received
// with it.
func jobFromDelivery(d amqp.Delivery) (batch.Job, error) {
	job := batch.Job{
		ChannelID:    headerString(d.Headers, HeaderChannelID),
		SourceNodeID: headerString(d.Headers, HeaderSourceNode),
		Payload:      d.Body,
	}
	job.PrevBatchID, _ = headerInt(d.Headers, HeaderPrevBatch)
	id, ok := headerInt(d.Headers, HeaderBatchID)
	if ok && job.ChannelID != "" && job.SourceNodeID != "" {
		job.BatchID = id
		return job, nil
	}

	b, err := peekBatch(d.Body)
	if err != nil {
		return job, err
	}
	job.BatchID = b.BatchID
	job.ChannelID = b.ChannelID
	job.SourceNodeID = b.SourceNodeID
	return job, nil
}

// peekBatch reads the stream up to its first BATCH record
func peekBatch(payload []byte) (*models.Batch, error) {
	r := protocol.NewReader(bytes.NewReader(payload))
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("FATAL: message holds no batch")
		}
		if err != nil {
			return nil, err
		}
		if ev.Kind == protocol.EventBatch {
			return ev.Batch, nil
		}
	}
}

func headerString(h amqp.Table, key string) string {
	if v, ok := h[key].(string); ok {
		return v
	}
	return ""
}

func headerInt(h amqp.Table, key string) (int64, bool) {
	switch v := h[key].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// AckPublisher sends load results back to the source node
type AckPublisher interface {
	PublishAck(ctx context.Context, ack Ack) error
}

// RabbitMQConsumer manages the connection and message flow from the broker
type RabbitMQConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
	nodeID  string
}

// NewRabbitMQConsumer initializes the consumer for the queues of one node
func NewRabbitMQConsumer(url, nodeID string, prefetch int, logger *slog.Logger) (*RabbitMQConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := declareExchanges(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	// Prefetch bounds the batches held in memory while earlier ones of their channel load
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &RabbitMQConsumer{
		conn:    conn,
		channel: ch,
		logger:  logger,
		nodeID:  nodeID,
	}, nil
}

// declareQueue declares a durable quorum queue dead-lettering into the DLX,
// its dead letter queue and the bindings of both
func (c *RabbitMQConsumer) declareQueue(name, exchange, routingKey string) error {
	dead := name + ".dead"
	if _, err := c.channel.QueueDeclare(dead, true, false, false, false, amqp.Table{
		"x-queue-type": "quorum",
	}); err != nil {
		return fmt.Errorf("failed to declare dead letter queue: %w", err)
	}
	if err := c.channel.QueueBind(dead, name, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead letter queue: %w", err)
	}

	if _, err := c.channel.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": name,
	}); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := c.channel.QueueBind(name, routingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// ListenBatches feeds the batches addressed to this node into jobs. A job is
// acked once loaded; a job that failed for good is dead-lettered. Either way
// the source node is told the outcome.
func (c *RabbitMQConsumer) ListenBatches(ctx context.Context, jobs chan<- batch.Job, acks AckPublisher) error {
	queue := fmt.Sprintf("sync.%s.batches", c.nodeID)
	if err := c.declareQueue(queue, BatchExchange, BatchRoutingKey(c.nodeID, "#")); err != nil {
		return err
	}

	msgs, err := c.channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}
	c.logger.Info("Consumer is online and waiting for batches", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			job, err := jobFromDelivery(d)
			if err != nil {
				c.logger.Error("Malformed batch message, dead-lettering", "message_id", d.MessageId, "error", err)
				d.Nack(false, false)
				continue
			}
			job.Done = c.done(d, job, acks)

			select {
			case jobs <- job:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (c *RabbitMQConsumer) done(d amqp.Delivery, job batch.Job, acks AckPublisher) func(error) {
	return func(loadErr error) {
		l := c.logger.With("batch_id", job.BatchID, "channel", job.ChannelID)
		ack := Ack{BatchID: job.BatchID, SourceNodeID: job.SourceNodeID, NodeID: c.nodeID, Status: db.OutgoingOK}
		if loadErr != nil {
			ack.Status = db.OutgoingError
			ack.Message = loadErr.Error()
		}

		// the ack is best effort: an unacknowledged batch is resent and skipped as already loaded
		if acks != nil {
			ctx, cancel := context.WithTimeout(context.Background(), confirmTimeout)
			if err := acks.PublishAck(ctx, ack); err != nil {
				l.Warn("Failed to publish batch acknowledgement", "error", err)
			}
			cancel()
		}

		if loadErr != nil {
			d.Nack(false, false)
			return
		}
		// Manual Ack: Only confirmed after the batch committed
		if err := d.Ack(false); err != nil {
			l.Error("Failed to Ack message", "error", err)
		}
	}
}

// ListenAcks hands the acknowledgements addressed to this node to handle.
// A failing handler requeues the acknowledgement.
func (c *RabbitMQConsumer) ListenAcks(ctx context.Context, handle func(context.Context, Ack) error) error {
	queue := fmt.Sprintf("sync.%s.acks", c.nodeID)
	if err := c.declareQueue(queue, AckExchange, AckRoutingKey(c.nodeID)); err != nil {
		return err
	}

	msgs, err := c.channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register ack consumer: %w", err)
	}
	c.logger.Info("Listening for batch acknowledgements", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("ack channel closed")
			}

			ack, err := ackFromDelivery(d)
			if err != nil {
				c.logger.Error("Malformed acknowledgement, dead-lettering", "error", err)
				d.Nack(false, false)
				continue
			}
			if err := handle(ctx, ack); err != nil {
				c.logger.Error("Acknowledgement handling failed, requeueing", "batch_id", ack.BatchID, "error", err)
				d.Nack(false, true)
				continue
			}
			d.Ack(false)
		}
	}
}

// Close gracefully terminates RabbitMQ resources
func (c *RabbitMQConsumer) Close() {
	c.logger.Info("Shutting down RabbitMQ consumer")
	c.channel.Close()
	c.conn.Close()
}
