package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Guizzs26/go-trigger-sync/internal/extract"
	"github.com/Guizzs26/go-trigger-sync/pkg/metrics"
)

const (
	BatchExchange      = "sync.batches"
	AckExchange        = "sync.acks"
	DeadLetterExchange = "sync.dlx"

	confirmTimeout = 10 * time.Second
)

// Message headers
const (
	HeaderBatchID    = "batch_id"
	HeaderPrevBatch  = "prev_batch_id"
	HeaderChannelID  = "channel_id"
	HeaderSourceNode = "source_node_id"
	HeaderNodeID     = "node_id"
	HeaderStatus     = "status"
)

// BatchRoutingKey routes a batch to the queue of its target node
func BatchRoutingKey(target, channel string) string {
	return fmt.Sprintf("sync.%s.%s", target, channel)
}

// AckRoutingKey routes an acknowledgement back to the node that sent the batch
func AckRoutingKey(source string) string {
	return "ack." + source
}

// RabbitMQClient handles the low-level communication with the message broker
type RabbitMQClient struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	logger     *slog.Logger
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	closeOnce  sync.Once
	publishMu  sync.Mutex
	healthy    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewRabbitMQClient initializes a connection and a channel, declares the sync
// exchanges and enables Publisher Confirms
func NewRabbitMQClient(url string, l *slog.Logger) (*RabbitMQClient, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if err := declareExchanges(ch); err != nil {
		ch.Close()
		c.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to activate Publisher Confirms: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &RabbitMQClient{
		conn:       c,
		channel:    ch,
		logger:     l,
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	client.healthy.Store(true)
	metrics.HealthStatus.Set(1)

	client.conn.NotifyClose(client.connClosed)
	client.channel.NotifyClose(client.chanClosed)

	go func() {
		select {
		case err := <-client.connClosed:
			client.healthy.Store(false)
			// System is unhealthy
			metrics.HealthStatus.Set(0)
			l.Warn("RabbitMQ connection closed", "error", err)
		case err := <-client.chanClosed:
			client.healthy.Store(false)
			// System is unhealthy
			metrics.HealthStatus.Set(0)
			l.Warn("RabbitMQ channel closed", "error", err)
		case <-client.ctx.Done():
			return
		}
	}()
	l.Info("Successfully connected to RabbitMQ and monitors established")
	return client, nil
}

func declareExchanges(ch *amqp.Channel) error {
	for _, name := range []string{BatchExchange, AckExchange, DeadLetterExchange} {
		if err := ch.ExchangeDeclare(
			name,
			"topic",
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}
	return nil
}

// Publish sends a message and blocks until a confirmation (ACK/NACK) is received
func (r *RabbitMQClient) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if !r.IsHealthy() {
		return fmt.Errorf("broker connection is closed")
	}
	if msg.MessageId == "" {
		msg.MessageId = uuid.NewString()
	}
	msg.DeliveryMode = amqp.Persistent
	msg.Timestamp = time.Now()

	l := r.logger.With(
		"message_id", msg.MessageId,
		"routing_key", routingKey,
	)

	// confirms are matched by delivery tag, so publishes on the channel are serialized
	r.publishMu.Lock()
	deferred, err := r.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		exchange,
		routingKey,
		false,
		false,
		msg,
	)
	r.publishMu.Unlock()
	if err != nil {
		l.Error("failed to publish message to exchange", "error", err)
		return fmt.Errorf("publish call failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("RabbitMQ NACK received: message not persisted")
		}
		return nil
	case <-time.After(confirmTimeout):
		return fmt.Errorf("publisher confirm timeout")
	}
}

// PublishAck reports the load result of a batch to the node that sent it
func (r *RabbitMQClient) PublishAck(ctx context.Context, ack Ack) error {
	return r.Publish(ctx, AckExchange, AckRoutingKey(ack.SourceNodeID), ack.publishing())
}

// Close gracefully shuts down the RabbitMQ resources
func (r *RabbitMQClient) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("Terminating RabbitMQ client")
		r.cancel()
		if r.channel != nil {
			r.channel.Close()
		}
		if r.conn != nil {
			r.conn.Close()
		}
	})
	return nil
}

// IsHealthy returns true if the connection and channel are active
func (r *RabbitMQClient) IsHealthy() bool {
	return r.healthy.Load()
}

// BatchPublisher sends extracted batches to the queue of one target node
type BatchPublisher struct {
	client *RabbitMQClient
	nodeID string
	target string
}

func NewBatchPublisher(client *RabbitMQClient, nodeID, target string) *BatchPublisher {
	return &BatchPublisher{client: client, nodeID: nodeID, target: target}
}

func (p *BatchPublisher) Put(ctx context.Context, env extract.Envelope) error {
	return p.client.Publish(ctx, BatchExchange, BatchRoutingKey(p.target, env.ChannelID), batchPublishing(p.nodeID, env))
}

func batchPublishing(nodeID string, env extract.Envelope) amqp.Publishing {
	id := uuid.NewString()
	return amqp.Publishing{
		Headers: amqp.Table{
			HeaderBatchID:    env.BatchID,
			HeaderPrevBatch:  env.PrevBatchID,
			HeaderChannelID:  env.ChannelID,
			HeaderSourceNode: nodeID,
		},
		MessageId:     id,
		CorrelationId: nodeID + "-" + strconv.FormatInt(env.BatchID, 10),
		ContentType:   "text/csv",
		Body:          env.Payload,
	}
}
