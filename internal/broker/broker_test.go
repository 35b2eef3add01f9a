package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-trigger-sync/internal/batch"
	"github.com/Guizzs26/go-trigger-sync/internal/db"
	"github.com/Guizzs26/go-trigger-sync/internal/extract"
)

const payload = "NODEID,\"store-1\"\nBINARY,\"HEX\"\nCHANNEL,\"sales\"\nBATCH,\"17\"\nCOMMIT,\"17\"\n"

type acknowledger struct {
	acked, nacked, requeued int
}

func (a *acknowledger) Ack(uint64, bool) error { a.acked++; return nil }
func (a *acknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	if requeue {
		a.requeued++
	}
	return nil
}
func (a *acknowledger) Reject(uint64, bool) error { return nil }

type ackRecorder struct {
	acks []Ack
	err  error
}

func (r *ackRecorder) PublishAck(_ context.Context, ack Ack) error {
	r.acks = append(r.acks, ack)
	return r.err
}

func TestRoutingKeys(t *testing.T) {
	assert.Equal(t, "sync.central.sales", BatchRoutingKey("central", "sales"))
	assert.Equal(t, "sync.central.#", BatchRoutingKey("central", "#"))
	assert.Equal(t, "ack.store-1", AckRoutingKey("store-1"))
}

func TestJobFromHeaders(t *testing.T) {
	msg := batchPublishing("store-1", extract.Envelope{ChannelID: "sales", BatchID: 17, PrevBatchID: 12, Payload: []byte(payload)})
	assert.Equal(t, "store-1-17", msg.CorrelationId)
	assert.NotEmpty(t, msg.MessageId)

	job, err := jobFromDelivery(amqp.Delivery{Headers: msg.Headers, Body: msg.Body})
	require.NoError(t, err)
	assert.Equal(t, int64(17), job.BatchID)
	assert.Equal(t, "sales", job.ChannelID)
	assert.Equal(t, "store-1", job.SourceNodeID)
	assert.Equal(t, int64(12), job.PrevBatchID)
	assert.Equal(t, []byte(payload), job.Payload)
}

func TestJobFromPayloadWhenHeadersMissing(t *testing.T) {
	job, err := jobFromDelivery(amqp.Delivery{Headers: amqp.Table{HeaderBatchID: int32(3)}, Body: []byte(payload)})
	require.NoError(t, err)
	assert.Equal(t, int64(17), job.BatchID)
	assert.Equal(t, "sales", job.ChannelID)
	assert.Equal(t, "store-1", job.SourceNodeID)

	_, err = jobFromDelivery(amqp.Delivery{Body: []byte("NODEID,\"store-1\"\n")})
	require.Error(t, err)
	assert.True(t, batch.IsFatal(err))

	_, err = jobFromDelivery(amqp.Delivery{Body: []byte("BOGUS,\"1\"\n")})
	require.Error(t, err)
	assert.True(t, batch.IsFatal(err))
}

func TestHeaderInt(t *testing.T) {
	h := amqp.Table{"a": int64(5), "b": int32(6), "c": 7, "d": "8", "e": "x", "f": 1.5}
	for key, want := range map[string]int64{"a": 5, "b": 6, "c": 7, "d": 8} {
		got, ok := headerInt(h, key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
	for _, key := range []string{"e", "f", "missing"} {
		_, ok := headerInt(h, key)
		assert.False(t, ok, key)
	}
}

func TestAckRoundTrip(t *testing.T) {
	sent := Ack{BatchID: 9, SourceNodeID: "store-1", NodeID: "central", Status: db.OutgoingError, Message: "duplicate key"}
	msg := sent.publishing()

	got, err := ackFromDelivery(amqp.Delivery{Headers: msg.Headers, Body: msg.Body})
	require.NoError(t, err)
	assert.Equal(t, sent, got)

	_, err = ackFromDelivery(amqp.Delivery{Headers: amqp.Table{HeaderBatchID: int64(9), HeaderStatus: "??"}})
	assert.Error(t, err)
	_, err = ackFromDelivery(amqp.Delivery{Headers: amqp.Table{HeaderStatus: db.OutgoingOK}})
	assert.Error(t, err)
}

func TestDoneAcksAndReports(t *testing.T) {
	c := &RabbitMQConsumer{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), nodeID: "central"}
	job := batch.Job{BatchID: 17, ChannelID: "sales", SourceNodeID: "store-1"}

	t.Run("loaded", func(t *testing.T) {
		a, acks := &acknowledger{}, &ackRecorder{}
		c.done(amqp.Delivery{Acknowledger: a}, job, acks)(nil)

		assert.Equal(t, 1, a.acked)
		assert.Zero(t, a.nacked)
		require.Len(t, acks.acks, 1)
		assert.Equal(t, Ack{BatchID: 17, SourceNodeID: "store-1", NodeID: "central", Status: db.OutgoingOK}, acks.acks[0])
	})

	t.Run("failed for good", func(t *testing.T) {
		a, acks := &acknowledger{}, &ackRecorder{err: errors.New("broker offline")}
		c.done(amqp.Delivery{Acknowledger: a}, job, acks)(errors.New("FATAL: bad stream"))

		assert.Zero(t, a.acked)
		assert.Equal(t, 1, a.nacked)
		assert.Zero(t, a.requeued)
		require.Len(t, acks.acks, 1)
		assert.Equal(t, db.OutgoingError, acks.acks[0].Status)
		assert.Equal(t, "FATAL: bad stream", acks.acks[0].Message)
	})
}
