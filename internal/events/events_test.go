package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent []published
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}
	e := New(OrderCreated, "17", map[string]any{"order_id": 17})

	require.NoError(t, p.Publish(context.Background(), e))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "17", string(msg.Key))
	assert.Equal(t, []kafkago.Header{
		{Key: "event-type", Value: []byte("order.created")},
		{Key: "event-id", Value: []byte(e.ID.String())},
	}, msg.Headers)

	var body struct {
		ID      string         `json:"id"`
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, e.ID.String(), body.ID)
	assert.Equal(t, "order.created", body.Type)
	assert.EqualValues(t, 17, body.Payload["order_id"])
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("leader not available")}}

	err := p.Publish(context.Background(), New(OrderCollected, "1", nil))
	assert.ErrorContains(t, err, "leader not available")
}

func TestAMQPPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{channel: ch, exchange: "canteen_events"}
	e := New(PurchaseRequestDecided, "3", map[string]any{"status": "approved"})

	require.NoError(t, p.Publish(context.Background(), e))
	require.Len(t, ch.sent, 1)

	sent := ch.sent[0]
	assert.Equal(t, "canteen_events", sent.exchange)
	assert.Equal(t, "purchase_request.decided", sent.key)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)
	assert.Equal(t, "application/json", sent.msg.ContentType)
	assert.Equal(t, e.ID.String(), sent.msg.MessageId)
	assert.JSONEq(t, `{"status":"approved"}`, string(mustPayload(t, sent.msg.Body)))

	require.NoError(t, p.Close())
}

func mustPayload(t *testing.T, body []byte) json.RawMessage {
	t.Helper()
	var env struct {
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	return env.Payload
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(zap.NewNop())
	assert.NoError(t, p.Publish(context.Background(), New(BalanceToppedUp, "9", nil)))
	assert.NoError(t, p.Close())
}
