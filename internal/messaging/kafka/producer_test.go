package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()

	mockProducer := mocks.NewSyncProducer(t, nil)
	return &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}, mockProducer
}

func headerValue(msg *sarama.ProducerMessage, name string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == name {
			return string(h.Value)
		}
	}
	return ""
}

func TestProducer_PublishEvent(t *testing.T) {
	producer, mockProducer := newMockedProducer(t)

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "order-123" {
			return fmt.Errorf("unexpected key %s", key)
		}
		if got := headerValue(msg, HeaderEventType); got != "OrderPaid" {
			return fmt.Errorf("unexpected event type header %q", got)
		}
		return nil
	})

	err := producer.PublishEvent(context.Background(), TopicOrderEvents, "order-123",
		map[string]any{"order_id": "order-123"},
		map[string]string{HeaderEventType: "OrderPaid"})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	producer, mockProducer := newMockedProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishEvent(context.Background(), TopicOrderEvents, "order-123", map[string]any{}, nil)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent_CanceledContext(t *testing.T) {
	producer, mockProducer := newMockedProducer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := producer.PublishEvent(ctx, TopicOrderEvents, "order-1", map[string]any{}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_NotInitialized(t *testing.T) {
	var producer *Producer
	require.Error(t, producer.PublishEvent(context.Background(), TopicOrderEvents, "k", nil, nil))
	require.Error(t, producer.Ping(context.Background()))
	require.NoError(t, producer.Close())

	_, err := NewProducer(nil)
	require.Error(t, err)
}

func TestNewProducerConfig_IsIdempotent(t *testing.T) {
	cfg := NewProducerConfig()
	assert.True(t, cfg.Producer.Idempotent)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)
	require.NoError(t, cfg.Validate())
}

func TestEnvelope_KeyAndParse(t *testing.T) {
	env := Envelope{ID: "outbox-1", EventType: "OrderCreated", Payload: json.RawMessage(`{"a":1}`)}
	assert.Equal(t, "outbox-1", env.Key())
	env.AggregateID = "order-1"
	assert.Equal(t, "order-1", env.Key())

	data, err := json.Marshal(env)
	require.NoError(t, err)
	parsed, err := ParseEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "order-1", parsed.AggregateID)

	_, err = ParseEnvelope([]byte(`{"id":"x"}`))
	require.Error(t, err)
	_, err = ParseEnvelope([]byte(`not json`))
	require.Error(t, err)
}

func TestEnvelope_DeadLetter(t *testing.T) {
	dlq := Envelope{
		ID:        "outbox-1",
		EventType: "OrderPaid",
		Payload:   json.RawMessage(`{"outbox_id":"outbox-1","aggregate_id":"order-1","payload":{"order_id":"order-1"}}`),
	}
	dl, ok, err := dlq.DeadLetter()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "order-1", dl.AggregateID)
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(dl.Payload))

	regular := Envelope{EventType: "OrderPaid", Payload: json.RawMessage(`{"order_id":"order-1"}`)}
	_, ok, err = regular.DeadLetter()
	require.NoError(t, err)
	assert.False(t, ok)

	broken := Envelope{EventType: "OrderPaid", Payload: json.RawMessage(`{"outbox_id":"outbox-2"}`)}
	_, _, err = broken.DeadLetter()
	require.Error(t, err)
}
