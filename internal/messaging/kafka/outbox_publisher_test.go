package kafka

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newMockedProducer(t)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if got := headerValue(msg, HeaderOutboxID); got != "outbox-1" {
			return fmt.Errorf("unexpected outbox id header %q", got)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		env, err := ParseEnvelope(value)
		if err != nil {
			return err
		}
		if env.AggregateID != "order-123" || env.PublishedAt.IsZero() {
			return fmt.Errorf("unexpected envelope %+v", env)
		}
		return nil
	})

	publisher := NewOutboxPublisher(producer, "")
	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     domain.TimelineOrderPaid,
		Payload:       []byte(`{"order_id":"order-123"}`),
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishToDLQTopic(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newMockedProducer(t)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicDeadLetterQueue {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		return nil
	})

	publisher := &OutboxTopicPublisher{
		producer: producer,
		topic:    TopicDeadLetterQueue,
		now:      func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
	require.NoError(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-2", EventType: "OrderCreated"}))
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newMockedProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(producer, TopicOrderEvents)
	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:          "outbox-2",
		AggregateID: "order-234",
		EventType:   domain.TimelineOrderCreated,
		Payload:     []byte(`{}`),
	})
	require.Error(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	require.Error(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}))
}
