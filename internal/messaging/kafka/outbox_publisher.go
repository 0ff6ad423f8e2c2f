package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
// Пустой topic означает топик событий заказа.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	envelope := NewEnvelope(event, p.now())
	headers := map[string]string{
		HeaderEventType: event.EventType,
		HeaderOutboxID:  event.ID,
	}
	return p.producer.PublishEvent(ctx, p.topic, envelope.Key(), envelope, headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
