package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicDeadLetterQueue = "storefront.dlq"
)

// Заголовки сообщений, по ним потребители фильтруют события без разбора тела.
const (
	HeaderEventType = "x-event-type"
	HeaderOutboxID  = "x-outbox-id"
	HeaderReplayed  = "x-replayed"
)

// Envelope — outbox-сообщение в том виде, в каком оно лежит в топике.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DeadLetter — payload сообщения, которое outbox worker не смог доставить.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error,omitempty"`
}

// NewEnvelope заворачивает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt.UTC(),
	}
}

// Key — ключ партиционирования: все события одного заказа попадают в одну партицию.
func (e Envelope) Key() string {
	if strings.TrimSpace(e.AggregateID) != "" {
		return e.AggregateID
	}
	return e.ID
}

// ParseEnvelope разбирает значение сообщения из топика событий или DLQ.
func ParseEnvelope(value []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("envelope has no event_type")
	}
	return env, nil
}

// DeadLetter разбирает payload DLQ-конверта. ok=false — это не DLQ-запись outbox.
func (e Envelope) DeadLetter() (DeadLetter, bool, error) {
	var dl DeadLetter
	if err := json.Unmarshal(e.Payload, &dl); err != nil {
		return DeadLetter{}, false, fmt.Errorf("decode dead letter: %w", err)
	}
	if dl.OutboxID == "" && len(dl.Payload) == 0 {
		return DeadLetter{}, false, nil
	}
	if len(dl.Payload) == 0 {
		return DeadLetter{}, false, fmt.Errorf("dead letter %s has no original payload", dl.OutboxID)
	}
	return dl, true, nil
}
