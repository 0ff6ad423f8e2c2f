package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// AggregateOrder — тип агрегата для событий заказа в outbox.
const AggregateOrder = "order"

// Recorder пишет событие заказа в timeline и transactional outbox.
// Ошибки записи логируются и не ломают бизнес-операцию.
type Recorder struct {
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	logger   *log.Entry
	metrics  *metrics.ShopMetrics
	now      func() time.Time
}

// NewRecorder создаёт Recorder. Любой из репозиториев может быть nil.
func NewRecorder(outbox domain.OutboxRepository, timeline domain.TimelineRepository, m *metrics.ShopMetrics, logger *log.Entry) *Recorder {
	if logger == nil {
		logger = log.WithField("component", "order-events")
	}
	return &Recorder{
		outbox:   outbox,
		timeline: timeline,
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Emit фиксирует событие eventType для заказа orderID.
func (r *Recorder) Emit(ctx context.Context, orderID, eventType string, payload map[string]any) {
	if r == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	occurred := r.now()
	payload["order_id"] = orderID
	payload["ts"] = occurred.Format(time.RFC3339Nano)

	entry := r.logger.WithFields(log.Fields{
		"order_id": orderID,
		"event":    eventType,
	})

	if r.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			entry.WithError(err).Error("marshal event failed")
		} else {
			msg := domain.OutboxMessage{
				ID:            uuid.NewString(),
				AggregateType: AggregateOrder,
				AggregateID:   orderID,
				EventType:     eventType,
				Payload:       data,
			}
			if _, err := r.outbox.Enqueue(ctx, msg); err != nil {
				entry.WithError(err).Error("enqueue event failed")
			} else {
				r.metrics.RecordOutboxEvent()
			}
		}
	}

	if r.timeline != nil {
		var reason string
		if v, ok := payload["reason"].(string); ok {
			reason = v
		}
		event := domain.TimelineEvent{
			OrderID:  orderID,
			Type:     eventType,
			Reason:   reason,
			Occurred: occurred,
		}
		if err := r.timeline.Append(ctx, event); err != nil {
			entry.WithError(err).Warn("append timeline event failed")
		} else {
			r.metrics.RecordTimelineEvent()
		}
	}
}
