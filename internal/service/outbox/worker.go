// Package outbox доставляет события заказов из транзакционного outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// Итоги публикации для метрик.
const (
	resultSent       = "sent"
	resultRetryError = "retry_error"
	resultFailed     = "failed"
	resultDLQ        = "dlq"
	resultDLQFailed  = "dlq_failed"
	resultHeld       = "held"
)

// Metrics - наблюдаемость воркера; реализуется metrics.ShopMetrics.
type Metrics interface {
	RecordOutboxPublish(result string)
	SetOutboxBacklog(pending int, oldest time.Duration)
}

// deadLetter - тело DLQ-сообщения; cmd/dlq-reprocess восстанавливает по нему исходное событие.
type deadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт publisher для событий, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) {
		w.dlqPublisher = publisher
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithBatchSize(batchSize int) Option {
	return func(w *Worker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации одного события за цикл.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) {
		if maxAttempts > 0 {
			w.maxAttempts = maxAttempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу между попытками, дальше она удваивается.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) {
		w.retryBaseDelay = max(delay, 0)
	}
}

func WithMetrics(m Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// Worker публикует события заказов из outbox.
//
// Внутри цикла события одного заказа уходят в порядке записи: если событие заказа
// не опубликовано, его последующие события ждут следующего цикла.
// Событие, не ушедшее за maxAttempts, уходит в DLQ и помечается failed.
// Если недоступен и DLQ, строка остаётся pending и вернётся после истечения аренды.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlqPublisher   domain.OutboxPublisher
	metrics        Metrics
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	now            func() time.Time
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		logger:         log.WithField("component", "outbox-worker"),
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce выполняет один цикл и возвращает число опубликованных событий.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	w.reportBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}
	if len(batch) == 0 {
		return 0
	}

	held := make(map[string]struct{})
	sent := 0
	for _, event := range batch {
		if ctx.Err() != nil {
			break
		}
		entry := w.logger.WithFields(log.Fields{
			"outbox_id":  event.ID,
			"order_id":   event.AggregateID,
			"event_type": event.EventType,
		})

		if _, blocked := held[event.AggregateID]; blocked {
			w.record(resultHeld)
			entry.Debug("outbox event held behind an unpublished event of the same order")
			continue
		}

		if err := w.publishWithRetry(ctx, event); err != nil {
			if ctx.Err() != nil {
				break
			}
			held[event.AggregateID] = struct{}{}
			w.record(resultFailed)
			entry.WithError(err).Error("outbox publish failed after retries")
			w.deadLetter(ctx, entry, event, err)
			continue
		}

		sent++
		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			entry.WithError(err).Warn("failed to mark outbox as sent")
		}
	}

	w.reportBacklog(ctx)
	return sent
}

func (w *Worker) deadLetter(ctx context.Context, entry *log.Entry, event domain.OutboxMessage, publishErr error) {
	if w.dlqPublisher != nil {
		if err := w.publishToDLQ(ctx, event, publishErr); err != nil {
			w.record(resultDLQFailed)
			entry.WithError(err).Warn("failed to publish to DLQ, message stays pending")
			return
		}
		w.record(resultDLQ)
	}
	if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
		entry.WithError(err).Warn("failed to mark outbox as failed")
	}
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, w.retryBackoff(attempt-1)); err != nil {
				return err
			}
		}

		lastErr = w.publisher.Publish(ctx, event)
		if lastErr == nil {
			w.record(resultSent)
			return nil
		}
		w.record(resultRetryError)
	}
	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryBackoff удваивает базовую задержку с каждой попыткой, без переполнения.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	const ceiling = time.Duration(1<<63 - 1)
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	return delay
}

func (w *Worker) reportBacklog(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	var oldest time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		oldest = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, oldest)
}

func (w *Worker) record(result string) {
	if w.metrics != nil {
		w.metrics.RecordOutboxPublish(result)
	}
}

func (w *Worker) publishToDLQ(ctx context.Context, event domain.OutboxMessage, publishErr error) error {
	original := json.RawMessage(event.Payload)
	if len(original) == 0 {
		original = json.RawMessage(`null`)
	}
	payload, err := json.Marshal(deadLetter{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       original,
		PublishError:  publishErr.Error(),
		FailedAt:      w.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dlq := event
	dlq.Payload = payload
	if err := w.dlqPublisher.Publish(ctx, dlq); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
