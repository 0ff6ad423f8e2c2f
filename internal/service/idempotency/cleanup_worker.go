// Package idempotency чистит просроченные ключи Idempotency-Key чекаута.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	// Остаток дочищается на следующем тике.
	defaultMaxBatchesPerRun = 20
)

// CleanupMetrics - то, что воркер сообщает о прогонах.
type CleanupMetrics interface {
	RecordIdempotencyCleanup(result string, deleted int)
}

type CleanupOption func(*CleanupWorker)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxBatches ограничивает число удалений за один прогон.
func WithMaxBatches(n int) CleanupOption {
	return func(w *CleanupWorker) {
		if n > 0 {
			w.maxBatches = n
		}
	}
}

func WithMetrics(m CleanupMetrics) CleanupOption {
	return func(w *CleanupWorker) {
		w.metrics = m
	}
}

func WithClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// CleanupWorker удаляет ключи, которые больше не защищают от повторного checkout.
// Для Redis не запускается: там ключи истекают по TTL.
type CleanupWorker struct {
	repo       domain.IdempotencyRepository
	logger     *log.Entry
	metrics    CleanupMetrics
	now        func() time.Time
	interval   time.Duration
	batchSize  int
	maxBatches int
}

func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:       repo,
		logger:     log.WithField("component", "idempotency-cleanup-worker"),
		now:        func() time.Time { return time.Now().UTC() },
		interval:   defaultCleanupInterval,
		batchSize:  defaultCleanupBatchSize,
		maxBatches: defaultMaxBatchesPerRun,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run чистит сразу при старте и затем по тикеру до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	cutoff := w.now()
	deleted, err := w.Sweep(ctx, cutoff)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	case err != nil:
		w.record("error", deleted)
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup run failed")
		return
	}

	w.record("ok", deleted)
	if deleted > 0 {
		w.logger.WithFields(log.Fields{
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("expired checkout idempotency keys removed")
	}
}

// Sweep удаляет ключи с ttl <= cutoff порциями и возвращает число удалённых,
// в том числе когда прогон прервался ошибкой.
func (w *CleanupWorker) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	if cutoff.IsZero() {
		cutoff = w.now()
	}

	total := 0
	for batch := 0; batch < w.maxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := w.repo.DeleteExpired(ctx, cutoff, w.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < w.batchSize {
			return total, nil
		}
	}

	w.logger.WithField("deleted", total).Debug("cleanup batch limit reached, continuing on next tick")
	return total, nil
}

func (w *CleanupWorker) record(result string, deleted int) {
	if w.metrics != nil {
		w.metrics.RecordIdempotencyCleanup(result, deleted)
	}
}
