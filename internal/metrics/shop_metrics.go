package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Шаги чекаута для гистограммы длительности.
const (
	StepQuote          = "quote"
	StepCreateOrder    = "create_order"
	StepReserve        = "reserve"
	StepPaymentSession = "payment_session"
	StepCapture        = "capture"
)

// ShopMetrics содержит метрики чекаута, склада и вебхуков оплаты.
type ShopMetrics struct {
	// Исходы чекаута: created, rejected, failed
	checkouts *prometheus.CounterVec

	// Гистограммы времени выполнения
	checkoutDuration prometheus.Histogram
	stepDuration     *prometheus.HistogramVec

	// Склад
	stockMovements   *prometheus.CounterVec
	reserveConflicts *prometheus.CounterVec
	compensations    prometheus.Counter

	// Вебхуки провайдера
	notifications *prometheus.CounterVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	activeCheckouts prometheus.Gauge

	// Публикация outbox
	outboxPublishes *prometheus.CounterVec
	outboxPending   prometheus.Gauge
	outboxOldestAge prometheus.Gauge

	// Очистка ключей Idempotency-Key
	idempotencyCleanups *prometheus.CounterVec
	idempotencyExpired  prometheus.Counter
}

// NewShopMetrics регистрирует метрики в DefaultRegisterer.
func NewShopMetrics() *ShopMetrics {
	return NewShopMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewShopMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewShopMetricsWithRegisterer(registerer prometheus.Registerer) *ShopMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ShopMetrics{
		checkouts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_checkouts_total",
			Help: "Total number of checkout attempts grouped by result",
		}, []string{"result"}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_seconds",
			Help:    "Duration of checkout requests in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_checkout_step_duration_seconds",
			Help:    "Duration of individual checkout steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"step"}),
		stockMovements: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_stock_movements_total",
			Help: "Total number of committed stock movements grouped by reason",
		}, []string{"reason"}),
		reserveConflicts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_stock_reserve_rejections_total",
			Help: "Total number of rejected reservations grouped by cause",
		}, []string{"cause"}),
		compensations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_checkout_compensations_total",
			Help: "Total number of orders rolled back after a failed checkout step",
		}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_payment_notifications_total",
			Help: "Total number of payment notifications grouped by result",
		}, []string{"result"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		activeCheckouts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_active_checkouts",
			Help: "Number of checkouts currently in progress",
		}),
		outboxPublishes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result",
		}, []string{"result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
		idempotencyCleanups: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency key cleanup runs grouped by result",
		}, []string{"result"}),
		idempotencyExpired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_idempotency_keys_expired_total",
			Help: "Total number of expired checkout idempotency keys removed",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	return register(registerer, opts.Name, prometheus.NewCounter(opts))
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(registerer, opts.Name, prometheus.NewCounterVec(opts, labels))
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	return register(registerer, opts.Name, prometheus.NewGauge(opts))
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	return register(registerer, opts.Name, prometheus.NewHistogram(opts))
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return register(registerer, opts.Name, prometheus.NewHistogramVec(opts, labels))
}

// register регистрирует коллектор; при повторной регистрации возвращает уже существующий.
func register[T prometheus.Collector](registerer prometheus.Registerer, name string, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	return collector
}

// RecordCheckoutStarted увеличивает количество активных чекаутов.
func (m *ShopMetrics) RecordCheckoutStarted() {
	if m == nil {
		return
	}
	m.activeCheckouts.Inc()
}

// RecordCheckoutFinished фиксирует исход и длительность чекаута.
func (m *ShopMetrics) RecordCheckoutFinished(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.activeCheckouts.Dec()
	m.checkouts.WithLabelValues(result).Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага чекаута.
func (m *ShopMetrics) RecordStepDuration(step string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordStockMovement считает закоммиченные движения склада.
func (m *ShopMetrics) RecordStockMovement(reason string) {
	if m == nil {
		return
	}
	m.stockMovements.WithLabelValues(reason).Inc()
}

// RecordReserveRejected считает отказы резерва: insufficient_stock или concurrent_modification.
func (m *ShopMetrics) RecordReserveRejected(cause string) {
	if m == nil {
		return
	}
	m.reserveConflicts.WithLabelValues(cause).Inc()
}

// RecordCompensation считает откаты заказа.
func (m *ShopMetrics) RecordCompensation() {
	if m == nil {
		return
	}
	m.compensations.Inc()
}

// RecordNotification считает уведомления провайдера по исходу.
func (m *ShopMetrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *ShopMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *ShopMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordOutboxPublish считает попытки публикации: sent, retry_error, failed, dlq, dlq_failed, held.
func (m *ShopMetrics) RecordOutboxPublish(result string) {
	if m == nil {
		return
	}
	m.outboxPublishes.WithLabelValues(result).Inc()
}

// SetOutboxBacklog обновляет размер и возраст хвоста outbox.
func (m *ShopMetrics) SetOutboxBacklog(pending int, oldest time.Duration) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(pending))
	m.outboxOldestAge.Set(max(oldest.Seconds(), 0))
}

// RecordIdempotencyCleanup фиксирует прогон очистки и число удалённых ключей.
func (m *ShopMetrics) RecordIdempotencyCleanup(result string, deleted int) {
	if m == nil {
		return
	}
	m.idempotencyCleanups.WithLabelValues(result).Inc()
	if deleted > 0 {
		m.idempotencyExpired.Add(float64(deleted))
	}
}
