package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
)

// Исходы обработки уведомления для метрик.
const (
	resultPaid        = "paid"
	resultAlreadyPaid = "already_paid"
	resultInvalid     = "invalid"
	resultNotFound    = "not_found"
	resultMismatch    = "amount_mismatch"
	resultUnavailable = "gateway_unavailable"
	resultFailed      = "failed"
)

// StockCapturer списывает зарезервированный товар.
type StockCapturer interface {
	Capture(ctx context.Context, variantID string, qty int, orderID string) error
}

// WebhookHandler обрабатывает уведомления провайдера об оплате.
// Переход PENDING_PAYMENT -> PAID и списание склада идемпотентны:
// провайдер может доставить одно уведомление несколько раз.
type WebhookHandler struct {
	gateway  domain.PaymentGateway
	orders   domain.OrderRepository
	stock    StockCapturer
	recorder *events.Recorder
	logger   *log.Entry
	metrics  *metrics.ShopMetrics
	now      func() time.Time
}

// WebhookOption настраивает WebhookHandler.
type WebhookOption func(*WebhookHandler)

// WithWebhookLogger задаёт логгер.
func WithWebhookLogger(logger *log.Entry) WebhookOption {
	return func(h *WebhookHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithWebhookMetrics подключает метрики.
func WithWebhookMetrics(m *metrics.ShopMetrics) WebhookOption {
	return func(h *WebhookHandler) {
		h.metrics = m
	}
}

// WithWebhookClock подменяет часы (тесты).
func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(h *WebhookHandler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewWebhookHandler создаёт обработчик уведомлений.
func NewWebhookHandler(
	gateway domain.PaymentGateway,
	orders domain.OrderRepository,
	stock StockCapturer,
	recorder *events.Recorder,
	opts ...WebhookOption,
) *WebhookHandler {
	h := &WebhookHandler{
		gateway:  gateway,
		orders:   orders,
		stock:    stock,
		recorder: recorder,
		logger:   log.WithField("component", "payment-webhook"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// HandleNotification проверяет уведомление и переводит заказ в PAID.
func (h *WebhookHandler) HandleNotification(ctx context.Context, raw []byte) (domain.Ack, error) {
	n, err := h.gateway.VerifyNotification(ctx, raw)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidNotification) {
			h.metrics.RecordNotification(resultInvalid)
			h.logger.WithError(err).Warn("payment notification rejected")
			return domain.Ack{}, err
		}
		h.metrics.RecordNotification(resultUnavailable)
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			err = errors.Join(domain.ErrGatewayUnavailable, err)
		}
		return domain.Ack{}, fmt.Errorf("verify notification: %w", err)
	}

	logger := h.logger.WithFields(log.Fields{
		"order_id":     n.SessionID,
		"provider_ref": n.ProviderRef,
	})

	order, err := h.orders.Get(ctx, n.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.metrics.RecordNotification(resultNotFound)
			logger.Warn("payment notification for unknown order")
			return domain.Ack{}, err
		}
		h.metrics.RecordNotification(resultFailed)
		return domain.Ack{}, fmt.Errorf("load order %s: %w", n.SessionID, err)
	}

	if order.IsPaid() {
		h.metrics.RecordNotification(resultAlreadyPaid)
		logger.Debug("order already paid, notification acknowledged")
		return domain.Ack{OrderID: order.ID, AlreadyPaid: true}, nil
	}

	if n.AmountMinor != order.TotalMinor {
		h.metrics.RecordNotification(resultMismatch)
		logger.WithFields(log.Fields{
			"expected": order.TotalMinor,
			"received": n.AmountMinor,
		}).Warn("payment amount mismatch")
		return domain.Ack{}, domain.NewValidationError("amount",
			fmt.Sprintf("expected %d, got %d", order.TotalMinor, n.AmountMinor))
	}
	if n.Currency != "" && order.Currency != "" && n.Currency != order.Currency {
		h.metrics.RecordNotification(resultMismatch)
		return domain.Ack{}, domain.NewValidationError("currency",
			fmt.Sprintf("expected %s, got %s", order.Currency, n.Currency))
	}

	// Сначала склад, потом статус: при падении между шагами повторная доставка
	// увидит PENDING_PAYMENT и докончит работу, capture идемпотентен.
	captureStart := time.Now()
	for _, line := range order.ReservationLines() {
		if err := h.stock.Capture(ctx, line.VariantID, line.Qty, order.ID); err != nil {
			h.metrics.RecordNotification(resultFailed)
			logger.WithError(err).WithField("variant_id", line.VariantID).Error("stock capture failed")
			return domain.Ack{}, fmt.Errorf("capture %s: %w", line.VariantID, err)
		}
	}
	h.metrics.RecordStepDuration(metrics.StepCapture, time.Since(captureStart))

	if err := h.orders.MarkPaid(ctx, order.ID, n.ProviderRef, h.now()); err != nil {
		if errors.Is(err, domain.ErrOrderStatusConflict) {
			// Параллельная доставка успела раньше.
			h.metrics.RecordNotification(resultAlreadyPaid)
			return domain.Ack{OrderID: order.ID, AlreadyPaid: true}, nil
		}
		h.metrics.RecordNotification(resultFailed)
		return domain.Ack{}, fmt.Errorf("mark order %s paid: %w", order.ID, err)
	}

	h.recorder.Emit(ctx, order.ID, domain.TimelineOrderPaid, map[string]any{
		"provider":     order.Provider,
		"provider_ref": n.ProviderRef,
		"amount":       order.TotalMinor,
		"currency":     order.Currency,
	})
	h.metrics.RecordNotification(resultPaid)
	logger.WithField("amount", order.TotalMinor).Info("order paid")

	return domain.Ack{OrderID: order.ID, CapturedLines: len(order.Items)}, nil
}
