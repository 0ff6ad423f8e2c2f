package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
)

// Исходы чекаута для метрик.
const (
	resultCreated  = "created"
	resultRejected = "rejected"
	resultFailed   = "failed"
)

// Quoter считает котировку корзины на сервере.
type Quoter interface {
	Quote(ctx context.Context, items []domain.QuoteItem, discountCode string) (domain.Quote, error)
}

// Reserver резервирует и снимает резерв по всем позициям заказа.
type Reserver interface {
	ReserveAll(ctx context.Context, orderID string, lines []domain.ReservationLine) error
	ReleaseAll(ctx context.Context, orderID string, lines []domain.ReservationLine) error
}

// Request — данные формы оформления заказа.
type Request struct {
	Customer       domain.Customer
	ShippingMethod string
	Address        domain.Address
	PickupPoint    *domain.PickupPoint
	Items          []domain.QuoteItem
	DiscountCode   string
}

// Result — ответ чекаута.
type Result struct {
	OrderID    string `json:"orderId"`
	PaymentURL string `json:"paymentUrl"`
}

// Orchestrator создаёт заказ, резервирует склад и открывает платёжную сессию.
// Любой сбой после создания заказа откатывается: резервы снимаются, заказ удаляется.
type Orchestrator struct {
	pricing   Quoter
	stock     Reserver
	orders    domain.OrderRepository
	gateway   domain.PaymentGateway
	recorder  *events.Recorder
	appOrigin string
	logger    *log.Entry
	metrics   *metrics.ShopMetrics
	now       func() time.Time
	newID     func() string
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics подключает метрики чекаута.
func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithRecorder задаёт запись событий timeline/outbox.
func WithRecorder(r *events.Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithAppOrigin задаёт публичный адрес магазина для return/status URL.
func WithAppOrigin(origin string) Option {
	return func(o *Orchestrator) {
		o.appOrigin = strings.TrimRight(strings.TrimSpace(origin), "/")
	}
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// NewOrchestrator создаёт оркестратор чекаута.
// gateway должен сам ограничивать время вызова (см. payment.GuardedGateway).
func NewOrchestrator(
	pricing Quoter,
	stock Reserver,
	orders domain.OrderRepository,
	gateway domain.PaymentGateway,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		pricing:   pricing,
		stock:     stock,
		orders:    orders,
		gateway:   gateway,
		appOrigin: "http://localhost:3000",
		logger:    log.WithField("component", "checkout"),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// CreateOrder сохраняет заказ по котировке и резервирует все позиции.
// Если резерв не удался, заказ удаляется и возвращается исходная ошибка резерва.
func (o *Orchestrator) CreateOrder(ctx context.Context, quote domain.Quote, customer domain.Customer, shipping domain.Shipping) (domain.Order, error) {
	if len(quote.Lines) == 0 {
		return domain.Order{}, domain.NewValidationError("items", "must contain at least one item")
	}
	if shipping == nil {
		return domain.Order{}, domain.NewValidationError("shippingMethod", "is required")
	}

	order := o.buildOrder(quote, customer, shipping)

	start := time.Now()
	if err := o.orders.Create(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}
	o.metrics.RecordStepDuration(metrics.StepCreateOrder, time.Since(start))

	start = time.Now()
	if err := o.stock.ReserveAll(ctx, order.ID, order.ReservationLines()); err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Info("reservation failed, rolling back order")
		o.deleteOrder(ctx, order.ID)
		return domain.Order{}, err
	}
	o.metrics.RecordStepDuration(metrics.StepReserve, time.Since(start))

	o.recorder.Emit(ctx, order.ID, domain.TimelineOrderCreated, map[string]any{
		"total":    order.TotalMinor,
		"currency": order.Currency,
		"items":    len(order.Items),
		"shipping": string(shipping.Method()),
	})

	o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"total":    order.TotalMinor,
	}).Info("order created")
	return order, nil
}

// Checkout проверяет форму, пересчитывает корзину, создаёт заказ и платёжную сессию.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (res Result, err error) {
	started := time.Now()
	o.metrics.RecordCheckoutStarted()
	defer func() {
		o.metrics.RecordCheckoutFinished(checkoutResult(err), time.Since(started))
	}()

	if err := req.Customer.Validate(); err != nil {
		return Result{}, err
	}
	shipping, err := domain.ParseShipping(req.ShippingMethod, req.Address, req.PickupPoint)
	if err != nil {
		return Result{}, err
	}

	quoteStart := time.Now()
	quote, err := o.pricing.Quote(ctx, req.Items, req.DiscountCode)
	if err != nil {
		return Result{}, err
	}
	o.metrics.RecordStepDuration(metrics.StepQuote, time.Since(quoteStart))

	order, err := o.CreateOrder(ctx, quote, req.Customer, shipping)
	if err != nil {
		return Result{}, err
	}

	sessionStart := time.Now()
	paymentURL, err := o.gateway.CreateSession(ctx, o.sessionRequest(order))
	if err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Warn("payment session failed, rolling back order")
		o.rollback(ctx, order)
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("create payment session: %w", errors.Join(domain.ErrGatewayUnavailable, err))
	}
	o.metrics.RecordStepDuration(metrics.StepPaymentSession, time.Since(sessionStart))

	if err := o.orders.SetPaymentURL(ctx, order.ID, paymentURL); err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("store payment url failed, rolling back order")
		o.rollback(ctx, order)
		return Result{}, fmt.Errorf("store payment url: %w", err)
	}

	o.recorder.Emit(ctx, order.ID, domain.TimelinePaymentSession, map[string]any{
		"provider": order.Provider,
	})

	return Result{OrderID: order.ID, PaymentURL: paymentURL}, nil
}

func (o *Orchestrator) buildOrder(quote domain.Quote, customer domain.Customer, shipping domain.Shipping) domain.Order {
	now := o.now()
	orderID := o.newID()

	items := make([]domain.OrderItem, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		items = append(items, domain.OrderItem{
			ID:             o.newID(),
			OrderID:        orderID,
			VariantID:      line.VariantID,
			Name:           line.Name,
			SKU:            line.SKU,
			Qty:            line.Qty,
			UnitPriceMinor: line.UnitPriceMinor,
			LineTotalMinor: line.LineTotalMinor,
		})
	}

	currency := quote.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	return domain.Order{
		ID: orderID,
		Customer: domain.Customer{
			Email:    strings.TrimSpace(customer.Email),
			FullName: strings.TrimSpace(customer.FullName),
			Phone:    strings.TrimSpace(customer.Phone),
		},
		Shipping:      shipping,
		Status:        domain.OrderStatusPendingPayment,
		SubtotalMinor: quote.SubtotalMinor,
		DiscountMinor: quote.DiscountMinor,
		ShippingMinor: quote.ShippingMinor,
		TaxMinor:      quote.TaxMinor,
		TotalMinor:    quote.TotalMinor,
		Currency:      currency,
		DiscountCode:  quote.DiscountCode,
		Provider:      domain.PaymentProviderP24,
		Items:         items,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (o *Orchestrator) sessionRequest(order domain.Order) domain.SessionRequest {
	return domain.SessionRequest{
		SessionID:   order.ID,
		AmountMinor: order.TotalMinor,
		Currency:    order.Currency,
		Email:       order.Customer.Email,
		Description: "Order " + order.ID,
		ReturnURL:   o.appOrigin + "/success?order=" + order.ID,
		StatusURL:   o.appOrigin + "/api/p24/notify",
	}
}

// rollback снимает резервы и удаляет заказ.
func (o *Orchestrator) rollback(ctx context.Context, order domain.Order) {
	// Компенсация должна отработать даже при отменённом запросе.
	ctx = context.WithoutCancel(ctx)
	if err := o.stock.ReleaseAll(ctx, order.ID, order.ReservationLines()); err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("release reservations failed")
	}
	o.deleteOrder(ctx, order.ID)
}

func (o *Orchestrator) deleteOrder(ctx context.Context, orderID string) {
	o.metrics.RecordCompensation()
	if err := o.orders.Delete(context.WithoutCancel(ctx), orderID); err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
		o.logger.WithError(err).WithField("order_id", orderID).Error("delete order failed")
	}
}

func checkoutResult(err error) string {
	switch {
	case err == nil:
		return resultCreated
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrItemUnavailable),
		domain.IsRetryableConflict(err):
		return resultRejected
	default:
		return resultFailed
	}
}
