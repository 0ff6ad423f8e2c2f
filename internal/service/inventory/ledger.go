package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	minAdjustReasonLength = 3
	// compensationTimeout ограничивает снятие частичного резерва, которое идёт уже без контекста запроса.
	compensationTimeout = 5 * time.Second
)

// Ledger — единственная точка изменения счётчиков склада.
// Все записи идут через условные операции репозитория; ретраев внутри нет.
type Ledger struct {
	repo    domain.StockRepository
	logger  *log.Entry
	metrics *metrics.ShopMetrics
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics подключает метрики склада.
func WithMetrics(m *metrics.ShopMetrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// NewLedger создаёт склад поверх репозитория.
func NewLedger(repo domain.StockRepository, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		logger: log.WithField("component", "stock-ledger"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Reserve резервирует qty единиц варианта под заказ.
// Запись проходит, только если on_hand и reserved не изменились с момента чтения.
func (l *Ledger) Reserve(ctx context.Context, variantID string, qty int, orderID string) error {
	if qty < 1 {
		return domain.NewValidationError("quantity", "must be at least 1")
	}

	current, err := l.repo.Get(ctx, variantID)
	if err != nil {
		if errors.Is(err, domain.ErrStockItemNotFound) {
			return &domain.ItemUnavailableError{VariantID: variantID}
		}
		return fmt.Errorf("read stock %s: %w", variantID, err)
	}

	if available := current.Available(); available < qty {
		l.metrics.RecordReserveRejected("insufficient_stock")
		return &domain.InsufficientStockError{VariantID: variantID, Requested: qty, Available: available}
	}

	_, err = l.repo.CompareAndSetReserved(ctx, current, current.Reserved+qty, domain.StockMovement{
		VariantID: variantID,
		Quantity:  qty,
		Reason:    domain.MovementOrderReserve,
		OrderID:   orderID,
	})
	switch {
	case errors.Is(err, domain.ErrConcurrentModification):
		l.metrics.RecordReserveRejected("concurrent_modification")
		l.logger.WithFields(log.Fields{
			"variant_id": variantID,
			"order_id":   orderID,
		}).Debug("stock reservation lost the race")
		return err
	case errors.Is(err, domain.ErrStockItemNotFound):
		return &domain.ItemUnavailableError{VariantID: variantID}
	case err != nil:
		return fmt.Errorf("reserve stock %s: %w", variantID, err)
	}

	l.metrics.RecordStockMovement(string(domain.MovementOrderReserve))
	return nil
}

// ReserveAll резервирует позиции по порядку. При первой ошибке снимает уже
// сделанные резервы этого заказа и возвращает исходную ошибку.
func (l *Ledger) ReserveAll(ctx context.Context, orderID string, lines []domain.ReservationLine) error {
	reserved := make([]domain.ReservationLine, 0, len(lines))
	for _, line := range lines {
		if err := l.Reserve(ctx, line.VariantID, line.Qty, orderID); err != nil {
			l.releaseLines(ctx, orderID, reserved)
			return err
		}
		reserved = append(reserved, line)
	}
	return nil
}

// ReleaseAll снимает резервы заказа по всем позициям и возвращает первую ошибку.
func (l *Ledger) ReleaseAll(ctx context.Context, orderID string, lines []domain.ReservationLine) error {
	var firstErr error
	for _, line := range lines {
		if err := l.Release(ctx, line.VariantID, line.Qty, orderID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// releaseLines отрабатывает и после отмены запроса: иначе резерв повиснет на удалённом заказе.
func (l *Ledger) releaseLines(ctx context.Context, orderID string, lines []domain.ReservationLine) {
	if len(lines) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := l.ReleaseAll(ctx, orderID, lines); err != nil {
		l.logger.WithError(err).WithField("order_id", orderID).Error("failed to release partial reservation")
	}
}

// Capture списывает зарезервированный товар после оплаты.
// Повторный capture по той же паре (заказ, вариант) ничего не делает.
func (l *Ledger) Capture(ctx context.Context, variantID string, qty int, orderID string) error {
	if err := validateOrderMovement(qty, orderID); err != nil {
		return err
	}

	applied, err := l.repo.ApplyCapture(ctx, variantID, qty, domain.StockMovement{
		VariantID: variantID,
		Quantity:  -qty,
		Reason:    domain.MovementOrderCapture,
		OrderID:   orderID,
	})
	if err != nil {
		return fmt.Errorf("capture stock %s: %w", variantID, err)
	}
	if applied {
		l.metrics.RecordStockMovement(string(domain.MovementOrderCapture))
	}
	return nil
}

// Release снимает резерв заказа. Идемпотентен по паре (заказ, вариант).
func (l *Ledger) Release(ctx context.Context, variantID string, qty int, orderID string) error {
	if err := validateOrderMovement(qty, orderID); err != nil {
		return err
	}

	applied, err := l.repo.ApplyRelease(ctx, variantID, qty, domain.StockMovement{
		VariantID: variantID,
		Quantity:  -qty,
		Reason:    domain.MovementOrderRelease,
		OrderID:   orderID,
	})
	if err != nil {
		return fmt.Errorf("release stock %s: %w", variantID, err)
	}
	if applied {
		l.metrics.RecordStockMovement(string(domain.MovementOrderRelease))
	}
	return nil
}

func validateOrderMovement(qty int, orderID string) error {
	if qty < 1 {
		return domain.NewValidationError("quantity", "must be at least 1")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.NewValidationError("orderId", "is required")
	}
	return nil
}

// AdjustOnHand — ручная корректировка остатка администратором.
// on_hand не опускается ниже reserved.
func (l *Ledger) AdjustOnHand(ctx context.Context, variantID string, delta int, reason, actorID string) (domain.StockItem, error) {
	reason = strings.TrimSpace(reason)
	if len([]rune(reason)) < minAdjustReasonLength {
		return domain.StockItem{}, domain.NewValidationError("reason", "must be at least 3 characters")
	}
	if strings.TrimSpace(variantID) == "" {
		return domain.StockItem{}, domain.NewValidationError("variantId", "is required")
	}
	if delta == 0 {
		return domain.StockItem{}, domain.NewValidationError("delta", "must not be zero")
	}

	item, err := l.repo.ApplyAdjust(ctx, variantID, delta, domain.StockMovement{
		VariantID: variantID,
		Quantity:  delta,
		Reason:    domain.MovementAdminAdjust,
		ActorID:   actorID,
		Note:      reason,
	})
	if err != nil {
		if errors.Is(err, domain.ErrStockItemNotFound) {
			return domain.StockItem{}, err
		}
		return domain.StockItem{}, fmt.Errorf("adjust stock %s: %w", variantID, err)
	}

	l.metrics.RecordStockMovement(string(domain.MovementAdminAdjust))
	entry := l.logger.WithFields(log.Fields{
		"variant_id": variantID,
		"delta":      delta,
		"on_hand":    item.OnHand,
		"actor_id":   actorID,
	})
	if item.LowStock() {
		entry.Warn("stock adjusted, variant is low on stock")
	} else {
		entry.Info("stock adjusted")
	}
	return item, nil
}

// List возвращает остатки для админки.
func (l *Ledger) List(ctx context.Context) ([]domain.InventoryRow, error) {
	rows, err := l.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	return rows, nil
}

// Get возвращает счётчики варианта.
func (l *Ledger) Get(ctx context.Context, variantID string) (domain.StockItem, error) {
	return l.repo.Get(ctx, variantID)
}
