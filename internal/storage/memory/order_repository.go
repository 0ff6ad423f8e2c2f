package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderExists
	}
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// Delete удаляет заказ; позиции хранятся внутри заказа и уходят вместе с ним.
func (r *orderRepositoryInMemory) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *orderRepositoryInMemory) SetPaymentURL(_ context.Context, id, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.PaymentURL = url
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	r.items[id] = order
	return nil
}

// MarkPaid выполняет условный переход PENDING_PAYMENT -> PAID.
func (r *orderRepositoryInMemory) MarkPaid(_ context.Context, id, paymentRef string, paidAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return domain.ErrOrderStatusConflict
	}
	order.Status = domain.OrderStatusPaid
	order.PaymentRef = paymentRef
	order.Version++
	order.UpdatedAt = paidAt
	r.items[id] = order
	return nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
