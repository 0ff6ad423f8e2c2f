package domain

import (
	"context"
	"time"
)

// RoleAdmin — роль, требуемая для ручных корректировок склада.
const RoleAdmin = "ADMIN"

// CatalogReader отдаёт прайс вариантов и витрину каталога.
type CatalogReader interface {
	// GetVariants возвращает найденные варианты по id; отсутствующие id в карте не присутствуют.
	GetVariants(ctx context.Context, ids []string) (map[string]VariantPrice, error)
	// ListActiveProducts возвращает активные товары с активными вариантами.
	ListActiveProducts(ctx context.Context) ([]Product, error)
}

// DiscountResolver ищет правило скидки по коду. ok=false — кода нет или он выключен.
type DiscountResolver interface {
	ResolveDiscount(ctx context.Context, code string) (d Discount, ok bool, err error)
}

// PaymentGateway описывает взаимодействие с платёжным провайдером.
type PaymentGateway interface {
	// CreateSession регистрирует платёж и возвращает URL для редиректа покупателя.
	CreateSession(ctx context.Context, req SessionRequest) (string, error)
	// VerifyNotification проверяет подлинность уведомления.
	// ErrInvalidNotification — подпись/формат неверны, ErrGatewayUnavailable — провайдер недоступен.
	VerifyNotification(ctx context.Context, raw []byte) (Notification, error)
}

// AdminAuthenticator проверяет учётные данные и роль. Возвращает id актора.
type AdminAuthenticator interface {
	RequireRole(ctx context.Context, credentials, role string) (string, error)
}

// StockRepository — хранилище счётчиков склада и журнала движений.
// Каждый метод записи выполняется одной атомарной единицей вместе с движением.
type StockRepository interface {
	Get(ctx context.Context, variantID string) (StockItem, error)
	List(ctx context.Context) ([]InventoryRow, error)
	// CompareAndSetReserved записывает reserved, только если on_hand и reserved
	// в хранилище совпадают с expected. Иначе ErrConcurrentModification.
	CompareAndSetReserved(ctx context.Context, expected StockItem, reserved int, mv StockMovement) (StockItem, error)
	// ApplyCapture списывает qty из on_hand и reserved с отсечкой по нулю.
	// applied=false, если строки нет или capture по (order, variant) уже был.
	ApplyCapture(ctx context.Context, variantID string, qty int, mv StockMovement) (applied bool, err error)
	// ApplyRelease уменьшает reserved с отсечкой по нулю; идемпотентен по (order, variant).
	ApplyRelease(ctx context.Context, variantID string, qty int, mv StockMovement) (applied bool, err error)
	// ApplyAdjust меняет on_hand на delta с нижней границей reserved и возвращает новую строку.
	ApplyAdjust(ctx context.Context, variantID string, delta int, mv StockMovement) (StockItem, error)
	Movements(ctx context.Context, variantID string) ([]StockMovement, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями одной транзакцией.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// Delete удаляет заказ и его позиции (компенсация при неудачном резерве).
	Delete(ctx context.Context, id string) error
	// SetPaymentURL сохраняет ссылку на оплату.
	SetPaymentURL(ctx context.Context, id, url string) error
	// MarkPaid переводит PENDING_PAYMENT -> PAID. Если заказ уже не в PENDING_PAYMENT — ErrOrderStatusConflict.
	MarkPaid(ctx context.Context, id, paymentRef string, paidAt time.Time) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Delete освобождает ключ для повторной попытки; отсутствующий ключ не ошибка.
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
