package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — входные данные не прошли проверку (HTTP 400).
	ErrValidation = errors.New("validation failed")
	// ErrItemUnavailable — вариант не существует или снят с продажи.
	ErrItemUnavailable = errors.New("item unavailable")
	// ErrInsufficientStock — доступного остатка не хватает на запрошенное количество.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConcurrentModification — условная запись не прошла: строку склада изменили между чтением и записью.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists — заказ с таким ID уже сохранён.
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderStatusConflict — переход статуса невозможен из текущего состояния.
	ErrOrderStatusConflict = errors.New("order status conflict")
	// ErrStockItemNotFound — для варианта нет строки склада.
	ErrStockItemNotFound = errors.New("stock item not found")
	// ErrUnauthorized — запрос без валидных учётных данных.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden — у актора нет нужной роли.
	ErrForbidden = errors.New("forbidden")
	// ErrGatewayUnavailable — платёжный шлюз недоступен или не ответил вовремя.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrInvalidNotification — уведомление провайдера не прошло проверку подписи или формата.
	ErrInvalidNotification = errors.New("invalid payment notification")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different payload")
	// ErrIdempotencyKeyNotFound — записи по ключу нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// ValidationError указывает поле, не прошедшее проверку.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError создаёт ошибку валидации для поля.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ItemUnavailableError несёт идентификатор недоступного варианта.
type ItemUnavailableError struct {
	VariantID string
}

func (e *ItemUnavailableError) Error() string {
	return fmt.Sprintf("item unavailable: variant %s", e.VariantID)
}

func (e *ItemUnavailableError) Unwrap() error { return ErrItemUnavailable }

// InsufficientStockError несёт запрошенное и доступное количество.
type InsufficientStockError struct {
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s: requested %d, available %d",
		e.VariantID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// IsRetryableConflict сообщает, что операцию имеет смысл повторить с клиента ("try again").
func IsRetryableConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrInsufficientStock)
}
