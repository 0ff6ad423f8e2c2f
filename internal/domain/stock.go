package domain

import "time"

// DefaultLowStockThreshold — порог низкого остатка по умолчанию.
const DefaultLowStockThreshold = 5

// MovementReason — причина движения по складу.
type MovementReason string

const (
	MovementOrderReserve MovementReason = "ORDER_RESERVE"
	MovementOrderCapture MovementReason = "ORDER_CAPTURE"
	MovementOrderRelease MovementReason = "ORDER_RELEASE"
	MovementAdminAdjust  MovementReason = "ADMIN_ADJUST"
)

// Valid проверяет, что причина относится к поддерживаемым значениям.
func (r MovementReason) Valid() bool {
	switch r {
	case MovementOrderReserve, MovementOrderCapture, MovementOrderRelease, MovementAdminAdjust:
		return true
	default:
		return false
	}
}

// StockItem — счётчики склада для одного варианта.
// Инвариант: 0 <= Reserved <= OnHand.
type StockItem struct {
	VariantID         string
	OnHand            int
	Reserved          int
	LowStockThreshold int
	UpdatedAt         time.Time
}

// Available — сколько ещё можно зарезервировать.
func (s StockItem) Available() int {
	return s.OnHand - s.Reserved
}

// Consistent проверяет инвариант склада.
func (s StockItem) Consistent() bool {
	return s.Reserved >= 0 && s.Reserved <= s.OnHand
}

// LowStock сообщает, что доступный остаток опустился до порога.
func (s StockItem) LowStock() bool {
	return s.Available() <= s.LowStockThreshold
}

// StockMovement — запись в журнале склада, только добавление.
// Quantity: для резерва/релиза — дельта reserved, для capture/adjust — дельта on_hand.
type StockMovement struct {
	ID        string
	VariantID string
	Quantity  int
	Reason    MovementReason
	OrderID   string
	ActorID   string
	Note      string
	CreatedAt time.Time
}

// InventoryRow — строка админского списка остатков.
type InventoryRow struct {
	VariantID         string
	SKU               string
	Size              string
	Color             string
	Active            bool
	ProductName       string
	OnHand            int
	Reserved          int
	LowStockThreshold int
}

// ReservationLine — одна позиция, которую нужно зарезервировать под заказ.
type ReservationLine struct {
	VariantID string
	Qty       int
}
