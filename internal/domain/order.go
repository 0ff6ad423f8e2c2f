package domain

import (
	"net/mail"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPendingPayment — заказ создан, товары зарезервированы, ждём оплату.
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	// OrderStatusPaid — провайдер подтвердил оплату, склад списан.
	OrderStatusPaid OrderStatus = "PAID"
)

// PaymentProviderP24 — код провайдера Przelewy24.
const PaymentProviderP24 = "P24"

// Customer — контактные данные покупателя.
type Customer struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
}

// Validate проверяет контактные данные.
func (c Customer) Validate() error {
	email := strings.TrimSpace(c.Email)
	if email == "" {
		return NewValidationError("email", "is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return NewValidationError("email", "is not a valid address")
	}
	if len([]rune(strings.TrimSpace(c.FullName))) < 2 {
		return NewValidationError("fullName", "must be at least 2 characters")
	}
	if len(strings.TrimSpace(c.Phone)) < 9 {
		return NewValidationError("phone", "must be at least 9 characters")
	}
	return nil
}

// OrderItem — снимок позиции на момент заказа.
type OrderItem struct {
	ID             string
	OrderID        string
	VariantID      string
	Name           string
	SKU            string
	Qty            int
	UnitPriceMinor int64
	LineTotalMinor int64
}

// Order агрегирует заказ, снимок цен и позиции.
type Order struct {
	ID            string
	Customer      Customer
	Shipping      Shipping
	Status        OrderStatus
	SubtotalMinor int64
	DiscountMinor int64
	ShippingMinor int64
	TaxMinor      int64
	TotalMinor    int64
	Currency      string
	DiscountCode  string
	Provider      string
	PaymentRef    string
	PaymentURL    string
	Items         []OrderItem
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ReservationLines возвращает позиции заказа для операций склада.
func (o Order) ReservationLines() []ReservationLine {
	lines := make([]ReservationLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, ReservationLine{VariantID: item.VariantID, Qty: item.Qty})
	}
	return lines
}

// IsPaid сообщает, что заказ уже оплачен.
func (o Order) IsPaid() bool {
	return o.Status == OrderStatusPaid
}
