package domain

import "time"

// Типы событий жизненного цикла заказа.
const (
	TimelineOrderCreated   = "OrderCreated"
	TimelineOrderPaid      = "OrderPaid"
	TimelinePaymentSession = "PaymentSessionCreated"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string    `json:"-"`
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}
