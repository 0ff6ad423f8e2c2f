package domain

// DefaultCurrency — единственная валюта магазина.
const DefaultCurrency = "PLN"

// QuoteItem — позиция корзины, присланная клиентом.
type QuoteItem struct {
	VariantID string `json:"variantId"`
	Qty       int    `json:"qty"`
}

// QuoteLine — рассчитанная позиция с ценами на момент расчёта.
type QuoteLine struct {
	VariantID      string `json:"variantId"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPriceMinor int64  `json:"unitPrice"`
	LineTotalMinor int64  `json:"lineTotal"`
}

// Quote — результат ценового движка. Все суммы в грошах, брутто.
type Quote struct {
	Lines         []QuoteLine `json:"items"`
	SubtotalMinor int64       `json:"subtotal"`
	DiscountMinor int64       `json:"discountTotal"`
	ShippingMinor int64       `json:"shippingTotal"`
	TaxMinor      int64       `json:"taxTotal"`
	TotalMinor    int64       `json:"total"`
	Currency      string      `json:"currency"`
	DiscountCode  string      `json:"discountCode,omitempty"`
}

// ReservationLines возвращает позиции для резервирования склада.
func (q Quote) ReservationLines() []ReservationLine {
	lines := make([]ReservationLine, 0, len(q.Lines))
	for _, line := range q.Lines {
		lines = append(lines, ReservationLine{VariantID: line.VariantID, Qty: line.Qty})
	}
	return lines
}

// DiscountType — вид скидки.
type DiscountType string

const (
	DiscountPercent DiscountType = "PERCENT"
	DiscountFixed   DiscountType = "FIXED"
)

// Discount — правило скидки по коду.
// Для PERCENT Value — проценты (10 = 10%), для FIXED — гроши.
type Discount struct {
	Code          string
	Type          DiscountType
	Value         int64
	MinOrderMinor int64
	Active        bool
}
