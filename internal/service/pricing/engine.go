package pricing

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// DefaultShippingFeeMinor — плоская стоимость доставки, 15.00 PLN.
	DefaultShippingFeeMinor = 1500
	// DefaultFreeShippingThresholdMinor — доставка бесплатна, если subtotal строго больше 300.00 PLN.
	DefaultFreeShippingThresholdMinor = 30000
	// DefaultVATRate — ставка НДС, цены уже включают её.
	DefaultVATRate = "0.23"
	// MaxLineQuantity - предел количества одного варианта в корзине после сложения дублей.
	MaxLineQuantity = 999
)

// Config — параметры расчёта.
type Config struct {
	ShippingFeeMinor           int64
	FreeShippingThresholdMinor int64
	VATRate                    decimal.Decimal
	Currency                   string
}

// DefaultConfig возвращает параметры магазина по умолчанию.
func DefaultConfig() Config {
	return Config{
		ShippingFeeMinor:           DefaultShippingFeeMinor,
		FreeShippingThresholdMinor: DefaultFreeShippingThresholdMinor,
		VATRate:                    decimal.RequireFromString(DefaultVATRate),
		Currency:                   domain.DefaultCurrency,
	}
}

// Engine считает котировку корзины. Ничего не пишет и не кэширует.
type Engine struct {
	catalog   domain.CatalogReader
	discounts domain.DiscountResolver
	cfg       Config
	logger    *log.Entry
}

// NewEngine создаёт ценовой движок.
func NewEngine(catalog domain.CatalogReader, discounts domain.DiscountResolver, cfg Config, logger *log.Entry) *Engine {
	if logger == nil {
		logger = log.WithField("component", "pricing")
	}
	if cfg.Currency == "" {
		cfg.Currency = domain.DefaultCurrency
	}
	return &Engine{
		catalog:   catalog,
		discounts: discounts,
		cfg:       cfg,
		logger:    logger,
	}
}

// Quote рассчитывает subtotal, скидку, доставку, итог и включённый налог.
func (e *Engine) Quote(ctx context.Context, items []domain.QuoteItem, discountCode string) (domain.Quote, error) {
	merged, err := mergeItems(items)
	if err != nil {
		return domain.Quote{}, err
	}

	ids := make([]string, 0, len(merged))
	for _, item := range merged {
		ids = append(ids, item.VariantID)
	}
	prices, err := e.catalog.GetVariants(ctx, ids)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("load variant prices: %w", err)
	}

	quote := domain.Quote{
		Lines:    make([]domain.QuoteLine, 0, len(merged)),
		Currency: e.cfg.Currency,
	}
	for _, item := range merged {
		price, ok := prices[item.VariantID]
		if !ok || !price.Sellable() {
			return domain.Quote{}, &domain.ItemUnavailableError{VariantID: item.VariantID}
		}
		unit := price.UnitPriceMinor()
		line, ok := mulMinor(unit, item.Qty)
		if !ok || quote.SubtotalMinor > math.MaxInt64-line {
			return domain.Quote{}, domain.NewValidationError(
				fmt.Sprintf("items[%d].quantity", item.index), "order amount is out of range")
		}
		quote.Lines = append(quote.Lines, domain.QuoteLine{
			VariantID:      item.VariantID,
			SKU:            price.SKU,
			Name:           price.DisplayName(),
			Qty:            item.Qty,
			UnitPriceMinor: unit,
			LineTotalMinor: line,
		})
		quote.SubtotalMinor += line
	}

	code := strings.ToUpper(strings.TrimSpace(discountCode))
	if code != "" && e.discounts != nil {
		discount, found, err := e.discounts.ResolveDiscount(ctx, code)
		if err != nil {
			return domain.Quote{}, fmt.Errorf("resolve discount %s: %w", code, err)
		}
		if found {
			quote.DiscountMinor = DiscountAmount(discount, quote.SubtotalMinor)
			if quote.DiscountMinor > 0 {
				quote.DiscountCode = code
			}
		} else {
			e.logger.WithField("discount_code", code).Debug("unknown discount code ignored")
		}
	}

	quote.ShippingMinor = ShippingFee(quote.SubtotalMinor, e.cfg.ShippingFeeMinor, e.cfg.FreeShippingThresholdMinor)
	quote.TotalMinor = quote.SubtotalMinor - quote.DiscountMinor + quote.ShippingMinor
	quote.TaxMinor = IncludedTax(quote.TotalMinor, e.cfg.VATRate)

	return quote, nil
}

// mergedItem - позиция после сложения дублей; index указывает на первое появление во входе.
type mergedItem struct {
	domain.QuoteItem
	index int
}

// mergeItems валидирует позиции и складывает дубли варианта, сохраняя порядок первого появления.
func mergeItems(items []domain.QuoteItem) ([]mergedItem, error) {
	if len(items) == 0 {
		return nil, domain.NewValidationError("items", "must contain at least one item")
	}

	index := make(map[string]int, len(items))
	merged := make([]mergedItem, 0, len(items))
	for i, item := range items {
		id := strings.TrimSpace(item.VariantID)
		if id == "" {
			return nil, domain.NewValidationError(fmt.Sprintf("items[%d].variantId", i), "is required")
		}
		if item.Qty < 1 || item.Qty > MaxLineQuantity {
			return nil, domain.NewValidationError(fmt.Sprintf("items[%d].quantity", i),
				fmt.Sprintf("must be between 1 and %d", MaxLineQuantity))
		}
		pos, ok := index[id]
		if !ok {
			index[id] = len(merged)
			merged = append(merged, mergedItem{QuoteItem: domain.QuoteItem{VariantID: id, Qty: item.Qty}, index: i})
			continue
		}
		if merged[pos].Qty+item.Qty > MaxLineQuantity {
			return nil, domain.NewValidationError(fmt.Sprintf("items[%d].quantity", i),
				fmt.Sprintf("total quantity of %s must not exceed %d", id, MaxLineQuantity))
		}
		merged[pos].Qty += item.Qty
	}
	return merged, nil
}

// mulMinor умножает цену на количество; ok=false при отрицательной цене или переполнении.
func mulMinor(unit int64, qty int) (int64, bool) {
	if unit < 0 {
		return 0, false
	}
	if unit > 0 && int64(qty) > math.MaxInt64/unit {
		return 0, false
	}
	return unit * int64(qty), true
}

// DiscountAmount считает скидку и зажимает её в [0, subtotal].
// Процент округляется half-up до гроша.
func DiscountAmount(d domain.Discount, subtotal int64) int64 {
	if subtotal <= 0 || d.Value <= 0 {
		return 0
	}
	if d.MinOrderMinor > 0 && subtotal < d.MinOrderMinor {
		return 0
	}

	var amount int64
	switch d.Type {
	case domain.DiscountPercent:
		amount = decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromInt(d.Value)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	case domain.DiscountFixed:
		amount = d.Value
	default:
		return 0
	}

	if amount < 0 {
		return 0
	}
	if amount > subtotal {
		return subtotal
	}
	return amount
}

// ShippingFee возвращает плоский тариф или 0, если subtotal строго выше порога.
func ShippingFee(subtotal, fee, freeThreshold int64) int64 {
	if subtotal > freeThreshold {
		return 0
	}
	return fee
}

// IncludedTax выделяет НДС из брутто-суммы: round(total * rate / (1 + rate)).
func IncludedTax(total int64, rate decimal.Decimal) int64 {
	if total <= 0 || !rate.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(total).
		Mul(rate).
		Div(decimal.NewFromInt(1).Add(rate)).
		Round(0).
		IntPart()
}
