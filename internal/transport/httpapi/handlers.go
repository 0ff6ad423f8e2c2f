package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

type cartItem struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type quoteRequest struct {
	Items        []cartItem `json:"items"`
	DiscountCode string     `json:"discountCode"`
}

type checkoutRequest struct {
	Email          string              `json:"email"`
	FullName       string              `json:"fullName"`
	Phone          string              `json:"phone"`
	Address        domain.Address      `json:"address"`
	ShippingMethod string              `json:"shippingMethod"`
	PickupPoint    *domain.PickupPoint `json:"pickupPoint"`
	Items          []cartItem          `json:"items"`
	DiscountCode   string              `json:"discountCode"`
}

type adjustRequest struct {
	VariantID string `json:"variantId"`
	Delta     int    `json:"delta"`
	Reason    string `json:"reason"`
}

type adjustResponse struct {
	Success   bool `json:"success"`
	NewOnHand int  `json:"new_on_hand"`
}

type inventoryRowView struct {
	VariantID         string `json:"variant_id"`
	SKU               string `json:"sku"`
	Size              string `json:"size"`
	Color             string `json:"color"`
	Active            bool   `json:"active"`
	ProductName       string `json:"product_name"`
	OnHand            int    `json:"on_hand"`
	Reserved          int    `json:"reserved"`
	Available         int    `json:"available"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	LowStock          bool   `json:"low_stock"`
}

type variantView struct {
	ID              string `json:"id"`
	SKU             string `json:"sku"`
	Size            string `json:"size"`
	Color           string `json:"color"`
	PriceDeltaMinor int64  `json:"price_delta_gross"`
	Active          bool   `json:"active"`
}

type productView struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	BasePriceMinor int64         `json:"base_price_gross"`
	Active         bool          `json:"active"`
	Variants       []variantView `json:"variant"`
}

type orderItemView struct {
	VariantID      string `json:"variantId"`
	Name           string `json:"name"`
	SKU            string `json:"sku"`
	Qty            int    `json:"qty"`
	UnitPriceMinor int64  `json:"unitPrice"`
	LineTotalMinor int64  `json:"lineTotal"`
}

type orderView struct {
	ID             string                 `json:"id"`
	Status         domain.OrderStatus     `json:"status"`
	SubtotalMinor  int64                  `json:"subtotal"`
	DiscountMinor  int64                  `json:"discountTotal"`
	ShippingMinor  int64                  `json:"shippingTotal"`
	TaxMinor       int64                  `json:"taxTotal"`
	TotalMinor     int64                  `json:"total"`
	Currency       string                 `json:"currency"`
	DiscountCode   string                 `json:"discountCode,omitempty"`
	ShippingMethod domain.ShippingMethod  `json:"shippingMethod,omitempty"`
	PaymentURL     string                 `json:"paymentUrl,omitempty"`
	Items          []orderItemView        `json:"items"`
	Timeline       []domain.TimelineEvent `json:"timeline"`
	CreatedAt      time.Time              `json:"createdAt"`
}

func toQuoteItems(items []cartItem) []domain.QuoteItem {
	out := make([]domain.QuoteItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.QuoteItem{VariantID: item.VariantID, Qty: item.Quantity})
	}
	return out
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.NewValidationError("body", "cannot be read or is too large")
	}
	return data, nil
}

func decodeJSON(data []byte, dst any) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return domain.NewValidationError("body", "is required")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return domain.NewValidationError("body", "invalid json")
	}
	return nil
}

func (a *API) listCatalog(w http.ResponseWriter, r *http.Request) {
	products, err := a.deps.Catalog.ListActiveProducts(r.Context())
	if err != nil {
		a.writeError(w, r, fmt.Errorf("list catalog: %w", err))
		return
	}

	views := make([]productView, 0, len(products))
	for _, p := range products {
		view := productView{
			ID:             p.ID,
			Name:           p.Name,
			BasePriceMinor: p.BasePriceMinor,
			Active:         p.Active,
			Variants:       make([]variantView, 0, len(p.Variants)),
		}
		for _, v := range p.Variants {
			view.Variants = append(view.Variants, variantView{
				ID:              v.ID,
				SKU:             v.SKU,
				Size:            v.Size,
				Color:           v.Color,
				PriceDeltaMinor: v.PriceDeltaMinor,
				Active:          v.Active,
			})
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) quote(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req quoteRequest
	if err := decodeJSON(data, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	quote, err := a.deps.Pricing.Quote(r.Context(), toQuoteItems(req.Items), req.DiscountCode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (a *API) checkout(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.withIdempotency(w, r, "checkout", data, func(ctx context.Context) (int, []byte) {
		var req checkoutRequest
		if err := decodeJSON(data, &req); err != nil {
			return encodeError(r, err)
		}

		res, err := a.deps.Checkout.Checkout(ctx, checkout.Request{
			Customer: domain.Customer{
				Email:    req.Email,
				FullName: req.FullName,
				Phone:    req.Phone,
			},
			ShippingMethod: req.ShippingMethod,
			Address:        req.Address,
			PickupPoint:    req.PickupPoint,
			Items:          toQuoteItems(req.Items),
			DiscountCode:   req.DiscountCode,
		})
		if err != nil {
			a.logRejected(r, err)
			return encodeError(r, err)
		}

		body, err := json.Marshal(res)
		if err != nil {
			return encodeError(r, err)
		}
		return http.StatusCreated, body
	})
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		a.writeError(w, r, domain.NewValidationError("id", "is required"))
		return
	}

	order, err := a.deps.Orders.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	view := orderView{
		ID:            order.ID,
		Status:        order.Status,
		SubtotalMinor: order.SubtotalMinor,
		DiscountMinor: order.DiscountMinor,
		ShippingMinor: order.ShippingMinor,
		TaxMinor:      order.TaxMinor,
		TotalMinor:    order.TotalMinor,
		Currency:      order.Currency,
		DiscountCode:  order.DiscountCode,
		Items:         make([]orderItemView, 0, len(order.Items)),
		Timeline:      []domain.TimelineEvent{},
		CreatedAt:     order.CreatedAt,
	}
	if order.Shipping != nil {
		view.ShippingMethod = order.Shipping.Method()
	}
	if !order.IsPaid() {
		view.PaymentURL = order.PaymentURL
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, orderItemView{
			VariantID:      item.VariantID,
			Name:           item.Name,
			SKU:            item.SKU,
			Qty:            item.Qty,
			UnitPriceMinor: item.UnitPriceMinor,
			LineTotalMinor: item.LineTotalMinor,
		})
	}
	if a.deps.Timeline != nil {
		events, err := a.deps.Timeline.List(r.Context(), order.ID)
		if err != nil {
			a.requestLogger(r).WithError(err).Warn("load order timeline failed")
		} else if len(events) > 0 {
			view.Timeline = events
		}
	}

	writeJSON(w, http.StatusOK, view)
}

func (a *API) notify(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		a.writeError(w, r, domain.ErrInvalidNotification)
		return
	}

	ack, err := a.deps.Webhook.HandleNotification(r.Context(), data)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.requestLogger(r).WithField("order_id", ack.OrderID).WithField("already_paid", ack.AlreadyPaid).Info("payment notification acknowledged")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

func (a *API) listInventory(w http.ResponseWriter, r *http.Request) {
	rows, err := a.deps.Inventory.List(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	views := make([]inventoryRowView, 0, len(rows))
	for _, row := range rows {
		available := row.OnHand - row.Reserved
		views = append(views, inventoryRowView{
			VariantID:         row.VariantID,
			SKU:               row.SKU,
			Size:              row.Size,
			Color:             row.Color,
			Active:            row.Active,
			ProductName:       row.ProductName,
			OnHand:            row.OnHand,
			Reserved:          row.Reserved,
			Available:         available,
			LowStockThreshold: row.LowStockThreshold,
			LowStock:          available <= row.LowStockThreshold,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) adjustInventory(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req adjustRequest
	if err := decodeJSON(data, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	item, err := a.deps.Inventory.AdjustOnHand(r.Context(), req.VariantID, req.Delta, req.Reason, actorFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adjustResponse{Success: true, NewOnHand: item.OnHand})
}

func (a *API) logRejected(r *http.Request, err error) {
	code, _ := classify(err)
	entry := a.requestLogger(r).WithError(err).WithField("status", code)
	if code >= http.StatusInternalServerError && !errors.Is(err, domain.ErrGatewayUnavailable) {
		entry.Error("checkout failed")
		return
	}
	entry.Info("checkout rejected")
}
