package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type apiFixture struct {
	handler     http.Handler
	gateway     *payment.FakeGateway
	stock       domain.StockRepository
	orders      domain.OrderRepository
	httpMetrics *metrics.HTTPMetrics
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	catalog := memory.NewCatalog()
	stock := memory.NewStockRepository(catalog)
	memory.SeedDemo(catalog, stock)

	orders := memory.NewOrderRepository()
	timeline := memory.NewTimelineRepository()
	reg := prometheus.NewRegistry()
	shop := metrics.NewShopMetricsWithRegisterer(reg)
	httpMetrics := metrics.NewHTTPMetricsWithRegisterer(reg)
	recorder := events.NewRecorder(memory.NewOutboxRepository(), timeline, shop, nil)

	fake := payment.NewFakeGateway("https://pay.test", "secret")
	gateway := payment.NewGuardedGateway(fake, 0, nil, nil)
	ledger := inventory.NewLedger(stock, inventory.WithMetrics(shop))
	engine := pricing.NewEngine(catalog, catalog, pricing.DefaultConfig(), nil)

	ids := &atomic.Int64{}
	orchestrator := checkout.NewOrchestrator(engine, ledger, orders, gateway,
		checkout.WithRecorder(recorder),
		checkout.WithAppOrigin("https://shop.test"),
		checkout.WithIDGenerator(func() string { return fmt.Sprintf("order-%d", ids.Add(1)) }),
	)

	authenticator, err := auth.ParseTokens("admin-token:alice,viewer-token:bob:VIEWER")
	require.NoError(t, err)

	api := New(Deps{
		Pricing:       engine,
		Checkout:      orchestrator,
		Webhook:       payment.NewWebhookHandler(gateway, orders, ledger, recorder),
		Inventory:     ledger,
		Catalog:       catalog,
		Orders:        orders,
		Timeline:      timeline,
		Auth:          authenticator,
		Idempotency:   memory.NewIdempotencyRepository(),
		Metrics:       httpMetrics,
		AllowedOrigin: "https://shop.test",
	})

	return &apiFixture{
		handler:     api.Routes(),
		gateway:     fake,
		stock:       stock,
		orders:      orders,
		httpMetrics: httpMetrics,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(v)
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func checkoutBody(variantID string, qty int) map[string]any {
	return map[string]any{
		"email":          "jan@example.com",
		"fullName":       "Jan Kowalski",
		"phone":          "+48500100200",
		"shippingMethod": "COURIER",
		"address": map[string]string{
			"street":     "Marszałkowska 1",
			"city":       "Warszawa",
			"postalCode": "00-001",
		},
		"items": []map[string]any{{"variant_id": variantID, "quantity": qty}},
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCatalog_ListsActiveProducts(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/catalog", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	products := decode[[]productView](t, rec)
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	assert.Contains(t, ids, memory.DemoTeeID)
	assert.NotContains(t, ids, memory.DemoCapID)
	assert.Equal(t, "https://shop.test", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestQuote(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/cart/quote", map[string]any{
		"items":        []map[string]any{{"variant_id": memory.DemoTeeWhiteM, "quantity": 2}},
		"discountCode": "haters10",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	quote := decode[domain.Quote](t, rec)
	assert.Equal(t, int64(19800), quote.SubtotalMinor)
	assert.Equal(t, int64(1980), quote.DiscountMinor)
	assert.Equal(t, "HATERS10", quote.DiscountCode)
	assert.Equal(t, domain.DefaultCurrency, quote.Currency)
}

func TestQuote_Errors(t *testing.T) {
	tests := []struct {
		name string
		body any
		code int
	}{
		{name: "invalid json", body: []byte("{"), code: http.StatusBadRequest},
		{name: "empty body", body: []byte(" "), code: http.StatusBadRequest},
		{name: "zero quantity", body: map[string]any{
			"items": []map[string]any{{"variant_id": memory.DemoTeeWhiteM, "quantity": 0}},
		}, code: http.StatusBadRequest},
		{name: "unknown variant", body: map[string]any{
			"items": []map[string]any{{"variant_id": "missing", "quantity": 1}},
		}, code: http.StatusUnprocessableEntity},
	}

	f := newAPIFixture(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/cart/quote", tt.body, nil)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			assert.NotEmpty(t, body.Error)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestCheckout_ThenPayThroughNotification(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(memory.DemoTeeWhiteM, 2), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	res := decode[checkout.Result](t, rec)
	require.NotEmpty(t, res.OrderID)
	assert.Equal(t, "https://pay.test/pay/"+res.OrderID, res.PaymentURL)

	item, err := f.stock.Get(context.Background(), memory.DemoTeeWhiteM)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Reserved)

	rec = f.do(t, http.MethodGet, "/api/orders/"+res.OrderID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[orderView](t, rec)
	assert.Equal(t, domain.OrderStatusPendingPayment, view.Status)
	assert.Equal(t, res.PaymentURL, view.PaymentURL)
	require.Len(t, view.Items, 1)

	rec = f.do(t, http.MethodPost, "/api/p24/notify", f.gateway.Notification(res.OrderID, view.TotalMinor, "p24-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "OK", rec.Body.String())

	item, err = f.stock.Get(context.Background(), memory.DemoTeeWhiteM)
	require.NoError(t, err)
	assert.Equal(t, 23, item.OnHand)
	assert.Equal(t, 0, item.Reserved)

	rec = f.do(t, http.MethodGet, "/api/orders/"+res.OrderID, nil, nil)
	view = decode[orderView](t, rec)
	assert.Equal(t, domain.OrderStatusPaid, view.Status)
	assert.Empty(t, view.PaymentURL)
	types := make([]string, 0, len(view.Timeline))
	for _, ev := range view.Timeline {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{domain.TimelineOrderCreated, domain.TimelinePaymentSession, domain.TimelineOrderPaid}, types)

	// Повторная доставка уведомления ничего не меняет.
	rec = f.do(t, http.MethodPost, "/api/p24/notify", f.gateway.Notification(res.OrderID, view.TotalMinor, "p24-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	again, err := f.stock.Get(context.Background(), memory.DemoTeeWhiteM)
	require.NoError(t, err)
	assert.Equal(t, item.OnHand, again.OnHand)
}

func TestCheckout_InsufficientStockIsConflict(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(memory.DemoTeeWhiteM, 26), nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	var body struct {
		Error   string       `json:"error"`
		Details stockDetails `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, memory.DemoTeeWhiteM, body.Details.VariantID)
	assert.Equal(t, 26, body.Details.Requested)
	assert.Equal(t, 25, body.Details.Available)
}

func TestCheckout_ValidationError(t *testing.T) {
	f := newAPIFixture(t)

	body := checkoutBody(memory.DemoTeeWhiteM, 1)
	body["email"] = "not-an-email"
	rec := f.do(t, http.MethodPost, "/api/checkout", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Details fieldDetails `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "email", resp.Details.Field)
}

func TestCheckout_GatewayDownIsServiceUnavailable(t *testing.T) {
	f := newAPIFixture(t)
	f.gateway.CreateErr = fmt.Errorf("connection refused")

	rec := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(memory.DemoTeeWhiteM, 1), nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	item, err := f.stock.Get(context.Background(), memory.DemoTeeWhiteM)
	require.NoError(t, err)
	assert.Zero(t, item.Reserved)
}

func TestCheckout_IdempotencyKeyReplaysResponse(t *testing.T) {
	f := newAPIFixture(t)
	headers := map[string]string{idempotencyHeader: "key-1"}

	first := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(memory.DemoTeeWhiteM, 1), headers)
	require.Equal(t, http.StatusCreated, first.Code)

	second := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(memory.DemoTeeWhiteM, 1), headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, f.gateway.CreateCalls)

	item, err := f.stock.Get(context.Background(), memory.DemoTeeWhiteM)
	require.NoError(t, err)
	assert.Equal(t, 1, item.Reserved)

	mismatch := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(memory.DemoTeeWhiteM, 2), headers)
	assert.Equal(t, http.StatusConflict, mismatch.Code)
}

func TestCheckout_IdempotencyKeyReplaysFailure(t *testing.T) {
	f := newAPIFixture(t)
	headers := map[string]string{idempotencyHeader: "key-2"}

	first := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(memory.DemoTeeWhiteM, 30), headers)
	require.Equal(t, http.StatusConflict, first.Code)

	second := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(memory.DemoTeeWhiteM, 30), headers)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestCheckout_IdempotencyKeyReleasedAfterServerError(t *testing.T) {
	f := newAPIFixture(t)
	headers := map[string]string{idempotencyHeader: "key-3"}
	f.gateway.CreateErr = fmt.Errorf("connection refused")

	first := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(memory.DemoTeeWhiteM, 1), headers)
	require.Equal(t, http.StatusServiceUnavailable, first.Code)

	f.gateway.CreateErr = nil
	retry := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(memory.DemoTeeWhiteM, 1), headers)
	require.Equal(t, http.StatusCreated, retry.Code)
	assert.Empty(t, retry.Header().Get("Idempotent-Replayed"))

	replay := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(memory.DemoTeeWhiteM, 1), headers)
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, retry.Body.String(), replay.Body.String())
}

func TestGetOrder_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/orders/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotify_ForgedSignature(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/checkout", checkoutBody(memory.DemoTeeWhiteM, 1), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decode[checkout.Result](t, rec)

	forged := payment.NewFakeGateway("https://pay.test", "other-secret").Notification(res.OrderID, 1, "x")
	rec = f.do(t, http.MethodPost, "/api/p24/notify", forged, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	order, err := f.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPendingPayment, order.Status)
}

func TestAdmin_RequiresToken(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/admin/inventory", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/admin/inventory", nil, map[string]string{"Authorization": "Bearer viewer-token"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdmin_ListAndAdjustInventory(t *testing.T) {
	f := newAPIFixture(t)
	admin := map[string]string{"Authorization": "Bearer admin-token"}

	rec := f.do(t, http.MethodGet, "/api/admin/inventory", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]map[string]any](t, rec)
	require.NotEmpty(t, rows)
	assert.Contains(t, rows[0], "variant_id")
	assert.Contains(t, rows[0], "low_stock_threshold")

	rec = f.do(t, http.MethodPost, "/api/admin/inventory/adjust", map[string]any{
		"variantId": memory.DemoHoodieBlackM,
		"delta":     -5,
		"reason":    "damaged in warehouse",
	}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[adjustResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, 20, resp.NewOnHand)

	movements, err := f.stock.Movements(context.Background(), memory.DemoHoodieBlackM)
	require.NoError(t, err)
	require.NotEmpty(t, movements)
	last := movements[len(movements)-1]
	assert.Equal(t, domain.MovementAdminAdjust, last.Reason)
	assert.Equal(t, "alice", last.ActorID)

	rec = f.do(t, http.MethodPost, "/api/admin/inventory/adjust", map[string]any{
		"variantId": memory.DemoHoodieBlackM,
		"delta":     1,
		"reason":    "x",
	}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/admin/inventory/adjust", map[string]any{
		"variantId": "missing",
		"delta":     1,
		"reason":    "recount",
	}, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreflight(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodOptions, "/api/checkout", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestAccessLog_RecordsRoutePattern(t *testing.T) {
	f := newAPIFixture(t)

	f.do(t, http.MethodGet, "/api/orders/a", nil, nil)
	f.do(t, http.MethodGet, "/api/orders/b", nil, nil)
	f.do(t, http.MethodGet, "/nowhere", nil, nil)

	assert.Equal(t, float64(2), testutil.ToFloat64(f.httpMetrics.Requests("/api/orders/{id}", http.MethodGet, http.StatusNotFound)))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.httpMetrics.Requests("unmatched", http.MethodGet, http.StatusNotFound)))
}
