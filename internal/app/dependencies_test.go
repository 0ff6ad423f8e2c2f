package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/integration/p24"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newTestDependencies(t *testing.T, cfg Config) *runtimeDependencies {
	t.Helper()

	deps, err := initRuntimeDependencies(context.Background(), cfg, prometheus.NewRegistry(), log.WithField("test", t.Name()))
	require.NoError(t, err)
	t.Cleanup(deps.closeFn)
	return deps
}

func serve(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	deps := newTestDependencies(t, DefaultConfig())

	assert.Equal(t, StorageDriverMemory, deps.storage.driver)
	assert.Nil(t, deps.outboxWorker, "outbox worker needs kafka")
	assert.NotNil(t, deps.cleanupWorker)
	assert.Empty(t, deps.health.Names())

	resp := deps.health.Evaluate(context.Background())
	assert.Equal(t, healthcheck.StatusHealthy, resp.Status)

	rec := serve(t, deps.api, http.MethodGet, "/api/catalog", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), memory.DemoTeeID)
}

func TestInitRuntimeDependencies_PricingFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShippingFlatFee = 1900

	deps := newTestDependencies(t, cfg)

	rec := serve(t, deps.api, http.MethodPost, "/api/cart/quote", map[string]any{
		"items": []map[string]any{{"variant_id": memory.DemoTeeWhiteM, "quantity": 1}},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var quote struct {
		Subtotal int64 `json:"subtotal"`
		Shipping int64 `json:"shippingTotal"`
		Total    int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quote))
	assert.Equal(t, int64(9900), quote.Subtotal)
	assert.Equal(t, int64(1900), quote.Shipping)
	assert.Equal(t, int64(11800), quote.Total)
}

func TestInitRuntimeDependencies_CheckoutUsesFakeGateway(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AppOrigin = "https://shop.test"

	deps := newTestDependencies(t, cfg)

	rec := serve(t, deps.api, http.MethodPost, "/api/checkout", map[string]any{
		"email":          "buyer@example.com",
		"fullName":       "Jan Kowalski",
		"phone":          "+48123456789",
		"address":        map[string]any{"street": "ul. Prosta 1", "city": "Warszawa", "postalCode": "00-001", "country": "PL"},
		"shippingMethod": "COURIER",
		"items":          []map[string]any{{"variant_id": memory.DemoHoodieBlackM, "quantity": 1}},
	}, map[string]string{"Idempotency-Key": "app-checkout-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		OrderID    string `json:"orderId"`
		PaymentURL string `json:"paymentUrl"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.OrderID)
	assert.True(t, strings.HasPrefix(created.PaymentURL, "https://shop.test/fake-pay/pay/"), created.PaymentURL)
}

func TestInitRuntimeDependencies_AdminTokens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminTokens = "ops-token:alice"

	deps := newTestDependencies(t, cfg)

	rec := serve(t, deps.api, http.MethodGet, "/api/admin/inventory", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, deps.api, http.MethodGet, "/api/admin/inventory", nil, map[string]string{
		"Authorization": "Bearer ops-token",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInitRuntimeDependencies_InvalidAdminTokens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminTokens = "token-without-actor"

	_, err := initRuntimeDependencies(context.Background(), cfg, prometheus.NewRegistry(), nil)
	require.Error(t, err)
}

func TestInitRuntimeDependencies_RedisUnavailable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	_, err := initRuntimeDependencies(context.Background(), cfg, prometheus.NewRegistry(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestInitRuntimeDependencies_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("STOREFRONT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("STOREFRONT_POSTGRES_TEST_DSN is not set")
	}

	cfg := DefaultConfig()
	cfg.PostgresDSN = dsn

	deps, err := initRuntimeDependencies(context.Background(), cfg, prometheus.NewRegistry(), nil)
	if err != nil {
		t.Skipf("postgres is not available for app integration test: %v", err)
	}
	defer deps.closeFn()

	assert.Equal(t, StorageDriverPostgres, deps.storage.driver)
	assert.Equal(t, []string{"storage"}, deps.health.Names())
	resp := deps.health.Evaluate(context.Background())
	assert.Equal(t, healthcheck.StatusHealthy, resp.Status)
}

func TestInitPaymentGateway(t *testing.T) {
	logger := log.WithField("test", "gateway")

	cfg := DefaultConfig()
	_, isFake := initPaymentGateway(cfg, logger).(*payment.FakeGateway)
	assert.True(t, isFake)

	cfg.P24MerchantID = 1
	cfg.P24APIKey = "key"
	cfg.P24CRC = "crc"
	_, isP24 := initPaymentGateway(cfg, logger).(*p24.Client)
	assert.True(t, isP24)
}

func TestInitKafkaProducer_NoBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	assert.Nil(t, initKafkaProducer(nil, logger))
	closeKafka(nil, logger)
}
