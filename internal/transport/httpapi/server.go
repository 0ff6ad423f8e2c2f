// Package httpapi — публичный HTTP API магазина поверх chi.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxBodyBytes          = 1 << 20
)

// Quoter считает котировку корзины.
type Quoter interface {
	Quote(ctx context.Context, items []domain.QuoteItem, discountCode string) (domain.Quote, error)
}

// CheckoutService оформляет заказ.
type CheckoutService interface {
	Checkout(ctx context.Context, req checkout.Request) (checkout.Result, error)
}

// NotificationHandler обрабатывает уведомления платёжного провайдера.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, raw []byte) (domain.Ack, error)
}

// InventoryService — операции админки склада.
type InventoryService interface {
	List(ctx context.Context) ([]domain.InventoryRow, error)
	AdjustOnHand(ctx context.Context, variantID string, delta int, reason, actorID string) (domain.StockItem, error)
}

// Deps — зависимости API. Idempotency и Metrics необязательны.
type Deps struct {
	Pricing     Quoter
	Checkout    CheckoutService
	Webhook     NotificationHandler
	Inventory   InventoryService
	Catalog     domain.CatalogReader
	Orders      domain.OrderRepository
	Timeline    domain.TimelineRepository
	Auth        domain.AdminAuthenticator
	Idempotency domain.IdempotencyRepository
	Metrics     *metrics.HTTPMetrics
	Logger      *log.Entry

	// AllowedOrigin — значение Access-Control-Allow-Origin.
	AllowedOrigin  string
	RequestTimeout time.Duration
}

// API держит обработчики HTTP.
type API struct {
	deps   Deps
	logger *log.Entry
}

// New создаёт API.
func New(deps Deps) *API {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}
	return &API{deps: deps, logger: logger}
}

// Routes собирает роутер.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.deps.RequestTimeout))
	r.Use(a.cors)

	r.Route("/api", func(r chi.Router) {
		r.Get("/catalog", a.listCatalog)
		r.Post("/cart/quote", a.quote)
		r.Post("/checkout", a.checkout)
		r.Get("/orders/{id}", a.getOrder)
		r.Post("/p24/notify", a.notify)

		r.Route("/admin", func(r chi.Router) {
			r.Use(a.requireAdmin)
			r.Get("/inventory", a.listInventory)
			r.Post("/inventory/adjust", a.adjustInventory)
		})
	})
	return r
}

type actorKey struct{}

func actorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.deps.Auth == nil {
			a.writeError(w, r, domain.ErrForbidden)
			return
		}
		actor, err := a.deps.Auth.RequireRole(r.Context(), r.Header.Get("Authorization"), domain.RoleAdmin)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := strings.TrimSpace(a.deps.AllowedOrigin); origin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(started)

		var route string
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		a.deps.Metrics.Observe(route, r.Method, status, duration)

		a.requestLogger(r).WithFields(log.Fields{
			"status":   status,
			"bytes":    ww.BytesWritten(),
			"duration": duration,
		}).Debug("http request served")
	})
}

func (a *API) requestLogger(r *http.Request) *log.Entry {
	return a.logger.WithFields(log.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	})
}
