package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/integration/p24"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	"github.com/vladislavdragonenkov/storefront/internal/storage/redis"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// storage — репозитории выбранного хранилища.
type storage struct {
	driver      string
	catalog     domain.CatalogReader
	discounts   domain.DiscountResolver
	stock       domain.StockRepository
	orders      domain.OrderRepository
	outbox      domain.OutboxRepository
	timeline    domain.TimelineRepository
	idempotency domain.IdempotencyRepository
	pinger      healthcheck.Pinger
	closeFn     func()
}

// runtimeDependencies — всё, что запускает Run.
type runtimeDependencies struct {
	storage       storage
	api           http.Handler
	health        *healthcheck.Handler
	outboxWorker  *outbox.Worker
	cleanupWorker *idempotency.CleanupWorker
	closeFn       func()
}

// initRuntimeDependencies собирает хранилище, сервисы, HTTP API и воркеры.
// При ошибке всё уже открытое закрывается.
func initRuntimeDependencies(ctx context.Context, cfg Config, registerer prometheus.Registerer, logger *log.Entry) (*runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, store.closeFn)

	healthHandler := healthcheck.NewHandler(version.Version())
	if store.pinger != nil {
		healthHandler.RegisterChecker("storage", healthcheck.NewPingChecker("storage", store.pinger, true))
	}

	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client, err := redis.Open(ctx, addr)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init redis idempotency store: %w", err)
		}
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.WithError(err).Warn("failed to close redis client")
			}
		})
		store.idempotency = redis.NewIdempotencyRepository(client)
		healthHandler.RegisterChecker("redis", healthcheck.NewPingChecker("redis", client, false))
		logger.WithField("addr", addr).Info("idempotency keys are stored in redis")
	}

	pricingCfg, err := cfg.PricingConfig()
	if err != nil {
		closeAll()
		return nil, err
	}
	authenticator, err := auth.ParseTokens(cfg.AdminTokens)
	if err != nil {
		closeAll()
		return nil, err
	}

	shopMetrics := metrics.NewShopMetricsWithRegisterer(registerer)
	httpMetrics := metrics.NewHTTPMetricsWithRegisterer(registerer)
	recorder := events.NewRecorder(store.outbox, store.timeline, shopMetrics, logger.WithField("component", "events"))

	gateway := payment.NewGuardedGateway(
		initPaymentGateway(cfg, logger),
		cfg.GatewayTimeout,
		payment.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, logger.WithField("component", "payment-breaker")),
		logger.WithField("component", "payment"),
	)

	ledger := inventory.NewLedger(store.stock,
		inventory.WithLogger(logger.WithField("component", "inventory")),
		inventory.WithMetrics(shopMetrics),
	)
	engine := pricing.NewEngine(store.catalog, store.discounts, pricingCfg, logger.WithField("component", "pricing"))
	orchestrator := checkout.NewOrchestrator(engine, ledger, store.orders, gateway,
		checkout.WithLogger(logger.WithField("component", "checkout")),
		checkout.WithMetrics(shopMetrics),
		checkout.WithRecorder(recorder),
		checkout.WithAppOrigin(cfg.AppOrigin),
	)
	webhook := payment.NewWebhookHandler(gateway, store.orders, ledger, recorder,
		payment.WithWebhookLogger(logger.WithField("component", "payment-webhook")),
		payment.WithWebhookMetrics(shopMetrics),
	)

	api := httpapi.New(httpapi.Deps{
		Pricing:        engine,
		Checkout:       orchestrator,
		Webhook:        webhook,
		Inventory:      ledger,
		Catalog:        store.catalog,
		Orders:         store.orders,
		Timeline:       store.timeline,
		Auth:           authenticator,
		Idempotency:    store.idempotency,
		Metrics:        httpMetrics,
		Logger:         logger.WithField("component", "http-api"),
		AllowedOrigin:  cfg.AppOrigin,
		RequestTimeout: cfg.RequestTimeout,
	})

	deps := &runtimeDependencies{
		storage: store,
		api:     api.Routes(),
		health:  healthHandler,
	}

	producer := initKafkaProducer(cfg.Brokers(), logger)
	if producer != nil {
		closers = append(closers, func() { closeKafka(producer, logger) })
		healthHandler.RegisterChecker("kafka", healthcheck.NewPingChecker("kafka", producer, false))
		deps.outboxWorker = outbox.NewWorker(
			store.outbox,
			kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithMetrics(shopMetrics),
		)
	} else {
		logger.Info("kafka is not configured, outbox events stay in storage")
	}

	// Redis удаляет ключи по TTL сам.
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		deps.cleanupWorker = idempotency.NewCleanupWorker(
			store.idempotency,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
			idempotency.WithMetrics(shopMetrics),
		)
	}

	deps.closeFn = closeAll
	return deps, nil
}

// initStorage открывает PostgreSQL, если задан DSN, иначе поднимает in-memory хранилище с демо-каталогом.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (storage, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		catalog := memory.NewCatalog()
		stock := memory.NewStockRepository(catalog)
		memory.SeedDemo(catalog, stock)
		logger.WithField("driver", StorageDriverMemory).Info("storage initialized with demo catalog")
		return storage{
			driver:      StorageDriverMemory,
			catalog:     catalog,
			discounts:   catalog,
			stock:       stock,
			orders:      memory.NewOrderRepository(),
			outbox:      memory.NewOutboxRepository(),
			timeline:    memory.NewTimelineRepository(),
			idempotency: memory.NewIdempotencyRepository(),
			closeFn:     func() {},
		}, nil
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return storage{}, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return storage{}, fmt.Errorf("migrate postgres: %w", err)
		}
	}

	catalog := postgres.NewCatalogRepository(store)
	logger.WithFields(log.Fields{
		"driver":       StorageDriverPostgres,
		"auto_migrate": cfg.PostgresAutoMigrate,
	}).Info("storage initialized")
	return storage{
		driver:      StorageDriverPostgres,
		catalog:     catalog,
		discounts:   catalog,
		stock:       postgres.NewStockRepository(store),
		orders:      postgres.NewOrderRepository(store),
		outbox:      postgres.NewOutboxRepository(store),
		timeline:    postgres.NewTimelineRepository(store),
		idempotency: postgres.NewIdempotencyRepository(store),
		pinger:      store,
		closeFn: func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("failed to close postgres store")
			}
		},
	}, nil
}

// initPaymentGateway выбирает Przelewy24 при заданных учётных данных, иначе фейковый шлюз.
func initPaymentGateway(cfg Config, logger *log.Entry) domain.PaymentGateway {
	p24Cfg := cfg.P24Config()
	if p24Cfg.Configured() {
		logger.WithFields(log.Fields{
			"merchant_id": p24Cfg.MerchantID,
			"env":         cfg.P24Env,
		}).Info("payment gateway: przelewy24")
		return p24.NewClient(p24Cfg, &http.Client{}, logger.WithField("component", "p24"))
	}

	entry := logger.WithField("secret_source", "env")
	if strings.TrimSpace(cfg.FakeGatewaySecret) == "" {
		entry = logger.WithField("secret_source", "ephemeral")
	}
	entry.Warn("przelewy24 credentials are not set, using fake payment gateway")
	return payment.NewFakeGateway(strings.TrimRight(cfg.AppOrigin, "/")+"/fake-pay", fakeGatewaySecret(cfg))
}

// fakeGatewaySecret возвращает заданный секрет или случайный на время жизни процесса.
func fakeGatewaySecret(cfg Config) string {
	if secret := strings.TrimSpace(cfg.FakeGatewaySecret); secret != "" {
		return secret
	}
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// initKafkaProducer создаёт producer, если заданы брокеры.
// Недоступная Kafka не мешает запуску: события остаются в outbox.
func initKafkaProducer(brokers []string, logger *log.Entry) *kafka.Producer {
	if len(brokers) == 0 {
		return nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
