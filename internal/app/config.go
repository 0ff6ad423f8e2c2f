package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/integration/p24"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

// EnvPrefix — префикс переменных окружения сервиса.
const EnvPrefix = "STOREFRONT"

const (
	P24EnvSandbox    = "sandbox"
	P24EnvProduction = "production"
)

// Config описывает настройки запуска. Пустой POSTGRES_DSN включает in-memory хранилище с демо-каталогом.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	GRPCAddr    string `envconfig:"GRPC_ADDR" default:":50051"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	PostgresDSN         string `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`
	RedisAddr           string `envconfig:"REDIS_ADDR"`

	KafkaBrokers  string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic    string `envconfig:"KAFKA_TOPIC" default:"storefront.order.events"`
	KafkaDLQTopic string `envconfig:"KAFKA_DLQ_TOPIC" default:"storefront.dlq"`

	P24MerchantID int    `envconfig:"P24_MERCHANT_ID"`
	P24PosID      int    `envconfig:"P24_POS_ID"`
	P24APIKey     string `envconfig:"P24_API_KEY"`
	P24CRC        string `envconfig:"P24_CRC"`
	P24Env        string `envconfig:"P24_ENV" default:"sandbox"`
	// FakeGatewaySecret подписывает уведомления фейкового шлюза, когда P24 не настроен.
	// Пустой в демо-режиме заменяется случайным ключом процесса.
	FakeGatewaySecret string `envconfig:"FAKE_GATEWAY_SECRET"`

	AppOrigin           string        `envconfig:"APP_ORIGIN" default:"http://localhost:3000"`
	GatewayTimeout      time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
	BreakerMaxFailures  int           `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
	BreakerResetTimeout time.Duration `envconfig:"BREAKER_RESET_TIMEOUT" default:"30s"`
	RequestTimeout      time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	ShippingFlatFee       int64  `envconfig:"SHIPPING_FLAT_FEE" default:"1500"`
	FreeShippingThreshold int64  `envconfig:"FREE_SHIPPING_THRESHOLD" default:"30000"`
	VATRate               string `envconfig:"VAT_RATE" default:"0.23"`

	// AdminTokens — "token:actor[:ROLE|ROLE],...".
	AdminTokens string `envconfig:"ADMIN_TOKENS"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"3"`
	OutboxRetryDelay   time.Duration `envconfig:"OUTBOX_RETRY_DELAY" default:"100ms"`

	IdempotencyCleanupInterval  time.Duration `envconfig:"IDEMPOTENCY_CLEANUP_INTERVAL" default:"1m"`
	IdempotencyCleanupBatchSize int           `envconfig:"IDEMPOTENCY_CLEANUP_BATCH_SIZE" default:"500"`
}

// DefaultConfig возвращает конфигурацию со значениями по умолчанию без чтения окружения.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		LogLevel:                    "info",
		PostgresAutoMigrate:         true,
		KafkaTopic:                  "storefront.order.events",
		KafkaDLQTopic:               "storefront.dlq",
		P24Env:                      P24EnvSandbox,
		AppOrigin:                   "http://localhost:3000",
		GatewayTimeout:              10 * time.Second,
		BreakerMaxFailures:          5,
		BreakerResetTimeout:         30 * time.Second,
		RequestTimeout:              30 * time.Second,
		ShippingFlatFee:             pricing.DefaultShippingFeeMinor,
		FreeShippingThreshold:       pricing.DefaultFreeShippingThresholdMinor,
		VATRate:                     pricing.DefaultVATRate,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            100 * time.Millisecond,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// LoadConfig читает STOREFRONT_* переменные окружения и валидирует результат.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("HTTP_ADDR is required"))
	}
	if strings.TrimSpace(c.GRPCAddr) == "" {
		errs = append(errs, errors.New("GRPC_ADDR is required"))
	}
	if strings.TrimSpace(c.MetricsAddr) == "" {
		errs = append(errs, errors.New("METRICS_ADDR is required"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	switch c.P24Env {
	case P24EnvSandbox, P24EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("P24_ENV must be %q or %q, got %q", P24EnvSandbox, P24EnvProduction, c.P24Env))
	}
	// С постоянным хранилищем фейковый шлюз допустим только с явно заданным секретом.
	if strings.TrimSpace(c.PostgresDSN) != "" && !c.P24Config().Configured() && strings.TrimSpace(c.FakeGatewaySecret) == "" {
		errs = append(errs, errors.New("POSTGRES_DSN is set but Przelewy24 is not configured: set P24_* credentials or FAKE_GATEWAY_SECRET"))
	}
	if c.ShippingFlatFee < 0 {
		errs = append(errs, errors.New("SHIPPING_FLAT_FEE must be >= 0"))
	}
	if c.FreeShippingThreshold < 0 {
		errs = append(errs, errors.New("FREE_SHIPPING_THRESHOLD must be >= 0"))
	}
	if _, err := c.vatRate(); err != nil {
		errs = append(errs, err)
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be > 0"))
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 || c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval, batch size and max attempts must be > 0"))
	}
	if c.IdempotencyCleanupInterval <= 0 || c.IdempotencyCleanupBatchSize <= 0 {
		errs = append(errs, errors.New("idempotency cleanup interval and batch size must be > 0"))
	}
	return errors.Join(errs...)
}

// Brokers разбирает KAFKA_BROKERS; пустой список выключает Kafka.
func (c Config) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// PricingConfig собирает параметры ценового движка.
func (c Config) PricingConfig() (pricing.Config, error) {
	rate, err := c.vatRate()
	if err != nil {
		return pricing.Config{}, err
	}
	cfg := pricing.DefaultConfig()
	cfg.ShippingFeeMinor = c.ShippingFlatFee
	cfg.FreeShippingThresholdMinor = c.FreeShippingThreshold
	cfg.VATRate = rate
	return cfg, nil
}

// P24Config собирает учётные данные Przelewy24.
func (c Config) P24Config() p24.Config {
	return p24.Config{
		MerchantID: c.P24MerchantID,
		PosID:      c.P24PosID,
		APIKey:     c.P24APIKey,
		CRC:        c.P24CRC,
		Sandbox:    c.P24Env != P24EnvProduction,
	}
}

func (c Config) vatRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.VATRate))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("VAT_RATE: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, fmt.Errorf("VAT_RATE must be in [0, 1), got %s", rate)
	}
	return rate, nil
}
