package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultGatewayTimeout — предел на один вызов провайдера.
const DefaultGatewayTimeout = 10 * time.Second

// GuardedGateway оборачивает шлюз таймаутом и circuit breaker.
// Любой сбой транспорта превращается в ErrGatewayUnavailable.
type GuardedGateway struct {
	next    domain.PaymentGateway
	timeout time.Duration
	breaker *CircuitBreaker
	logger  *log.Entry
}

// NewGuardedGateway создаёт обёртку. breaker может быть nil.
func NewGuardedGateway(next domain.PaymentGateway, timeout time.Duration, breaker *CircuitBreaker, logger *log.Entry) *GuardedGateway {
	if timeout <= 0 {
		timeout = DefaultGatewayTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "payment-gateway")
	}
	return &GuardedGateway{
		next:    next,
		timeout: timeout,
		breaker: breaker,
		logger:  logger,
	}
}

// CreateSession регистрирует платёж у провайдера.
func (g *GuardedGateway) CreateSession(ctx context.Context, req domain.SessionRequest) (string, error) {
	var url string
	err := g.call(ctx, "create_session", func(callCtx context.Context) error {
		var err error
		url, err = g.next.CreateSession(callCtx, req)
		return err
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// VerifyNotification проверяет уведомление у провайдера.
// Невалидное уведомление не считается отказом шлюза.
func (g *GuardedGateway) VerifyNotification(ctx context.Context, raw []byte) (domain.Notification, error) {
	var n domain.Notification
	err := g.call(ctx, "verify_notification", func(callCtx context.Context) error {
		var err error
		n, err = g.next.VerifyNotification(callCtx, raw)
		return err
	})
	if err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

func (g *GuardedGateway) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	run := func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return fn(callCtx)
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(operation, run, isGatewayFailure)
	} else {
		err = run()
	}
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, domain.ErrInvalidNotification), errors.Is(err, domain.ErrGatewayUnavailable):
		return err
	default:
		g.logger.WithError(err).WithField("operation", operation).Warn("payment gateway call failed")
		return fmt.Errorf("%s: %w", operation, errors.Join(domain.ErrGatewayUnavailable, err))
	}
}

func isGatewayFailure(err error) bool {
	return !errors.Is(err, domain.ErrInvalidNotification)
}

var _ domain.PaymentGateway = (*GuardedGateway)(nil)
