package payment

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ErrCircuitOpen — breaker разомкнут, вызов шлюза не выполнялся.
var ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", domain.ErrGatewayUnavailable)

// CircuitState — состояние breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker размыкается после maxFailures подряд и через resetTimeout
// пропускает одну пробную попытку.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
	probing     bool
	logger      *log.Entry
}

// NewCircuitBreaker создаёт breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	if maxFailures < 1 {
		maxFailures = 1
	}

	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		state:        CircuitClosed,
		logger:       logger,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет fn через breaker. countable решает, считать ли ошибку отказом шлюза.
func (cb *CircuitBreaker) Execute(operation string, fn func() error, countable func(error) bool) error {
	if err := cb.before(operation); err != nil {
		return err
	}

	err := fn()
	cb.after(operation, err, countable)
	return err
}

func (cb *CircuitBreaker) before(operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) <= cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.probing = true
		cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
	case CircuitHalfOpen:
		// Пока идёт пробный вызов, остальные отбиваются.
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) after(operation string, err error, countable func(error) bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if err != nil && (countable == nil || countable(err)) {
		cb.failures++
		cb.lastFailure = cb.now()

		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			if cb.state != CircuitOpen {
				cb.logger.WithFields(log.Fields{
					"operation": operation,
					"failures":  cb.failures,
				}).Warn("circuit breaker opened")
			}
			cb.state = CircuitOpen
		}
		return
	}

	if cb.state == CircuitHalfOpen {
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.state = CircuitClosed
	cb.failures = 0
}

// IsOpenError сообщает, что вызов отбит breaker-ом.
func IsOpenError(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
