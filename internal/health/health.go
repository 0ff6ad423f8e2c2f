// Package health отдаёт liveness/readiness пробы ops-сервера.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status представляет статус компонента
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const defaultCheckTimeout = 2 * time.Second

// Check — результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response представляет ответ health check
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент.
type Checker interface {
	Check(ctx context.Context) Check
}

// Pinger — всё, что умеет проверить своё соединение: PostgreSQL, Redis, Kafka.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler агрегирует проверки компонентов.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	timeout   time.Duration
	startTime time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		timeout:   defaultCheckTimeout,
		startTime: time.Now(),
	}
}

// RegisterChecker регистрирует проверку компонента
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Names возвращает зарегистрированные проверки по алфавиту.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate выполняет все проверки параллельно и сводит общий статус.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]Check, len(checkers))
		g      errgroup.Group
	)
	for name, checker := range checkers {
		g.Go(func() error {
			check := checker.Check(ctx)
			mu.Lock()
			checks[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	for _, check := range checks {
		switch {
		case check.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case check.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	return Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
}

// ServeHTTP отдаёт полный отчёт в JSON; 503, если хоть один критичный компонент лежит.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Evaluate(r.Context())

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler простой liveness probe (всегда возвращает 200)
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler — 200 "ready", пока нет unhealthy компонентов. Degraded не мешает принимать трафик.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.Evaluate(r.Context()).Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// PingChecker проверяет соединение через Ping.
// Некритичный компонент при ошибке даёт degraded, а не unhealthy.
type PingChecker struct {
	name     string
	pinger   Pinger
	critical bool
}

// NewPingChecker создаёт проверку соединения.
func NewPingChecker(name string, pinger Pinger, critical bool) *PingChecker {
	return &PingChecker{name: name, pinger: pinger, critical: critical}
}

func (c *PingChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.pinger.Ping(ctx)
	check := Check{Name: c.name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err == nil {
		return check
	}

	check.Message = err.Error()
	check.Status = StatusDegraded
	if c.critical {
		check.Status = StatusUnhealthy
	}
	return check
}

// PingFunc адаптирует функцию к Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }
