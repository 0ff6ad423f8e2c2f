package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics — метрики публичного HTTP API.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetricsWithRegisterer регистрирует метрики HTTP API.
func NewHTTPMetricsWithRegisterer(registerer prometheus.Registerer) *HTTPMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &HTTPMetrics{
		requests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "Total number of HTTP API requests grouped by route, method and status code",
		}, []string{"route", "method", "code"}),
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// Observe записывает завершённый запрос.
func (m *HTTPMetrics) Observe(route, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// Requests возвращает счётчик по набору меток, используется в тестах.
func (m *HTTPMetrics) Requests(route, method string, code int) prometheus.Counter {
	return m.requests.WithLabelValues(route, method, strconv.Itoa(code))
}
