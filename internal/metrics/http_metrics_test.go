package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetricsWithRegisterer(reg)

	m.Observe("/api/checkout", http.MethodPost, http.StatusCreated, 30*time.Millisecond)
	m.Observe("/api/checkout", http.MethodPost, http.StatusConflict, 10*time.Millisecond)
	m.Observe("", http.MethodGet, http.StatusNotFound, time.Millisecond)

	if got := testutil.ToFloat64(m.Requests("/api/checkout", http.MethodPost, http.StatusCreated)); got != 1 {
		t.Fatalf("expected 1 created request, got %v", got)
	}
	if got := testutil.ToFloat64(m.Requests("unmatched", http.MethodGet, http.StatusNotFound)); got != 1 {
		t.Fatalf("expected unmatched route label, got %v", got)
	}
	if got := testutil.CollectAndCount(m.duration, "storefront_http_request_duration_seconds"); got != 2 {
		t.Fatalf("expected 2 duration series, got %d", got)
	}
}

func TestHTTPMetrics_NilSafe(t *testing.T) {
	var m *HTTPMetrics
	m.Observe("/x", http.MethodGet, http.StatusOK, time.Millisecond)
}
