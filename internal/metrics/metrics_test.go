package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_RecordRequest(t *testing.T) {
	m := New()

	m.RecordRequest("GET", "/api/v1/health", 200, 100*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/health", 200, 150*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/health", 500, 50*time.Millisecond)

	// Request the metrics handler
	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "coinfolio_http_requests_total") {
		t.Error("expected coinfolio_http_requests_total metric")
	}
	if !strings.Contains(body, "coinfolio_http_request_duration_seconds") {
		t.Error("expected coinfolio_http_request_duration_seconds metric")
	}
}

func TestMetrics_WSConnections(t *testing.T) {
	m := New()

	m.IncWSConnections()
	m.IncWSConnections()
	m.DecWSConnections()

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "coinfolio_websocket_connections_active 1") {
		t.Errorf("expected coinfolio_websocket_connections_active 1, got:\n%s", body)
	}
}

func TestMetrics_MarketRecorder(t *testing.T) {
	m := New()

	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()
	m.RateLimited()
	m.UpstreamRequest("/tickers", 200, 120*time.Millisecond)
	m.UpstreamRequest("/tickers", 0, 10*time.Second)

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	for _, want := range []string{
		"coinfolio_market_cache_hits_total 2",
		"coinfolio_market_cache_misses_total 1",
		"coinfolio_market_rate_limited_total 1",
		`coinfolio_market_upstream_requests_total{endpoint="/tickers",status="200"} 1`,
		`coinfolio_market_upstream_requests_total{endpoint="/tickers",status="error"} 1`,
		`coinfolio_market_upstream_duration_seconds_count{endpoint="/tickers"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics, got:\n%s", want, body)
		}
	}
}

func TestMetrics_Uptime(t *testing.T) {
	m := New()

	// Wait a bit to ensure uptime is > 0
	time.Sleep(10 * time.Millisecond)

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "coinfolio_uptime_seconds") {
		t.Error("expected coinfolio_uptime_seconds metric")
	}
}

func TestMetrics_EndpointNormalization(t *testing.T) {
	m := New()

	// These should be normalized to the same endpoint
	m.RecordRequest("DELETE", "/api/v1/alerts/123e4567-e89b-12d3-a456-426614174000", 200, 10*time.Millisecond)
	m.RecordRequest("DELETE", "/api/v1/alerts/550e8400-e29b-41d4-a716-446655440000", 200, 10*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/market/coins/btc-bitcoin/history", 200, 10*time.Millisecond)
	m.RecordRequest("POST", "/api/v1/portfolio/export", 200, 10*time.Millisecond)

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	for _, want := range []string{
		`endpoint="/api/v1/alerts/{id}",method="DELETE"} 2`,
		`endpoint="/api/v1/market/coins/{id}/history"`,
		`endpoint="/api/v1/portfolio/export"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s, got:\n%s", want, body)
		}
	}
}

func TestMetricsMiddleware(t *testing.T) {
	m := New()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wrappedHandler := MetricsMiddleware(m)(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/test", nil)
	w := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	// Check that metrics were recorded
	metricsHandler := m.Handler()
	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsW := httptest.NewRecorder()

	metricsHandler(metricsW, metricsReq)

	body := metricsW.Body.String()

	if !strings.Contains(body, "/api/v1/test") {
		t.Errorf("expected endpoint /api/v1/test in metrics, got:\n%s", body)
	}
}

func TestMetrics_CustomCounter(t *testing.T) {
	m := New()

	m.IncCounter("alerts_triggered")
	m.AddCounter("alerts_triggered", 2)
	m.IncCounter("sessions_purged")

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	if !strings.Contains(body, `coinfolio_counter{name="alerts_triggered"} 3`) {
		t.Errorf("expected alerts_triggered counter = 3, got:\n%s", body)
	}
}

func TestMetrics_CustomGauge(t *testing.T) {
	m := New()

	m.SetGauge("holdings_refreshed", 3.0)

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	if !strings.Contains(body, `coinfolio_gauge{name="holdings_refreshed"}`) {
		t.Errorf("expected holdings_refreshed gauge, got:\n%s", body)
	}
}
