package metrics

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const namespace = "coinfolio"

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Request metrics
	requestCount    map[string]*uint64    // endpoint:method -> count
	requestDuration map[string]*Histogram // endpoint:method -> duration histogram
	requestErrors   map[string]*uint64    // endpoint:method:status_class -> count

	// Market gateway metrics
	cacheHits        uint64
	cacheMisses      uint64
	rateLimited      uint64
	upstreamRequests map[string]*uint64    // endpoint:status -> count
	upstreamDuration map[string]*Histogram // endpoint -> duration histogram

	// Application metrics
	activeWSConnections int64

	// Custom gauges and counters
	gauges   map[string]float64
	counters map[string]*uint64

	startTime time.Time
}

// Histogram tracks value distributions
type Histogram struct {
	mu    sync.Mutex
	count uint64
	sum   float64
	// Buckets: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s
	buckets    []float64
	bucketVals []uint64
}

// NewHistogram creates a new histogram with default buckets
func NewHistogram() *Histogram {
	return &Histogram{
		buckets:    []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		bucketVals: make([]uint64, 11),
	}
}

// Observe records a value
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.buckets {
		if v <= b {
			h.bucketVals[i]++
		}
	}
}

// New creates a new Metrics instance
func New() *Metrics {
	return &Metrics{
		requestCount:     make(map[string]*uint64),
		requestDuration:  make(map[string]*Histogram),
		requestErrors:    make(map[string]*uint64),
		upstreamRequests: make(map[string]*uint64),
		upstreamDuration: make(map[string]*Histogram),
		gauges:           make(map[string]float64),
		counters:         make(map[string]*uint64),
		startTime:        time.Now(),
	}
}

// global metrics instance
var defaultMetrics = New()

// Default returns the default metrics instance
func Default() *Metrics {
	return defaultMetrics
}

// RecordRequest records a request
func (m *Metrics) RecordRequest(method, path string, statusCode int, duration time.Duration) {
	key := fmt.Sprintf("%s:%s", normalizeEndpoint(path), method)

	m.counter(m.requestCount, key)
	m.histogram(m.requestDuration, key).Observe(duration.Seconds())

	// Track errors by status class
	if statusCode >= 400 {
		errorKey := fmt.Sprintf("%s:%d", key, statusCode/100*100)
		m.counter(m.requestErrors, errorKey)
	}
}

// CacheHit counts a market request answered from cache
func (m *Metrics) CacheHit() {
	atomic.AddUint64(&m.cacheHits, 1)
}

// CacheMiss counts a market request that had to go upstream
func (m *Metrics) CacheMiss() {
	atomic.AddUint64(&m.cacheMisses, 1)
}

// UpstreamRequest records one call to the market data provider. A zero
// status means the call failed before a response arrived.
func (m *Metrics) UpstreamRequest(endpoint string, statusCode int, duration time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = fmt.Sprintf("%d", statusCode)
	}
	m.counter(m.upstreamRequests, endpoint+":"+status)
	m.histogram(m.upstreamDuration, endpoint).Observe(duration.Seconds())
}

// RateLimited counts requests refused by the outbound rate limiter
func (m *Metrics) RateLimited() {
	atomic.AddUint64(&m.rateLimited, 1)
}

// counter increments the named entry of set, creating it on first use
func (m *Metrics) counter(set map[string]*uint64, key string) {
	m.mu.RLock()
	c := set[key]
	m.mu.RUnlock()

	if c == nil {
		m.mu.Lock()
		if c = set[key]; c == nil {
			c = new(uint64)
			set[key] = c
		}
		m.mu.Unlock()
	}
	atomic.AddUint64(c, 1)
}

func (m *Metrics) histogram(set map[string]*Histogram, key string) *Histogram {
	m.mu.RLock()
	h := set[key]
	m.mu.RUnlock()
	if h != nil {
		return h
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h = set[key]; h == nil {
		h = NewHistogram()
		set[key] = h
	}
	return h
}

// collections whose next path segment is an identifier
var idCollections = map[string]bool{
	"coins":     true,
	"portfolio": true,
	"alerts":    true,
}

// normalizeEndpoint normalizes an endpoint path for metrics (removes IDs)
func normalizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		switch {
		case part == "":
		case i > 0 && idCollections[parts[i-1]] && part != "export":
			parts[i] = "{id}"
		case len(part) == 36 && strings.Count(part, "-") == 4:
			parts[i] = "{id}"
		case isNumeric(part):
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// SetWSConnections sets the active WebSocket connections count
func (m *Metrics) SetWSConnections(count int64) {
	atomic.StoreInt64(&m.activeWSConnections, count)
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	atomic.AddInt64(&m.activeWSConnections, 1)
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	atomic.AddInt64(&m.activeWSConnections, -1)
}

// SetGauge sets a gauge value
func (m *Metrics) SetGauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

// IncCounter increments a counter
func (m *Metrics) IncCounter(name string) {
	m.AddCounter(name, 1)
}

// AddCounter adds delta to a counter
func (m *Metrics) AddCounter(name string, delta uint64) {
	m.mu.Lock()
	if m.counters[name] == nil {
		m.counters[name] = new(uint64)
	}
	c := m.counters[name]
	m.mu.Unlock()
	atomic.AddUint64(c, delta)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		writeMetric(&sb, "uptime_seconds", "gauge", "Time since the server started")
		fmt.Fprintf(&sb, "%s_uptime_seconds %f\n\n", namespace, time.Since(m.startTime).Seconds())

		writeMetric(&sb, "websocket_connections_active", "gauge", "Active WebSocket connections")
		fmt.Fprintf(&sb, "%s_websocket_connections_active %d\n\n", namespace, atomic.LoadInt64(&m.activeWSConnections))

		writeMetric(&sb, "market_cache_hits_total", "counter", "Market requests served from cache")
		fmt.Fprintf(&sb, "%s_market_cache_hits_total %d\n\n", namespace, atomic.LoadUint64(&m.cacheHits))

		writeMetric(&sb, "market_cache_misses_total", "counter", "Market requests that missed the cache")
		fmt.Fprintf(&sb, "%s_market_cache_misses_total %d\n\n", namespace, atomic.LoadUint64(&m.cacheMisses))

		writeMetric(&sb, "market_rate_limited_total", "counter", "Market requests refused by the outbound rate limiter")
		fmt.Fprintf(&sb, "%s_market_rate_limited_total %d\n\n", namespace, atomic.LoadUint64(&m.rateLimited))

		m.mu.RLock()
		defer m.mu.RUnlock()

		if len(m.requestCount) > 0 {
			writeMetric(&sb, "http_requests_total", "counter", "Total HTTP requests")
			for _, key := range sortedKeys(m.requestCount) {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) == 2 {
					fmt.Fprintf(&sb, "%s_http_requests_total{endpoint=\"%s\",method=\"%s\"} %d\n",
						namespace, parts[0], parts[1], atomic.LoadUint64(m.requestCount[key]))
				}
			}
			sb.WriteString("\n")
		}

		if len(m.requestDuration) > 0 {
			writeMetric(&sb, "http_request_duration_seconds", "histogram", "HTTP request latency")
			for _, key := range sortedKeys(m.requestDuration) {
				parts := strings.SplitN(key, ":", 2)
				if len(parts) == 2 {
					labels := fmt.Sprintf("endpoint=\"%s\",method=\"%s\"", parts[0], parts[1])
					writeHistogram(&sb, "http_request_duration_seconds", labels, m.requestDuration[key])
				}
			}
			sb.WriteString("\n")
		}

		if len(m.requestErrors) > 0 {
			writeMetric(&sb, "http_errors_total", "counter", "Total HTTP errors by status class")
			for _, key := range sortedKeys(m.requestErrors) {
				// key format: endpoint:method:statusClass
				parts := strings.Split(key, ":")
				if len(parts) >= 3 {
					fmt.Fprintf(&sb, "%s_http_errors_total{endpoint=\"%s\",method=\"%s\",status_class=\"%sxx\"} %d\n",
						namespace, parts[0], parts[1], parts[2][:1], atomic.LoadUint64(m.requestErrors[key]))
				}
			}
			sb.WriteString("\n")
		}

		if len(m.upstreamRequests) > 0 {
			writeMetric(&sb, "market_upstream_requests_total", "counter", "Calls to the market data provider")
			for _, key := range sortedKeys(m.upstreamRequests) {
				endpoint, status, _ := strings.Cut(key, ":")
				fmt.Fprintf(&sb, "%s_market_upstream_requests_total{endpoint=\"%s\",status=\"%s\"} %d\n",
					namespace, endpoint, status, atomic.LoadUint64(m.upstreamRequests[key]))
			}
			sb.WriteString("\n")
		}

		if len(m.upstreamDuration) > 0 {
			writeMetric(&sb, "market_upstream_duration_seconds", "histogram", "Market data provider latency")
			for _, key := range sortedKeys(m.upstreamDuration) {
				writeHistogram(&sb, "market_upstream_duration_seconds", fmt.Sprintf("endpoint=\"%s\"", key), m.upstreamDuration[key])
			}
			sb.WriteString("\n")
		}

		if len(m.gauges) > 0 {
			writeMetric(&sb, "gauge", "gauge", "Custom gauge metrics")
			keys := make([]string, 0, len(m.gauges))
			for k := range m.gauges {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, name := range keys {
				fmt.Fprintf(&sb, "%s_gauge{name=\"%s\"} %f\n", namespace, name, m.gauges[name])
			}
			sb.WriteString("\n")
		}

		if len(m.counters) > 0 {
			writeMetric(&sb, "counter", "counter", "Custom counter metrics")
			for _, name := range sortedKeys(m.counters) {
				fmt.Fprintf(&sb, "%s_counter{name=\"%s\"} %d\n", namespace, name, atomic.LoadUint64(m.counters[name]))
			}
		}

		w.Write([]byte(sb.String()))
	}
}

func writeMetric(sb *strings.Builder, name, kind, help string) {
	fmt.Fprintf(sb, "# HELP %s_%s %s\n", namespace, name, help)
	fmt.Fprintf(sb, "# TYPE %s_%s %s\n", namespace, name, kind)
}

func writeHistogram(sb *strings.Builder, name, labels string, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, bucket := range h.buckets {
		fmt.Fprintf(sb, "%s_%s_bucket{%s,le=\"%g\"} %d\n", namespace, name, labels, bucket, h.bucketVals[i])
	}
	fmt.Fprintf(sb, "%s_%s_bucket{%s,le=\"+Inf\"} %d\n", namespace, name, labels, h.count)
	fmt.Fprintf(sb, "%s_%s_sum{%s} %f\n", namespace, name, labels, h.sum)
	fmt.Fprintf(sb, "%s_%s_count{%s} %d\n", namespace, name, labels, h.count)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MetricsMiddleware creates middleware that records request metrics
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &statusResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			m.RecordRequest(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *statusResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
