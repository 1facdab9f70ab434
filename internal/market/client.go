// Package market is the single gateway for outbound calls to the market data
// provider. Every call goes through Gateway.Request, which caches responses by
// canonical URL and spends rate limiter tokens only on cache misses.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/coinfolio/backend/internal/cache"
	apperrors "github.com/coinfolio/backend/internal/errors"
	"github.com/coinfolio/backend/internal/logger"
)

const (
	DefaultBaseURL   = "https://api.coinpaprika.com/v1"
	userAgent        = "Coinfolio/1.0 (+https://github.com/coinfolio/backend)"
	defaultTimeout   = 10 * time.Second
	defaultQueueWait = 10 * time.Second
	maxBodyBytes     = 8 << 20
)

// Recorder receives gateway metrics
type Recorder interface {
	CacheHit()
	CacheMiss()
	UpstreamRequest(endpoint string, statusCode int, duration time.Duration)
	RateLimited()
}

type nopRecorder struct{}

func (nopRecorder) CacheHit()                                  {}
func (nopRecorder) CacheMiss()                                 {}
func (nopRecorder) UpstreamRequest(string, int, time.Duration) {}
func (nopRecorder) RateLimited()                               {}

// Options configures a Gateway. Cache and Limiter are required.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	Cache          cache.Store
	Limiter        *rate.Limiter
	MaxQueueWait   time.Duration
	MaxConcurrency int
	// Retry enables retries of retryable upstream failures. Nil disables them.
	Retry      *apperrors.RetryConfig
	HTTPClient *http.Client
	Metrics    Recorder
	Logger     *logger.Logger
	Now        func() time.Time
}

// NewLimiter returns a token bucket allowing perMinute requests with the given burst
func NewLimiter(perMinute, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}

// Gateway provides cached, rate limited access to the market data provider
type Gateway struct {
	baseURL        string
	httpClient     *http.Client
	cache          cache.Store
	limiter        *rate.Limiter
	maxQueueWait   time.Duration
	maxConcurrency int
	timeout        time.Duration
	retry          *apperrors.RetryConfig
	metrics        Recorder
	log            *logger.Logger
	now            func() time.Time
	flight         singleflight.Group
}

// New creates a Gateway
func New(opts Options) *Gateway {
	g := &Gateway{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		httpClient:     opts.HTTPClient,
		cache:          opts.Cache,
		limiter:        opts.Limiter,
		maxQueueWait:   opts.MaxQueueWait,
		maxConcurrency: opts.MaxConcurrency,
		retry:          opts.Retry,
		metrics:        opts.Metrics,
		log:            opts.Logger,
		now:            opts.Now,
	}
	if g.baseURL == "" {
		g.baseURL = DefaultBaseURL
	}
	g.timeout = opts.Timeout
	if g.timeout <= 0 {
		g.timeout = defaultTimeout
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: g.timeout}
	}
	if g.maxQueueWait <= 0 {
		g.maxQueueWait = defaultQueueWait
	}
	if g.maxConcurrency <= 0 {
		g.maxConcurrency = 8
	}
	if g.metrics == nil {
		g.metrics = nopRecorder{}
	}
	if g.log == nil {
		g.log = logger.Default().WithComponent("market")
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// CanonicalURL returns the cache key for an endpoint and parameter set.
// Parameters are sorted by key so equal sets produce equal keys.
func (g *Gateway) CanonicalURL(endpoint string, params url.Values) string {
	u := g.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// Request returns the raw JSON body for endpoint, from cache when a fresh
// entry exists. Concurrent misses for the same URL share one upstream call.
// The shared call is detached from every caller's cancellation and bounded
// by fetchBudget; a caller whose ctx ends stops waiting for it alone.
func (g *Gateway) Request(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	key := g.CanonicalURL(endpoint, params)

	if body, ok := g.cache.Get(ctx, key); ok {
		g.metrics.CacheHit()
		return body, nil
	}
	g.metrics.CacheMiss()

	ch := g.flight.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.fetchBudget())
		defer cancel()

		// Another caller may have filled the entry while this one queued.
		if body, ok := g.cache.Get(fetchCtx, key); ok {
			return body, nil
		}

		body, err := g.fetch(fetchCtx, endpoint, key)
		if err != nil {
			return nil, err
		}

		if err := g.cache.Set(fetchCtx, key, body); err != nil {
			g.log.Warn(fetchCtx, "failed to cache market response", map[string]any{"url": key, "cause": err.Error()})
		}
		return body, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// fetchBudget bounds one shared upstream call: every attempt may queue for
// a token and then run to the client timeout, plus the backoff between
// attempts with its jitter.
func (g *Gateway) fetchBudget() time.Duration {
	attempts := 1
	var backoff time.Duration
	if g.retry != nil {
		attempts += g.retry.MaxRetries
		backoff = time.Duration(g.retry.MaxRetries) * (g.retry.MaxBackoff + g.retry.MaxBackoff/4)
	}
	return time.Duration(attempts)*(g.maxQueueWait+g.timeout) + backoff
}

// Ping checks that the provider answers. A fresh cached answer counts, so
// probes do not spend rate limiter tokens more than once per TTL.
func (g *Gateway) Ping(ctx context.Context) error {
	_, err := g.Request(ctx, "/global", nil)
	return err
}

func (g *Gateway) fetch(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	if g.retry == nil {
		return g.fetchOnce(ctx, endpoint, rawURL)
	}
	return apperrors.RetryWithResult(ctx, g.retry, func(ctx context.Context) ([]byte, error) {
		return g.fetchOnce(ctx, endpoint, rawURL)
	})
}

func (g *Gateway) fetchOnce(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.metrics.UpstreamRequest(endpointLabel(endpoint), 0, time.Since(start))
		return nil, &GatewayError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()
	g.metrics.UpstreamRequest(endpointLabel(endpoint), resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &GatewayError{Endpoint: endpoint, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &GatewayError{Endpoint: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}
	if !json.Valid(body) {
		return nil, &GatewayError{Endpoint: endpoint, Err: errInvalidJSON}
	}

	g.log.Debug(ctx, "market data fetched", map[string]any{
		"endpoint":    endpoint,
		"duration_ms": time.Since(start).Milliseconds(),
		"bytes":       len(body),
	})
	return body, nil
}

// wait blocks until the limiter grants a token or the queue wait is exhausted
func (g *Gateway) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, g.maxQueueWait)
	defer cancel()

	if err := g.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.metrics.RateLimited()
		g.log.Warn(ctx, "market data rate limit exceeded", map[string]any{"max_wait": g.maxQueueWait.String()})
		return ErrRateLimited
	}
	return nil
}

// endpointLabel reduces an endpoint to its first path segment for metrics
func endpointLabel(endpoint string) string {
	trimmed := strings.TrimPrefix(endpoint, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return "/" + trimmed
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("failed to parse response: %w", err)
	}
	return v, nil
}

// propagates reports errors that must not be folded into a degraded result
// or a not-found answer. A context error inside a GatewayError is the
// upstream call timing out, not the caller giving up.
func propagates(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
