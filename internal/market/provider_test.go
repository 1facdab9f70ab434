package market

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/coinfolio/backend/internal/cache"
)

type fixtureCoin struct {
	ID     string
	Name   string
	Symbol string
	Rank   int
	Price  float64
	Change float64
	IsNew  bool
}

var defaultFixtures = []fixtureCoin{
	{ID: "btc-bitcoin", Name: "Bitcoin", Symbol: "BTC", Rank: 1, Price: 20000, Change: 1.5},
	{ID: "eth-ethereum", Name: "Ethereum", Symbol: "ETH", Rank: 2, Price: 1500.25, Change: -3.2},
	{ID: "doge-dogecoin", Name: "Dogecoin", Symbol: "DOGE", Rank: 3, Price: 0.07, Change: 12},
	{ID: "new-newcoin", Name: "Newcoin", Symbol: "NEW", Rank: 0, Price: 1, Change: -20, IsNew: true},
}

// fakeProvider imitates the market data API and counts requests
type fakeProvider struct {
	t *testing.T

	mu      sync.Mutex
	coins   []fixtureCoin
	hits    map[string]int
	uris    []string
	fail    map[string]int
	candles int
	delay   time.Duration
	body    string
}

func newFakeProvider(t *testing.T) (*fakeProvider, *httptest.Server) {
	p := &fakeProvider{
		t:       t,
		coins:   defaultFixtures,
		hits:    make(map[string]int),
		fail:    make(map[string]int),
		candles: 3,
	}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return p, srv
}

// failWith makes requests to key answer with status. key is a path or a
// path with its encoded query.
func (p *fakeProvider) failWith(key string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[key] = status
}

func (p *fakeProvider) setBody(body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.body = body
}

func (p *fakeProvider) setDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

func (p *fakeProvider) setCandles(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles = n
}

func (p *fakeProvider) clearFailures() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = make(map[string]int)
}

func (p *fakeProvider) hitCount(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[path]
}

func (p *fakeProvider) totalHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.uris)
}

func (p *fakeProvider) lastURI() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.uris) == 0 {
		return ""
	}
	return p.uris[len(p.uris)-1]
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.hits[r.URL.Path]++
	p.uris = append(p.uris, r.URL.RequestURI())
	status, failing := p.fail[r.URL.RequestURI()]
	if !failing {
		status, failing = p.fail[r.URL.Path]
	}
	delay, body, candles, coins := p.delay, p.body, p.candles, p.coins
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failing {
		w.WriteHeader(status)
		return
	}
	if body != "" {
		w.Write([]byte(body))
		return
	}

	path := r.URL.Path
	switch {
	case path == "/tickers":
		list := make([]any, 0, len(coins))
		for _, c := range coins {
			list = append(list, tickerFixture(c))
		}
		writeFixture(w, list)
	case strings.HasPrefix(path, "/tickers/"):
		c, ok := findCoin(coins, strings.TrimPrefix(path, "/tickers/"))
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeFixture(w, tickerFixture(c))
	case path == "/coins":
		list := make([]any, 0, len(coins))
		for _, c := range coins {
			list = append(list, coinFixture(c))
		}
		writeFixture(w, list)
	case strings.HasSuffix(path, "/ohlcv/today"):
		writeFixture(w, candleFixtures(1))
	case strings.HasSuffix(path, "/ohlcv/historical"):
		writeFixture(w, candleFixtures(candles))
	case strings.HasPrefix(path, "/coins/"):
		c, ok := findCoin(coins, strings.TrimPrefix(path, "/coins/"))
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeFixture(w, coinFixture(c))
	case path == "/global":
		writeFixture(w, map[string]any{"market_cap_usd": 1, "cryptocurrencies_number": len(coins)})
	case path == "/search":
		q := strings.ToLower(r.URL.Query().Get("q"))
		matches := []any{}
		for _, c := range coins {
			if strings.Contains(strings.ToLower(c.Name), q) || strings.EqualFold(c.Symbol, q) {
				matches = append(matches, coinFixture(c))
			}
		}
		writeFixture(w, map[string]any{"currencies": matches})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func findCoin(coins []fixtureCoin, id string) (fixtureCoin, bool) {
	for _, c := range coins {
		if c.ID == id {
			return c, true
		}
	}
	return fixtureCoin{}, false
}

func tickerFixture(c fixtureCoin) map[string]any {
	return map[string]any{
		"id":     c.ID,
		"name":   c.Name,
		"symbol": c.Symbol,
		"rank":   c.Rank,
		"quotes": map[string]any{
			"USD": map[string]any{
				"price":              c.Price,
				"volume_24h":         1000000,
				"market_cap":         c.Price * 1000,
				"percent_change_24h": c.Change,
			},
		},
		"last_updated": "2024-03-01T12:00:00Z",
	}
}

func coinFixture(c fixtureCoin) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"name":        c.Name,
		"symbol":      c.Symbol,
		"rank":        c.Rank,
		"is_new":      c.IsNew,
		"is_active":   true,
		"type":        "coin",
		"description": c.Name + " description",
		"started_at":  "2009-01-03T00:00:00Z",
		"tags":        []map[string]string{{"name": "Cryptocurrency"}},
	}
}

func candleFixtures(n int) []map[string]any {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		day := start.AddDate(0, 0, i)
		out = append(out, map[string]any{
			"time_open":  day.Format(time.RFC3339),
			"time_close": day.Add(24*time.Hour - time.Second).Format(time.RFC3339),
			"open":       100 + i,
			"high":       110 + i,
			"low":        90 + i,
			"close":      105 + i,
			"volume":     1000,
			"market_cap": 5000,
		})
	}
	return out
}

func writeFixture(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(fmt.Sprintf("encode fixture: %v", err))
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const testTTL = 5 * time.Minute

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
}

// newTestGateway returns a gateway against srv with an unlimited rate limiter
func newTestGateway(t *testing.T, srv *httptest.Server, clock *testClock, mutate ...func(*Options)) *Gateway {
	t.Helper()
	store, err := cache.NewMemory(100, testTTL, clock.Now)
	require.NoError(t, err)

	opts := Options{
		BaseURL:      srv.URL,
		Timeout:      2 * time.Second,
		Cache:        store,
		Limiter:      rate.NewLimiter(rate.Inf, 1),
		MaxQueueWait: 50 * time.Millisecond,
		Now:          clock.Now,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return New(opts)
}
