package portfolio

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinfolio/backend/internal/db"
	"github.com/coinfolio/backend/internal/market"
	"github.com/coinfolio/backend/internal/websocket"
)

type holdingKey struct {
	user uuid.UUID
	coin string
}

// fakeHoldings mirrors the SQL upsert semantics in memory
type fakeHoldings struct {
	mu          sync.Mutex
	rows        map[holdingKey]db.Holding
	order       []holdingKey
	updateErr   error
	priceWrites int
}

func newFakeHoldings() *fakeHoldings {
	return &fakeHoldings{rows: make(map[holdingKey]db.Holding)}
}

func (f *fakeHoldings) Upsert(_ context.Context, h *db.Holding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := holdingKey{h.UserID, h.CoinID}
	existing, ok := f.rows[k]
	if ok {
		total := existing.Amount.Add(h.Amount)
		h.PurchasePrice = existing.Amount.Mul(existing.PurchasePrice).Add(h.Amount.Mul(h.PurchasePrice)).Div(total)
		h.Amount = total
		h.CreatedAt = existing.CreatedAt
	} else {
		h.CreatedAt = h.UpdatedAt
		f.order = append(f.order, k)
	}
	h.CurrentValue = h.Amount.Mul(h.CurrentPrice)
	f.rows[k] = *h
	return nil
}

func (f *fakeHoldings) ListByUser(_ context.Context, userID uuid.UUID) ([]db.Holding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []db.Holding{}
	for _, k := range f.order {
		if h, ok := f.rows[k]; ok && k.user == userID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeHoldings) Delete(_ context.Context, userID uuid.UUID, coinID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := holdingKey{userID, coinID}
	if _, ok := f.rows[k]; !ok {
		return db.ErrHoldingNotFound
	}
	delete(f.rows, k)
	return nil
}

func (f *fakeHoldings) UpdatePrices(_ context.Context, userID uuid.UUID, prices map[string]decimal.Decimal, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	for coin, price := range prices {
		k := holdingKey{userID, coin}
		h, ok := f.rows[k]
		if !ok {
			continue
		}
		h.CurrentPrice = price
		h.CurrentValue = h.Amount.Mul(price)
		h.UpdatedAt = at
		f.rows[k] = h
		f.priceWrites++
	}
	return nil
}

func (f *fakeHoldings) HeldCoinIDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	out := []string{}
	for k := range f.rows {
		if !seen[k.coin] {
			seen[k.coin] = true
			out = append(out, k.coin)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeHoldings) UpdateCoinPrice(_ context.Context, coinID string, price decimal.Decimal, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, h := range f.rows {
		if k.coin != coinID {
			continue
		}
		h.CurrentPrice = price
		h.CurrentValue = h.Amount.Mul(price)
		h.UpdatedAt = at
		f.rows[k] = h
		n++
	}
	return n, nil
}

func (f *fakeHoldings) HoldersOf(_ context.Context, coinID string) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []uuid.UUID{}
	for k := range f.rows {
		if k.coin == coinID {
			out = append(out, k.user)
		}
	}
	return out, nil
}

func (f *fakeHoldings) get(userID uuid.UUID, coinID string) db.Holding {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[holdingKey{userID, coinID}]
}

type fakeCoins struct {
	mu    sync.Mutex
	coins map[string]db.Coin
}

func (f *fakeCoins) Upsert(_ context.Context, c *db.Coin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.coins == nil {
		f.coins = make(map[string]db.Coin)
	}
	f.coins[c.ID] = *c
	return nil
}

// fakePrices answers like the market gateway: unknown coins are not found
// and batch lookups map failures to zero
type fakePrices struct {
	mu       sync.Mutex
	info     map[string]market.CoinInfo
	prices   map[string]decimal.Decimal
	priceErr error
}

func newFakePrices() *fakePrices {
	return &fakePrices{
		info: map[string]market.CoinInfo{
			"btc-bitcoin":  {ID: "btc-bitcoin", Name: "Bitcoin", Symbol: "BTC", Rank: 1},
			"eth-ethereum": {ID: "eth-ethereum", Name: "Ethereum", Symbol: "ETH", Rank: 2},
		},
		prices: map[string]decimal.Decimal{},
	}
}

func (f *fakePrices) set(coinID string, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[coinID] = decimal.RequireFromString(price)
}

func (f *fakePrices) GetCoinInfo(_ context.Context, coinID string) (*market.CoinInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.info[coinID]
	if !ok {
		return nil, market.ErrCoinNotFound
	}
	return &info, nil
}

func (f *fakePrices) GetCoinCurrentPrice(_ context.Context, coinID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return decimal.Zero, f.priceErr
	}
	p, ok := f.prices[coinID]
	if !ok {
		return decimal.Zero, market.ErrCoinNotFound
	}
	return p, nil
}

func (f *fakePrices) GetCurrentPrices(_ context.Context, coinIDs []string) map[string]decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(coinIDs))
	for _, id := range coinIDs {
		out[id] = f.prices[id]
	}
	return out
}

type fakeExports struct {
	mu         sync.Mutex
	objects    map[string][]byte
	presignErr error
}

func (f *fakeExports) Put(_ context.Context, key string, body []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = body
	return nil
}

func (f *fakeExports) PresignedURL(_ context.Context, key, _ string) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return "https://storage.test/" + key + "?X-Amz-Signature=abc", nil
}

func (f *fakeExports) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeExports) URLExpiry() time.Duration { return 15 * time.Minute }

type fakeRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (f *fakeRecorder) Record(_ context.Context, _ uuid.UUID, action string, _ map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent map[uuid.UUID][]websocket.PriceUpdate
}

func (f *fakeNotifier) PricesRefreshed(userID uuid.UUID, prices []websocket.PriceUpdate, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[uuid.UUID][]websocket.PriceUpdate)
	}
	f.sent[userID] = append(f.sent[userID], prices...)
}

type fakeAlerts struct {
	watched []string
	seen    map[string]decimal.Decimal
	n       int
	err     error
}

func (f *fakeAlerts) WatchedCoinIDs(context.Context) ([]string, error) {
	return f.watched, nil
}

func (f *fakeAlerts) Evaluate(_ context.Context, prices map[string]decimal.Decimal) (int, error) {
	f.seen = prices
	return f.n, f.err
}

var errStorageDown = errors.New("storage down")

type testEnv struct {
	svc      *Service
	holdings *fakeHoldings
	coins    *fakeCoins
	prices   *fakePrices
	exports  *fakeExports
	recorder *fakeRecorder
	now      time.Time
}

func newTestEnv(withExports bool) *testEnv {
	env := &testEnv{
		holdings: newFakeHoldings(),
		coins:    &fakeCoins{},
		prices:   newFakePrices(),
		recorder: &fakeRecorder{},
		now:      time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	opts := Options{
		Holdings: env.holdings,
		Coins:    env.coins,
		Prices:   env.prices,
		Activity: env.recorder,
		Now:      func() time.Time { return env.now },
	}
	if withExports {
		env.exports = &fakeExports{}
		opts.Exports = env.exports
	}
	env.svc = NewService(opts)
	return env
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
