package portfolio

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/coinfolio/backend/internal/errors"
	"github.com/coinfolio/backend/internal/logger"
	"github.com/coinfolio/backend/internal/websocket"
)

// RefreshStore is what the background refresher needs from holdings storage
type RefreshStore interface {
	HeldCoinIDs(ctx context.Context) ([]string, error)
	UpdateCoinPrice(ctx context.Context, coinID string, price decimal.Decimal, at time.Time) (int64, error)
	HoldersOf(ctx context.Context, coinID string) ([]uuid.UUID, error)
}

type BatchPriceSource interface {
	GetCurrentPrices(ctx context.Context, coinIDs []string) map[string]decimal.Decimal
}

// AlertEvaluator fires alerts whose condition holds at the given prices.
// WatchedCoinIDs names coins with active alerts, which are priced even when
// nobody holds them.
type AlertEvaluator interface {
	WatchedCoinIDs(ctx context.Context) ([]string, error)
	Evaluate(ctx context.Context, prices map[string]decimal.Decimal) (int, error)
}

type PriceNotifier interface {
	PricesRefreshed(userID uuid.UUID, prices []websocket.PriceUpdate, at time.Time)
}

type RefreshMetrics interface {
	SetGauge(name string, value float64)
	AddCounter(name string, delta uint64)
}

type RefresherOptions struct {
	Store    RefreshStore
	Prices   BatchPriceSource
	Alerts   AlertEvaluator
	Notifier PriceNotifier
	Metrics  RefreshMetrics
	Now      func() time.Time
}

// Refresher periodically reprices every held coin, evaluates alerts and
// pushes the new prices to connected holders.
type Refresher struct {
	store    RefreshStore
	prices   BatchPriceSource
	alerts   AlertEvaluator
	notifier PriceNotifier
	metrics  RefreshMetrics
	log      *logger.Logger
	now      func() time.Time
}

func NewRefresher(opts RefresherOptions) *Refresher {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Refresher{
		store:    opts.Store,
		prices:   opts.Prices,
		alerts:   opts.Alerts,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		log:      logger.Default().WithComponent("price-refresher"),
		now:      now,
	}
}

// RefreshResult summarizes one refresh pass
type RefreshResult struct {
	Coins           int   `json:"coins"`
	Priced          int   `json:"priced"`
	HoldingsUpdated int64 `json:"holdings_updated"`
	AlertsTriggered int   `json:"alerts_triggered"`
}

// Run refreshes once immediately and then every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// Each run gets its own id so its log lines group together
		runCtx := logger.WithRequestID(ctx, apperrors.NewRequestID())
		if _, err := r.RefreshOnce(runCtx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error(runCtx, "price refresh failed", nil, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RefreshOnce reprices all held and watched coins. Coins the provider
// cannot price keep their stored price.
func (r *Refresher) RefreshOnce(ctx context.Context) (*RefreshResult, error) {
	start := r.now()
	result := &RefreshResult{}

	held, err := r.store.HeldCoinIDs(ctx)
	if err != nil {
		return nil, err
	}
	result.Coins = len(held)

	ids := held
	if r.alerts != nil {
		watched, err := r.alerts.WatchedCoinIDs(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.log.Warn(ctx, "failed to load watched coins", map[string]any{"cause": err.Error()})
		}
		ids = union(held, watched)
	}
	if len(ids) == 0 {
		return result, nil
	}

	fetched := r.prices.GetCurrentPrices(ctx, ids)
	at := r.now().UTC()

	isHeld := make(map[string]bool, len(held))
	for _, id := range held {
		isHeld[id] = true
	}

	priced := make(map[string]decimal.Decimal, len(ids))
	for _, id := range ids {
		price := fetched[id]
		if price.IsZero() {
			continue
		}
		if !isHeld[id] {
			priced[id] = price
			continue
		}
		n, err := r.store.UpdateCoinPrice(ctx, id, price, at)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.log.Warn(ctx, "failed to store refreshed price", map[string]any{"coin_id": id, "cause": err.Error()})
			continue
		}
		priced[id] = price
		result.HoldingsUpdated += n
	}
	result.Priced = len(priced)

	if r.alerts != nil && len(priced) > 0 {
		n, err := r.alerts.Evaluate(ctx, priced)
		if err != nil {
			r.log.Error(ctx, "alert evaluation failed", nil, err)
		}
		result.AlertsTriggered = n
	}

	if r.notifier != nil {
		r.notify(ctx, priced, at)
	}

	if r.metrics != nil {
		r.metrics.SetGauge("held_coins", float64(result.Coins))
		r.metrics.SetGauge("price_refresh_last_success_timestamp", float64(at.Unix()))
		r.metrics.AddCounter("holdings_repriced", uint64(result.HoldingsUpdated))
	}

	r.log.Info(ctx, "prices refreshed", map[string]any{
		"coins":            result.Coins,
		"priced":           result.Priced,
		"holdings_updated": result.HoldingsUpdated,
		"alerts_triggered": result.AlertsTriggered,
		"duration_ms":      r.now().Sub(start).Milliseconds(),
	})
	return result, nil
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// notify sends each holder the new prices of the coins they hold
func (r *Refresher) notify(ctx context.Context, priced map[string]decimal.Decimal, at time.Time) {
	coinIDs := make([]string, 0, len(priced))
	for id := range priced {
		coinIDs = append(coinIDs, id)
	}
	sort.Strings(coinIDs)

	perUser := make(map[uuid.UUID][]websocket.PriceUpdate)
	for _, id := range coinIDs {
		holders, err := r.store.HoldersOf(ctx, id)
		if err != nil {
			r.log.Warn(ctx, "failed to load holders", map[string]any{"coin_id": id, "cause": err.Error()})
			continue
		}
		for _, userID := range holders {
			perUser[userID] = append(perUser[userID], websocket.PriceUpdate{CoinID: id, Price: priced[id]})
		}
	}

	for userID, updates := range perUser {
		r.notifier.PricesRefreshed(userID, updates, at)
	}
}
