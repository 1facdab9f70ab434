package market

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func usdParams() url.Values {
	return url.Values{"quotes": {"USD"}}
}

// ListTickers returns the provider's full ticker listing
func (g *Gateway) ListTickers(ctx context.Context) ([]TickerCoin, error) {
	raw, err := g.Request(ctx, "/tickers", usdParams())
	if err != nil {
		return nil, err
	}
	tickers, err := decode[[]tickerResponse](raw)
	if err != nil {
		return nil, err
	}
	out := make([]TickerCoin, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, t.toTickerCoin())
	}
	return out, nil
}

func (g *Gateway) ticker(ctx context.Context, coinID string) (tickerResponse, error) {
	raw, err := g.Request(ctx, "/tickers/"+url.PathEscape(coinID), usdParams())
	if err != nil {
		return tickerResponse{}, err
	}
	return decode[tickerResponse](raw)
}

// GetCurrentPrices returns USD prices keyed by coin id. With no ids it maps
// every coin of the full listing. Ids whose lookup fails map to zero, so the
// result has an entry for every requested id.
func (g *Gateway) GetCurrentPrices(ctx context.Context, coinIDs []string) map[string]decimal.Decimal {
	if len(coinIDs) == 0 {
		prices := make(map[string]decimal.Decimal)
		tickers, err := g.ListTickers(ctx)
		if err != nil {
			g.log.Warn(ctx, "ticker listing failed", map[string]any{"cause": err.Error()})
			return prices
		}
		for _, t := range tickers {
			prices[t.ID] = t.Price
		}
		return prices
	}

	// Every id gets its zero before any lookup starts, so a lookup never
	// races with the placeholder of a duplicate.
	prices := make(map[string]decimal.Decimal, len(coinIDs))
	unique := make([]string, 0, len(coinIDs))
	for _, id := range coinIDs {
		if _, seen := prices[id]; seen {
			continue
		}
		prices[id] = decimal.Zero
		unique = append(unique, id)
	}

	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(g.maxConcurrency)
	for _, id := range unique {
		eg.Go(func() error {
			t, err := g.ticker(ctx, id)
			if err != nil {
				g.log.Warn(ctx, "price lookup failed", map[string]any{"coin_id": id, "cause": err.Error()})
				return nil
			}
			mu.Lock()
			prices[id] = t.usd().Price
			mu.Unlock()
			return nil
		})
	}
	eg.Wait()

	return prices
}

// GetCoinCurrentPrice returns the USD price of one coin. Provider failures
// are reported as ErrCoinNotFound.
func (g *Gateway) GetCoinCurrentPrice(ctx context.Context, coinID string) (decimal.Decimal, error) {
	t, err := g.ticker(ctx, coinID)
	if err != nil {
		if propagates(err) {
			return decimal.Zero, err
		}
		return decimal.Zero, errors.Join(ErrCoinNotFound, err)
	}
	return t.usd().Price, nil
}
