package market

import (
	"context"
	"net/url"
	"sort"

	"golang.org/x/sync/errgroup"
)

const (
	trendingSize      = 10
	popularFetchLimit = "100"
)

// GetTrendingCoins gathers the four trending categories concurrently. A
// failing category is logged and returned empty; the call itself never fails.
func (g *Gateway) GetTrendingCoins(ctx context.Context) Trending {
	out := Trending{
		Popular:       []TickerCoin{},
		TopGainers:    []TickerCoin{},
		TopLosers:     []TickerCoin{},
		RecentlyAdded: []CoinSummary{},
	}

	var eg errgroup.Group
	eg.Go(func() error {
		coins, err := g.popular(ctx)
		if err != nil {
			g.logCategoryFailure(ctx, "popular", err)
			return nil
		}
		out.Popular = coins
		return nil
	})
	eg.Go(func() error {
		coins, err := g.movers(ctx, true)
		if err != nil {
			g.logCategoryFailure(ctx, "top_gainers", err)
			return nil
		}
		out.TopGainers = coins
		return nil
	})
	eg.Go(func() error {
		coins, err := g.movers(ctx, false)
		if err != nil {
			g.logCategoryFailure(ctx, "top_losers", err)
			return nil
		}
		out.TopLosers = coins
		return nil
	})
	eg.Go(func() error {
		coins, err := g.recentlyAdded(ctx)
		if err != nil {
			g.logCategoryFailure(ctx, "recently_added", err)
			return nil
		}
		out.RecentlyAdded = coins
		return nil
	})
	eg.Wait()

	return out
}

func (g *Gateway) logCategoryFailure(ctx context.Context, category string, err error) {
	g.log.Warn(ctx, "trending category unavailable", map[string]any{
		"category": category,
		"cause":    err.Error(),
	})
}

// popular returns the highest ranked coins
func (g *Gateway) popular(ctx context.Context) ([]TickerCoin, error) {
	raw, err := g.Request(ctx, "/tickers", url.Values{"quotes": {"USD"}, "limit": {popularFetchLimit}})
	if err != nil {
		return nil, err
	}
	tickers, err := decode[[]tickerResponse](raw)
	if err != nil {
		return nil, err
	}

	coins := make([]TickerCoin, 0, len(tickers))
	for _, t := range tickers {
		if t.Rank > 0 {
			coins = append(coins, t.toTickerCoin())
		}
	}
	sort.SliceStable(coins, func(i, j int) bool { return coins[i].Rank < coins[j].Rank })
	return head(coins, trendingSize), nil
}

// movers returns the largest 24h gainers or losers from the full listing
func (g *Gateway) movers(ctx context.Context, gainers bool) ([]TickerCoin, error) {
	coins, err := g.ListTickers(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(coins, func(i, j int) bool {
		if gainers {
			return coins[i].PercentChange24h.GreaterThan(coins[j].PercentChange24h)
		}
		return coins[i].PercentChange24h.LessThan(coins[j].PercentChange24h)
	})
	return head(coins, trendingSize), nil
}

// recentlyAdded returns active coins the provider flags as new
func (g *Gateway) recentlyAdded(ctx context.Context) ([]CoinSummary, error) {
	raw, err := g.Request(ctx, "/coins", nil)
	if err != nil {
		return nil, err
	}
	all, err := decode[[]coinResponse](raw)
	if err != nil {
		return nil, err
	}

	coins := make([]CoinSummary, 0, trendingSize)
	for _, c := range all {
		if c.IsNew && c.IsActive {
			coins = append(coins, c.toSummary())
			if len(coins) == trendingSize {
				break
			}
		}
	}
	return coins, nil
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
