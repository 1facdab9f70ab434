package market

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"
)

const (
	MaxHistoryPoints = 365
	DefaultTimeframe = "7d"
	// providerEpoch is the earliest date the provider serves history for
	providerEpoch = "2013-04-28"
)

// Timeframe describes how a caller-facing timeframe token maps to provider history
type Timeframe struct {
	Token string
	Days  int
	// Max requests all history at weekly resolution
	Max bool
}

var timeframes = map[string]Timeframe{
	"1d":  {Token: "1d", Days: 1},
	"7d":  {Token: "7d", Days: 7},
	"30d": {Token: "30d", Days: 30},
	"90d": {Token: "90d", Days: 90},
	"1y":  {Token: "1y", Days: 365},
	"max": {Token: "max", Max: true},
}

// ParseTimeframe looks up a timeframe token
func ParseTimeframe(token string) (Timeframe, bool) {
	tf, ok := timeframes[token]
	return tf, ok
}

// GetCoinInfo returns the static description of a coin
func (g *Gateway) GetCoinInfo(ctx context.Context, coinID string) (*CoinInfo, error) {
	raw, err := g.Request(ctx, "/coins/"+url.PathEscape(coinID), nil)
	if err != nil {
		if propagates(err) {
			return nil, err
		}
		return nil, errors.Join(ErrCoinNotFound, err)
	}
	c, err := decode[coinResponse](raw)
	if err != nil {
		return nil, errors.Join(ErrCoinNotFound, err)
	}
	info := c.toInfo()
	return &info, nil
}

// GetCoinDetails fetches coin info, ticker and history concurrently. Only
// the coin info is mandatory; market data is nil and history empty when
// their lookups fail.
func (g *Gateway) GetCoinDetails(ctx context.Context, coinID, timeframe string) (*CoinDetail, error) {
	var (
		info    *CoinInfo
		market  *MarketData
		history []OHLCVPoint
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		info, err = g.GetCoinInfo(egCtx, coinID)
		return err
	})
	eg.Go(func() error {
		t, err := g.ticker(egCtx, coinID)
		if err != nil {
			g.log.Debug(ctx, "ticker unavailable for coin details", map[string]any{"coin_id": coinID, "cause": err.Error()})
			return nil
		}
		q := t.usd()
		market = &MarketData{
			Price:            q.Price,
			Volume24h:        q.Volume24h,
			MarketCap:        q.MarketCap,
			PercentChange24h: q.PercentChange24h,
			LastUpdated:      t.LastUpdated,
		}
		return nil
	})
	eg.Go(func() error {
		history = g.GetCoinOHLCV(egCtx, coinID, timeframe)
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &CoinDetail{
		CoinInfo:  *info,
		Timeframe: timeframe,
		Market:    market,
		History:   history,
	}, nil
}

// GetCoinOHLCV returns at most MaxHistoryPoints candles for the timeframe.
// Unknown timeframes and provider failures yield an empty list.
func (g *Gateway) GetCoinOHLCV(ctx context.Context, coinID, timeframe string) []OHLCVPoint {
	points := []OHLCVPoint{}

	tf, ok := ParseTimeframe(timeframe)
	if !ok {
		return points
	}

	endpoint, params := g.ohlcvQuery(coinID, tf)
	raw, err := g.Request(ctx, endpoint, params)
	if err != nil {
		g.log.Debug(ctx, "ohlcv unavailable", map[string]any{"coin_id": coinID, "timeframe": timeframe, "cause": err.Error()})
		return points
	}
	candles, err := decode[[]ohlcvResponse](raw)
	if err != nil {
		g.log.Warn(ctx, "ohlcv response malformed", map[string]any{"coin_id": coinID, "cause": err.Error()})
		return points
	}

	// Keep the most recent points
	if len(candles) > MaxHistoryPoints {
		candles = candles[len(candles)-MaxHistoryPoints:]
	}
	for _, c := range candles {
		points = append(points, OHLCVPoint{
			Timestamp: c.TimeOpen,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	return points
}

func (g *Gateway) ohlcvQuery(coinID string, tf Timeframe) (string, url.Values) {
	base := "/coins/" + url.PathEscape(coinID) + "/ohlcv"
	switch {
	case tf.Max:
		return base + "/historical", url.Values{
			"start":    {providerEpoch},
			"interval": {"7d"},
			"limit":    {strconv.Itoa(MaxHistoryPoints)},
		}
	case tf.Days == 1:
		return base + "/today", nil
	default:
		start := g.now().UTC().AddDate(0, 0, -tf.Days).Format("2006-01-02")
		return base + "/historical", url.Values{
			"start":    {start},
			"interval": {"1d"},
			"limit":    {strconv.Itoa(tf.Days)},
		}
	}
}
