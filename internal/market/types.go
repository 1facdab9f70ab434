package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// CoinSummary is a search or listing result
type CoinSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Rank     int    `json:"rank"`
	Type     string `json:"type,omitempty"`
	IsNew    bool   `json:"is_new"`
	IsActive bool   `json:"is_active"`
}

// TickerCoin is a coin with its current USD quote
type TickerCoin struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Symbol           string          `json:"symbol"`
	Rank             int             `json:"rank"`
	Price            decimal.Decimal `json:"price"`
	PercentChange24h decimal.Decimal `json:"percent_change_24h"`
	Volume24h        decimal.Decimal `json:"volume_24h"`
	MarketCap        decimal.Decimal `json:"market_cap"`
}

// Trending groups the four trending categories. A failed category is an
// empty list, never nil.
type Trending struct {
	Popular       []TickerCoin  `json:"popular"`
	TopGainers    []TickerCoin  `json:"top_gainers"`
	TopLosers     []TickerCoin  `json:"top_losers"`
	RecentlyAdded []CoinSummary `json:"recently_added"`
}

// MarketData is the ticker enrichment of a coin detail
type MarketData struct {
	Price            decimal.Decimal `json:"price"`
	Volume24h        decimal.Decimal `json:"volume_24h"`
	MarketCap        decimal.Decimal `json:"market_cap"`
	PercentChange24h decimal.Decimal `json:"percent_change_24h"`
	LastUpdated      time.Time       `json:"last_updated"`
}

// CoinInfo is the static description of a coin
type CoinInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Symbol      string     `json:"symbol"`
	Rank        int        `json:"rank"`
	Type        string     `json:"type,omitempty"`
	Description string     `json:"description,omitempty"`
	Logo        string     `json:"logo,omitempty"`
	IsActive    bool       `json:"is_active"`
	IsNew       bool       `json:"is_new"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Website     string     `json:"website,omitempty"`
}

// CoinDetail combines info, market data and price history for one coin.
// Market is nil and History empty when those lookups failed.
type CoinDetail struct {
	CoinInfo
	Timeframe string       `json:"timeframe"`
	Market    *MarketData  `json:"market_data"`
	History   []OHLCVPoint `json:"history"`
}

// OHLCVPoint is one candle of price history
type OHLCVPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Provider response shapes

type usdQuote struct {
	Price            decimal.Decimal `json:"price"`
	Volume24h        decimal.Decimal `json:"volume_24h"`
	MarketCap        decimal.Decimal `json:"market_cap"`
	PercentChange24h decimal.Decimal `json:"percent_change_24h"`
}

type tickerResponse struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Symbol      string              `json:"symbol"`
	Rank        int                 `json:"rank"`
	Quotes      map[string]usdQuote `json:"quotes"`
	LastUpdated time.Time           `json:"last_updated"`
}

func (t tickerResponse) usd() usdQuote {
	return t.Quotes["USD"]
}

func (t tickerResponse) toTickerCoin() TickerCoin {
	q := t.usd()
	return TickerCoin{
		ID:               t.ID,
		Name:             t.Name,
		Symbol:           t.Symbol,
		Rank:             t.Rank,
		Price:            q.Price,
		PercentChange24h: q.PercentChange24h,
		Volume24h:        q.Volume24h,
		MarketCap:        q.MarketCap,
	}
}

type coinResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Rank        int    `json:"rank"`
	IsNew       bool   `json:"is_new"`
	IsActive    bool   `json:"is_active"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Logo        string `json:"logo"`
	StartedAt   string `json:"started_at"`
	Tags        []struct {
		Name string `json:"name"`
	} `json:"tags"`
	Links struct {
		Website []string `json:"website"`
	} `json:"links"`
}

func (c coinResponse) toSummary() CoinSummary {
	return CoinSummary{
		ID:       c.ID,
		Name:     c.Name,
		Symbol:   c.Symbol,
		Rank:     c.Rank,
		Type:     c.Type,
		IsNew:    c.IsNew,
		IsActive: c.IsActive,
	}
}

func (c coinResponse) toInfo() CoinInfo {
	info := CoinInfo{
		ID:          c.ID,
		Name:        c.Name,
		Symbol:      c.Symbol,
		Rank:        c.Rank,
		Type:        c.Type,
		Description: c.Description,
		Logo:        c.Logo,
		IsActive:    c.IsActive,
		IsNew:       c.IsNew,
	}
	if t, err := time.Parse(time.RFC3339, c.StartedAt); err == nil {
		info.StartedAt = &t
	}
	for _, tag := range c.Tags {
		info.Tags = append(info.Tags, tag.Name)
	}
	if len(c.Links.Website) > 0 {
		info.Website = c.Links.Website[0]
	}
	return info
}

type searchResponse struct {
	Currencies []coinResponse `json:"currencies"`
}

type ohlcvResponse struct {
	TimeOpen  time.Time       `json:"time_open"`
	TimeClose time.Time       `json:"time_close"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	MarketCap decimal.Decimal `json:"market_cap"`
}
