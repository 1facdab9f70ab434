package portfolio

import (
	"context"
	"errors"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinfolio/backend/internal/activity"
	"github.com/coinfolio/backend/internal/db"
	apperrors "github.com/coinfolio/backend/internal/errors"
	"github.com/coinfolio/backend/internal/logger"
	"github.com/coinfolio/backend/internal/market"
	"github.com/coinfolio/backend/internal/validators"
)

// Currency is the only currency holdings are valued in
const Currency = "USD"

var hundred = decimal.NewFromInt(100)

type HoldingStore interface {
	Upsert(ctx context.Context, h *db.Holding) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]db.Holding, error)
	Delete(ctx context.Context, userID uuid.UUID, coinID string) error
	UpdatePrices(ctx context.Context, userID uuid.UUID, prices map[string]decimal.Decimal, at time.Time) error
}

type CoinStore interface {
	Upsert(ctx context.Context, c *db.Coin) error
}

// PriceSource is the subset of the market gateway the portfolio needs
type PriceSource interface {
	GetCoinInfo(ctx context.Context, coinID string) (*market.CoinInfo, error)
	GetCoinCurrentPrice(ctx context.Context, coinID string) (decimal.Decimal, error)
	GetCurrentPrices(ctx context.Context, coinIDs []string) map[string]decimal.Decimal
}

type ActivityRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, action string, details map[string]any)
}

// Holding is a portfolio row with its derived fields
type Holding struct {
	CoinID             string          `json:"coin_id"`
	CoinName           string          `json:"coin_name,omitempty"`
	CoinSymbol         string          `json:"coin_symbol,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	PurchasePrice      decimal.Decimal `json:"purchase_price"`
	CurrentPrice       decimal.Decimal `json:"current_price"`
	CurrentValue       decimal.Decimal `json:"current_value"`
	CostBasis          decimal.Decimal `json:"cost_basis"`
	GainLoss           decimal.Decimal `json:"gain_loss"`
	GainLossPercentage decimal.Decimal `json:"gain_loss_percentage"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Summary totals a portfolio. The Display fields are formatted for people.
type Summary struct {
	Currency                string          `json:"currency"`
	HoldingsCount           int             `json:"holdings_count"`
	TotalValue              decimal.Decimal `json:"total_value"`
	TotalCost               decimal.Decimal `json:"total_cost"`
	TotalGainLoss           decimal.Decimal `json:"total_gain_loss"`
	TotalGainLossPercentage decimal.Decimal `json:"total_gain_loss_percentage"`
	Display                 SummaryDisplay  `json:"display"`
}

type SummaryDisplay struct {
	TotalValue    string `json:"total_value"`
	TotalCost     string `json:"total_cost"`
	TotalGainLoss string `json:"total_gain_loss"`
}

type Portfolio struct {
	Holdings []Holding `json:"holdings"`
	Summary  Summary   `json:"summary"`
}

// AddRequest adds amount of a coin. A missing purchase price means the
// coin was bought at its current price.
type AddRequest struct {
	CoinID        string           `json:"coin_id"`
	Amount        decimal.Decimal  `json:"amount"`
	PurchasePrice *decimal.Decimal `json:"purchase_price,omitempty"`
}

type Options struct {
	Holdings HoldingStore
	Coins    CoinStore
	Prices   PriceSource
	Exports  ExportStore
	Activity ActivityRecorder
	Now      func() time.Time
}

type Service struct {
	holdings HoldingStore
	coins    CoinStore
	prices   PriceSource
	exports  ExportStore
	activity ActivityRecorder
	log      *logger.Logger
	now      func() time.Time
}

func NewService(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		holdings: opts.Holdings,
		coins:    opts.Coins,
		prices:   opts.Prices,
		exports:  opts.Exports,
		activity: opts.Activity,
		log:      logger.Default().WithComponent("portfolio"),
		now:      now,
	}
}

// Add records a purchase. Adding a coin the user already holds accumulates
// the amount and averages the purchase price.
func (s *Service) Add(ctx context.Context, userID uuid.UUID, req AddRequest) (*Holding, error) {
	v := validators.New()
	v.Check(market.ValidCoinID(req.CoinID), "coin_id", "coin_id is invalid")
	validators.Positive(v, "amount", req.Amount)
	if req.PurchasePrice != nil {
		validators.NonNegative(v, "purchase_price", *req.PurchasePrice)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	info, err := s.prices.GetCoinInfo(ctx, req.CoinID)
	if err != nil {
		return nil, market.ToAppError(err, req.CoinID)
	}

	now := s.now().UTC()
	if err := s.coins.Upsert(ctx, &db.Coin{
		ID:        info.ID,
		Name:      info.Name,
		Symbol:    info.Symbol,
		Rank:      info.Rank,
		LogoURL:   info.Logo,
		UpdatedAt: now,
	}); err != nil {
		return nil, apperrors.DatabaseError("failed to save coin").WithCause(err)
	}

	price, err := s.prices.GetCoinCurrentPrice(ctx, req.CoinID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, market.ToAppError(ctx.Err(), req.CoinID)
		}
		s.log.Warn(ctx, "current price unavailable, using purchase price", map[string]any{"coin_id": req.CoinID, "cause": err.Error()})
		price = decimal.Zero
	}

	purchase := price
	if req.PurchasePrice != nil {
		purchase = *req.PurchasePrice
	}
	if price.IsZero() {
		price = purchase
	}

	h := &db.Holding{
		UserID:        userID,
		CoinID:        req.CoinID,
		CoinName:      info.Name,
		CoinSymbol:    info.Symbol,
		Amount:        req.Amount,
		PurchasePrice: purchase,
		CurrentPrice:  price,
		UpdatedAt:     now,
	}
	if err := s.holdings.Upsert(ctx, h); err != nil {
		return nil, apperrors.DatabaseError("failed to save holding").WithCause(err)
	}

	s.record(ctx, userID, activity.ActionHoldingAdded, map[string]any{
		"coin_id":        req.CoinID,
		"amount":         req.Amount.String(),
		"purchase_price": purchase.String(),
	})

	view := toHolding(*h)
	return &view, nil
}

// List returns the user's holdings valued at fresh prices. Coins whose
// price cannot be fetched keep their last stored price. Refreshed prices
// are written back.
func (s *Service) List(ctx context.Context, userID uuid.UUID) (*Portfolio, error) {
	rows, err := s.holdings.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError("failed to load portfolio").WithCause(err)
	}
	if len(rows) == 0 {
		return &Portfolio{Holdings: []Holding{}, Summary: Summarize(nil)}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, h := range rows {
		ids = append(ids, h.CoinID)
	}
	fetched := s.prices.GetCurrentPrices(ctx, ids)

	now := s.now().UTC()
	refreshed := make(map[string]decimal.Decimal, len(rows))
	for i := range rows {
		price := fetched[rows[i].CoinID]
		if price.IsZero() {
			continue
		}
		refreshed[rows[i].CoinID] = price
		rows[i].CurrentPrice = price
		rows[i].CurrentValue = rows[i].Amount.Mul(price)
		rows[i].UpdatedAt = now
	}

	if len(refreshed) > 0 {
		if err := s.holdings.UpdatePrices(ctx, userID, refreshed, now); err != nil {
			// The response is still correct; the next read retries the write
			s.log.Warn(ctx, "failed to store refreshed prices", map[string]any{"user_id": userID.String(), "cause": err.Error()})
		}
	}

	holdings := make([]Holding, 0, len(rows))
	for _, h := range rows {
		holdings = append(holdings, toHolding(h))
	}
	return &Portfolio{Holdings: holdings, Summary: Summarize(holdings)}, nil
}

// Remove deletes the user's holding of a coin
func (s *Service) Remove(ctx context.Context, userID uuid.UUID, coinID string) error {
	if !market.ValidCoinID(coinID) {
		return apperrors.ValidationError("invalid coin id")
	}
	if err := s.holdings.Delete(ctx, userID, coinID); err != nil {
		if errors.Is(err, db.ErrHoldingNotFound) {
			return apperrors.HoldingNotFound()
		}
		return apperrors.DatabaseError("failed to remove holding").WithCause(err)
	}
	s.record(ctx, userID, activity.ActionHoldingRemoved, map[string]any{"coin_id": coinID})
	return nil
}

func (s *Service) record(ctx context.Context, userID uuid.UUID, action string, details map[string]any) {
	if s.activity != nil {
		s.activity.Record(ctx, userID, action, details)
	}
}

func toHolding(h db.Holding) Holding {
	value := h.Amount.Mul(h.CurrentPrice)
	cost := h.Amount.Mul(h.PurchasePrice)
	return Holding{
		CoinID:             h.CoinID,
		CoinName:           h.CoinName,
		CoinSymbol:         h.CoinSymbol,
		Amount:             h.Amount,
		PurchasePrice:      h.PurchasePrice,
		CurrentPrice:       h.CurrentPrice,
		CurrentValue:       value,
		CostBasis:          cost,
		GainLoss:           value.Sub(cost),
		GainLossPercentage: GainLossPercentage(h.PurchasePrice, h.CurrentPrice),
		CreatedAt:          h.CreatedAt,
		UpdatedAt:          h.UpdatedAt,
	}
}

// GainLossPercentage is (current-purchase)/purchase*100 rounded to two
// decimals, or zero when nothing was paid.
func GainLossPercentage(purchase, current decimal.Decimal) decimal.Decimal {
	if purchase.IsZero() {
		return decimal.Zero
	}
	return current.Sub(purchase).Div(purchase).Mul(hundred).Round(2)
}

// Summarize totals holdings
func Summarize(holdings []Holding) Summary {
	total, cost := decimal.Zero, decimal.Zero
	for _, h := range holdings {
		total = total.Add(h.CurrentValue)
		cost = cost.Add(h.CostBasis)
	}
	gain := total.Sub(cost)

	pct := decimal.Zero
	if !cost.IsZero() {
		pct = gain.Div(cost).Mul(hundred).Round(2)
	}

	return Summary{
		Currency:                Currency,
		HoldingsCount:           len(holdings),
		TotalValue:              total,
		TotalCost:               cost,
		TotalGainLoss:           gain,
		TotalGainLossPercentage: pct,
		Display: SummaryDisplay{
			TotalValue:    FormatUSD(total),
			TotalCost:     FormatUSD(cost),
			TotalGainLoss: signed(gain),
		},
	}
}

// FormatUSD renders an amount like "$1,234.56", rounding to cents
func FormatUSD(amount decimal.Decimal) string {
	cur := money.GetCurrency(Currency)
	factor := decimal.New(1, int32(cur.Fraction))
	cents := amount.Mul(factor).Round(0).IntPart()
	return money.New(cents, Currency).Display()
}

func signed(amount decimal.Decimal) string {
	if amount.IsPositive() {
		return "+" + FormatUSD(amount)
	}
	return FormatUSD(amount)
}
