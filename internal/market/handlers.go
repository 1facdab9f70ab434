package market

import (
	"net/http"
	"regexp"
	"strconv"

	apperrors "github.com/coinfolio/backend/internal/errors"
)

var coinIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{0,99}$`)

// ValidCoinID reports whether id looks like a provider coin id such as "btc-bitcoin"
func ValidCoinID(id string) bool {
	return coinIDPattern.MatchString(id)
}

type Handlers struct {
	gateway *Gateway
}

func NewHandlers(gateway *Gateway) *Handlers {
	return &Handlers{gateway: gateway}
}

// Search handles GET /api/v1/market/search
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query().Get("q")
	if _, err := NormalizeQuery(query); err != nil {
		return apperrors.ValidationError("query parameter 'q' must be at least 2 characters")
	}

	limit := DefaultSearchLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil {
			return apperrors.ValidationError("limit must be a number")
		}
		limit = ClampSearchLimit(parsed)
	}

	results, err := h.gateway.SearchCoins(r.Context(), query, limit)
	if err != nil {
		return ToAppError(err, "")
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
	})
	return nil
}

// Trending handles GET /api/v1/market/trending
func (h *Handlers) Trending(w http.ResponseWriter, r *http.Request) error {
	trending := h.gateway.GetTrendingCoins(r.Context())
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, trending)
	return nil
}

// CoinDetails handles GET /api/v1/market/coins/{id}
func (h *Handlers) CoinDetails(w http.ResponseWriter, r *http.Request) error {
	coinID, timeframe, err := coinRequest(r)
	if err != nil {
		return err
	}

	detail, err := h.gateway.GetCoinDetails(r.Context(), coinID, timeframe)
	if err != nil {
		return ToAppError(err, coinID)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, detail)
	return nil
}

// CoinHistory handles GET /api/v1/market/coins/{id}/history
func (h *Handlers) CoinHistory(w http.ResponseWriter, r *http.Request) error {
	coinID, timeframe, err := coinRequest(r)
	if err != nil {
		return err
	}

	points := h.gateway.GetCoinOHLCV(r.Context(), coinID, timeframe)
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{
		"coin_id":   coinID,
		"timeframe": timeframe,
		"points":    points,
	})
	return nil
}

// CoinPrice handles GET /api/v1/market/coins/{id}/price
func (h *Handlers) CoinPrice(w http.ResponseWriter, r *http.Request) error {
	coinID := r.PathValue("id")
	if !ValidCoinID(coinID) {
		return apperrors.ValidationError("invalid coin id")
	}

	price, err := h.gateway.GetCoinCurrentPrice(r.Context(), coinID)
	if err != nil {
		return ToAppError(err, coinID)
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{
		"coin_id":  coinID,
		"price":    price,
		"currency": "USD",
	})
	return nil
}

func coinRequest(r *http.Request) (coinID, timeframe string, err error) {
	coinID = r.PathValue("id")
	if !ValidCoinID(coinID) {
		return "", "", apperrors.ValidationError("invalid coin id")
	}
	timeframe = r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = DefaultTimeframe
	}
	if _, ok := ParseTimeframe(timeframe); !ok {
		return "", "", apperrors.ValidationError("timeframe must be one of 1d, 7d, 30d, 90d, 1y, max").
			WithDetails(map[string]any{"timeframe": timeframe})
	}
	return coinID, timeframe, nil
}
