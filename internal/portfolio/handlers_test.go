package portfolio

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinfolio/backend/internal/auth"
	apperrors "github.com/coinfolio/backend/internal/errors"
)

func newPortfolioMux(env *testEnv, user uuid.UUID) http.Handler {
	h := NewHandlers(env.svc)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/portfolio", apperrors.HandleFunc(h.List))
	mux.HandleFunc("POST /api/v1/portfolio", apperrors.HandleFunc(h.Add))
	mux.HandleFunc("DELETE /api/v1/portfolio/{coin_id}", apperrors.HandleFunc(h.Remove))
	mux.HandleFunc("POST /api/v1/portfolio/export", apperrors.HandleFunc(h.Export))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user != uuid.Nil {
			r = r.WithContext(auth.WithUser(r.Context(), &auth.UserContext{UserID: user}))
		}
		mux.ServeHTTP(w, r)
	})
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func serve(t *testing.T, h http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestHandlers_AddListRemove(t *testing.T) {
	env := newTestEnv(false)
	user := uuid.New()
	h := newPortfolioMux(env, user)
	env.prices.set("btc-bitcoin", "20000")

	code, resp := serve(t, h, http.MethodPost, "/api/v1/portfolio", `{"coin_id":"btc-bitcoin","amount":1.5,"purchase_price":"20000"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, resp.Success)

	env.prices.set("btc-bitcoin", "30000")
	code, resp = serve(t, h, http.MethodGet, "/api/v1/portfolio", "")
	require.Equal(t, http.StatusOK, code)

	var p struct {
		Holdings []struct {
			CoinID             string `json:"coin_id"`
			CurrentValue       string `json:"current_value"`
			GainLossPercentage string `json:"gain_loss_percentage"`
		} `json:"holdings"`
		Summary struct {
			Display struct {
				TotalValue string `json:"total_value"`
			} `json:"display"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &p))
	require.Len(t, p.Holdings, 1)
	assert.Equal(t, "45000", p.Holdings[0].CurrentValue)
	assert.Equal(t, "50", p.Holdings[0].GainLossPercentage)
	assert.Equal(t, "$45,000.00", p.Summary.Display.TotalValue)

	code, _ = serve(t, h, http.MethodDelete, "/api/v1/portfolio/btc-bitcoin", "")
	assert.Equal(t, http.StatusOK, code)

	code, resp = serve(t, h, http.MethodDelete, "/api/v1/portfolio/btc-bitcoin", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, apperrors.CodeHoldingNotFound, resp.Error.Code)
}

func TestHandlers_RejectsUnknownFields(t *testing.T) {
	env := newTestEnv(false)
	h := newPortfolioMux(env, uuid.New())

	code, resp := serve(t, h, http.MethodPost, "/api/v1/portfolio", `{"coin_id":"btc-bitcoin","amount":1,"user_id":"someone-else"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, apperrors.CodeInvalidRequest, resp.Error.Code)
}

func TestHandlers_RequireUser(t *testing.T) {
	env := newTestEnv(false)
	h := newPortfolioMux(env, uuid.Nil)

	code, resp := serve(t, h, http.MethodGet, "/api/v1/portfolio", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, apperrors.CodeAuthRequired, resp.Error.Code)
}

func TestHandlers_ExportDisabled(t *testing.T) {
	env := newTestEnv(false)
	h := newPortfolioMux(env, uuid.New())

	code, resp := serve(t, h, http.MethodPost, "/api/v1/portfolio/export", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, apperrors.CodeServiceUnavailable, resp.Error.Code)
}
