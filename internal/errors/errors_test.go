package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestWriteError_ClientError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, "req-1", AuthInvalid())

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))

	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeAuthInvalid, resp.Error.Code)
	assert.Equal(t, "invalid or expired session", resp.Error.Message)
	assert.Equal(t, "req-1", resp.Error.RequestID)
}

func TestWriteError_HidesServerCause(t *testing.T) {
	SetDebug(false)
	rec := httptest.NewRecorder()
	WriteError(rec, "", DatabaseError("insert failed").WithCause(fmt.Errorf("pq: password authentication failed")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, genericInternalMessage, resp.Error.Message)
	assert.NotContains(t, resp.Error.Message, "password")
}

func TestWriteError_DebugShowsCause(t *testing.T) {
	SetDebug(true)
	defer SetDebug(false)

	rec := httptest.NewRecorder()
	WriteError(rec, "", InternalError("boom").WithCause(errors.New("disk full")))

	resp := decodeResponse(t, rec)
	assert.Contains(t, resp.Error.Message, "disk full")
}

func TestWriteError_PlainErrorBecomesInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, "", errors.New("something odd"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, CodeInternalError, resp.Error.Code)
}

func TestWriteJSON_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, "abc", http.StatusCreated, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"hello": "world"}, body["data"])
	assert.NotContains(t, body, "error")
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err    *AppError
		status int
	}{
		{AuthRequired(), http.StatusUnauthorized},
		{AuthInvalid(), http.StatusForbidden},
		{CoinNotFound("btc-bitcoin"), http.StatusNotFound},
		{RateLimited(), http.StatusTooManyRequests},
		{UpstreamError("bad"), http.StatusBadGateway},
		{EmailExists(), http.StatusConflict},
		{ValidationError("x"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}
}

func TestHandleFunc_RunsHooks(t *testing.T) {
	var hooked error
	h := HandleFunc(func(w http.ResponseWriter, r *http.Request) error {
		return CoinNotFound("nope")
	}, func(r *http.Request, err error) { hooked = err })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithRequestID(req.Context(), "rid"))
	rec := httptest.NewRecorder()
	h(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Error(t, hooked)
	assert.Equal(t, "rid", decodeResponse(t, rec).Error.RequestID)
}

type flaky struct{ retry bool }

func (f flaky) Error() string   { return "flaky" }
func (f flaky) Retryable() bool { return f.retry }

func TestRetryWithResult(t *testing.T) {
	cfg := &RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1}

	t.Run("succeeds after retryable failures", func(t *testing.T) {
		calls := 0
		v, err := RetryWithResult(context.Background(), cfg, func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, flaky{retry: true}
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		_, err := RetryWithResult(context.Background(), cfg, func(ctx context.Context) (int, error) {
			calls++
			return 0, fmt.Errorf("wrapped: %w", flaky{retry: false})
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), cfg, func(ctx context.Context) error {
			calls++
			return CoinNotFound("x")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), cfg, func(ctx context.Context) error {
			calls++
			return UpstreamError("down")
		})
		assert.Error(t, err)
		assert.Equal(t, cfg.MaxRetries+1, calls)
	})
}

func TestHTTPRetryableStatus(t *testing.T) {
	assert.True(t, HTTPRetryableStatus(http.StatusServiceUnavailable))
	assert.True(t, HTTPRetryableStatus(http.StatusTooManyRequests))
	assert.False(t, HTTPRetryableStatus(http.StatusNotFound))
}
