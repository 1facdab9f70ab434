package market

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	apperrors "github.com/coinfolio/backend/internal/errors"
)

var (
	// ErrCoinNotFound is returned when the provider has no data for a coin
	ErrCoinNotFound = errors.New("coin not found")
	// ErrRateLimited is returned when the outbound budget could not be
	// acquired within the maximum queue wait
	ErrRateLimited = errors.New("market data rate limit exceeded")
	// ErrInvalidQuery is returned for search queries shorter than two characters
	ErrInvalidQuery = errors.New("search query must be at least 2 characters")
)

// GatewayError describes a failed provider call. The message always carries
// the upstream status line or the transport error.
type GatewayError struct {
	Endpoint   string
	StatusCode int
	Status     string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("market: GET %s: %s", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("market: GET %s: %v", e.Endpoint, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the call may succeed if repeated
func (e *GatewayError) Retryable() bool {
	if e.StatusCode != 0 {
		return apperrors.HTTPRetryableStatus(e.StatusCode)
	}
	if e.Err == nil || errors.Is(e.Err, errInvalidJSON) {
		return false
	}
	return !errors.Is(e.Err, context.Canceled)
}

// Timeout reports whether the call ran out of time in transport
func (e *GatewayError) Timeout() bool {
	if e.Err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// NotFound reports whether the provider answered 404
func (e *GatewayError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

var errInvalidJSON = errors.New("response body is not valid JSON")

// ToAppError maps gateway errors onto the HTTP error taxonomy
func ToAppError(err error, coinID string) error {
	var gwErr *GatewayError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return apperrors.RequestCanceled().WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.ExternalTimeout("market data provider").WithCause(err)
	case errors.As(err, &gwErr) && gwErr.Timeout():
		return apperrors.ExternalTimeout("market data provider").WithCause(err)
	case errors.Is(err, ErrInvalidQuery):
		return apperrors.ValidationError(err.Error())
	case errors.Is(err, ErrRateLimited):
		return apperrors.RateLimited().WithCause(err)
	case errors.Is(err, ErrCoinNotFound):
		return apperrors.CoinNotFound(coinID)
	case errors.As(err, &gwErr):
		if gwErr.NotFound() {
			return apperrors.CoinNotFound(coinID)
		}
		return apperrors.UpstreamError("market data provider request failed").WithCause(err)
	default:
		return err
	}
}
