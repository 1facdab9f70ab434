package errors

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// MaxRequestIDLength bounds request ids taken from clients. Longer or
// oddly shaped values are replaced, since the id is echoed in headers,
// error envelopes and log lines.
const MaxRequestIDLength = 64

// NewRequestID returns a fresh request id
func NewRequestID() string {
	return uuid.NewString()
}

// ValidRequestID reports whether a client supplied id can be reused as is
func ValidRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}

// RequestIDFromHeader returns the X-Request-ID of r when it is valid and a
// new id otherwise
func RequestIDFromHeader(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); ValidRequestID(id) {
		return id
	}
	return NewRequestID()
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetRequestID returns the request id stored in ctx, or ""
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
