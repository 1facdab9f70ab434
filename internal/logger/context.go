package logger

import (
	"context"

	apperrors "github.com/coinfolio/backend/internal/errors"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// WithRequestID stores the request ID in the context. It shares the key used
// by the errors package so error envelopes and log lines agree.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return apperrors.WithRequestID(ctx, requestID)
}

// WithTraceID stores a distributed trace ID in the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID returns the trace ID from the context, if any
func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}
