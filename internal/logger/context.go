package logger

import (
	"context"

	"go.uber.org/zap"
)

// Request ids come from the partner's X-REQUEST-ID header, or are minted by
// RequestIDMiddleware when the caller omitted one. Carrying the id on the
// context ties every log line of a webhook's lifetime together, including
// the outbound forward it triggers.

type ctxKey string

const requestIDKey ctxKey = "request_id"

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFrom returns the request id on ctx, or "" outside a request.
func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// FromCtx returns the global logger tagged with the context's request id.
func FromCtx(ctx context.Context) *zap.Logger {
	reqID := RequestIDFrom(ctx)
	if reqID == "" {
		return L()
	}
	return L().With(zap.String("request_id", reqID))
}
