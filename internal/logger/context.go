package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// FromCtx returns logger with request_id automatically added
func FromCtx(ctx context.Context) *zap.Logger {
	reqID := RequestIDFrom(ctx)
	if reqID == "" {
		return L()
	}
	return L().With(zap.String("request_id", reqID))
}

// ForPayment returns the request logger scoped to one gateway action on one order.
func ForPayment(ctx context.Context, trackingNumber, gateway, action string) *zap.Logger {
	return FromCtx(ctx).With(
		zap.String("tracking_number", trackingNumber),
		zap.String("gateway", gateway),
		zap.String("action", action),
	)
}
