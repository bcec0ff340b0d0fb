package scanctx

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	scanIDKey    contextKey = "scan_id"
	batchIDKey   contextKey = "batch_id"
	requestIDKey contextKey = "request_id"
)

// NewScanID returns a fresh correlation ID for one scan attempt.
func NewScanID() string {
	return uuid.NewString()
}

// WithScanID annotates context with the scan-attempt correlation ID.
func WithScanID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, scanIDKey, id)
}

// ScanIDFromContext returns the scan-attempt ID if present.
func ScanIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(scanIDKey).(string)
	return v, ok && v != ""
}

// WithBatchID annotates context with the scanner's batch identifier.
func WithBatchID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, batchIDKey, id)
}

// BatchIDFromContext returns the batch identifier if present.
func BatchIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(batchIDKey).(string)
	return v, ok && v != ""
}

// WithRequestID annotates context with an operator API or IPC request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	return v, ok && v != ""
}
