package logging

import (
	"context"
	"log/slog"

	"ballotscan/internal/scanctx"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering (scan_fault, status_fetch_failed, ...).
	FieldEventType = "event_type"
	// FieldErrorHint is the operator-facing next step attached to warnings and errors.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldScanID is the per-attempt correlation identifier.
	FieldScanID = "scan_id"
	// FieldBatchID is the scanner's batch identifier.
	FieldBatchID = "batch_id"
	// FieldCorrelationID is the operator API or IPC request identifier.
	FieldCorrelationID = "correlation_id"
	FieldState         = "ballot_state"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := scanctx.ScanIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldScanID, id))
	}
	if id, ok := scanctx.BatchIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldBatchID, id))
	}
	if id, ok := scanctx.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, id))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
