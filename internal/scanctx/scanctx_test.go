package scanctx_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"ballotscan/internal/scanctx"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := scanctx.ScanIDFromContext(ctx); ok {
		t.Fatal("expected no scan id on empty context")
	}
	id := scanctx.NewScanID()
	ctx = scanctx.WithScanID(ctx, id)
	ctx = scanctx.WithBatchID(ctx, "batch-1")
	ctx = scanctx.WithRequestID(ctx, "")

	if got, ok := scanctx.ScanIDFromContext(ctx); !ok || got != id {
		t.Fatalf("unexpected scan id %q (ok=%v)", got, ok)
	}
	if got, ok := scanctx.BatchIDFromContext(ctx); !ok || got != "batch-1" {
		t.Fatalf("unexpected batch id %q (ok=%v)", got, ok)
	}
	if _, ok := scanctx.RequestIDFromContext(ctx); ok {
		t.Fatal("expected empty request id to be ignored")
	}
}

func TestWrapKeepsMarkerAndCause(t *testing.T) {
	err := scanctx.Wrap(scanctx.ErrTransport, "devicestatus", "status", "", io.ErrUnexpectedEOF)
	if !errors.Is(err, scanctx.ErrTransport) {
		t.Fatalf("expected transport marker, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
	if !strings.Contains(err.Error(), "devicestatus: status") {
		t.Fatalf("expected detail in message, got %q", err.Error())
	}
	if hint := scanctx.Hint(err); !strings.Contains(hint, "scan service") {
		t.Fatalf("unexpected hint %q", hint)
	}
}
