package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewFanoutHandlerCollapses(t *testing.T) {
	if _, ok := newFanoutHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler for all nil handlers")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newFanoutHandler(nil, inner, nil); h != inner {
		t.Fatal("expected single non-nil handler to be returned unwrapped")
	}
}

func TestFanoutHandlerRespectsPerHandlerLevel(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	h := TeeHandler(
		slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected fanout to be enabled for debug")
	}
	logger := slog.New(h).With("component", "poller")
	logger.Debug("tick skipped")
	logger.Info("scan started")

	if strings.Contains(infoBuf.String(), "tick skipped") {
		t.Fatalf("info handler received debug record: %s", infoBuf.String())
	}
	if !strings.Contains(infoBuf.String(), "scan started") || !strings.Contains(debugBuf.String(), "tick skipped") {
		t.Fatalf("records not fanned out: info=%q debug=%q", infoBuf.String(), debugBuf.String())
	}
	if !strings.Contains(infoBuf.String(), `"component":"poller"`) {
		t.Fatalf("expected WithAttrs to reach every handler: %s", infoBuf.String())
	}
}
