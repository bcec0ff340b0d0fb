package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestStatusKindFromSeverity(t *testing.T) {
	cases := map[string]statusKind{
		"ok":      statusOK,
		" WARN ":  statusWarn,
		"warning": statusWarn,
		"error":   statusError,
		"info":    statusInfo,
		"":        statusInfo,
	}
	for in, want := range cases {
		if got := statusKindFromSeverity(in); got != want {
			t.Fatalf("statusKindFromSeverity(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestRenderTablePadsRows(t *testing.T) {
	out := renderTable([]string{"ID", "Event"}, [][]string{{"1"}}, []columnAlignment{alignRight})
	if !strings.Contains(out, "ID") || !strings.Contains(out, "Event") {
		t.Fatalf("missing headers in %q", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty output without headers")
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
