package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"ballotscan/internal/adjudication"
	"ballotscan/internal/ballot"
	"ballotscan/internal/config"
	"ballotscan/internal/daemon"
	"ballotscan/internal/devicestatus"
	"ballotscan/internal/health"
	"ballotscan/internal/ipc"
	"ballotscan/internal/logging"
	"ballotscan/internal/orchestrator"
)

type cliOrchestrator struct {
	mu      sync.Mutex
	status  orchestrator.Status
	review  *adjudication.Content
	history []orchestrator.Transition
}

func (o *cliOrchestrator) Boot(context.Context) error { return nil }
func (o *cliOrchestrator) Stop()                      {}
func (o *cliOrchestrator) Close()                     {}

func (o *cliOrchestrator) Status() orchestrator.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *cliOrchestrator) Review() (adjudication.Content, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.review == nil {
		return adjudication.Content{}, false
	}
	return *o.review, true
}

func (o *cliOrchestrator) OperatorAcceptWithErrors(context.Context) (ballot.State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.review = nil
	o.status.State = ballot.Idle()
	return o.status.State, nil
}

func (o *cliOrchestrator) BeginManualCalibration(context.Context) error { return nil }

func (o *cliOrchestrator) SetPollsOpen(_ context.Context, open bool) error {
	o.mu.Lock()
	o.status.PollsOpen = open
	o.mu.Unlock()
	return nil
}

func (o *cliOrchestrator) SetCardInserted(inserted bool) {
	o.mu.Lock()
	o.status.CardInserted = inserted
	o.mu.Unlock()
}

func (o *cliOrchestrator) History(limit int) []orchestrator.Transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	if limit < len(o.history) {
		return o.history[:limit]
	}
	return o.history
}

type cliHealth struct{ flags health.Flags }

func (h *cliHealth) Start(context.Context) error { return nil }
func (h *cliHealth) Stop()                       {}
func (h *cliHealth) Flags() (health.Flags, bool) { return h.flags, true }
func (h *cliHealth) Banners() []health.Banner    { return h.flags.Banners(20) }
func (h *cliHealth) Gate() health.Gate           { return h.flags.Gate() }

type cliTestEnv struct {
	cfg          *config.Config
	orchestrator *cliOrchestrator
	daemon       *daemon.Daemon
	socketPath   string
	configPath   string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SocketPath = filepath.Join(base, "cli.sock")
	cfgVal.Paths.APIBind = ""
	cfg := &cfgVal
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	orch := &cliOrchestrator{status: orchestrator.Status{
		State:      ballot.Idle(),
		Configured: true,
		Session:    devicestatus.SessionInfo{MachineID: "0001", PrecinctID: "north"},
		Snapshot:   devicestatus.Snapshot{State: devicestatus.ScannerWaitingForPaper, BallotCount: 3},
	}}
	mon := &cliHealth{flags: health.Flags{PrinterConnected: true, ChargerConnected: true}}

	logger := logging.NewNop()
	d, err := daemon.New(cfg, orch, mon, nil, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
	})

	return &cliTestEnv{
		cfg:          cfg,
		orchestrator: orch,
		daemon:       d,
		socketPath:   cfg.Paths.SocketPath,
		configPath:   configPath,
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got %q", needle, haystack)
	}
}

func TestCLIPollsStateAndStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := env.daemon.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	out, _, err := runCLI(t, []string{"polls", "open"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("polls open: %v", err)
	}
	requireContains(t, out, "Polls open")

	out, _, err = runCLI(t, []string{"state"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	requireContains(t, out, "Idle")

	out, _, err = runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Scanner Status")
	requireContains(t, out, "[OK] Open")
	requireContains(t, out, "Configured for precinct north")
	requireContains(t, out, "Idle, 3 counted")

	out, _, err = runCLI(t, []string{"polls", "close"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("polls close: %v", err)
	}
	requireContains(t, out, "Polls closed")
}

func TestCLIReviewAndAccept(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"review"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	requireContains(t, out, "No sheet awaiting review")

	if _, _, err := runCLI(t, []string{"accept"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected accept to fail while daemon is stopped")
	}

	if err := env.daemon.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	env.orchestrator.mu.Lock()
	env.orchestrator.review = &adjudication.Content{
		Kind:     adjudication.KindOvervote,
		Title:    "Too Many Votes",
		Body:     []string{"There are too many votes marked."},
		Contests: []string{"Mayor"},
		Actions:  []adjudication.Action{adjudication.ActionReturnBallot, adjudication.ActionAcceptWithErrors},
	}
	env.orchestrator.mu.Unlock()

	out, _, err = runCLI(t, []string{"review"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	requireContains(t, out, "Too Many Votes")
	requireContains(t, out, "  - Mayor")
	requireContains(t, out, "accept_with_errors")

	out, _, err = runCLI(t, []string{"accept"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	requireContains(t, out, "Sheet accepted")
}

func TestCLIHistoryCardAndHealth(t *testing.T) {
	env := setupCLITestEnv(t)
	at := time.Date(2026, 11, 3, 7, 30, 0, 0, time.UTC)
	env.orchestrator.history = []orchestrator.Transition{
		{ID: 2, From: "Scanning", To: "Cast", Event: "ScanAccepted", OccurredAt: at.Add(time.Second)},
		{ID: 1, From: "Idle", To: "Scanning", Event: "ScanStarted", OccurredAt: at},
	}

	out, _, err := runCLI(t, []string{"history", "-n", "5"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "ScanAccepted")
	requireContains(t, out, "Scanning")

	out, _, err = runCLI(t, []string{"card", "insert"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("card insert: %v", err)
	}
	requireContains(t, out, "Operator card inserted: yes")

	out, _, err = runCLI(t, []string{"health"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	requireContains(t, out, "Printer")
	requireContains(t, out, "Gate")
	requireContains(t, out, "none")
}

func TestCLIStatusWithoutDaemon(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, &cfg)

	out, _, err := runCLI(t, []string{"status"}, filepath.Join(base, "missing.sock"), configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Not running")

	if _, _, err := runCLI(t, []string{"state"}, filepath.Join(base, "missing.sock"), configPath); err == nil || !strings.Contains(err.Error(), "ballotscan start") {
		t.Fatalf("state err = %v, want start hint", err)
	}
}
