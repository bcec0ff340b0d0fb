package daemonctl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"ballotscan/internal/ballot"
	"ballotscan/internal/config"
	"ballotscan/internal/ipc"
	"ballotscan/internal/session"
)

func TestLaunchArgs(t *testing.T) {
	got := launchArgs(LaunchOptions{SocketPath: " /run/b.sock ", ConfigPath: "/etc/b.toml", LogLevel: "debug"})
	want := []string{"daemon", "--socket", "/run/b.sock", "--config", "/etc/b.toml", "--log-level", "debug"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("launchArgs = %v, want %v", got, want)
	}
	if got := launchArgs(LaunchOptions{}); len(got) != 1 || got[0] != "daemon" {
		t.Fatalf("launchArgs(empty) = %v", got)
	}
}

func TestLaunchRequiresExecutable(t *testing.T) {
	if err := Launch("  ", LaunchOptions{}); err == nil {
		t.Fatal("expected error for empty executable")
	}
}

func TestForceKillRefusesSelf(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "ballotscand.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := ForceKillProcess(pidPath, "", 0); err == nil || !strings.Contains(err.Error(), "refusing") {
		t.Fatalf("err = %v, want refusal", err)
	}
	if _, err := ForceKillProcess(filepath.Join(dir, "missing.pid"), "", 0); err == nil {
		t.Fatal("expected error without pid")
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "absent.sock")
	if _, err := StopAndTerminate(socket, nil, time.Millisecond); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("err = %v, want ErrDaemonNotRunning", err)
	}
	if err := WaitForShutdown(socket, time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
	alive, pid, err := ProcessInfo(socket)
	if err != nil || alive || pid != 0 {
		t.Fatalf("ProcessInfo = %v, %d, %v", alive, pid, err)
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	socket := filepath.Join(cfg.Paths.StateDir, "ballotscan.sock")

	status, reachable, err := BuildStatusSnapshot(context.Background(), socket, &cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if reachable || status.PollsOpen {
		t.Fatalf("fresh offline status = %+v reachable=%v", status, reachable)
	}

	store, err := session.Open(cfg.SessionDBPath())
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	if _, err := store.SavePollsOpen(context.Background(), true); err != nil {
		t.Fatalf("SavePollsOpen: %v", err)
	}
	_ = store.Close()

	status, _, err = BuildStatusSnapshot(context.Background(), socket, &cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if !status.PollsOpen {
		t.Fatal("expected persisted polls open in offline status")
	}
	lines := BuildStatusLines(status, false)
	if len(lines) != 2 || lines[0].Severity != "warn" || lines[1].Detail != "Open" {
		t.Fatalf("offline lines = %+v", lines)
	}
}

func TestBuildStatusLines(t *testing.T) {
	status := &ipc.StatusResponse{
		Running:      true,
		PID:          42,
		State:        ballot.Idle(),
		PollsOpen:    true,
		Configured:   true,
		PrecinctID:   "p-7",
		TestMode:     true,
		ScannerState: "WaitingForPaper",
		BallotCount:  12,
		Health: ipc.HealthInfo{
			Sampled:          true,
			PrinterConnected: false,
			BatteryPresent:   true,
			BatteryPercent:   9,
			Banners:          []string{"no_charger", "low_battery"},
			Gate:             "no_printer",
		},
	}
	lines := BuildStatusLines(status, true)
	byLabel := make(map[string]StatusLine, len(lines))
	for _, line := range lines {
		byLabel[line.Label] = line
	}

	checks := []struct {
		label, severity, detail string
	}{
		{"Daemon", "ok", "Running (pid 42)"},
		{"Polls", "ok", "Open"},
		{"Election", "ok", "Configured for precinct p-7 (test mode)"},
		{"Scanner", "ok", "WaitingForPaper"},
		{"Ballot", "info", "Idle, 12 counted"},
		{"Printer", "error", "Disconnected"},
		{"Power", "error", "On battery, 9%"},
	}
	for _, c := range checks {
		line, ok := byLabel[c.label]
		if !ok {
			t.Fatalf("missing %s line in %+v", c.label, lines)
		}
		if line.Severity != c.severity || line.Detail != c.detail {
			t.Fatalf("%s = %+v, want severity %s detail %q", c.label, line, c.severity, c.detail)
		}
	}
}

func TestPowerLine(t *testing.T) {
	cases := []struct {
		name string
		in   ipc.HealthInfo
		want string
	}{
		{"no power", ipc.HealthInfo{Gate: "no_power"}, "error"},
		{"charger and battery", ipc.HealthInfo{ChargerConnected: true, BatteryPresent: true, BatteryPercent: 80}, "ok"},
		{"charger only", ipc.HealthInfo{ChargerConnected: true}, "ok"},
		{"battery", ipc.HealthInfo{BatteryPresent: true, BatteryPercent: 60, Banners: []string{"no_charger"}}, "warn"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := powerLine(tc.in).Severity; got != tc.want {
				t.Fatalf("severity = %s, want %s", got, tc.want)
			}
		})
	}
}
