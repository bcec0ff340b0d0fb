package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ballotscan/internal/config"
	"ballotscan/internal/daemonrun"
	"ballotscan/internal/ipc"
	"ballotscan/internal/session"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// Launch starts a detached ballotscan daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	proc := exec.Command(executablePath, launchArgs(opts)...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

func launchArgs(opts LaunchOptions) []string {
	args := []string{"daemon"}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}
	return args
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches and/or starts the daemon and returns the resulting state.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := ipc.Dial(socketPath)
	launched := false
	if err != nil {
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	statusResp, statusErr := client.Status()
	if statusErr == nil && statusResp != nil && statusResp.Running {
		if launched {
			return StartResult{State: StartStateStarted, Launched: true}, nil
		}
		return StartResult{State: StartStateAlreadyRunning}, nil
	}

	resp, err := client.Start()
	if err != nil {
		return StartResult{}, err
	}

	if resp != nil {
		message := strings.TrimSpace(resp.Message)
		if resp.Started {
			return StartResult{State: StartStateStarted, Launched: launched, Message: message}, nil
		}
		if strings.EqualFold(message, "daemon already running") {
			if launched {
				return StartResult{State: StartStateStarted, Launched: true, Message: message}, nil
			}
			return StartResult{State: StartStateAlreadyRunning, Message: message}, nil
		}
		if message != "" {
			return StartResult{State: StartStateRequested, Launched: launched, Message: message}, nil
		}
	}

	return StartResult{State: StartStateRequested, Launched: launched, Message: "Start request sent"}, nil
}

// WaitForShutdown waits for daemon IPC to disappear or report not-running.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			if isDaemonUnavailable(err) {
				return nil
			}
			lastErr = err
			time.Sleep(200 * time.Millisecond)
			continue
		}
		status, statusErr := client.Status()
		_ = client.Close()
		if statusErr == nil && !status.Running {
			return nil
		}
		if statusErr != nil {
			lastErr = statusErr
		} else {
			lastErr = fmt.Errorf("daemon still running")
		}
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for shutdown")
	}
	return fmt.Errorf("daemon did not stop: %w", lastErr)
}

// ProcessInfo returns whether daemon IPC is reachable and the daemon PID when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, statusErr := client.Status()
	if statusErr != nil {
		return true, 0, statusErr
	}
	pid := 0
	if status != nil {
		pid = status.PID
	}
	return true, pid, nil
}

// ForceKillProcess sends SIGKILL to the daemon process and cleans pid/lock files.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	data, err := os.ReadFile(pidPath)
	if err == nil {
		pidStr := strings.TrimSpace(string(data))
		if pidStr != "" {
			if parsed, parseErr := strconv.Atoi(pidStr); parseErr == nil && parsed > 0 {
				pid = parsed
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// StopAndTerminate asks the daemon to stop, then terminates the process. The
// daemon process keeps serving IPC after a Stop, so it is signalled with
// SIGTERM and force-killed if it is still alive after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	statusResp, statusErr := client.Status()
	var lockPath string
	pid := 0
	if statusErr == nil && statusResp != nil {
		lockPath = statusResp.LockPath
		pid = statusResp.PID
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid}
	if resp != nil {
		result.StopAcknowledged = resp.Stopped
	}

	if pid > 0 && pid != os.Getpid() {
		if proc, findErr := os.FindProcess(pid); findErr == nil {
			_ = proc.Signal(syscall.SIGTERM)
		}
	}
	if waitForSocketGone(socketPath, gracePeriod) {
		return result, nil
	}

	stateDir := stateDirFor(lockPath, cfg)
	if stateDir == "" {
		return result, fmt.Errorf("unable to determine daemon state directory")
	}
	pidPath := filepath.Join(stateDir, daemonrun.PIDFileName)
	if lockPath == "" && cfg != nil {
		lockPath = cfg.LockPath()
	}
	killedPID, killErr := ForceKillProcess(pidPath, lockPath, pid)
	if killErr != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", killErr)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killedPID
	return result, nil
}

// Restart stops the daemon if running, then ensures it is started.
func Restart(socketPath string, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(socketPath, cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(socketPath, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// BuildStatusSnapshot collects daemon status. When the daemon is unreachable
// the persisted polls flag is read straight from the session database.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*ipc.StatusResponse, bool, error) {
	if cfg == nil {
		return nil, false, errors.New("configuration not available")
	}

	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		resp, statusErr := client.Status()
		if statusErr == nil && resp != nil {
			return resp, true, nil
		}
	}

	statusResp := &ipc.StatusResponse{SessionDBPath: cfg.SessionDBPath(), LockPath: cfg.LockPath()}
	if _, statErr := os.Stat(cfg.SessionDBPath()); statErr != nil {
		return statusResp, false, nil
	}
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	store, openErr := session.Open(cfg.SessionDBPath())
	if openErr != nil {
		return statusResp, false, nil
	}
	defer store.Close()
	if open, loadErr := store.LoadPollsOpen(queryCtx); loadErr == nil {
		statusResp.PollsOpen = open
	}
	return statusResp, false, nil
}

// StatusLine is one labelled row of operator status output.
type StatusLine struct {
	Label    string
	Severity string
	Detail   string
}

// BuildStatusLines summarizes status for the CLI. reachable reports whether
// the daemon answered over IPC.
func BuildStatusLines(status *ipc.StatusResponse, reachable bool) []StatusLine {
	lines := make([]StatusLine, 0, 7)
	switch {
	case !reachable:
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "warn", Detail: "Not running (run `ballotscan start`)"})
	case status.Running:
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "ok", Detail: fmt.Sprintf("Running (pid %d)", status.PID)})
	default:
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "warn", Detail: "Stopped (run `ballotscan start`)"})
	}

	if status.PollsOpen {
		lines = append(lines, StatusLine{Label: "Polls", Severity: "ok", Detail: "Open"})
	} else {
		lines = append(lines, StatusLine{Label: "Polls", Severity: "info", Detail: "Closed"})
	}
	if !reachable {
		return lines
	}

	if status.Configured {
		detail := "Configured"
		if status.PrecinctID != "" {
			detail = fmt.Sprintf("Configured for precinct %s", status.PrecinctID)
		}
		if status.TestMode {
			detail += " (test mode)"
		}
		lines = append(lines, StatusLine{Label: "Election", Severity: "ok", Detail: detail})
	} else {
		lines = append(lines, StatusLine{Label: "Election", Severity: "warn", Detail: "Not configured"})
	}

	scanner := status.ScannerState
	if scanner == "" {
		scanner = "Unknown"
	}
	scannerSeverity := "ok"
	if scanner == "Error" || scanner == "Unknown" {
		scannerSeverity = "error"
	}
	lines = append(lines, StatusLine{Label: "Scanner", Severity: scannerSeverity, Detail: scanner})

	ballotDetail := status.State.String()
	if status.CardInserted {
		ballotDetail += " (operator card inserted)"
	}
	lines = append(lines, StatusLine{Label: "Ballot", Severity: "info", Detail: fmt.Sprintf("%s, %d counted", ballotDetail, status.BallotCount)})

	h := status.Health
	if !h.Sampled {
		lines = append(lines, StatusLine{Label: "Hardware", Severity: "info", Detail: "Not sampled yet"})
		return lines
	}
	if h.PrinterConnected {
		lines = append(lines, StatusLine{Label: "Printer", Severity: "ok", Detail: "Connected"})
	} else {
		lines = append(lines, StatusLine{Label: "Printer", Severity: "error", Detail: "Disconnected"})
	}
	lines = append(lines, powerLine(h))
	return lines
}

func powerLine(h ipc.HealthInfo) StatusLine {
	switch {
	case h.Gate == "no_power":
		return StatusLine{Label: "Power", Severity: "error", Detail: "No charger and no battery"}
	case h.ChargerConnected && h.BatteryPresent:
		return StatusLine{Label: "Power", Severity: "ok", Detail: fmt.Sprintf("Charger connected, battery %d%%", h.BatteryPercent)}
	case h.ChargerConnected:
		return StatusLine{Label: "Power", Severity: "ok", Detail: "Charger connected"}
	}
	severity := "warn"
	for _, banner := range h.Banners {
		if banner == "low_battery" {
			severity = "error"
		}
	}
	return StatusLine{Label: "Power", Severity: severity, Detail: fmt.Sprintf("On battery, %d%%", h.BatteryPercent)}
}

func stateDirFor(lockPath string, cfg *config.Config) string {
	if lockPath != "" {
		return filepath.Dir(lockPath)
	}
	if cfg != nil && strings.TrimSpace(cfg.Paths.StateDir) != "" {
		return cfg.Paths.StateDir
	}
	return ""
}

func waitForSocketGone(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		alive, _, err := ProcessInfo(socketPath)
		if err == nil && !alive {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
