package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory, socket, and bind address configuration.
type Paths struct {
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
	SocketPath string `toml:"socket_path"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Scanner contains settings for the scan service the daemon drives.
type Scanner struct {
	ServiceURL         string `toml:"service_url"`
	RequestTimeoutMS   int    `toml:"request_timeout_ms"`
	ScanPollIntervalMS int    `toml:"scan_poll_interval_ms"`
	ScanTimeoutSeconds int    `toml:"scan_timeout_seconds"`
}

// Workflow contains timing for the status poller and ballot screens.
type Workflow struct {
	StatusPollIntervalMS  int `toml:"status_poll_interval_ms"`
	DismissDelayMS        int `toml:"dismiss_delay_ms"`
	ConfigRetryIntervalMS int `toml:"config_retry_interval_ms"`
}

// Health contains settings for printer and power sampling.
type Health struct {
	IntervalMS        int    `toml:"interval_ms"`
	PowerSupplyDir    string `toml:"power_supply_dir"`
	PrinterDevice     string `toml:"printer_device"`
	LowBatteryPercent int    `toml:"low_battery_percent"`
	Hotplug           bool   `toml:"hotplug"`
}

// Machine identifies this scanner unit.
type Machine struct {
	MachineID   string `toml:"machine_id"`
	CodeVersion string `toml:"code_version"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the scanner daemon.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories, control socket and API bind address
//   - Scanner: scan service endpoint and per-scan timing
//   - Workflow: status poll cadence and dismiss timers
//   - Health: printer and power sampling
//   - Machine: unit identity reported in status
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Scanner  Scanner  `toml:"scanner"`
	Workflow Workflow `toml:"workflow"`
	Health   Health   `toml:"health"`
	Machine  Machine  `toml:"machine"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("ballotscan.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if dir := filepath.Dir(c.Paths.SocketPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create socket directory %q: %w", dir, err)
		}
	}
	return nil
}

// SessionDBPath returns the SQLite file holding persisted session state.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.Paths.StateDir, "session.db")
}

// LockPath returns the single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "ballotscand.lock")
}

// RequestTimeout is the per-request deadline for scan service calls.
func (c *Config) RequestTimeout() time.Duration {
	return millis(c.Scanner.RequestTimeoutMS)
}

// ScanPollInterval is the interval between status checks inside one scan attempt.
func (c *Config) ScanPollInterval() time.Duration {
	return millis(c.Scanner.ScanPollIntervalMS)
}

// ScanTimeout bounds a single scan attempt end to end.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Scanner.ScanTimeoutSeconds) * time.Second
}

// StatusPollInterval is the StatusPoller tick interval.
func (c *Config) StatusPollInterval() time.Duration {
	return millis(c.Workflow.StatusPollIntervalMS)
}

// DismissDelay is how long Cast and ScannerError screens stay up.
func (c *Config) DismissDelay() time.Duration {
	return millis(c.Workflow.DismissDelayMS)
}

// ConfigRetryInterval is the wait between failed boot-time config refreshes.
func (c *Config) ConfigRetryInterval() time.Duration {
	return millis(c.Workflow.ConfigRetryIntervalMS)
}

// HealthInterval is the hardware health sampling interval.
func (c *Config) HealthInterval() time.Duration {
	return millis(c.Health.IntervalMS)
}

func millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
