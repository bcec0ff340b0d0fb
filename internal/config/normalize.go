package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := loadDotEnv(c.Paths.StateDir); err != nil {
		return err
	}
	c.normalizeAPIToken()
	c.normalizeScanner()
	c.normalizeWorkflow()
	if err := c.normalizeHealth(); err != nil {
		return err
	}
	c.normalizeMachine()
	c.normalizeLogging()
	return nil
}

// loadDotEnv reads KEY=value pairs from stateDir/.env when present. Variables
// already set in the process environment win.
func loadDotEnv(stateDir string) error {
	path := filepath.Join(stateDir, ".env")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.StateDir, defaultSocketName)
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeAPIToken() {
	if value, ok := os.LookupEnv("BALLOTSCAN_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIToken = value
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
}

func (c *Config) normalizeScanner() {
	if value, ok := os.LookupEnv("BALLOTSCAN_SERVICE_URL"); ok && strings.TrimSpace(value) != "" {
		c.Scanner.ServiceURL = value
	}
	c.Scanner.ServiceURL = strings.TrimRight(strings.TrimSpace(c.Scanner.ServiceURL), "/")
	if c.Scanner.ServiceURL == "" {
		c.Scanner.ServiceURL = defaultServiceURL
	}
	if c.Scanner.RequestTimeoutMS <= 0 {
		c.Scanner.RequestTimeoutMS = defaultRequestTimeoutMS
	}
	if c.Scanner.ScanPollIntervalMS <= 0 {
		c.Scanner.ScanPollIntervalMS = defaultScanPollIntervalMS
	}
	if c.Scanner.ScanTimeoutSeconds <= 0 {
		c.Scanner.ScanTimeoutSeconds = defaultScanTimeoutSeconds
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.StatusPollIntervalMS <= 0 {
		c.Workflow.StatusPollIntervalMS = defaultStatusPollIntervalMS
	}
	if c.Workflow.DismissDelayMS <= 0 {
		c.Workflow.DismissDelayMS = defaultDismissDelayMS
	}
	if c.Workflow.ConfigRetryIntervalMS <= 0 {
		c.Workflow.ConfigRetryIntervalMS = defaultConfigRetryMS
	}
}

func (c *Config) normalizeHealth() error {
	if c.Health.IntervalMS <= 0 {
		c.Health.IntervalMS = defaultHealthIntervalMS
	}
	c.Health.PowerSupplyDir = strings.TrimSpace(c.Health.PowerSupplyDir)
	if c.Health.PowerSupplyDir == "" {
		c.Health.PowerSupplyDir = defaultPowerSupplyDir
	}
	var err error
	if c.Health.PowerSupplyDir, err = expandPath(c.Health.PowerSupplyDir); err != nil {
		return fmt.Errorf("health.power_supply_dir: %w", err)
	}
	c.Health.PrinterDevice = strings.TrimSpace(c.Health.PrinterDevice)
	if c.Health.PrinterDevice != "" {
		if c.Health.PrinterDevice, err = expandPath(c.Health.PrinterDevice); err != nil {
			return fmt.Errorf("health.printer_device: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeMachine() {
	if value, ok := os.LookupEnv("BALLOTSCAN_MACHINE_ID"); ok && strings.TrimSpace(value) != "" {
		c.Machine.MachineID = value
	}
	c.Machine.MachineID = strings.TrimSpace(c.Machine.MachineID)
	if c.Machine.MachineID == "" {
		c.Machine.MachineID = defaultMachineID
	}
	c.Machine.CodeVersion = strings.TrimSpace(c.Machine.CodeVersion)
	if c.Machine.CodeVersion == "" {
		c.Machine.CodeVersion = defaultCodeVersion
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "auto":
		c.Logging.Format = "auto"
	case "console", "json":
	default:
		c.Logging.Format = "auto"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
