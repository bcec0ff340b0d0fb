package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateScanner(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateHealth(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind %q: %w", c.Paths.APIBind, err)
	}
	return nil
}

func (c *Config) validateScanner() error {
	parsed, err := url.Parse(c.Scanner.ServiceURL)
	if err != nil {
		return fmt.Errorf("scanner.service_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scanner.service_url must use http or https, got %q", c.Scanner.ServiceURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("scanner.service_url must include a host, got %q", c.Scanner.ServiceURL)
	}
	if c.Scanner.ScanPollIntervalMS >= c.Scanner.ScanTimeoutSeconds*1000 {
		return errors.New("scanner.scan_poll_interval_ms must be shorter than scanner.scan_timeout_seconds")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.StatusPollIntervalMS < 100 {
		return errors.New("workflow.status_poll_interval_ms must be at least 100")
	}
	if c.Workflow.DismissDelayMS < 100 {
		return errors.New("workflow.dismiss_delay_ms must be at least 100")
	}
	return nil
}

func (c *Config) validateHealth() error {
	if c.Health.LowBatteryPercent < 0 || c.Health.LowBatteryPercent > 100 {
		return errors.New("health.low_battery_percent must be between 0 and 100")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
}
