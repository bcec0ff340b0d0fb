package config

const (
	defaultConfigPath           = "~/.config/ballotscan/config.toml"
	defaultStateDir             = "~/.local/share/ballotscan"
	defaultLogDir               = "~/.local/share/ballotscan/logs"
	defaultSocketName           = "ballotscan.sock"
	defaultAPIBind              = "127.0.0.1:7490"
	defaultServiceURL           = "http://127.0.0.1:3002"
	defaultRequestTimeoutMS     = 5000
	defaultScanPollIntervalMS   = 100
	defaultScanTimeoutSeconds   = 30
	defaultStatusPollIntervalMS = 1000
	defaultDismissDelayMS       = 5000
	defaultConfigRetryMS        = 1000
	defaultHealthIntervalMS     = 500
	defaultPowerSupplyDir       = "/sys/class/power_supply"
	defaultPrinterDevice        = "/dev/usb/lp0"
	defaultLowBatteryPercent    = 20
	defaultMachineID            = "0000"
	defaultCodeVersion          = "dev"
	defaultLogFormat            = "auto"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Scanner: Scanner{
			ServiceURL:         defaultServiceURL,
			RequestTimeoutMS:   defaultRequestTimeoutMS,
			ScanPollIntervalMS: defaultScanPollIntervalMS,
			ScanTimeoutSeconds: defaultScanTimeoutSeconds,
		},
		Workflow: Workflow{
			StatusPollIntervalMS:  defaultStatusPollIntervalMS,
			DismissDelayMS:        defaultDismissDelayMS,
			ConfigRetryIntervalMS: defaultConfigRetryMS,
		},
		Health: Health{
			IntervalMS:        defaultHealthIntervalMS,
			PowerSupplyDir:    defaultPowerSupplyDir,
			PrinterDevice:     defaultPrinterDevice,
			LowBatteryPercent: defaultLowBatteryPercent,
			Hotplug:           true,
		},
		Machine: Machine{
			MachineID:   defaultMachineID,
			CodeVersion: defaultCodeVersion,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
