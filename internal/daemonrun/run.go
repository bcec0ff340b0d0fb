package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ballotscan/internal/config"
	"ballotscan/internal/daemon"
	"ballotscan/internal/devicestatus"
	"ballotscan/internal/health"
	"ballotscan/internal/ipc"
	"ballotscan/internal/logging"
	"ballotscan/internal/metrics"
	"ballotscan/internal/orchestrator"
	"ballotscan/internal/session"
)

const (
	// PIDFileName is written to the state directory while the daemon runs.
	PIDFileName = "ballotscand.pid"
	// InstanceLockName is held for the life of the process and guards the pid
	// file and IPC socket. It is separate from the daemon lock, which is
	// released on IPC stop.
	InstanceLockName = "ballotscand.run.lock"
)

// ErrAlreadyRunning reports another daemon process owning the state directory.
var ErrAlreadyRunning = errors.New("another ballotscan daemon is already running")

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the ballotscan daemon and blocks until SIGINT, SIGTERM, or
// cmdCtx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	// Nothing shared with a running instance is touched before this lock.
	instanceLock, err := acquireInstanceLock(filepath.Join(cfg.Paths.StateDir, InstanceLockName))
	if err != nil {
		return err
	}
	defer func() { _ = instanceLock.Unlock() }()

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	runID := uuid.NewString()
	logger = logger.With(logging.String("run_id", runID))
	logger.Info("ballotscan daemon starting",
		logging.String(logging.FieldEventType, "daemon_starting"),
		logging.String("machine_id", cfg.Machine.MachineID),
		logging.String("code_version", cfg.Machine.CodeVersion),
		logging.String("service_url", cfg.Scanner.ServiceURL),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Bool("api_token_set", cfg.Paths.APIToken != ""),
	)

	pidPath := filepath.Join(cfg.Paths.StateDir, PIDFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := session.Open(cfg.SessionDBPath())
	if err != nil {
		logger.Error("open session store", logging.Error(err))
		return err
	}

	device, err := devicestatus.New(cfg.Scanner.ServiceURL, devicestatus.WithTimeout(cfg.RequestTimeout()))
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("scan service client: %w", err)
	}

	orch := orchestrator.New(device, store, orchestrator.Options{
		StatusPollInterval:  cfg.StatusPollInterval(),
		ScanPollInterval:    cfg.ScanPollInterval(),
		ScanTimeout:         cfg.ScanTimeout(),
		DismissDelay:        cfg.DismissDelay(),
		ConfigRetryInterval: cfg.ConfigRetryInterval(),
		Logger:              logger,
	})
	monitor := health.NewMonitor(
		health.NewSampler(cfg.Health.PowerSupplyDir, cfg.Health.PrinterDevice),
		health.Options{
			Interval:          cfg.HealthInterval(),
			LowBatteryPercent: cfg.Health.LowBatteryPercent,
			Hotplug:           cfg.Health.Hotplug,
			Logger:            logger,
			OnChange:          metrics.RecordHealth,
		},
	)

	d, err := daemon.New(cfg, orch, monitor, store, logger)
	if err != nil {
		orch.Close()
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	ipcServer.Serve()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		return ipcServer.Wait(groupCtx)
	})

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api_bind and session database access"),
			logging.String(logging.FieldImpact, "daemon exits without scanning"),
		)
		cancel()
		_ = group.Wait()
		return fmt.Errorf("start daemon: %w", err)
	}

	err = group.Wait()
	logger.Info("ballotscan daemon shutting down", logging.String(logging.FieldEventType, "daemon_stopping"))
	return err
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if strings.TrimSpace(opts.LogLevel) == "" && !opts.Development {
		return logging.NewFromConfig(cfg)
	}
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	return logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		FilePath:    filepath.Join(cfg.Paths.LogDir, logging.LogFileName),
		Development: opts.Development,
	})
}

func acquireInstanceLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, path)
	}
	return lock, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
