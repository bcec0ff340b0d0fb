package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"ballotscan/internal/adjudication"
	"ballotscan/internal/ballot"
	"ballotscan/internal/config"
	"ballotscan/internal/health"
	"ballotscan/internal/logging"
	"ballotscan/internal/orchestrator"
	"ballotscan/internal/scanctx"
	"ballotscan/internal/session"
)

// ErrNotRunning is returned by operator actions while the daemon is stopped.
var ErrNotRunning = errors.New("daemon not running")

// Orchestrator is the ballot workflow the daemon hosts.
type Orchestrator interface {
	Boot(ctx context.Context) error
	Stop()
	Close()
	Status() orchestrator.Status
	Review() (adjudication.Content, bool)
	OperatorAcceptWithErrors(ctx context.Context) (ballot.State, error)
	BeginManualCalibration(ctx context.Context) error
	SetPollsOpen(ctx context.Context, open bool) error
	SetCardInserted(inserted bool)
	History(limit int) []orchestrator.Transition
}

// HealthMonitor samples printer and power state.
type HealthMonitor interface {
	Start(ctx context.Context) error
	Stop()
	Flags() (health.Flags, bool)
	Banners() []health.Banner
	Gate() health.Gate
}

// Daemon hosts the orchestrator and health monitor, owns the HTTP API, and
// enforces single-instance execution.
type Daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	orchestrator Orchestrator
	health       HealthMonitor
	store        *session.Store

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// HealthStatus is the latest hardware sample with its derived screens.
type HealthStatus struct {
	Sampled bool            `json:"sampled"`
	Flags   health.Flags    `json:"flags"`
	Banners []health.Banner `json:"banners"`
	Gate    health.Gate     `json:"gate"`
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool                `json:"running"`
	PID           int                 `json:"pid"`
	SessionDBPath string              `json:"sessionDbPath"`
	LockFilePath  string              `json:"lockFilePath"`
	Ballot        orchestrator.Status `json:"ballot"`
	Health        HealthStatus        `json:"health"`
}

// New constructs a daemon with initialized dependencies. store may be nil when
// the orchestrator persists elsewhere; the daemon closes it on Close.
func New(cfg *config.Config, orch Orchestrator, monitor HealthMonitor, store *session.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || orch == nil || monitor == nil {
		return nil, errors.New("daemon requires config, orchestrator, and health monitor")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:          cfg,
		logger:       logger,
		orchestrator: orch,
		health:       monitor,
		store:        store,
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
	}
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, starts health sampling and the HTTP API, and
// boots the orchestrator in the background. Boot keeps retrying until the scan
// service answers or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another ballotscan daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.health.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start health monitor: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.health.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.orchestrator.Boot(runCtx); err != nil {
			if runCtx.Err() != nil {
				return
			}
			logging.ErrorWithContext(d.logger, "orchestrator boot failed", "boot_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check session database access and restart the daemon"),
				logging.String(logging.FieldImpact, "scanner stays paused"),
			)
		}
	}()

	d.running.Store(true)
	d.logger.Info("ballotscan daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Stop halts scanning and sampling and releases the daemon lock. The ballot
// state is kept so a later Start resumes where it left off.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.orchestrator.Stop()
	d.health.Stop()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("ballotscan daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.orchestrator.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start has succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the current daemon status.
func (d *Daemon) Status(context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		SessionDBPath: d.cfg.SessionDBPath(),
		LockFilePath:  d.lockPath,
		Ballot:        d.orchestrator.Status(),
		Health:        d.Health(),
	}
	return status
}

// Health returns the latest hardware health sample.
func (d *Daemon) Health() HealthStatus {
	flags, sampled := d.health.Flags()
	return HealthStatus{
		Sampled: sampled,
		Flags:   flags,
		Banners: d.health.Banners(),
		Gate:    d.health.Gate(),
	}
}

// State returns the current ballot state.
func (d *Daemon) State() ballot.State {
	return d.orchestrator.Status().State
}

// Review returns the adjudication screen when a sheet awaits review.
func (d *Daemon) Review() (adjudication.Content, bool) {
	return d.orchestrator.Review()
}

// AcceptWithErrors casts the sheet held for review.
func (d *Daemon) AcceptWithErrors(ctx context.Context) (ballot.State, error) {
	if !d.running.Load() {
		return ballot.State{}, ErrNotRunning
	}
	state, err := d.orchestrator.OperatorAcceptWithErrors(ctx)
	if err != nil {
		d.logOperatorFailure("accept with errors", err)
		return state, err
	}
	d.logger.Info("operator accepted sheet with errors",
		logging.String(logging.FieldEventType, "operator_accept"),
		logging.String(logging.FieldState, state.String()),
	)
	return state, nil
}

// Calibrate runs a manual scanner calibration.
func (d *Daemon) Calibrate(ctx context.Context) error {
	if !d.running.Load() {
		return ErrNotRunning
	}
	if err := d.orchestrator.BeginManualCalibration(ctx); err != nil {
		d.logOperatorFailure("calibrate", err)
		return err
	}
	return nil
}

// SetPollsOpen opens or closes the polls.
func (d *Daemon) SetPollsOpen(ctx context.Context, open bool) error {
	return d.orchestrator.SetPollsOpen(ctx, open)
}

// SetCardInserted records an operator card being inserted or removed.
func (d *Daemon) SetCardInserted(inserted bool) {
	d.orchestrator.SetCardInserted(inserted)
}

// History returns recent ballot state transitions, newest first.
func (d *Daemon) History(limit int) []orchestrator.Transition {
	if limit <= 0 {
		limit = 50
	}
	return d.orchestrator.History(limit)
}

func (d *Daemon) logOperatorFailure(action string, err error) {
	logging.WarnWithContext(d.logger, "operator action refused", "operator_action_failed",
		logging.String("action", action),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, scanctx.Hint(err)),
	)
}
