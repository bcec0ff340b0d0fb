package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"ballotscan/internal/adjudication"
	"ballotscan/internal/ballot"
	"ballotscan/internal/devicestatus"
	"ballotscan/internal/logging"
	"ballotscan/internal/metrics"
	"ballotscan/internal/poller"
	"ballotscan/internal/scanctx"
	"ballotscan/internal/scanproto"
)

// Device is the scan service as the orchestrator sees it.
type Device interface {
	scanproto.Device
	SessionInfo(ctx context.Context) (devicestatus.SessionInfo, error)
}

// SessionStore persists the polls-open flag.
type SessionStore interface {
	LoadPollsOpen(ctx context.Context) (bool, error)
	SavePollsOpen(ctx context.Context, open bool) (bool, error)
}

// Options tunes the orchestrator's timing. Zero values take package defaults.
type Options struct {
	StatusPollInterval  time.Duration
	ScanPollInterval    time.Duration
	ScanTimeout         time.Duration
	DismissDelay        time.Duration
	ConfigRetryInterval time.Duration
	Logger              *slog.Logger
	// MachineOptions are passed to ballot.NewMachine; tests use them to
	// control the clock and dismiss timers.
	MachineOptions []ballot.MachineOption
}

// Status is a point-in-time summary for operators.
type Status struct {
	State         ballot.State             `json:"state"`
	PollsOpen     bool                     `json:"pollsOpen"`
	CardInserted  bool                     `json:"cardInserted"`
	Configured    bool                     `json:"configured"`
	PollerRunning bool                     `json:"pollerRunning"`
	Session       devicestatus.SessionInfo `json:"session"`
	Snapshot      devicestatus.Snapshot    `json:"snapshot"`
}

// Orchestrator ties the ballot state machine, scan runner, status poller, and
// persisted session together. It starts the poller only while the polls are
// open, an election is configured, and no card is inserted.
type Orchestrator struct {
	device  Device
	store   SessionStore
	machine *ballot.Machine
	runner  *scanproto.Runner
	poller  *poller.Poller
	logger  *slog.Logger
	history *history

	configRetry time.Duration

	// reconcileMu serializes poller start/stop decisions.
	reconcileMu sync.Mutex

	mu           sync.Mutex
	runCtx       context.Context
	pollsOpen    bool
	cardInserted bool
	session      devicestatus.SessionInfo
	configured   bool
	snapshot     devicestatus.Snapshot
	reviewBatch  string
	titles       map[string]string

	unsubscribe func()
}

// New wires an orchestrator. Call Boot before use and Close when done.
func New(device Device, store SessionStore, opts Options) *Orchestrator {
	logger := logging.NewComponentLogger(opts.Logger, "orchestrator")
	o := &Orchestrator{
		device:      device,
		store:       store,
		logger:      logger,
		history:     newHistory(historyCapacity),
		configRetry: opts.ConfigRetryInterval,
		runCtx:      context.Background(),
	}
	if o.configRetry <= 0 {
		o.configRetry = time.Second
	}

	machineOpts := append([]ballot.MachineOption{ballot.WithLogger(opts.Logger)}, opts.MachineOptions...)
	o.machine = ballot.NewMachine(ballot.Rules{DismissDelay: opts.DismissDelay}, machineOpts...)
	o.runner = scanproto.New(device, scanproto.Options{
		PollInterval: opts.ScanPollInterval,
		Timeout:      opts.ScanTimeout,
		Logger:       opts.Logger,
		OnOutcome:    o.recordOutcome,
	})
	o.poller = poller.New(device, o.runner, o.machine, poller.Options{
		Interval:   opts.StatusPollInterval,
		Logger:     opts.Logger,
		OnSnapshot: o.recordSnapshot,
	})
	o.unsubscribe = o.machine.Subscribe(o.recordTransition)
	metrics.SetState(ballot.KindIdle)
	return o
}

// Boot restores persisted session state and loads the session configuration
// from the scan service, retrying until it answers or ctx ends. ctx also
// bounds the poller's lifetime.
func (o *Orchestrator) Boot(ctx context.Context) error {
	o.mu.Lock()
	o.runCtx = ctx
	o.mu.Unlock()

	open, err := o.store.LoadPollsOpen(ctx)
	if err != nil {
		return fmt.Errorf("restore polls open: %w", err)
	}
	o.mu.Lock()
	o.pollsOpen = open
	o.mu.Unlock()
	metrics.SetPollsOpen(open)
	o.logger.Info("session restored", logging.Bool("polls_open", open))

	notify := func(err error, wait time.Duration) {
		logging.WarnWithContext(o.logger, "session config unavailable; retrying", "config_refresh_failed",
			logging.Error(err),
			logging.Duration("retry_in", wait),
			logging.String(logging.FieldErrorHint, scanctx.Hint(err)),
			logging.String(logging.FieldImpact, "voter flow stays paused until the scan service answers"),
		)
	}
	policy := backoff.WithContext(backoff.NewConstantBackOff(o.configRetry), ctx)
	if err := backoff.RetryNotify(func() error { return o.RefreshConfig(ctx) }, policy, notify); err != nil {
		return fmt.Errorf("load session config: %w", err)
	}

	if status, err := o.device.Status(ctx); err == nil {
		o.recordSnapshot(status.Snapshot())
	}
	o.reconcile()
	return nil
}

// RefreshConfig fetches the session configuration once and re-evaluates
// whether the poller should run.
func (o *Orchestrator) RefreshConfig(ctx context.Context) error {
	info, err := o.device.SessionInfo(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.session = info
	o.configured = info.Configured()
	o.mu.Unlock()

	o.logger.Info("session config loaded",
		logging.String("machine_id", info.MachineID),
		logging.Bool("test_mode", info.TestMode),
		logging.String("precinct_id", info.PrecinctID),
		logging.Bool("configured", info.Configured()),
	)
	o.reconcile()
	return nil
}

// SetPollsOpen opens or closes the polls and persists the choice.
func (o *Orchestrator) SetPollsOpen(ctx context.Context, open bool) error {
	if _, err := o.store.SavePollsOpen(ctx, open); err != nil {
		return fmt.Errorf("persist polls open: %w", err)
	}
	o.mu.Lock()
	changed := o.pollsOpen != open
	o.pollsOpen = open
	o.mu.Unlock()

	metrics.SetPollsOpen(open)
	if changed {
		o.logger.Info("polls state changed",
			logging.String(logging.FieldEventType, "polls_changed"),
			logging.Bool("polls_open", open),
		)
	}
	o.reconcile()
	return nil
}

// SetCardInserted records whether an operator card interrupts voter flow.
func (o *Orchestrator) SetCardInserted(inserted bool) {
	o.mu.Lock()
	o.cardInserted = inserted
	o.mu.Unlock()
	o.reconcile()
}

// CurrentState returns the ballot state.
func (o *Orchestrator) CurrentState() ballot.State {
	return o.machine.State()
}

// BallotCount is the number of sheets counted according to the scan service's
// last reported batches.
func (o *Orchestrator) BallotCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot.BallotCount
}

// Status summarizes the orchestrator for operators.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{
		PollsOpen:    o.pollsOpen,
		CardInserted: o.cardInserted,
		Configured:   o.configured,
		Session:      o.session,
		Snapshot:     o.snapshot,
	}
	o.mu.Unlock()
	st.State = o.machine.State()
	st.PollerRunning = o.poller.Running()
	return st
}

// SetContestTitles supplies display titles for contest IDs in review screens.
func (o *Orchestrator) SetContestTitles(titles map[string]string) {
	o.mu.Lock()
	o.titles = titles
	o.mu.Unlock()
}

// Review returns the adjudication screen content when a sheet awaits review.
func (o *Orchestrator) Review() (adjudication.Content, bool) {
	state := o.machine.State()
	if state.Kind() != ballot.KindNeedsReview {
		return adjudication.Content{}, false
	}
	o.mu.Lock()
	titles := o.titles
	o.mu.Unlock()
	return adjudication.Review(state.Reasons(), titles), true
}

// Subscribe registers fn for every ballot state change.
func (o *Orchestrator) Subscribe(fn ballot.Observer) func() {
	return o.machine.Subscribe(fn)
}

// History returns up to limit recent ballot state transitions, newest first.
// Only transitions since the process started are kept.
func (o *Orchestrator) History(limit int) []Transition {
	return o.history.recent(limit)
}

// Stop halts the status poller. The ballot state is kept; a later Boot with
// a fresh context resumes scanning.
func (o *Orchestrator) Stop() {
	o.reconcileMu.Lock()
	defer o.reconcileMu.Unlock()
	o.poller.Stop()
}

// Close stops the poller and cancels dismiss timers.
func (o *Orchestrator) Close() {
	o.Stop()
	o.machine.Close()
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
}

func (o *Orchestrator) baseContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runCtx
}

// reconcile starts or stops the poller to match the current preconditions.
func (o *Orchestrator) reconcile() {
	o.reconcileMu.Lock()
	defer o.reconcileMu.Unlock()

	o.mu.Lock()
	should := o.pollsOpen && o.configured && !o.cardInserted
	ctx := o.runCtx
	o.mu.Unlock()

	running := o.poller.Running()
	switch {
	case should && !running:
		if ctx.Err() != nil {
			return
		}
		if err := o.poller.Start(ctx); err != nil {
			o.logger.Warn("status poller start failed", logging.Error(err))
		}
	case !should && running:
		o.poller.Stop()
	}
}

func (o *Orchestrator) recordSnapshot(snap devicestatus.Snapshot) {
	o.mu.Lock()
	o.snapshot = snap
	o.mu.Unlock()
	metrics.SetBallotCount(snap.BallotCount)
}

func (o *Orchestrator) recordOutcome(outcome scanproto.Outcome, elapsed time.Duration) {
	if outcome.Kind == scanproto.OutcomeNeedsReview {
		o.mu.Lock()
		o.reviewBatch = outcome.BatchID
		o.mu.Unlock()
	}
	metrics.RecordOutcome(outcome, elapsed)
}

func (o *Orchestrator) recordTransition(tr ballot.Transition) {
	metrics.RecordTransition(tr)
	o.history.add(tr)
}
