package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ballotscan/internal/ballot"
	"ballotscan/internal/devicestatus"
	"ballotscan/internal/logging"
	"ballotscan/internal/scanctx"
	"ballotscan/internal/scanproto"
)

const (
	// DefaultInterval is the status poll cadence.
	DefaultInterval = time.Second
	// DefaultFaultThreshold is the number of consecutive Error/Unknown
	// snapshots that raise a scanner fault.
	DefaultFaultThreshold = 2
)

// StatusSource reports the scanner's current status.
type StatusSource interface {
	Status(ctx context.Context) (*devicestatus.Status, error)
}

// ScanRunner drives scan attempts. *scanproto.Runner satisfies it.
type ScanRunner interface {
	Run(ctx context.Context) scanproto.Outcome
	Finalize(ctx context.Context) error
}

// Options configures a Poller.
type Options struct {
	Interval time.Duration
	// FaultThreshold is how many consecutive Error/Unknown snapshots raise a
	// scanner fault. Zero means DefaultFaultThreshold.
	FaultThreshold int
	Logger         *slog.Logger
	// OnSnapshot receives every successfully fetched snapshot.
	OnSnapshot func(devicestatus.Snapshot)
}

// Poller watches scanner status and turns hardware changes into ballot
// events. Only one tick, scan, or exclusive operation runs at a time.
type Poller struct {
	source     StatusSource
	runner     ScanRunner
	machine    *ballot.Machine
	interval   time.Duration
	logger     *slog.Logger
	onSnapshot func(devicestatus.Snapshot)

	faultThreshold int
	// faultStreak counts consecutive fault snapshots. Only the slot holder
	// touches it.
	faultStreak int

	// slot is held by the current tick, scan, or exclusive operation.
	slot chan struct{}

	mu      sync.Mutex
	running bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a stopped Poller.
func New(source StatusSource, runner ScanRunner, machine *ballot.Machine, opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	threshold := opts.FaultThreshold
	if threshold <= 0 {
		threshold = DefaultFaultThreshold
	}
	return &Poller{
		source:         source,
		runner:         runner,
		machine:        machine,
		interval:       interval,
		logger:         logging.NewComponentLogger(opts.Logger, "poller"),
		onSnapshot:     opts.OnSnapshot,
		faultThreshold: threshold,
		slot:           make(chan struct{}, 1),
	}
}

// Start begins polling. A Scanning state left behind by a cancelled run is
// released as a failed scan so the held sheet can be finalized.
func (p *Poller) Start(ctx context.Context) error {
	if p.Running() {
		return errors.New("poller already running")
	}
	if p.tryAcquire() {
		if p.machine.State().Kind() == ballot.KindScanning {
			p.logger.Info("releasing scan orphaned by a previous stop")
			p.machine.Apply(ballot.ScanFailed())
		}
		p.release()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("poller already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go p.loop(runCtx)
	p.logger.Info("status poller started", logging.Duration("interval", p.interval))
	return nil
}

// Stop cancels the run context and waits for in-flight work to unwind.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.logger.Info("status poller stopped")
}

// Running reports whether the poller is started.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Exclusive runs fn while holding the tick slot, so no tick or scan overlaps
// it. It waits for an in-flight tick to finish, or fails with
// scanctx.ErrBusy if ctx ends first.
func (p *Poller) Exclusive(ctx context.Context, fn func()) error {
	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		return scanctx.Wrap(scanctx.ErrBusy, "poller", "exclusive", "scanner in use", ctx.Err())
	}
	defer p.release()
	fn()
	return nil
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	p.tick(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tryAcquire() bool {
	select {
	case p.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *Poller) release() {
	<-p.slot
}

// tick fetches one snapshot and acts on it. Ticks that arrive while a prior
// tick or scan holds the slot are dropped.
func (p *Poller) tick(ctx context.Context) {
	if !p.tryAcquire() {
		return
	}
	defer p.release()

	status, err := p.source.Status(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(p.logger, "status poll failed; will retry", "status_poll_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, scanctx.Hint(err)),
		)
		return
	}
	if ctx.Err() != nil {
		return
	}

	snap := status.Snapshot()
	if p.onSnapshot != nil {
		p.onSnapshot(snap)
	}

	if isFault(snap.State) {
		p.faultStreak++
	} else {
		p.faultStreak = 0
	}

	action := Decide(snap, p.machine.State())
	if action == ActionFault && p.faultStreak < p.faultThreshold {
		p.logger.Debug("scanner fault pending confirmation",
			logging.String("scanner_state", string(snap.State)),
			logging.Int("streak", p.faultStreak),
		)
		action = ActionNone
	}
	if action != ActionNone {
		p.logger.Debug("poll decided",
			logging.String("action", action.String()),
			logging.String("scanner_state", string(snap.State)),
		)
	}
	switch action {
	case ActionBeginScan:
		p.beginScan(ctx)
	case ActionFinalizeBatch:
		p.finalize(ctx)
	case ActionFault:
		logging.WarnWithContext(p.logger, "scanner reported a fault", "scanner_fault",
			logging.String("scanner_state", string(snap.State)),
			logging.Int("consecutive_snapshots", p.faultStreak),
			logging.String(logging.FieldErrorHint, scanctx.Hint(scanctx.ErrHardware)),
			logging.String(logging.FieldImpact, "voter sees scanner error screen"),
		)
		p.machine.Apply(ballot.ScannerFault())
	}
}

// beginScan runs one attempt. The tick slot stays held for the whole attempt,
// which suspends polling until the outcome is applied.
func (p *Poller) beginScan(ctx context.Context) {
	if !p.machine.TryBegin() {
		return
	}
	outcome := p.runner.Run(ctx)
	if ctx.Err() != nil {
		p.logger.Info("discarding scan outcome from cancelled run", logging.String("outcome", outcome.Label()))
		return
	}
	p.machine.Apply(outcome.Event())
}

func (p *Poller) finalize(ctx context.Context) {
	if err := p.runner.Finalize(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(p.logger, "finalize batch failed; will retry", "finalize_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, scanctx.Hint(err)),
		)
		return
	}
	if ctx.Err() != nil {
		return
	}
	p.machine.Apply(ballot.ReadyToInsertBallot())
}
