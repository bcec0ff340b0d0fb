package ballot

import (
	"log/slog"
	"sync"
	"time"

	"ballotscan/internal/logging"
)

// Transition records one applied state change.
type Transition struct {
	From  State
	To    State
	Event Event
}

// Observer receives every state change in order. Observers run outside the
// state lock but must not call Apply or TryBegin.
type Observer func(Transition)

// Clock supplies the current time.
type Clock func() time.Time

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithClock overrides time.Now.
func WithClock(clock Clock) MachineOption {
	return func(m *Machine) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithAfterFunc overrides time.AfterFunc for dismiss timers.
func WithAfterFunc(after AfterFunc) MachineOption {
	return func(m *Machine) {
		if after != nil {
			m.after = after
		}
	}
}

// WithLogger attaches a logger for transition records.
func WithLogger(logger *slog.Logger) MachineOption {
	return func(m *Machine) {
		m.logger = logging.NewComponentLogger(logger, "ballot")
	}
}

// Machine holds the current ballot state and is the only place it changes.
// It doubles as the scanner lock: TryBegin is the single gate through which a
// scan attempt may start.
type Machine struct {
	rules  Rules
	now    Clock
	after  AfterFunc
	logger *slog.Logger

	// notifyMu orders observer delivery to match apply order.
	notifyMu sync.Mutex

	mu        sync.Mutex
	state     State
	stopTimer func() bool
	observers map[int]Observer
	nextObsID int
	closed    bool
}

// NewMachine returns a machine in Idle.
func NewMachine(rules Rules, opts ...MachineOption) *Machine {
	m := &Machine{
		rules:     rules,
		now:       time.Now,
		after:     realAfterFunc,
		logger:    logging.NewNop(),
		state:     Idle(),
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Apply runs e through the transition function and returns the resulting state.
func (m *Machine) Apply(e Event) State {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	tr, changed, observers := m.applyLocked(e)
	m.mu.Unlock()

	if changed {
		m.notify(tr, observers)
	}
	return tr.To
}

// TryBegin applies BeginScan only when the current state can begin a scan,
// reporting whether it did. Callers that get true own the scanner until they
// apply the scan's outcome.
func (m *Machine) TryBegin() bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if !m.state.CanBeginScan() || m.closed {
		m.mu.Unlock()
		return false
	}
	tr, changed, observers := m.applyLocked(BeginScan())
	m.mu.Unlock()

	if changed {
		m.notify(tr, observers)
	}
	return tr.To.Kind() == KindScanning
}

// Subscribe registers fn for future transitions and returns a function that
// removes it.
func (m *Machine) Subscribe(fn Observer) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// Close cancels any pending dismiss timer. Later Apply calls still work but
// arm no timers.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cancelTimerLocked()
}

func (m *Machine) applyLocked(e Event) (Transition, bool, []Observer) {
	if e.At.IsZero() {
		e.At = m.now()
	}
	prev := m.state
	next := m.rules.Next(prev, e)
	tr := Transition{From: prev, To: next, Event: e}
	if next.Equal(prev) {
		return tr, false, nil
	}
	m.state = next
	m.cancelTimerLocked()
	if deadline, ok := next.DismissAt(); ok && !m.closed {
		m.armTimerLocked(deadline)
	}
	observers := make([]Observer, 0, len(m.observers))
	for _, obs := range m.observers {
		observers = append(observers, obs)
	}
	return tr, true, observers
}

func (m *Machine) armTimerLocked(deadline time.Time) {
	delay := deadline.Sub(m.now())
	if delay < 0 {
		delay = 0
	}
	m.stopTimer = m.after(delay, func() {
		m.Apply(DismissTimerFired(deadline))
	})
}

func (m *Machine) cancelTimerLocked() {
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
}

func (m *Machine) notify(tr Transition, observers []Observer) {
	m.logger.Info("ballot state changed",
		logging.String("from", tr.From.String()),
		logging.String(logging.FieldState, tr.To.String()),
		logging.String("event", string(tr.Event.Type)),
	)
	for _, obs := range observers {
		obs(tr)
	}
}
