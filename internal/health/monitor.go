package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ballotscan/internal/logging"
)

// DefaultInterval is the sampling cadence.
const DefaultInterval = 500 * time.Millisecond

// Source produces one sample.
type Source interface {
	Sample() (Flags, error)
}

// Options configures a Monitor.
type Options struct {
	Interval          time.Duration
	LowBatteryPercent int
	// Hotplug subscribes to udev USB events and resamples on each.
	Hotplug  bool
	Logger   *slog.Logger
	OnChange func(Flags)
}

// Monitor samples hardware health on a ticker. It never touches ballot state.
type Monitor struct {
	source     Source
	interval   time.Duration
	lowPercent int
	hotplug    *hotplugWatcher
	logger     *slog.Logger
	onChange   func(Flags)

	mu      sync.Mutex
	flags   Flags
	sampled bool
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	trigger chan struct{}
}

// NewMonitor constructs a stopped Monitor.
func NewMonitor(source Source, opts Options) *Monitor {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := logging.NewComponentLogger(opts.Logger, "health")
	m := &Monitor{
		source:     source,
		interval:   interval,
		lowPercent: opts.LowBatteryPercent,
		logger:     logger,
		onChange:   opts.OnChange,
		trigger:    make(chan struct{}, 1),
	}
	if opts.Hotplug {
		m.hotplug = newHotplugWatcher(logger, m.Resample)
	}
	return m
}

// Start samples once and then on every tick.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("health monitor already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	if m.hotplug != nil {
		m.hotplug.Start(runCtx)
	}

	m.wg.Add(1)
	go m.loop(runCtx)
	return nil
}

// Stop halts sampling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.cancel = nil
	m.running = false
	m.mu.Unlock()

	if m.hotplug != nil {
		m.hotplug.Stop()
	}
	cancel()
	m.wg.Wait()
}

// Flags returns the latest sample and whether one has been taken.
func (m *Monitor) Flags() (Flags, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags, m.sampled
}

// Banners returns the advisory banners for the latest sample.
func (m *Monitor) Banners() []Banner {
	flags, ok := m.Flags()
	if !ok {
		return nil
	}
	return flags.Banners(m.lowPercent)
}

// Gate returns the blocking screen for the latest sample. Before the first
// sample nothing is gated.
func (m *Monitor) Gate() Gate {
	flags, ok := m.Flags()
	if !ok {
		return GateNone
	}
	return flags.Gate()
}

// Resample requests an immediate sample outside the ticker.
func (m *Monitor) Resample() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	m.sample()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		case <-m.trigger:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	flags, err := m.source.Sample()
	if err != nil {
		m.logger.Debug("health sample incomplete", logging.Error(err))
	}

	m.mu.Lock()
	changed := !m.sampled || !flags.Equal(m.flags)
	m.flags = flags
	m.sampled = true
	m.mu.Unlock()

	if !changed {
		return
	}
	m.logger.Info("hardware health changed",
		logging.String(logging.FieldEventType, "health_changed"),
		logging.Bool("printer_connected", flags.PrinterConnected),
		logging.Bool("charger_connected", flags.ChargerConnected),
		logging.Int("battery_percent", flags.BatteryPercent),
		logging.String("gate", string(flags.Gate())),
	)
	if m.onChange != nil {
		m.onChange(flags)
	}
}
