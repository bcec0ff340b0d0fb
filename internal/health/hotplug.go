package health

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"ballotscan/internal/logging"
)

// hotplugWatcher listens for udev netlink events on USB and power-supply
// devices and calls onEvent for each, so printer and charger changes show up
// before the next tick.
type hotplugWatcher struct {
	logger  *slog.Logger
	onEvent func()

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	done    chan struct{}
	running bool
}

func newHotplugWatcher(logger *slog.Logger, onEvent func()) *hotplugWatcher {
	return &hotplugWatcher{logger: logger, onEvent: onEvent}
}

// Start connects to the udev netlink socket. Failure is logged and ignored;
// the ticker still samples.
func (w *hotplugWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(w.logger, "failed to connect to netlink socket; hotplug detection disabled", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
			logging.String(logging.FieldImpact, "printer and charger changes are seen on the next sample only"),
		)
		return
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true
	go w.loop(ctx, conn, w.quit, w.done)
}

// Stop closes the netlink socket and waits for the loop to exit.
func (w *hotplugWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.quit)
	done := w.done
	conn := w.conn
	w.conn = nil
	w.quit = nil
	w.running = false
	w.mu.Unlock()

	<-done
	_ = conn.Close()
}

func (w *hotplugWatcher) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, hotplugMatcher())
	defer close(monitorQuit)

	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case uevent := <-queue:
			w.logger.Debug("hotplug event",
				logging.String("action", string(uevent.Action)),
				logging.String("subsystem", uevent.Env["SUBSYSTEM"]),
				logging.String("kobj", uevent.KObj),
			)
			if w.onEvent != nil {
				w.onEvent()
			}
		case err := <-errs:
			logging.WarnWithContext(w.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
			)
		}
	}
}

// hotplugMatcher matches add/remove/change on printers, USB devices, and
// power supplies.
func hotplugMatcher() netlink.Matcher {
	action := "add|remove|change"
	rules := &netlink.RuleDefinitions{}
	for _, subsystem := range []string{"usb", "usbmisc", "power_supply"} {
		rules.AddRule(netlink.RuleDefinition{
			Action: &action,
			Env:    map[string]string{"SUBSYSTEM": "^" + subsystem + "$"},
		})
	}
	return rules
}
