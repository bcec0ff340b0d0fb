package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ballotscan/internal/ballot"
	"ballotscan/internal/health"
	"ballotscan/internal/scanproto"
)

var (
	namespace = "ballotscan"

	scanOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "outcomes_total",
			Help:      "Total number of scan attempts by outcome",
		},
		[]string{"outcome", "reason"},
	)

	scanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Duration of scan attempts in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 30},
		},
		[]string{"outcome"},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ballot",
			Name:      "transitions_total",
			Help:      "Total number of ballot state transitions",
		},
		[]string{"from", "to", "event"},
	)

	ballotState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ballot",
			Name:      "state",
			Help:      "Current ballot state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	ballotsCounted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ballot",
			Name:      "counted",
			Help:      "Ballots counted by the scan service in this session",
		},
	)

	pollsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "polls_open",
			Help:      "Whether the polls are open (1) or closed (0)",
		},
	)

	hardwareFlag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "connected",
			Help:      "Peripheral presence (1 connected, 0 missing)",
		},
		[]string{"device"},
	)

	batteryPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "battery_percent",
			Help:      "Battery charge percentage, 0 when no battery is present",
		},
	)
)

var allKinds = []ballot.Kind{
	ballot.KindIdle, ballot.KindScanning, ballot.KindNeedsReview,
	ballot.KindCast, ballot.KindRejected, ballot.KindScannerError,
}

// RecordOutcome counts one resolved scan attempt.
func RecordOutcome(outcome scanproto.Outcome, elapsed time.Duration) {
	scanOutcomesTotal.WithLabelValues(string(outcome.Kind), string(outcome.Reason)).Inc()
	scanDuration.WithLabelValues(string(outcome.Kind)).Observe(elapsed.Seconds())
}

// RecordTransition counts a state change and moves the state gauge.
func RecordTransition(tr ballot.Transition) {
	transitionsTotal.WithLabelValues(string(tr.From.Kind()), string(tr.To.Kind()), string(tr.Event.Type)).Inc()
	SetState(tr.To.Kind())
}

// SetState marks kind as the active ballot state.
func SetState(kind ballot.Kind) {
	for _, k := range allKinds {
		value := 0.0
		if k == kind {
			value = 1
		}
		ballotState.WithLabelValues(string(k)).Set(value)
	}
}

// SetBallotCount records the device-reported ballot count.
func SetBallotCount(n int) {
	ballotsCounted.Set(float64(n))
}

// SetPollsOpen records the polls-open flag.
func SetPollsOpen(open bool) {
	pollsOpen.Set(boolValue(open))
}

// RecordHealth records one hardware health sample.
func RecordHealth(flags health.Flags) {
	hardwareFlag.WithLabelValues("printer").Set(boolValue(flags.PrinterConnected))
	hardwareFlag.WithLabelValues("charger").Set(boolValue(flags.ChargerConnected))
	hardwareFlag.WithLabelValues("battery").Set(boolValue(flags.BatteryPresent))
	batteryPercent.Set(float64(flags.BatteryPercent))
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
