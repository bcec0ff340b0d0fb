package ballot_test

import (
	"testing"
	"time"

	"ballotscan/internal/adjudication"
	"ballotscan/internal/ballot"
)

var t0 = time.Date(2024, 11, 5, 7, 0, 0, 0, time.UTC)

func allStates() []ballot.State {
	return []ballot.State{
		ballot.Idle(),
		ballot.Scanning(),
		ballot.NeedsReview([]adjudication.ReasonInfo{adjudication.Overvote("president", 1, "a", "b")}),
		ballot.Cast(t0.Add(5 * time.Second)),
		ballot.Rejected(ballot.RejectInvalidTestMode),
		ballot.Rejected(ballot.RejectNone),
		ballot.ScannerError(t0.Add(5 * time.Second)),
		{},
	}
}

func allEvents() []ballot.Event {
	events := []ballot.Event{
		ballot.BeginScan(),
		ballot.ScanAccepted(),
		ballot.ScanRejected(ballot.RejectUnreadable),
		ballot.ScanNeedsReview([]adjudication.ReasonInfo{adjudication.Blank()}),
		ballot.ScanFailed(),
		ballot.OperatorAccepted(),
		ballot.DismissTimerFired(time.Time{}),
		ballot.DismissTimerFired(t0.Add(5 * time.Second)),
		ballot.DismissTimerFired(t0.Add(time.Hour)),
		ballot.PaperRemoved(),
		ballot.ReadyToInsertBallot(),
		ballot.ScannerFault(),
		{Type: "Bogus"},
		{},
	}
	for i := range events {
		events[i].At = t0
	}
	return events
}

func TestNextIsTotal(t *testing.T) {
	rules := ballot.Rules{DismissDelay: 5 * time.Second}
	for _, s := range allStates() {
		for _, e := range allEvents() {
			next := rules.Next(s, e)
			if !next.Valid() {
				t.Fatalf("Next(%s, %q) produced invalid state %s", s, e.Type, next)
			}
		}
	}
}

func TestTransitionTable(t *testing.T) {
	rules := ballot.Rules{DismissDelay: 5 * time.Second}
	deadline := t0.Add(5 * time.Second)
	at := func(e ballot.Event) ballot.Event { e.At = t0; return e }

	cases := []struct {
		name  string
		from  ballot.State
		event ballot.Event
		want  ballot.Kind
	}{
		{"idle begins", ballot.Idle(), at(ballot.BeginScan()), ballot.KindScanning},
		{"cast begins", ballot.Cast(deadline), at(ballot.BeginScan()), ballot.KindScanning},
		{"error begins", ballot.ScannerError(deadline), at(ballot.BeginScan()), ballot.KindScanning},
		{"rejected cannot begin", ballot.Rejected(ballot.RejectUnknown), at(ballot.BeginScan()), ballot.KindRejected},
		{"review cannot begin", ballot.NeedsReview(nil), at(ballot.BeginScan()), ballot.KindNeedsReview},
		{"accepted", ballot.Scanning(), at(ballot.ScanAccepted()), ballot.KindCast},
		{"rejected", ballot.Scanning(), at(ballot.ScanRejected(ballot.RejectInvalidPrecinct)), ballot.KindRejected},
		{"needs review", ballot.Scanning(), at(ballot.ScanNeedsReview([]adjudication.ReasonInfo{adjudication.Blank()})), ballot.KindNeedsReview},
		{"threw", ballot.Scanning(), at(ballot.ScanFailed()), ballot.KindRejected},
		{"operator accepts", ballot.NeedsReview(nil), at(ballot.OperatorAccepted()), ballot.KindScanning},
		{"operator accept outside review", ballot.Idle(), at(ballot.OperatorAccepted()), ballot.KindIdle},
		{"rejected dismissed", ballot.Rejected(ballot.RejectUnknown), at(ballot.DismissTimerFired(time.Time{})), ballot.KindIdle},
		{"rejected paper removed", ballot.Rejected(ballot.RejectUnknown), at(ballot.PaperRemoved()), ballot.KindIdle},
		{"error dismissed", ballot.ScannerError(deadline), at(ballot.DismissTimerFired(deadline)), ballot.KindIdle},
		{"error paper removed", ballot.ScannerError(deadline), at(ballot.PaperRemoved()), ballot.KindIdle},
		{"cast dismissed", ballot.Cast(deadline), at(ballot.DismissTimerFired(deadline)), ballot.KindIdle},
		{"cast paper removed ignored", ballot.Cast(deadline), at(ballot.PaperRemoved()), ballot.KindCast},
		{"review paper pulled", ballot.NeedsReview(nil), at(ballot.ReadyToInsertBallot()), ballot.KindIdle},
		{"rejected paper pulled", ballot.Rejected(ballot.RejectUnknown), at(ballot.ReadyToInsertBallot()), ballot.KindIdle},
		{"scanning ignores ready", ballot.Scanning(), at(ballot.ReadyToInsertBallot()), ballot.KindScanning},
		{"idle fault", ballot.Idle(), at(ballot.ScannerFault()), ballot.KindScannerError},
		{"cast fault", ballot.Cast(deadline), at(ballot.ScannerFault()), ballot.KindScannerError},
		{"scanning fault ignored", ballot.Scanning(), at(ballot.ScannerFault()), ballot.KindScanning},
		{"review fault ignored", ballot.NeedsReview(nil), at(ballot.ScannerFault()), ballot.KindNeedsReview},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := rules.Next(tc.from, tc.event)
			if got.Kind() != tc.want {
				t.Fatalf("Next(%s, %s) = %s, want %s", tc.from, tc.event.Type, got, tc.want)
			}
		})
	}
}

func TestAcceptedSetsDismissDeadline(t *testing.T) {
	rules := ballot.Rules{DismissDelay: 5 * time.Second}
	e := ballot.ScanAccepted()
	e.At = t0
	got := rules.Next(ballot.Scanning(), e)
	deadline, ok := got.DismissAt()
	if !ok || !deadline.Equal(t0.Add(5*time.Second)) {
		t.Fatalf("unexpected deadline %v (ok=%v)", deadline, ok)
	}
}

func TestRejectedCarriesReason(t *testing.T) {
	rules := ballot.Rules{}
	got := rules.Next(ballot.Scanning(), ballot.ScanRejected(ballot.RejectInvalidElectionHash))
	if got.Rejection() != ballot.RejectInvalidElectionHash {
		t.Fatalf("unexpected rejection %q", got.Rejection())
	}
	if _, ok := got.DismissAt(); ok {
		t.Fatal("rejected must not carry a dismiss deadline")
	}
	if got := rules.Next(ballot.Scanning(), ballot.ScanFailed()); got.Rejection() != ballot.RejectNone {
		t.Fatalf("expected reasonless rejection, got %q", got.Rejection())
	}
}

func TestSupersededDismissIsNoop(t *testing.T) {
	rules := ballot.Rules{DismissDelay: 5 * time.Second}
	first := t0.Add(5 * time.Second)
	second := t0.Add(12 * time.Second)

	cast := ballot.Cast(second)
	if got := rules.Next(cast, ballot.DismissTimerFired(first)); got.Kind() != ballot.KindCast {
		t.Fatalf("stale timer dismissed Cast: %s", got)
	}
	if got := rules.Next(ballot.Scanning(), ballot.DismissTimerFired(first)); got.Kind() != ballot.KindScanning {
		t.Fatalf("stale timer interrupted scan: %s", got)
	}
	if got := rules.Next(ballot.Rejected(ballot.RejectUnknown), ballot.DismissTimerFired(first)); got.Kind() != ballot.KindRejected {
		t.Fatalf("stale Cast timer cleared Rejected: %s", got)
	}
	if got := rules.Next(ballot.Idle(), ballot.DismissTimerFired(time.Time{})); got.Kind() != ballot.KindIdle {
		t.Fatalf("dismiss in Idle changed state: %s", got)
	}
}
