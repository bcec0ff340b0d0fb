package ballot

import "time"

// DefaultDismissDelay is how long Cast and ScannerError stay on screen.
const DefaultDismissDelay = 5 * time.Second

// Rules holds the parameters of the transition function.
type Rules struct {
	DismissDelay time.Duration
}

func (r Rules) dismissDelay() time.Duration {
	if r.DismissDelay <= 0 {
		return DefaultDismissDelay
	}
	return r.DismissDelay
}

// Next returns the state that follows s after e. It is total: any pair not in
// the transition table returns s unchanged.
func (r Rules) Next(s State, e Event) State {
	kind := s.Kind()
	switch e.Type {
	case EventBeginScan:
		if s.CanBeginScan() {
			return Scanning()
		}

	case EventScanAccepted:
		if kind == KindScanning {
			return Cast(e.At.Add(r.dismissDelay()))
		}

	case EventScanRejected:
		if kind == KindScanning {
			return Rejected(e.Reason)
		}

	case EventScanNeedsReview:
		if kind == KindScanning {
			return NeedsReview(e.Reasons)
		}

	case EventScanFailed:
		if kind == KindScanning {
			return Rejected(RejectNone)
		}

	case EventOperatorAccepted:
		if kind == KindNeedsReview {
			return Scanning()
		}

	case EventDismissTimerFired:
		// A superseded timer carries a deadline the current state does not.
		if !e.Deadline.Equal(s.dismissAt) {
			return s
		}
		switch kind {
		case KindCast, KindRejected, KindScannerError:
			return Idle()
		}

	case EventPaperRemoved:
		switch kind {
		case KindRejected, KindScannerError:
			return Idle()
		}

	case EventReadyToInsertBallot:
		if kind != KindScanning {
			return Idle()
		}

	case EventScannerFault:
		switch kind {
		case KindIdle, KindCast:
			return ScannerError(e.At.Add(r.dismissDelay()))
		}
	}
	return s
}
