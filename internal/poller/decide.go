package poller

import (
	"ballotscan/internal/ballot"
	"ballotscan/internal/devicestatus"
)

// Action is what one poll tick should do about the hardware snapshot.
type Action int

const (
	ActionNone Action = iota
	// ActionBeginScan starts a scan attempt for paper the scanner is holding.
	ActionBeginScan
	// ActionFinalizeBatch tells the scanner to reject the held sheet and
	// returns the voter flow to Idle.
	ActionFinalizeBatch
	// ActionFault moves the ballot flow to ScannerError.
	ActionFault
)

// isFault reports whether the scanner state counts toward a fault.
func isFault(state devicestatus.ScannerState) bool {
	switch state.Normalize() {
	case devicestatus.ScannerError, devicestatus.ScannerUnknown:
		return true
	}
	return false
}

func (a Action) String() string {
	switch a {
	case ActionBeginScan:
		return "begin_scan"
	case ActionFinalizeBatch:
		return "finalize_batch"
	case ActionFault:
		return "fault"
	default:
		return "none"
	}
}

// Decide maps a hardware snapshot and the current ballot state to an action.
// It has no side effects. ActionFault is a candidate only; the poller applies
// it after FaultThreshold consecutive fault snapshots.
func Decide(snap devicestatus.Snapshot, state ballot.State) Action {
	kind := state.Kind()
	switch snap.State.Normalize() {
	case devicestatus.ScannerReadyToScan:
		if state.CanBeginScan() {
			return ActionBeginScan
		}
	case devicestatus.ScannerWaitingForPaper:
		if kind == ballot.KindRejected || kind == ballot.KindNeedsReview {
			return ActionFinalizeBatch
		}
	case devicestatus.ScannerError, devicestatus.ScannerUnknown:
		// A Cast confirmation runs out its dismiss timer first; a fault that
		// persists is raised once the flow is back at Idle.
		if kind == ballot.KindIdle {
			return ActionFault
		}
	}
	return ActionNone
}
