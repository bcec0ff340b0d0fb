package ballot

import (
	"time"

	"ballotscan/internal/adjudication"
)

// EventType names something that happened to the ballot in the scanner.
type EventType string

const (
	EventBeginScan           EventType = "BeginScan"
	EventScanAccepted        EventType = "ScanAccepted"
	EventScanRejected        EventType = "ScanRejected"
	EventScanNeedsReview     EventType = "ScanNeedsReview"
	EventScanFailed          EventType = "ScanFailed"
	EventOperatorAccepted    EventType = "OperatorAccepted"
	EventDismissTimerFired   EventType = "DismissTimerFired"
	EventPaperRemoved        EventType = "PaperRemoved"
	EventReadyToInsertBallot EventType = "ReadyToInsertBallot"
	EventScannerFault        EventType = "ScannerFault"
)

// Event is an input to Next. At stamps when it happened; Machine fills it in
// when left zero.
type Event struct {
	Type EventType
	At   time.Time
	// Reason is set for ScanRejected.
	Reason RejectionReason
	// Reasons is set for ScanNeedsReview.
	Reasons []adjudication.ReasonInfo
	// Deadline is set for DismissTimerFired to the deadline the timer was armed for.
	Deadline time.Time
}

func BeginScan() Event           { return Event{Type: EventBeginScan} }
func ScanAccepted() Event        { return Event{Type: EventScanAccepted} }
func ScanFailed() Event          { return Event{Type: EventScanFailed} }
func OperatorAccepted() Event    { return Event{Type: EventOperatorAccepted} }
func PaperRemoved() Event        { return Event{Type: EventPaperRemoved} }
func ReadyToInsertBallot() Event { return Event{Type: EventReadyToInsertBallot} }
func ScannerFault() Event        { return Event{Type: EventScannerFault} }

func ScanRejected(reason RejectionReason) Event {
	return Event{Type: EventScanRejected, Reason: reason}
}

func ScanNeedsReview(reasons []adjudication.ReasonInfo) Event {
	return Event{Type: EventScanNeedsReview, Reasons: reasons}
}

// DismissTimerFired builds the event a dismiss timer armed for deadline sends.
// A zero deadline dismisses states that carry none (Rejected).
func DismissTimerFired(deadline time.Time) Event {
	return Event{Type: EventDismissTimerFired, Deadline: deadline}
}
