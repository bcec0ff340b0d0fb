package ballot

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"ballotscan/internal/adjudication"
)

// Kind identifies the active ballot lifecycle state.
type Kind string

const (
	KindIdle         Kind = "Idle"
	KindScanning     Kind = "Scanning"
	KindNeedsReview  Kind = "NeedsReview"
	KindCast         Kind = "Cast"
	KindRejected     Kind = "Rejected"
	KindScannerError Kind = "ScannerError"
)

// RejectionReason explains a Rejected state. The zero value means the scan
// failed without a classified reason.
type RejectionReason string

const (
	RejectNone                RejectionReason = ""
	RejectInvalidTestMode     RejectionReason = "InvalidTestMode"
	RejectInvalidElectionHash RejectionReason = "InvalidElectionHash"
	RejectInvalidPrecinct     RejectionReason = "InvalidPrecinct"
	RejectUnreadable          RejectionReason = "Unreadable"
	RejectUnknown             RejectionReason = "Unknown"
)

// State is the ballot lifecycle as a tagged variant. Only the fields belonging
// to Kind are set: Reasons for NeedsReview, Rejection for Rejected, DismissAt
// for Cast and ScannerError. Build values with the constructors below.
type State struct {
	kind      Kind
	reasons   []adjudication.ReasonInfo
	rejection RejectionReason
	dismissAt time.Time
}

func Idle() State     { return State{kind: KindIdle} }
func Scanning() State { return State{kind: KindScanning} }

func NeedsReview(reasons []adjudication.ReasonInfo) State {
	return State{kind: KindNeedsReview, reasons: append([]adjudication.ReasonInfo(nil), reasons...)}
}

func Cast(dismissAt time.Time) State {
	return State{kind: KindCast, dismissAt: dismissAt}
}

func Rejected(reason RejectionReason) State {
	return State{kind: KindRejected, rejection: reason}
}

func ScannerError(dismissAt time.Time) State {
	return State{kind: KindScannerError, dismissAt: dismissAt}
}

// Kind returns the active variant. The zero State reports Idle.
func (s State) Kind() Kind {
	if s.kind == "" {
		return KindIdle
	}
	return s.kind
}

// Reasons returns a copy of the review findings for NeedsReview.
func (s State) Reasons() []adjudication.ReasonInfo {
	return append([]adjudication.ReasonInfo(nil), s.reasons...)
}

// Rejection returns the reason for Rejected.
func (s State) Rejection() RejectionReason { return s.rejection }

// DismissAt returns the auto-dismiss deadline for Cast and ScannerError.
func (s State) DismissAt() (time.Time, bool) {
	return s.dismissAt, !s.dismissAt.IsZero()
}

// CanBeginScan reports whether a new sheet may be scanned from this state.
func (s State) CanBeginScan() bool {
	switch s.Kind() {
	case KindIdle, KindCast, KindScannerError:
		return true
	}
	return false
}

// HoldingPaper reports whether the scanner is holding a sheet for the voter
// or a poll worker to act on.
func (s State) HoldingPaper() bool {
	switch s.Kind() {
	case KindRejected, KindNeedsReview:
		return true
	}
	return false
}

// Valid reports whether the dismiss invariant holds: Cast and ScannerError
// always carry a deadline, no other state does.
func (s State) Valid() bool {
	switch s.Kind() {
	case KindCast, KindScannerError:
		return !s.dismissAt.IsZero()
	case KindIdle, KindScanning, KindNeedsReview, KindRejected:
		return s.dismissAt.IsZero()
	}
	return false
}

// Equal compares kind, deadline, rejection, and review reason count.
func (s State) Equal(other State) bool {
	return s.Kind() == other.Kind() &&
		s.rejection == other.rejection &&
		s.dismissAt.Equal(other.dismissAt) &&
		len(s.reasons) == len(other.reasons)
}

func (s State) String() string {
	switch s.Kind() {
	case KindRejected:
		if s.rejection == RejectNone {
			return "Rejected"
		}
		return fmt.Sprintf("Rejected(%s)", s.rejection)
	case KindNeedsReview:
		return fmt.Sprintf("NeedsReview(%d)", len(s.reasons))
	default:
		return string(s.Kind())
	}
}

type stateJSON struct {
	Kind      Kind                      `json:"kind"`
	Reasons   []adjudication.ReasonInfo `json:"reasons,omitempty"`
	Rejection RejectionReason           `json:"rejectionReason,omitempty"`
	DismissAt *time.Time                `json:"dismissAt,omitempty"`
}

func (s State) MarshalJSON() ([]byte, error) {
	out := stateJSON{Kind: s.Kind(), Reasons: s.reasons, Rejection: s.rejection}
	if !s.dismissAt.IsZero() {
		at := s.dismissAt.UTC()
		out.DismissAt = &at
	}
	return json.Marshal(out)
}

func (s *State) UnmarshalJSON(data []byte) error {
	var in stateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = State{kind: in.Kind, reasons: in.Reasons, rejection: in.Rejection}
	if in.DismissAt != nil {
		s.dismissAt = *in.DismissAt
	}
	return nil
}
