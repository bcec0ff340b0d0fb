package scanproto

import (
	"ballotscan/internal/adjudication"
	"ballotscan/internal/ballot"
)

// OutcomeKind classifies the result of one scan attempt.
type OutcomeKind string

const (
	OutcomeAccepted    OutcomeKind = "accepted"
	OutcomeRejected    OutcomeKind = "rejected"
	OutcomeNeedsReview OutcomeKind = "needs_review"
	// OutcomeFailed means the attempt aborted abnormally (a recovered panic).
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome is produced once per physical sheet insertion.
type Outcome struct {
	Kind    OutcomeKind
	BatchID string
	Reason  ballot.RejectionReason
	Reasons []adjudication.ReasonInfo
	// Err is the underlying failure for Rejected{Unknown} and Failed outcomes.
	Err error
}

func accepted(batchID string) Outcome {
	return Outcome{Kind: OutcomeAccepted, BatchID: batchID}
}

func rejected(batchID string, reason ballot.RejectionReason, err error) Outcome {
	return Outcome{Kind: OutcomeRejected, BatchID: batchID, Reason: reason, Err: err}
}

func needsReview(batchID string, reasons []adjudication.ReasonInfo) Outcome {
	return Outcome{Kind: OutcomeNeedsReview, BatchID: batchID, Reasons: reasons}
}

// Event converts the outcome into the ballot event it produces.
func (o Outcome) Event() ballot.Event {
	switch o.Kind {
	case OutcomeAccepted:
		return ballot.ScanAccepted()
	case OutcomeRejected:
		return ballot.ScanRejected(o.Reason)
	case OutcomeNeedsReview:
		return ballot.ScanNeedsReview(o.Reasons)
	default:
		return ballot.ScanFailed()
	}
}

// Label is a short metrics/log label such as "rejected:InvalidTestMode".
func (o Outcome) Label() string {
	if o.Kind == OutcomeRejected && o.Reason != ballot.RejectNone {
		return string(o.Kind) + ":" + string(o.Reason)
	}
	return string(o.Kind)
}
