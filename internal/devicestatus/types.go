package devicestatus

import (
	"ballotscan/internal/adjudication"
)

// ScannerState is the raw hardware state reported by the scan service.
type ScannerState string

const (
	ScannerUnknown         ScannerState = "Unknown"
	ScannerError           ScannerState = "Error"
	ScannerWaitingForPaper ScannerState = "WaitingForPaper"
	ScannerReadyToScan     ScannerState = "ReadyToScan"
)

// Normalize maps unrecognized values to ScannerUnknown.
func (s ScannerState) Normalize() ScannerState {
	switch s {
	case ScannerError, ScannerWaitingForPaper, ScannerReadyToScan:
		return s
	default:
		return ScannerUnknown
	}
}

// Batch is the scan service's bookkeeping for one scan attempt.
type Batch struct {
	ID        string `json:"id"`
	Label     string `json:"label,omitempty"`
	StartedAt string `json:"startedAt,omitempty"`
	EndedAt   string `json:"endedAt,omitempty"`
	Error     string `json:"error,omitempty"`
	Count     int    `json:"count"`
}

// Ended reports whether the service has finished the batch.
func (b Batch) Ended() bool {
	return b.EndedAt != ""
}

// AdjudicationStatus counts sheets awaiting and past review.
type AdjudicationStatus struct {
	Adjudicated int `json:"adjudicated"`
	Remaining   int `json:"remaining"`
}

// Status is the GET /scan/status response.
type Status struct {
	Scanner      ScannerState       `json:"scanner"`
	ElectionHash string             `json:"electionHash,omitempty"`
	Batches      []Batch            `json:"batches"`
	Adjudication AdjudicationStatus `json:"adjudication"`
}

// Batch returns the batch with the given ID.
func (s *Status) Batch(id string) (Batch, bool) {
	for _, b := range s.Batches {
		if b.ID == id {
			return b, true
		}
	}
	return Batch{}, false
}

// BallotCount sums sheets across all batches.
func (s *Status) BallotCount() int {
	total := 0
	for _, b := range s.Batches {
		total += b.Count
	}
	return total
}

// Snapshot reduces the status to the hardware view the poller acts on.
func (s *Status) Snapshot() Snapshot {
	return Snapshot{
		State:       s.Scanner.Normalize(),
		BatchCount:  len(s.Batches),
		BallotCount: s.BallotCount(),
	}
}

// Snapshot is the polled hardware view. It is never mutated by the orchestrator.
type Snapshot struct {
	State       ScannerState `json:"scannerState"`
	BatchCount  int          `json:"batchCount"`
	BallotCount int          `json:"ballotCount"`
}

// PageType discriminates a page interpretation.
type PageType string

const (
	PageBlank               PageType = "BlankPage"
	PageInterpretedBmd      PageType = "InterpretedBmdPage"
	PageInterpretedHmpb     PageType = "InterpretedHmpbPage"
	PageInvalidElectionHash PageType = "InvalidElectionHashPage"
	PageInvalidTestMode     PageType = "InvalidTestModePage"
	PageInvalidPrecinct     PageType = "InvalidPrecinctPage"
	PageUninterpretedHmpb   PageType = "UninterpretedHmpbPage"
	PageUnreadable          PageType = "UnreadablePage"
)

// AdjudicationInfo lists the findings for an interpreted page and which
// finding types the current election enables.
type AdjudicationInfo struct {
	RequiresAdjudication bool                      `json:"requiresAdjudication"`
	EnabledReasons       []adjudication.Reason     `json:"enabledReasons"`
	AllReasonInfos       []adjudication.ReasonInfo `json:"allReasonInfos"`
}

// PageMetadata is the subset of ballot metadata used for logging.
type PageMetadata struct {
	PrecinctID  string `json:"precinctId,omitempty"`
	BallotStyle string `json:"ballotStyleId,omitempty"`
	PageNumber  int    `json:"pageNumber,omitempty"`
	IsTestMode  bool   `json:"isTestMode,omitempty"`
}

// PageInterpretation is one side of a sheet as interpreted by the service.
// Fields beyond Type are populated according to Type.
type PageInterpretation struct {
	Type                 PageType          `json:"type"`
	Metadata             *PageMetadata     `json:"metadata,omitempty"`
	AdjudicationInfo     *AdjudicationInfo `json:"adjudicationInfo,omitempty"`
	ExpectedElectionHash string            `json:"expectedElectionHash,omitempty"`
	ActualElectionHash   string            `json:"actualElectionHash,omitempty"`
	Reason               string            `json:"reason,omitempty"`
}

// EnabledReasons returns the page's findings whose type is enabled.
func (p PageInterpretation) EnabledReasons() []adjudication.ReasonInfo {
	if p.AdjudicationInfo == nil {
		return nil
	}
	return adjudication.FilterEnabled(p.AdjudicationInfo.AllReasonInfos, p.AdjudicationInfo.EnabledReasons)
}

// SheetSide wraps a page interpretation.
type SheetSide struct {
	Interpretation PageInterpretation `json:"interpretation"`
}

// Sheet is the single sheet pending review.
type Sheet struct {
	ID    string    `json:"id"`
	Front SheetSide `json:"front"`
	Back  SheetSide `json:"back"`
}

// Pages returns front then back.
func (s *Sheet) Pages() [2]PageInterpretation {
	return [2]PageInterpretation{s.Front.Interpretation, s.Back.Interpretation}
}

type reviewResponse struct {
	Interpreted *Sheet `json:"interpreted"`
}

// SessionInfo is the configuration the service holds for this session.
type SessionInfo struct {
	MachineID    string `json:"machineId"`
	CodeVersion  string `json:"codeVersion"`
	TestMode     bool   `json:"testMode"`
	PrecinctID   string `json:"precinctId,omitempty"`
	ElectionHash string `json:"electionHash,omitempty"`
}

// Configured reports whether an election is loaded.
func (s SessionInfo) Configured() bool {
	return s.ElectionHash != ""
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type statusResponse struct {
	Status  string     `json:"status"`
	BatchID string     `json:"batchId,omitempty"`
	Errors  []apiError `json:"errors,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func (r statusResponse) ok() bool {
	return r.Status == "ok"
}

func (r statusResponse) message() string {
	if r.Error != "" {
		return r.Error
	}
	for _, e := range r.Errors {
		if e.Message != "" {
			return e.Message
		}
	}
	if r.Status == "" {
		return "missing status"
	}
	return "status " + r.Status
}
