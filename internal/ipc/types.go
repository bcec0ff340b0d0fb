package ipc

import (
	"ballotscan/internal/adjudication"
	"ballotscan/internal/ballot"
	"ballotscan/internal/orchestrator"
)

// StartRequest triggers daemon startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops scanning.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// HealthInfo is the latest hardware sample in wire form.
type HealthInfo struct {
	Sampled          bool     `json:"sampled"`
	PrinterConnected bool     `json:"printer_connected"`
	ChargerConnected bool     `json:"charger_connected"`
	BatteryPresent   bool     `json:"battery_present"`
	BatteryPercent   int      `json:"battery_percent"`
	Banners          []string `json:"banners"`
	Gate             string   `json:"gate"`
}

// StatusResponse represents combined daemon, ballot, and health status.
type StatusResponse struct {
	Running       bool         `json:"running"`
	PID           int          `json:"pid"`
	LockPath      string       `json:"lock_path"`
	SessionDBPath string       `json:"session_db_path"`
	State         ballot.State `json:"state"`
	PollsOpen     bool         `json:"polls_open"`
	CardInserted  bool         `json:"card_inserted"`
	Configured    bool         `json:"configured"`
	PollerRunning bool         `json:"poller_running"`
	MachineID     string       `json:"machine_id"`
	PrecinctID    string       `json:"precinct_id"`
	TestMode      bool         `json:"test_mode"`
	ScannerState  string       `json:"scanner_state"`
	BallotCount   int          `json:"ballot_count"`
	Health        HealthInfo   `json:"health"`
}

// StateRequest fetches the ballot state.
type StateRequest struct{}

// StateResponse carries the ballot state.
type StateResponse struct {
	State ballot.State `json:"state"`
}

// ReviewRequest fetches the adjudication screen.
type ReviewRequest struct{}

// ReviewResponse carries review content when a sheet is held for review.
type ReviewResponse struct {
	Pending bool                  `json:"pending"`
	Content *adjudication.Content `json:"content,omitempty"`
}

// AcceptRequest casts the sheet held for review.
type AcceptRequest struct{}

// AcceptResponse carries the ballot state after acceptance.
type AcceptResponse struct {
	State ballot.State `json:"state"`
}

// CalibrateRequest starts a manual calibration.
type CalibrateRequest struct{}

// CalibrateResponse reports calibration completion.
type CalibrateResponse struct {
	Calibrated bool `json:"calibrated"`
}

// PollsRequest opens or closes the polls.
type PollsRequest struct {
	Open bool `json:"open"`
}

// PollsResponse echoes the persisted polls flag.
type PollsResponse struct {
	PollsOpen bool `json:"polls_open"`
}

// CardRequest reports an operator card inserted or removed.
type CardRequest struct {
	Inserted bool `json:"inserted"`
}

// CardResponse echoes the card flag.
type CardResponse struct {
	CardInserted bool `json:"card_inserted"`
}

// HealthRequest fetches hardware health.
type HealthRequest struct{}

// HealthResponse carries hardware health.
type HealthResponse struct {
	Health HealthInfo `json:"health"`
}

// HistoryRequest fetches recent ballot transitions. Limit <= 0 uses the daemon default.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryResponse lists transitions, newest first.
type HistoryResponse struct {
	Transitions []orchestrator.Transition `json:"transitions"`
}
