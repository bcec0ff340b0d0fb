// Package orchestrator is the top-level coordinator for one precinct scanner.
//
// It owns the ballot state machine and starts or stops the status poller as
// the polls open and close, the election configuration loads, and operator
// cards come and go. The operator surfaces (current state, ballot count,
// calibration, accept-with-errors, review content) are exposed here for the
// daemon's HTTP API and control socket.
package orchestrator
