// Package daemon hosts the long-running ballotscan process.
//
// A Daemon takes the single-instance flock, starts hardware health sampling,
// boots the ballot orchestrator, and serves the operator HTTP API
// (/api/status, /api/state, /api/review, /api/accept, /api/calibrate,
// /api/polls, /api/card, /api/health, /api/history) plus Prometheus metrics
// on /metrics. When an API token is configured every /api route requires
// "Authorization: Bearer <token>".
//
// Ballot rules live in internal/ballot and the scan loop in internal/poller;
// this package only handles startup, shutdown, and operator entry points.
package daemon
