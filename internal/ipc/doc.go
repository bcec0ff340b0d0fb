// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// Request and response types live in types.go; add new endpoints there so the
// server and client stay in step. Operator calls that wait on the scanner are
// bounded by OperatorTimeout.
package ipc
