// Package poller watches scan-service status on a ticker and converts
// hardware state changes into ballot events.
//
// Decide is the pure decision table. Poller owns the ticker loop, drops ticks
// that overlap a prior tick or scan, and discards the results of work whose
// run context was cancelled.
package poller
