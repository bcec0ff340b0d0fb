// Package scanproto runs the multi-step "scan one sheet" protocol against the
// scan service and resolves each attempt to exactly one Outcome.
//
// A Runner issues the scan command, polls status at a short interval until
// the batch finishes or a sheet is held for review, and then classifies that
// sheet. Every failure resolves to Rejected{Unknown}; the whole attempt is
// bounded by a timeout so callers never wait indefinitely.
package scanproto
