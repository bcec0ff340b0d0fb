// Package ballot models the lifecycle of one sheet in the scanner.
//
// State is a tagged variant (Idle, Scanning, NeedsReview, Cast, Rejected,
// ScannerError) and Rules.Next is the pure, total transition function over
// it. Machine holds the live state, serializes every change, owns the single
// dismiss timer for Cast and ScannerError, and is the lock that decides
// whether a new scan may begin.
package ballot
