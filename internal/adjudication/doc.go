// Package adjudication classifies the findings attached to a scanned sheet
// and produces the review-screen content a voter or poll worker acts on.
//
// Everything here is pure: no I/O, no state. The operator choices it lists
// are carried out by the orchestrator.
package adjudication
