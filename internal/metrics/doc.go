// Package metrics defines the Prometheus collectors for scan outcomes, ballot
// state, session flags, and hardware health, registered on the default
// registry.
package metrics
