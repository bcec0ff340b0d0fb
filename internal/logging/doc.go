// Package logging assembles the structured slog loggers used across ballotscan.
//
// It owns the console and JSON handlers, picks a format for the attached
// output, and exposes context-aware helpers so scan code tags every line with
// the scan attempt and batch it belongs to. Warnings go through
// WarnWithContext so each one carries event_type, error_hint, and impact.
package logging
