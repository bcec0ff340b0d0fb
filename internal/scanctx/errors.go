package scanctx

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport marks failures reaching the scan service.
	ErrTransport = errors.New("transport error")
	// ErrProtocol marks responses that could not be decoded or broke the contract.
	ErrProtocol = errors.New("protocol error")
	// ErrHardware marks the scanner reporting a fault of its own.
	ErrHardware = errors.New("hardware fault")
	ErrTimeout  = errors.New("timeout")
	// ErrBusy marks a request refused because a scan is already in flight.
	ErrBusy = errors.New("scanner busy")
	// ErrInvalidState marks an operator action that does not apply to the current ballot state.
	ErrInvalidState = errors.New("invalid state")
)

// Wrap builds an error that names the component and operation while tagging it
// with marker for later classification with errors.Is.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransport
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Hint returns a short operator-facing next step for err, used as the
// error_hint log field.
func Hint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransport):
		return "check that the scan service is running and reachable"
	case errors.Is(err, ErrProtocol):
		return "scan service returned an unexpected response; check service version"
	case errors.Is(err, ErrHardware):
		return "check scanner cabling and paper path"
	case errors.Is(err, ErrTimeout):
		return "scan did not complete in time; remove the sheet and retry"
	case errors.Is(err, ErrBusy):
		return "wait for the current scan to finish"
	case errors.Is(err, ErrInvalidState):
		return "action does not apply to the current ballot screen"
	default:
		return "check logs for details"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{component, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "scan failure"
	}
	return strings.Join(parts, ": ")
}
