package orchestrator

import (
	"context"
	"fmt"

	"ballotscan/internal/ballot"
	"ballotscan/internal/logging"
	"ballotscan/internal/scanctx"
)

// OperatorAcceptWithErrors tabulates the sheet under review as-is. It is only
// valid in NeedsReview and returns the state the scan resolved to. ctx bounds
// only the wait for the scanner.
func (o *Orchestrator) OperatorAcceptWithErrors(ctx context.Context) (ballot.State, error) {
	var (
		result ballot.State
		opErr  error
	)
	err := o.exclusive(ctx, func() {
		if o.machine.State().Kind() != ballot.KindNeedsReview {
			opErr = scanctx.Wrap(scanctx.ErrInvalidState, "orchestrator", "accept with errors",
				"no sheet awaiting review", nil)
			return
		}
		o.mu.Lock()
		batchID := o.reviewBatch
		o.mu.Unlock()

		if o.machine.Apply(ballot.OperatorAccepted()).Kind() != ballot.KindScanning {
			opErr = scanctx.Wrap(scanctx.ErrInvalidState, "orchestrator", "accept with errors", "review ended", nil)
			return
		}
		o.logger.Info("operator accepted sheet with errors", logging.String(logging.FieldBatchID, batchID))

		// The attempt outlives the request; only daemon shutdown abandons it.
		runCtx := o.baseContext()
		outcome := o.runner.Accept(runCtx, batchID)
		if runCtx.Err() != nil {
			o.logger.Info("discarding accept outcome after shutdown", logging.String("outcome", outcome.Label()))
			opErr = runCtx.Err()
			return
		}
		result = o.machine.Apply(outcome.Event())
	})
	if err != nil {
		return o.machine.State(), err
	}
	if opErr != nil {
		return o.machine.State(), opErr
	}
	return result, nil
}

// BeginManualCalibration calibrates the scanner. It is refused while the
// scanner holds or is scanning a sheet.
func (o *Orchestrator) BeginManualCalibration(ctx context.Context) error {
	var opErr error
	err := o.exclusive(ctx, func() {
		if state := o.machine.State(); !state.CanBeginScan() {
			opErr = scanctx.Wrap(scanctx.ErrInvalidState, "orchestrator", "calibrate",
				fmt.Sprintf("scanner busy with ballot in %s", state.Kind()), nil)
			return
		}
		o.logger.Info("manual calibration started", logging.String(logging.FieldEventType, "calibration_started"))
		if err := o.runner.Calibrate(ctx); err != nil {
			logging.WarnWithContext(o.logger, "manual calibration failed", "calibration_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, scanctx.Hint(err)),
				logging.String(logging.FieldImpact, "scanner keeps its previous calibration"),
			)
			opErr = err
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// exclusive runs fn with the poller's tick slot held. The slot exists whether
// or not the poller is running, so operator actions never overlap a scan.
func (o *Orchestrator) exclusive(ctx context.Context, fn func()) error {
	return o.poller.Exclusive(ctx, fn)
}
