package scanproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"ballotscan/internal/ballot"
	"ballotscan/internal/devicestatus"
	"ballotscan/internal/logging"
	"ballotscan/internal/scanctx"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultTimeout      = 30 * time.Second
)

// Device is the subset of the scan service the runner drives.
type Device interface {
	ScanBatch(ctx context.Context) (string, error)
	Status(ctx context.Context) (*devicestatus.Status, error)
	ScanContinue(ctx context.Context, forceAccept bool) error
	NextReviewSheet(ctx context.Context) (*devicestatus.Sheet, error)
	Calibrate(ctx context.Context) error
}

// Options tunes a Runner.
type Options struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
	// OnOutcome is called once per resolved attempt with its duration.
	OnOutcome func(Outcome, time.Duration)
}

// Runner executes scan attempts against a Device. It is not reentrant: a
// second Run, Accept, or Calibrate while one is in flight is refused.
type Runner struct {
	device       Device
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger
	onOutcome    func(Outcome, time.Duration)
	running      atomic.Bool
}

// New constructs a Runner.
func New(device Device, opts Options) *Runner {
	r := &Runner{
		device:       device,
		pollInterval: opts.PollInterval,
		timeout:      opts.Timeout,
		logger:       logging.NewComponentLogger(opts.Logger, "scanproto"),
		onOutcome:    opts.OnOutcome,
	}
	if r.pollInterval <= 0 {
		r.pollInterval = DefaultPollInterval
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	return r
}

// Running reports whether an attempt is in flight.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Run performs one scan attempt: start a batch, poll until it resolves, and
// classify any sheet left pending review. It always returns within the
// configured timeout.
func (r *Runner) Run(ctx context.Context) Outcome {
	return r.guarded(ctx, "scan", func(ctx context.Context, logger *slog.Logger) Outcome {
		batchID, err := r.device.ScanBatch(ctx)
		if err != nil {
			r.warn(logger, "scan command failed", "scan_fault", err)
			return rejected("", ballot.RejectUnknown, err)
		}
		ctx = scanctx.WithBatchID(ctx, batchID)
		logger = logging.WithContext(ctx, r.logger)
		logger.Info("scan started")
		return r.await(ctx, logger, batchID)
	})
}

// Accept tabulates the sheet pending review as-is and waits for the batch to
// finish.
func (r *Runner) Accept(ctx context.Context, batchID string) Outcome {
	return r.guarded(scanctx.WithBatchID(ctx, batchID), "accept", func(ctx context.Context, logger *slog.Logger) Outcome {
		if err := r.device.ScanContinue(ctx, true); err != nil {
			r.warn(logger, "accept with errors failed", "accept_failed", err)
			return rejected(batchID, ballot.RejectUnknown, err)
		}
		logger.Info("sheet accepted by operator")
		return r.await(ctx, logger, batchID)
	})
}

// Finalize tells the scanner no more paper will be processed for the held
// sheet, rejecting it. Used when the voter pulls the sheet back out.
func (r *Runner) Finalize(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return scanctx.Wrap(scanctx.ErrBusy, "scanproto", "finalize", "", nil)
	}
	defer r.running.Store(false)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.device.ScanContinue(ctx, false)
}

// Calibrate runs scanner calibration. It is refused while a scan is in flight.
func (r *Runner) Calibrate(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return scanctx.Wrap(scanctx.ErrBusy, "scanproto", "calibrate", "", nil)
	}
	defer r.running.Store(false)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.device.Calibrate(ctx); err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}
	r.logger.Info("scanner calibrated")
	return nil
}

func (r *Runner) guarded(ctx context.Context, op string, fn func(context.Context, *slog.Logger) Outcome) (outcome Outcome) {
	if !r.running.CompareAndSwap(false, true) {
		err := scanctx.Wrap(scanctx.ErrBusy, "scanproto", op, "attempt already in flight", nil)
		r.warn(r.logger, "scan refused", "scan_busy", err)
		return rejected("", ballot.RejectUnknown, err)
	}
	defer r.running.Store(false)

	started := time.Now()
	if _, ok := scanctx.ScanIDFromContext(ctx); !ok {
		ctx = scanctx.WithScanID(ctx, scanctx.NewScanID())
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	logger := logging.WithContext(ctx, r.logger)

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("scan %s panicked: %v", op, p)
			logging.ErrorWithContext(logger, "scan aborted", "scan_panic", logging.Error(err))
			outcome = Outcome{Kind: OutcomeFailed, Err: err}
		}
		logger.Info("scan resolved",
			logging.String("outcome", outcome.Label()),
			logging.Duration("elapsed", time.Since(started)),
		)
		if r.onOutcome != nil {
			r.onOutcome(outcome, time.Since(started))
		}
	}()

	return fn(ctx, logger)
}

func (r *Runner) await(ctx context.Context, logger *slog.Logger, batchID string) Outcome {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		status, err := r.device.Status(ctx)
		if err != nil {
			return r.abort(logger, batchID, "status poll failed", err)
		}

		if status.Adjudication.Remaining > 0 {
			outcome, resolved := r.review(ctx, logger, batchID)
			if resolved {
				return outcome
			}
		} else if batch, ok := status.Batch(batchID); ok && batch.Ended() {
			if batch.Count == 0 {
				logger.Info("scan finished with no sheet digitized", logging.String("batch_error", batch.Error))
				return rejected(batchID, ballot.RejectUnknown, nil)
			}
			return accepted(batchID)
		}

		select {
		case <-ctx.Done():
			return r.abort(logger, batchID, "scan did not resolve", ctx.Err())
		case <-ticker.C:
		}
	}
}

// review classifies the pending sheet. When none of its findings are enabled
// the sheet is continued as accepted and polling resumes (resolved=false).
func (r *Runner) review(ctx context.Context, logger *slog.Logger, batchID string) (Outcome, bool) {
	sheet, err := r.device.NextReviewSheet(ctx)
	if err != nil {
		return r.abort(logger, batchID, "fetch pending sheet failed", err), true
	}
	reason, reasons := classifySheet(sheet)
	if reason != ballot.RejectNone {
		logger.Info("sheet rejected", logging.String("reason", string(reason)), logging.String("sheet_id", sheet.ID))
		return rejected(batchID, reason, nil), true
	}
	if len(reasons) > 0 {
		logger.Info("sheet needs review", logging.Int("reasons", len(reasons)), logging.String("sheet_id", sheet.ID))
		return needsReview(batchID, reasons), true
	}
	logger.Debug("sheet has no enabled review reasons, continuing", logging.String("sheet_id", sheet.ID))
	if err := r.device.ScanContinue(ctx, true); err != nil {
		return r.abort(logger, batchID, "continue unflagged sheet failed", err), true
	}
	return Outcome{}, false
}

func (r *Runner) abort(logger *slog.Logger, batchID, msg string, err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		err = scanctx.Wrap(scanctx.ErrTimeout, "scanproto", msg, "exceeded "+r.timeout.String(), err)
	}
	r.warn(logger, msg, "scan_fault", err)
	return rejected(batchID, ballot.RejectUnknown, err)
}

func (r *Runner) warn(logger *slog.Logger, msg, eventType string, err error) {
	logging.WarnWithContext(logger, msg, eventType,
		logging.Error(err),
		logging.String(logging.FieldErrorHint, scanctx.Hint(err)),
		logging.String(logging.FieldImpact, "sheet rejected; voter must rescan"),
	)
}
