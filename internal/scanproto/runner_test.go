package scanproto_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ballotscan/internal/adjudication"
	"ballotscan/internal/ballot"
	"ballotscan/internal/devicestatus"
	"ballotscan/internal/scanctx"
	"ballotscan/internal/scanproto"
)

type fakeDevice struct {
	mu        sync.Mutex
	batchID   string
	scanErr   error
	statuses  []*devicestatus.Status
	statusErr error
	sheet     *devicestatus.Sheet
	continues []bool
	// afterContinue replaces the status script once ScanContinue succeeds.
	afterContinue []*devicestatus.Status
	block         chan struct{}
	panicOnStatus bool
}

func (f *fakeDevice) ScanBatch(context.Context) (string, error) {
	return f.batchID, f.scanErr
}

func (f *fakeDevice) Status(ctx context.Context) (*devicestatus.Status, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panicOnStatus {
		panic("status exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	status := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return status, nil
}

func (f *fakeDevice) ScanContinue(_ context.Context, forceAccept bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.continues = append(f.continues, forceAccept)
	if f.afterContinue != nil {
		f.statuses = f.afterContinue
	}
	return nil
}

func (f *fakeDevice) NextReviewSheet(context.Context) (*devicestatus.Sheet, error) {
	if f.sheet == nil {
		return nil, errors.New("no sheet")
	}
	return f.sheet, nil
}

func (f *fakeDevice) Calibrate(context.Context) error { return nil }

func ended(id string, count int) devicestatus.Batch {
	return devicestatus.Batch{ID: id, Label: "Batch 1", Count: count, StartedAt: "2024-11-05T07:00:00Z", EndedAt: "2024-11-05T07:00:01Z"}
}

func status(remaining int, batches ...devicestatus.Batch) *devicestatus.Status {
	return &devicestatus.Status{
		Scanner:      devicestatus.ScannerWaitingForPaper,
		Batches:      batches,
		Adjudication: devicestatus.AdjudicationStatus{Remaining: remaining},
	}
}

func page(t devicestatus.PageType) devicestatus.SheetSide {
	return devicestatus.SheetSide{Interpretation: devicestatus.PageInterpretation{Type: t}}
}

func hmpbPage(enabled []adjudication.Reason, reasons ...adjudication.ReasonInfo) devicestatus.SheetSide {
	return devicestatus.SheetSide{Interpretation: devicestatus.PageInterpretation{
		Type: devicestatus.PageInterpretedHmpb,
		AdjudicationInfo: &devicestatus.AdjudicationInfo{
			RequiresAdjudication: len(reasons) > 0,
			EnabledReasons:       enabled,
			AllReasonInfos:       reasons,
		},
	}}
}

func newRunner(device scanproto.Device) *scanproto.Runner {
	return scanproto.New(device, scanproto.Options{PollInterval: time.Millisecond, Timeout: time.Second})
}

func TestGhostScanIsRejectedUnknown(t *testing.T) {
	device := &fakeDevice{
		batchID: "b-1",
		statuses: []*devicestatus.Status{
			status(0),
			status(0, ended("b-1", 0)),
		},
	}
	out := newRunner(device).Run(context.Background())
	if out.Kind != scanproto.OutcomeRejected || out.Reason != ballot.RejectUnknown {
		t.Fatalf("expected Rejected{Unknown}, got %+v", out)
	}
}

func TestCompletedBatchIsAccepted(t *testing.T) {
	device := &fakeDevice{
		batchID:  "b-1",
		statuses: []*devicestatus.Status{status(0, ended("b-1", 1))},
	}
	out := newRunner(device).Run(context.Background())
	if out.Kind != scanproto.OutcomeAccepted || out.BatchID != "b-1" {
		t.Fatalf("expected Accepted, got %+v", out)
	}
	if out.Event().Type != ballot.EventScanAccepted {
		t.Fatalf("unexpected event %s", out.Event().Type)
	}
}

func TestContentRejections(t *testing.T) {
	hashPage := devicestatus.SheetSide{Interpretation: devicestatus.PageInterpretation{
		Type:                 devicestatus.PageInvalidElectionHash,
		ActualElectionHash:   "abcdef",
		ExpectedElectionHash: "fedcba",
	}}
	cases := []struct {
		name  string
		sheet devicestatus.Sheet
		want  ballot.RejectionReason
	}{
		{"test mode", devicestatus.Sheet{Front: page(devicestatus.PageInvalidTestMode), Back: hmpbPage(nil)}, ballot.RejectInvalidTestMode},
		{"election hash", devicestatus.Sheet{Front: hmpbPage(nil), Back: hashPage}, ballot.RejectInvalidElectionHash},
		{"precinct", devicestatus.Sheet{Front: page(devicestatus.PageInvalidPrecinct), Back: page(devicestatus.PageInvalidPrecinct)}, ballot.RejectInvalidPrecinct},
		{"unreadable", devicestatus.Sheet{Front: page(devicestatus.PageUnreadable), Back: page(devicestatus.PageInvalidTestMode)}, ballot.RejectUnreadable},
		{"uninterpreted", devicestatus.Sheet{Front: hmpbPage(nil), Back: page(devicestatus.PageUninterpretedHmpb)}, ballot.RejectUnreadable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sheet := tc.sheet
			device := &fakeDevice{
				batchID:  "b-1",
				statuses: []*devicestatus.Status{status(1, ended("b-1", 1))},
				sheet:    &sheet,
			}
			out := newRunner(device).Run(context.Background())
			if out.Kind != scanproto.OutcomeRejected || out.Reason != tc.want {
				t.Fatalf("expected Rejected{%s}, got %+v", tc.want, out)
			}
			if len(device.continues) != 0 {
				t.Fatalf("runner must not resolve rejected sheets itself, got continues %v", device.continues)
			}
		})
	}
}

func TestOvervoteNeedsReviewThenOperatorAccepts(t *testing.T) {
	overvote := adjudication.Overvote("president", 1, "o1", "o2", "o3", "o4", "o5", "o6")
	device := &fakeDevice{
		batchID:  "b-1",
		statuses: []*devicestatus.Status{status(0), status(1, ended("b-1", 1))},
		sheet: &devicestatus.Sheet{
			Front: hmpbPage([]adjudication.Reason{adjudication.ReasonOvervote}, overvote),
			Back:  hmpbPage([]adjudication.Reason{adjudication.ReasonOvervote}),
		},
		afterContinue: []*devicestatus.Status{status(0, ended("b-1", 1))},
	}
	runner := newRunner(device)

	out := runner.Run(context.Background())
	if out.Kind != scanproto.OutcomeNeedsReview {
		t.Fatalf("expected NeedsReview, got %+v", out)
	}
	if len(out.Reasons) != 1 || out.Reasons[0].ContestID != "president" || len(out.Reasons[0].OptionIDs) != 6 || out.Reasons[0].Expected != 1 {
		t.Fatalf("unexpected reasons %+v", out.Reasons)
	}

	out = runner.Accept(context.Background(), out.BatchID)
	if out.Kind != scanproto.OutcomeAccepted {
		t.Fatalf("expected Accepted after operator accept, got %+v", out)
	}
	if len(device.continues) != 1 || !device.continues[0] {
		t.Fatalf("expected one forced continue, got %v", device.continues)
	}
}

func TestDisabledReasonsAreContinuedAutomatically(t *testing.T) {
	device := &fakeDevice{
		batchID:  "b-1",
		statuses: []*devicestatus.Status{status(1, ended("b-1", 1))},
		sheet: &devicestatus.Sheet{
			Front: hmpbPage([]adjudication.Reason{adjudication.ReasonOvervote}, adjudication.Undervote("mayor", 1)),
			Back:  page(devicestatus.PageBlank),
		},
		afterContinue: []*devicestatus.Status{status(0, ended("b-1", 1))},
	}
	out := newRunner(device).Run(context.Background())
	if out.Kind != scanproto.OutcomeAccepted {
		t.Fatalf("expected Accepted, got %+v", out)
	}
	if len(device.continues) != 1 || !device.continues[0] {
		t.Fatalf("expected automatic forced continue, got %v", device.continues)
	}
}

func TestScanCommandFailureIsRejectedUnknown(t *testing.T) {
	device := &fakeDevice{scanErr: scanctx.Wrap(scanctx.ErrHardware, "devicestatus", "scan batch", "paper jam", nil)}
	out := newRunner(device).Run(context.Background())
	if out.Kind != scanproto.OutcomeRejected || out.Reason != ballot.RejectUnknown {
		t.Fatalf("expected Rejected{Unknown}, got %+v", out)
	}
	if !errors.Is(out.Err, scanctx.ErrHardware) {
		t.Fatalf("expected hardware error preserved, got %v", out.Err)
	}
}

func TestRunIsBoundedByTimeout(t *testing.T) {
	device := &fakeDevice{batchID: "b-1", statuses: []*devicestatus.Status{status(0)}}
	runner := scanproto.New(device, scanproto.Options{PollInterval: time.Millisecond, Timeout: 30 * time.Millisecond})

	started := time.Now()
	out := runner.Run(context.Background())
	if out.Kind != scanproto.OutcomeRejected || out.Reason != ballot.RejectUnknown {
		t.Fatalf("expected Rejected{Unknown}, got %+v", out)
	}
	if !errors.Is(out.Err, scanctx.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", out.Err)
	}
	if time.Since(started) > time.Second {
		t.Fatalf("run took too long: %s", time.Since(started))
	}
}

func TestRunIsNotReentrant(t *testing.T) {
	device := &fakeDevice{
		batchID:  "b-1",
		statuses: []*devicestatus.Status{status(0, ended("b-1", 1))},
		block:    make(chan struct{}),
	}
	runner := newRunner(device)

	done := make(chan scanproto.Outcome, 1)
	go func() { done <- runner.Run(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for !runner.Running() {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}

	second := runner.Run(context.Background())
	if !errors.Is(second.Err, scanctx.ErrBusy) {
		t.Fatalf("expected second run refused as busy, got %+v", second)
	}
	if err := runner.Calibrate(context.Background()); !errors.Is(err, scanctx.ErrBusy) {
		t.Fatalf("expected calibrate refused while scanning, got %v", err)
	}

	close(device.block)
	if first := <-done; first.Kind != scanproto.OutcomeAccepted {
		t.Fatalf("expected first run accepted, got %+v", first)
	}
}

func TestPanicResolvesToFailed(t *testing.T) {
	device := &fakeDevice{batchID: "b-1", panicOnStatus: true}
	var reported scanproto.Outcome
	runner := scanproto.New(device, scanproto.Options{
		PollInterval: time.Millisecond,
		OnOutcome:    func(o scanproto.Outcome, _ time.Duration) { reported = o },
	})
	out := runner.Run(context.Background())
	if out.Kind != scanproto.OutcomeFailed || out.Event().Type != ballot.EventScanFailed {
		t.Fatalf("expected Failed outcome, got %+v", out)
	}
	if reported.Kind != scanproto.OutcomeFailed {
		t.Fatalf("expected OnOutcome to see the failure, got %+v", reported)
	}
	if runner.Running() {
		t.Fatal("runner must release its guard after a panic")
	}
}
