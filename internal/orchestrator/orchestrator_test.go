package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ballotscan/internal/adjudication"
	"ballotscan/internal/ballot"
	"ballotscan/internal/devicestatus"
	"ballotscan/internal/scanctx"
	"ballotscan/internal/session"
)

// simService is an in-memory scan service. A sheet loaded with load() is
// scanned on the next ScanBatch; flagged sheets are held until ScanContinue.
type simService struct {
	mu          sync.Mutex
	scanner     devicestatus.ScannerState
	batches     []devicestatus.Batch
	remaining   int
	next        *devicestatus.Sheet
	held        *devicestatus.Sheet
	continues   []bool
	calibrated  int
	infoErrs    int
	infoCalls   int
	unconfigure bool
}

func newSim() *simService {
	return &simService{scanner: devicestatus.ScannerWaitingForPaper}
}

// load places a sheet in the input tray.
func (s *simService) load(sheet *devicestatus.Sheet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = sheet
	s.scanner = devicestatus.ScannerReadyToScan
}

// pull removes a returned sheet from the tray.
func (s *simService) pull() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanner = devicestatus.ScannerWaitingForPaper
}

func (s *simService) Status(context.Context) (*devicestatus.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &devicestatus.Status{
		Scanner:      s.scanner,
		Batches:      append([]devicestatus.Batch(nil), s.batches...),
		Adjudication: devicestatus.AdjudicationStatus{Remaining: s.remaining},
	}, nil
}

func (s *simService) ScanBatch(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("b-%d", len(s.batches)+1)
	batch := devicestatus.Batch{ID: id, StartedAt: "2024-11-05T07:00:00Z"}
	sheet := s.next
	s.next = nil
	if sheet == nil {
		batch.EndedAt = "2024-11-05T07:00:01Z"
		s.batches = append(s.batches, batch)
		s.scanner = devicestatus.ScannerWaitingForPaper
		return id, nil
	}
	s.batches = append(s.batches, batch)
	s.held = sheet
	s.remaining = 1
	return id, nil
}

func (s *simService) ScanContinue(_ context.Context, forceAccept bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.continues = append(s.continues, forceAccept)
	if len(s.batches) == 0 {
		return nil
	}
	last := &s.batches[len(s.batches)-1]
	last.EndedAt = "2024-11-05T07:00:02Z"
	if forceAccept && s.held != nil {
		last.Count = 1
		s.scanner = devicestatus.ScannerWaitingForPaper
	}
	s.held = nil
	s.remaining = 0
	return nil
}

func (s *simService) NextReviewSheet(context.Context) (*devicestatus.Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held == nil {
		return nil, errors.New("no sheet")
	}
	return s.held, nil
}

func (s *simService) Calibrate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calibrated++
	return nil
}

func (s *simService) SessionInfo(context.Context) (devicestatus.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infoCalls++
	if s.infoCalls <= s.infoErrs {
		return devicestatus.SessionInfo{}, scanctx.Wrap(scanctx.ErrTransport, "devicestatus", "session info", "connection refused", nil)
	}
	info := devicestatus.SessionInfo{MachineID: "0001", CodeVersion: "dev", TestMode: true, PrecinctID: "23"}
	if !s.unconfigure {
		info.ElectionHash = "abcdef"
	}
	return info, nil
}

func (s *simService) continued() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.continues...)
}

func hmpb(enabled []adjudication.Reason, reasons ...adjudication.ReasonInfo) devicestatus.SheetSide {
	return devicestatus.SheetSide{Interpretation: devicestatus.PageInterpretation{
		Type: devicestatus.PageInterpretedHmpb,
		AdjudicationInfo: &devicestatus.AdjudicationInfo{
			RequiresAdjudication: len(reasons) > 0,
			EnabledReasons:       enabled,
			AllReasonInfos:       reasons,
		},
	}}
}

func noTimers(time.Duration, func()) func() bool { return func() bool { return true } }

func newTestOrchestrator(t *testing.T, sim *simService) (*Orchestrator, *session.Store) {
	t.Helper()
	store, err := session.Open(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	o := New(sim, store, Options{
		StatusPollInterval:  2 * time.Millisecond,
		ScanPollInterval:    time.Millisecond,
		ScanTimeout:         time.Second,
		ConfigRetryInterval: time.Millisecond,
		MachineOptions:      []ballot.MachineOption{ballot.WithAfterFunc(noTimers)},
	})
	t.Cleanup(o.Close)
	return o, store
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForKind(t *testing.T, o *Orchestrator, kind ballot.Kind) {
	t.Helper()
	waitFor(t, string(kind), func() bool { return o.CurrentState().Kind() == kind })
}

func TestBootRetriesConfigAndRestoresPolls(t *testing.T) {
	sim := newSim()
	sim.infoErrs = 2
	o, store := newTestOrchestrator(t, sim)
	if _, err := store.SavePollsOpen(context.Background(), true); err != nil {
		t.Fatalf("seed polls open: %v", err)
	}

	if err := o.Boot(t.Context()); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	st := o.Status()
	if !st.PollsOpen || !st.Configured || !st.PollerRunning {
		t.Fatalf("unexpected status after boot %+v", st)
	}
	if sim.infoCalls != 3 {
		t.Fatalf("expected 3 config attempts, got %d", sim.infoCalls)
	}
}

func TestBootGivesUpWhenContextEnds(t *testing.T) {
	sim := newSim()
	sim.infoErrs = 1 << 30
	o, _ := newTestOrchestrator(t, sim)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := o.Boot(ctx); err == nil {
		t.Fatal("expected Boot to fail once the context ends")
	}
	if o.Status().PollerRunning {
		t.Fatal("poller must not run without configuration")
	}
}

func TestPollerFollowsPreconditions(t *testing.T) {
	sim := newSim()
	o, store := newTestOrchestrator(t, sim)
	ctx := t.Context()
	if err := o.Boot(ctx); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if o.Status().PollerRunning {
		t.Fatal("poller must not run while polls are closed")
	}

	if err := o.SetPollsOpen(ctx, true); err != nil {
		t.Fatalf("SetPollsOpen: %v", err)
	}
	if !o.Status().PollerRunning {
		t.Fatal("expected poller running once polls open")
	}

	o.SetCardInserted(true)
	if o.Status().PollerRunning {
		t.Fatal("card must pause the poller")
	}
	o.SetCardInserted(false)
	if !o.Status().PollerRunning {
		t.Fatal("expected poller resumed after card removal")
	}

	sim.mu.Lock()
	sim.unconfigure = true
	sim.mu.Unlock()
	if err := o.RefreshConfig(ctx); err != nil {
		t.Fatalf("RefreshConfig: %v", err)
	}
	if o.Status().PollerRunning {
		t.Fatal("unconfigured election must stop the poller")
	}

	if err := o.SetPollsOpen(ctx, false); err != nil {
		t.Fatalf("close polls: %v", err)
	}
	if open, err := store.LoadPollsOpen(ctx); err != nil || open {
		t.Fatalf("expected closed polls persisted, open=%v err=%v", open, err)
	}
}

func TestOvervoteReviewThenAcceptWithErrors(t *testing.T) {
	sim := newSim()
	o, _ := newTestOrchestrator(t, sim)
	ctx := t.Context()
	if err := o.Boot(ctx); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	o.SetContestTitles(map[string]string{"president": "President"})
	if err := o.SetPollsOpen(ctx, true); err != nil {
		t.Fatalf("SetPollsOpen: %v", err)
	}

	enabled := []adjudication.Reason{adjudication.ReasonOvervote}
	sim.load(&devicestatus.Sheet{
		ID:    "sheet-1",
		Front: hmpb(enabled, adjudication.Overvote("president", 1, "o1", "o2", "o3", "o4", "o5", "o6")),
		Back:  hmpb(enabled),
	})
	waitForKind(t, o, ballot.KindNeedsReview)

	content, ok := o.Review()
	if !ok || content.Kind != adjudication.KindOvervote {
		t.Fatalf("expected overvote review, got %+v ok=%v", content, ok)
	}
	if err := o.BeginManualCalibration(ctx); !errors.Is(err, scanctx.ErrInvalidState) {
		t.Fatalf("calibration must be refused during review, got %v", err)
	}

	state, err := o.OperatorAcceptWithErrors(ctx)
	if err != nil {
		t.Fatalf("OperatorAcceptWithErrors: %v", err)
	}
	if state.Kind() != ballot.KindCast {
		t.Fatalf("expected Cast, got %s", state)
	}
	if got := sim.continued(); len(got) != 1 || !got[0] {
		t.Fatalf("expected one forced continue, got %v", got)
	}
	waitFor(t, "ballot count", func() bool { return o.BallotCount() == 1 })

	history := o.History(10)
	if len(history) < 4 || history[0].Event != string(ballot.EventScanAccepted) {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestRejectedSheetFinalizedWhenPulled(t *testing.T) {
	sim := newSim()
	o, _ := newTestOrchestrator(t, sim)
	ctx := t.Context()
	if err := o.Boot(ctx); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if err := o.SetPollsOpen(ctx, true); err != nil {
		t.Fatalf("SetPollsOpen: %v", err)
	}

	testModePage := devicestatus.SheetSide{Interpretation: devicestatus.PageInterpretation{Type: devicestatus.PageInvalidTestMode}}
	sim.load(&devicestatus.Sheet{ID: "sheet-1", Front: testModePage, Back: testModePage})
	waitForKind(t, o, ballot.KindRejected)
	if got := o.CurrentState().Rejection(); got != ballot.RejectInvalidTestMode {
		t.Fatalf("expected InvalidTestMode, got %s", got)
	}

	sim.pull()
	waitForKind(t, o, ballot.KindIdle)
	if got := sim.continued(); len(got) != 1 || got[0] {
		t.Fatalf("expected one reject continue, got %v", got)
	}
	if o.BallotCount() != 0 {
		t.Fatalf("rejected sheet must not count, got %d", o.BallotCount())
	}
}

func TestOperatorActionsOutsideReview(t *testing.T) {
	sim := newSim()
	o, _ := newTestOrchestrator(t, sim)
	ctx := t.Context()
	if err := o.Boot(ctx); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	if _, err := o.OperatorAcceptWithErrors(ctx); !errors.Is(err, scanctx.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, ok := o.Review(); ok {
		t.Fatal("no review content expected in Idle")
	}
	if err := o.BeginManualCalibration(ctx); err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if sim.calibrated != 1 {
		t.Fatalf("expected one calibration, got %d", sim.calibrated)
	}
}

func TestClosedPollsNeverScan(t *testing.T) {
	sim := newSim()
	o, _ := newTestOrchestrator(t, sim)
	if err := o.Boot(t.Context()); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	sim.load(&devicestatus.Sheet{ID: "sheet-1"})
	time.Sleep(20 * time.Millisecond)
	if got := o.CurrentState().Kind(); got != ballot.KindIdle {
		t.Fatalf("expected Idle with polls closed, got %s", got)
	}
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if len(sim.batches) != 0 {
		t.Fatalf("expected no scans, got %d batches", len(sim.batches))
	}
}
