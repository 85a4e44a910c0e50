package watchdog

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hamed0406/devicewatch/internal/clock"
	"github.com/hamed0406/devicewatch/internal/notify"
	"github.com/hamed0406/devicewatch/internal/store"
	"github.com/hamed0406/devicewatch/internal/store/memory"
)

// --- fakes ---

type fakeController struct {
	rollbacks   int
	marks       int
	rollbackErr error
	markErr     error
}

func (f *fakeController) RollbackAndReboot() error { f.rollbacks++; return f.rollbackErr }
func (f *fakeController) MarkAppValid() error      { f.marks++; return f.markErr }

type fakeRebooter struct{ n int }

func (f *fakeRebooter) Reboot() error { f.n++; return nil }

type sent struct {
	title string
	sev   notify.Severity
}

type memNotifier struct{ msgs []sent }

func (m *memNotifier) Send(ctx context.Context, title, text string, sev notify.Severity) error {
	m.msgs = append(m.msgs, sent{title: title, sev: sev})
	return nil
}

type harness struct {
	backend *memory.Store
	kv      store.KV
	ctl     *fakeController
	reboot  *fakeRebooter
	notes   *memNotifier
	clk     *clock.Manual
	wd      *Watchdog
}

func newHarness() *harness {
	h := &harness{
		backend: memory.New(),
		ctl:     &fakeController{},
		reboot:  &fakeRebooter{},
		notes:   &memNotifier{},
		clk:     &clock.Manual{T: 1500 * time.Millisecond},
	}
	h.kv = store.Namespace(h.backend, Namespace)
	h.wd = New(h.kv, h.ctl, h.reboot, h.notes, h.clk, zap.NewNop(), Config{DeviceName: "dev1", Version: "2.0.0"})
	return h
}

func (h *harness) count(t *testing.T) uint64 {
	t.Helper()
	v, err := h.kv.GetUint(context.Background(), KeyBootFailCount, 0)
	if err != nil {
		t.Fatalf("read count: %v", err)
	}
	return v
}

// --- tests ---

func TestBoot_NineFailedBootsThenRollbackOnTenth(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		d := h.wd.Boot(ctx)
		if d.Outcome != OutcomeContinue {
			t.Fatalf("boot %d: unexpected rollback", i)
		}
		if d.BootFailCount != uint32(i) {
			t.Fatalf("boot %d: count=%d", i, d.BootFailCount)
		}
	}
	if h.ctl.rollbacks != 0 {
		t.Fatal("rollback triggered too early")
	}

	d := h.wd.Boot(ctx)
	if d.Outcome != OutcomeRollback {
		t.Fatalf("10th boot should roll back, got %v", d.Outcome)
	}
	if h.ctl.rollbacks != 1 {
		t.Fatalf("want 1 rollback call, got %d", h.ctl.rollbacks)
	}
	if h.count(t) != 0 {
		t.Fatalf("counter should reset on rollback, got %d", h.count(t))
	}
	// fake controller returned, so the fallback reboot must have run
	if h.reboot.n != 1 {
		t.Fatalf("want fallback reboot, got %d", h.reboot.n)
	}

	from, _ := h.kv.GetString(ctx, KeyLastRollbackFrom, "")
	at, _ := h.kv.GetUint(ctx, KeyRollbackTime, 0)
	if from != "2.0.0" || at != 1500 {
		t.Fatalf("provenance not recorded: from=%q at=%d", from, at)
	}

	last := h.notes.msgs[len(h.notes.msgs)-1]
	if last.title != "OTA Rollback - dev1" || last.sev != notify.SeverityWarning {
		t.Fatalf("unexpected rollback notification %+v", last)
	}
}

func TestMarkValid_ResetsAndPreventsRollbackNextBoot(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		h.wd.Boot(ctx)
	}
	if err := h.wd.MarkValid(ctx); err != nil {
		t.Fatalf("MarkValid: %v", err)
	}
	if h.count(t) != 0 || h.ctl.marks != 1 {
		t.Fatalf("count=%d marks=%d", h.count(t), h.ctl.marks)
	}

	// next boot never calls MarkValid, still no rollback
	d := h.wd.Boot(ctx)
	if d.Outcome != OutcomeContinue || d.BootFailCount != 1 {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestMarkValid_ControllerErrorStillResets(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.wd.Boot(ctx)
	h.ctl.markErr = errors.New("no slots")
	if err := h.wd.MarkValid(ctx); err == nil {
		t.Fatal("want controller error surfaced")
	}
	if h.count(t) != 0 {
		t.Fatalf("counter should still reset, got %d", h.count(t))
	}
}

func TestBoot_ProvenanceReportedOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_ = h.kv.PutUint(ctx, KeyBootFailCount, 9)
	h.wd.Boot(ctx) // rolls back

	// the "previous" firmware boots next
	h.wd = New(h.kv, h.ctl, h.reboot, h.notes, h.clk, zap.NewNop(), Config{DeviceName: "dev1", Version: "1.9.0"})
	d := h.wd.Boot(ctx)
	if d.Previous == nil || d.Previous.From != "2.0.0" || d.Previous.At != 1500*time.Millisecond {
		t.Fatalf("provenance not surfaced: %+v", d.Previous)
	}
	if ok, _ := h.kv.Has(ctx, KeyLastRollbackFrom); ok {
		t.Fatal("last_rollback_from should be cleared")
	}
	if ok, _ := h.kv.Has(ctx, KeyRollbackTime); ok {
		t.Fatal("rollback_time should be cleared")
	}

	d = h.wd.Boot(ctx)
	if d.Previous != nil {
		t.Fatalf("provenance surfaced twice: %+v", d.Previous)
	}
}

func TestBoot_TornProvenanceDropped(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_ = h.kv.PutUint(ctx, KeyRollbackTime, 42)

	d := h.wd.Boot(ctx)
	if d.Previous != nil {
		t.Fatalf("half-written pair must not be reported: %+v", d.Previous)
	}
	if ok, _ := h.kv.Has(ctx, KeyRollbackTime); ok {
		t.Fatal("orphan rollback_time should be removed")
	}
}

func TestBoot_UnreadableCounterAssumesZero(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_ = h.kv.PutString(ctx, KeyBootFailCount, "garbage")

	d := h.wd.Boot(ctx)
	if d.Outcome != OutcomeContinue || d.BootFailCount != 1 {
		t.Fatalf("unexpected decision %+v", d)
	}
	var warned bool
	for _, m := range h.notes.msgs {
		if m.sev == notify.SeverityWarning && m.title == "Boot counter unreadable" {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected a warning notification, got %+v", h.notes.msgs)
	}
}

func TestBoot_StoreDownNeverPanics(t *testing.T) {
	h := newHarness()
	h.backend.FailGet = errors.New("flash gone")
	h.backend.FailPut = errors.New("flash gone")
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if d := h.wd.Boot(ctx); d.Outcome != OutcomeContinue {
			t.Fatalf("boot %d: degraded store must not trigger rollback", i)
		}
	}
	if err := h.wd.MarkValid(ctx); err == nil {
		t.Fatal("want store error from MarkValid")
	}
}

func TestBoot_RollbackFailureFallsBackToReboot(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.ctl.rollbackErr = errors.New("no previous slot")
	_ = h.kv.PutUint(ctx, KeyBootFailCount, 50)

	d := h.wd.Boot(ctx)
	if d.Outcome != OutcomeRollback || d.Err == nil {
		t.Fatalf("want rollback outcome with error, got %+v", d)
	}
	if h.ctl.rollbacks != 1 || h.reboot.n != 1 {
		t.Fatalf("want one rollback attempt and one reboot, got %d/%d", h.ctl.rollbacks, h.reboot.n)
	}
}

func TestCounterSaturates(t *testing.T) {
	if saturatingInc(math.MaxUint32) != math.MaxUint32 {
		t.Fatal("increment wrapped")
	}
	if saturatingInc(7) != 8 {
		t.Fatal("plain increment broken")
	}
	if clamp(math.MaxUint64) != math.MaxUint32 {
		t.Fatal("clamp broken")
	}
}

func TestCustomThreshold(t *testing.T) {
	h := newHarness()
	h.wd = New(h.kv, h.ctl, h.reboot, h.notes, h.clk, zap.NewNop(), Config{Version: "x", Threshold: 3})
	ctx := context.Background()
	h.wd.Boot(ctx)
	h.wd.Boot(ctx)
	if d := h.wd.Boot(ctx); d.Outcome != OutcomeRollback {
		t.Fatalf("want rollback on 3rd boot, got %+v", d)
	}
}

func TestThresholdOneStillSparesBootAfterMarkValid(t *testing.T) {
	h := newHarness()
	h.wd = New(h.kv, h.ctl, h.reboot, h.notes, h.clk, zap.NewNop(), Config{Version: "x", Threshold: 1})
	if h.wd.Threshold() != MinThreshold {
		t.Fatalf("threshold = %d, want %d", h.wd.Threshold(), MinThreshold)
	}
	ctx := context.Background()

	if err := h.wd.MarkValid(ctx); err != nil {
		t.Fatalf("MarkValid: %v", err)
	}
	if d := h.wd.Boot(ctx); d.Outcome != OutcomeContinue {
		t.Fatalf("boot after MarkValid rolled back: %+v", d)
	}
	if d := h.wd.Boot(ctx); d.Outcome != OutcomeRollback {
		t.Fatalf("second unconfirmed boot should roll back, got %+v", d)
	}
	if h.ctl.rollbacks != 1 {
		t.Fatalf("want 1 rollback, got %d", h.ctl.rollbacks)
	}
}

func TestBoot_TornProvenanceClearFailureLogged(t *testing.T) {
	h := newHarness()
	core, logs := observer.New(zapcore.WarnLevel)
	h.wd = New(h.kv, h.ctl, h.reboot, h.notes, h.clk, zap.New(core), Config{DeviceName: "dev1", Version: "2.0.0"})
	ctx := context.Background()
	_ = h.kv.PutUint(ctx, KeyRollbackTime, 42)
	h.backend.FailPut = errors.New("read-only flash")

	d := h.wd.Boot(ctx)
	if d.Previous != nil || d.Outcome != OutcomeContinue {
		t.Fatalf("unexpected decision %+v", d)
	}
	if logs.FilterMessage("watchdog_provenance_clear_failed").Len() != 1 {
		t.Fatalf("clear failure not logged: %v", logs.All())
	}
}
