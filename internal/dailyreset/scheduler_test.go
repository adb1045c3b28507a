package dailyreset

import (
	"context"
	"errors"
	"testing"
	"time"

	"dismissal/internal/pickup"
	"dismissal/internal/roster"
)

type countingArchive struct {
	pickup.Archive
	saves int
	fail  error
}

func (a *countingArchive) SaveArchive(ctx context.Context, snap pickup.ArchiveSnapshot) error {
	a.saves++
	if a.fail != nil {
		return a.fail
	}
	return a.Archive.SaveArchive(ctx, snap)
}

type clearFailStore struct {
	*pickup.MemoryStore
	fail error
}

func (s *clearFailStore) ClearLive(ctx context.Context) error {
	if s.fail != nil {
		return s.fail
	}
	return s.MemoryStore.ClearLive(ctx)
}

type harness struct {
	store   *clearFailStore
	archive *countingArchive
	engine  *pickup.Engine
	sched   *Scheduler
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := pickup.NewMemoryStore()
	h := &harness{
		store:   &clearFailStore{MemoryStore: mem},
		archive: &countingArchive{Archive: mem},
		now:     time.Date(2026, 10, 13, 15, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	h.engine = pickup.NewEngine(h.store, 3*time.Second, pickup.WithClock(clock))
	h.sched = New(h.store, h.archive, WithClock(clock), WithLocation(time.UTC))
	h.sched.OnReset(h.engine.ResetLocal)
	return h
}

func TestFirstRunInitializesWithoutArchiving(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.sched.Check(ctx)
	if err != nil || res != ResultInitialized {
		t.Fatalf("Check = %s %v, want initialized", res, err)
	}
	m, ok, _ := h.store.ResetMarker(ctx)
	if !ok || m.Date != "2026-10-13" {
		t.Errorf("marker = %+v", m)
	}
	if h.archive.saves != 0 {
		t.Errorf("archive writes = %d, want 0", h.archive.saves)
	}
}

func TestSameDayIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.sched.Check(ctx)

	p, _ := h.engine.MarkArrived(ctx, roster.NewStudent("AILA ALLA", "KG1"))
	for i := 0; i < 2; i++ {
		res, err := h.sched.Check(ctx)
		if err != nil || res != ResultUpToDate {
			t.Fatalf("Check #%d = %s %v, want up_to_date", i, res, err)
		}
	}
	if h.archive.saves != 0 {
		t.Errorf("archive writes = %d, want 0", h.archive.saves)
	}
	if _, ok, _ := h.store.GetPending(ctx, p.Key); !ok {
		t.Error("same-day check must not clear pending pickups")
	}
}

func TestRolloverArchivesAndClears(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.sched.Check(ctx)

	aila := roster.NewStudent("AILA ALLA", "KG1")
	adam := roster.NewStudent("ADAM KENZ", "Year 7")
	p, _ := h.engine.MarkArrived(ctx, aila)
	if _, err := h.engine.Release(ctx, p.Key); err != nil {
		t.Fatalf("Release: %v", err)
	}
	waiting, _ := h.engine.MarkArrived(ctx, adam)

	h.now = time.Date(2026, 10, 14, 7, 0, 0, 0, time.UTC)
	res, err := h.sched.Check(ctx)
	if err != nil || res != ResultReset {
		t.Fatalf("Check = %s %v, want reset", res, err)
	}

	snap, ok, _ := h.archive.LoadArchive(ctx, "2026-10-13")
	if !ok {
		t.Fatal("yesterday's archive missing")
	}
	if len(snap.PendingPickups) != 1 || snap.PendingPickups[0].Key != waiting.Key {
		t.Errorf("archived pending = %+v", snap.PendingPickups)
	}
	if len(snap.ReleasedPickups) != 1 || snap.ReleasedPickups[0].Key != p.Key {
		t.Errorf("archived released = %+v", snap.ReleasedPickups)
	}

	pending, _ := h.store.ListPending(ctx)
	released, _ := h.store.ListReleased(ctx)
	if len(pending) != 0 || len(released) != 0 {
		t.Errorf("live collections not empty: pending=%d released=%d", len(pending), len(released))
	}
	if len(h.engine.ReleasedToday()) != 0 || len(h.engine.Statuses()) != 0 {
		t.Errorf("local state not cleared: %v", h.engine.Statuses())
	}
	if m, _, _ := h.store.ResetMarker(ctx); m.Date != "2026-10-14" {
		t.Errorf("marker = %s, want 2026-10-14", m.Date)
	}

	if res, _ := h.sched.Check(ctx); res != ResultUpToDate || h.archive.saves != 1 {
		t.Errorf("second check = %s with %d archive writes", res, h.archive.saves)
	}
	if _, err := h.engine.MarkArrived(ctx, aila); err != nil {
		t.Errorf("released student should be available on the new day: %v", err)
	}
}

func TestFailureDoesNotAdvanceMarker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.sched.Check(ctx)
	_, _ = h.engine.MarkArrived(ctx, roster.NewStudent("AILA ALLA", "KG1"))
	h.now = h.now.Add(24 * time.Hour)

	h.archive.fail = errors.New("disk full")
	if res, err := h.sched.Check(ctx); err == nil || res != ResultFailed {
		t.Fatalf("Check = %s %v, want failed", res, err)
	}
	pending, _ := h.store.ListPending(ctx)
	if len(pending) != 1 {
		t.Errorf("archive failure must leave live data, pending=%d", len(pending))
	}

	h.archive.fail = nil
	h.store.fail = errors.New("timeout")
	if _, err := h.sched.Check(ctx); err == nil {
		t.Fatal("clear failure must surface")
	}
	if m, _, _ := h.store.ResetMarker(ctx); m.Date != "2026-10-13" {
		t.Errorf("marker advanced to %s after failed clear", m.Date)
	}

	h.store.fail = nil
	if res, err := h.sched.Check(ctx); err != nil || res != ResultReset {
		t.Fatalf("retry = %s %v, want reset", res, err)
	}
	if h.archive.saves != 3 {
		t.Errorf("archive writes = %d, want 3 (retries overwrite the same date)", h.archive.saves)
	}
}

func TestForce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.sched.Check(ctx)
	_, _ = h.engine.MarkArrived(ctx, roster.NewStudent("AILA ALLA", "KG1"))

	if err := h.sched.Force(ctx); err != nil {
		t.Fatalf("Force: %v", err)
	}
	if _, ok, _ := h.archive.LoadArchive(ctx, "2026-10-13"); !ok {
		t.Error("force reset should archive under today's date")
	}
	if pending, _ := h.store.ListPending(ctx); len(pending) != 0 {
		t.Errorf("pending = %d after force", len(pending))
	}
}

func TestForcedArchiveSurvivesNextRollover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.sched.Check(ctx)

	morning, _ := h.engine.MarkArrived(ctx, roster.NewStudent("MORNING KID", "KG1"))
	if err := h.sched.Force(ctx); err != nil {
		t.Fatalf("Force: %v", err)
	}
	h.now = h.now.Add(time.Hour)
	afternoon, _ := h.engine.MarkArrived(ctx, roster.NewStudent("AFTERNOON KID", "Year 2"))

	h.now = h.now.Add(24 * time.Hour)
	if res, err := h.sched.Check(ctx); err != nil || res != ResultReset {
		t.Fatalf("Check = %s %v, want reset", res, err)
	}
	snap, ok, _ := h.archive.LoadArchive(ctx, "2026-10-13")
	if !ok {
		t.Fatal("archive missing")
	}
	if len(snap.PendingPickups) != 2 {
		t.Fatalf("archived pending = %+v, want both pickups", snap.PendingPickups)
	}
	if snap.PendingPickups[0].Key != morning.Key || snap.PendingPickups[1].Key != afternoon.Key {
		t.Errorf("archived order = %s, %s", snap.PendingPickups[0].Name, snap.PendingPickups[1].Name)
	}
}

func TestFailureHooksReceiveError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var got []error
	h.sched.OnFailure(func(err error) { got = append(got, err) })

	_, _ = h.sched.Check(ctx)
	_, _ = h.engine.MarkArrived(ctx, roster.NewStudent("AILA ALLA", "KG1"))
	h.archive.fail = errors.New("disk full")

	if err := h.sched.Force(ctx); err == nil {
		t.Fatal("Force should fail")
	}
	h.now = h.now.Add(24 * time.Hour)
	if _, err := h.sched.Check(ctx); err == nil {
		t.Fatal("Check should fail")
	}
	if len(got) != 2 || !errors.Is(got[0], h.archive.fail) || !errors.Is(got[1], h.archive.fail) {
		t.Errorf("failure hooks got %v", got)
	}

	h.archive.fail = nil
	if res, _ := h.sched.Check(ctx); res != ResultReset || len(got) != 2 {
		t.Errorf("successful retry = %s, hooks ran %d times", res, len(got))
	}
}

type claimStore struct {
	*pickup.MemoryStore
	won      bool
	released []string
}

func (s *claimStore) ClaimReset(ctx context.Context, date string) (bool, error) {
	return s.won, nil
}

func (s *claimStore) ReleaseReset(ctx context.Context, date string) error {
	s.released = append(s.released, date)
	return nil
}

func TestClaimedResetIsSkipped(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 7, 0, 0, 0, time.UTC)
	store := &claimStore{MemoryStore: pickup.NewMemoryStore()}
	archive := &countingArchive{Archive: store.MemoryStore}
	_ = store.SetResetMarker(ctx, pickup.ResetMarker{Date: "2026-10-13"})
	p, _ := store.CreatePending(ctx, pickup.PendingPickup{Name: "AILA ALLA", Timestamp: now})
	sched := New(store, archive, WithClock(func() time.Time { return now }), WithLocation(time.UTC))

	if res, err := sched.Check(ctx); err != nil || res != ResultUpToDate {
		t.Fatalf("Check = %s %v, want up_to_date while another instance resets", res, err)
	}
	if _, ok, _ := store.GetPending(ctx, p.Key); !ok || archive.saves != 0 {
		t.Errorf("losing instance touched data: saves=%d", archive.saves)
	}

	store.won = true
	archive.fail = errors.New("disk full")
	if _, err := sched.Check(ctx); err == nil {
		t.Fatal("Check should fail")
	}
	if len(store.released) != 1 || store.released[0] != "2026-10-14" {
		t.Errorf("claim not released after failure: %v", store.released)
	}
}
