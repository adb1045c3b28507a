package pickup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dismissal/internal/roster"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 14, 14, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingStore fails selected operations of an embedded store.
type failingStore struct {
	Store
	failList    bool
	failCreate  bool
	failDelete  bool
	failPut     bool
	putCalls    int
	createCalls int
}

var errBoom = errors.New("network down")

func (f *failingStore) ListPending(ctx context.Context) ([]PendingPickup, error) {
	if f.failList {
		return nil, errBoom
	}
	return f.Store.ListPending(ctx)
}

func (f *failingStore) CreatePending(ctx context.Context, p PendingPickup) (PendingPickup, error) {
	f.createCalls++
	if f.failCreate {
		return PendingPickup{}, errBoom
	}
	return f.Store.CreatePending(ctx, p)
}

func (f *failingStore) DeletePending(ctx context.Context, key string) error {
	if f.failDelete {
		return errBoom
	}
	return f.Store.DeletePending(ctx, key)
}

func (f *failingStore) PutReleased(ctx context.Context, r ReleasedPickup) error {
	f.putCalls++
	if f.failPut {
		return errBoom
	}
	return f.Store.PutReleased(ctx, r)
}

var (
	aila = roster.NewStudent("AILA ALLA", "KG1")
	adam = roster.NewStudent("ADAM KENZ", "Year 7")
)

func newTestEngine(store Store, clock *fakeClock) *Engine {
	return NewEngine(store, 3*time.Second, WithClock(clock.Now))
}

func TestMarkArrivedCreatesPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := newFakeClock()
	e := newTestEngine(store, clock)

	p, err := e.MarkArrived(ctx, aila)
	if err != nil {
		t.Fatalf("MarkArrived: %v", err)
	}
	if p.Key == "" || p.Name != aila.Name || p.StudentID != aila.ID || p.Year != "KG1" {
		t.Errorf("unexpected pickup %+v", p)
	}
	if p.ArrivedAt != "14:30" || p.MarkedBy != MarkedByAdmin || p.Status != StatusWaiting {
		t.Errorf("unexpected metadata %+v", p)
	}
	if got := e.Status(aila.Name); got != StatusPending {
		t.Errorf("status = %s, want pending", got)
	}
}

func TestMarkArrivedTwiceWithinCooldown(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := newFakeClock()
	e := newTestEngine(store, clock)

	if _, err := e.MarkArrived(ctx, aila); err != nil {
		t.Fatalf("first MarkArrived: %v", err)
	}
	clock.Advance(time.Second)
	_, err := e.MarkArrived(ctx, aila)
	var throttled *ThrottledError
	if !errors.As(err, &throttled) || !errors.Is(err, ErrThrottled) {
		t.Fatalf("second MarkArrived err = %v, want ThrottledError", err)
	}
	if throttled.Remaining != 2*time.Second {
		t.Errorf("remaining = %s, want 2s", throttled.Remaining)
	}
	pending, _ := store.ListPending(ctx)
	if len(pending) != 1 {
		t.Errorf("pending records = %d, want 1", len(pending))
	}
}

func TestMarkArrivedAfterCooldownReportsDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := newFakeClock()
	e := newTestEngine(store, clock)

	first, err := e.MarkArrived(ctx, aila)
	if err != nil {
		t.Fatalf("MarkArrived: %v", err)
	}
	clock.Advance(5 * time.Minute)
	existing, err := e.MarkArrived(ctx, aila)
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want DuplicateError", err)
	}
	if existing.Key != first.Key || dup.Waiting != 5*time.Minute {
		t.Errorf("existing=%+v waiting=%s", existing, dup.Waiting)
	}
	if e.Status(aila.Name) != StatusPending {
		t.Errorf("duplicate must keep the student pending")
	}
}

func TestDuplicateAcrossClients(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := newFakeClock()
	admin1 := newTestEngine(store, clock)
	admin2 := newTestEngine(store, clock)

	if _, err := admin1.MarkArrived(ctx, adam); err != nil {
		t.Fatalf("MarkArrived: %v", err)
	}
	if _, err := admin2.MarkArrived(ctx, adam); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("second client err = %v, want ErrAlreadyPending", err)
	}
	pending, _ := store.ListPending(ctx)
	if len(pending) != 1 {
		t.Errorf("pending records = %d, want 1", len(pending))
	}
}

func TestConditionalCreateCatchesLostCheck(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := newFakeClock()

	// Another client's write lands between the scan and the create.
	racing := &racingStore{MemoryStore: store, student: adam, clock: clock}
	e := newTestEngine(racing, clock)
	_, err := e.MarkArrived(ctx, adam)
	if !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("err = %v, want ErrAlreadyPending", err)
	}
	pending, _ := store.ListPending(ctx)
	if len(pending) != 1 {
		t.Errorf("pending records = %d, want 1", len(pending))
	}
}

type racingStore struct {
	*MemoryStore
	student roster.Student
	clock   *fakeClock
	raced   bool
}

func (r *racingStore) ListPending(ctx context.Context) ([]PendingPickup, error) {
	list, err := r.MemoryStore.ListPending(ctx)
	if !r.raced {
		r.raced = true
		_, _ = r.MemoryStore.CreatePending(ctx, PendingPickup{Name: r.student.Name, Timestamp: r.clock.Now()})
	}
	return list, err
}

func TestMarkArrivedRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := &failingStore{Store: NewMemoryStore(), failCreate: true}
	e := newTestEngine(store, clock)

	_, err := e.MarkArrived(ctx, aila)
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want StoreError wrapping errBoom", err)
	}
	if got := e.Status(aila.Name); got != StatusAvailable {
		t.Errorf("status after failed write = %s, want available", got)
	}

	store.failCreate = false
	clock.Advance(4 * time.Second)
	if _, err := e.MarkArrived(ctx, aila); err != nil {
		t.Fatalf("retry MarkArrived: %v", err)
	}
}

func TestMarkArrivedRollsBackOnLookupFailure(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := &failingStore{Store: NewMemoryStore(), failList: true}
	e := newTestEngine(store, clock)

	if _, err := e.MarkArrived(ctx, aila); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if store.createCalls != 0 {
		t.Errorf("create must not run after a failed lookup")
	}
	if e.Status(aila.Name) != StatusAvailable {
		t.Errorf("status not rolled back")
	}
}

func TestReleaseTwice(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mem := NewMemoryStore()
	store := &failingStore{Store: mem}
	e := newTestEngine(store, clock)

	p, err := e.MarkArrived(ctx, aila)
	if err != nil {
		t.Fatalf("MarkArrived: %v", err)
	}
	clock.Advance(7 * time.Minute)

	r, err := e.Release(ctx, p.Key)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if r.Key != p.Key || r.ReleasedBy != ReleasedByTeacher || r.ReleasedTime != "14:37" {
		t.Errorf("unexpected released pickup %+v", r)
	}
	if e.Status(aila.Name) != StatusReleased {
		t.Errorf("status = %s, want released", e.Status(aila.Name))
	}

	if _, err := e.Release(ctx, p.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Release err = %v, want ErrNotFound", err)
	}
	if store.putCalls != 1 {
		t.Errorf("released writes = %d, want 1", store.putCalls)
	}
	pending, _ := mem.ListPending(ctx)
	released, _ := mem.ListReleased(ctx)
	if len(pending) != 0 || len(released) != 1 {
		t.Errorf("pending=%d released=%d", len(pending), len(released))
	}
}

func TestReleasedIsTerminalForTheDay(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	e := newTestEngine(NewMemoryStore(), clock)

	p, _ := e.MarkArrived(ctx, aila)
	if _, err := e.Release(ctx, p.Key); err != nil {
		t.Fatalf("Release: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := e.MarkArrived(ctx, aila); !errors.Is(err, ErrAlreadyReleased) {
		t.Fatalf("err = %v, want ErrAlreadyReleased", err)
	}
	e.ResetLocal()
	if _, err := e.MarkArrived(ctx, aila); err != nil {
		t.Fatalf("MarkArrived after reset: %v", err)
	}
}

func TestReleaseFailureWritesNothingLocal(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := &failingStore{Store: NewMemoryStore()}
	e := newTestEngine(store, clock)

	p, _ := e.MarkArrived(ctx, aila)
	store.failPut = true
	if _, err := e.Release(ctx, p.Key); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if e.Status(aila.Name) != StatusPending {
		t.Errorf("status = %s, want pending", e.Status(aila.Name))
	}
}

func TestUndo(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mem := NewMemoryStore()
	store := &failingStore{Store: mem}
	e := newTestEngine(store, clock)

	p, _ := e.MarkArrived(ctx, adam)
	undone, err := e.Undo(ctx, adam)
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if undone.Key != p.Key {
		t.Errorf("undone key = %s, want %s", undone.Key, p.Key)
	}
	if e.Status(adam.Name) != StatusAvailable {
		t.Errorf("status = %s, want available", e.Status(adam.Name))
	}
	pending, _ := mem.ListPending(ctx)
	released, _ := mem.ListReleased(ctx)
	if len(pending) != 0 || len(released) != 0 || store.putCalls != 0 {
		t.Errorf("pending=%d released=%d puts=%d", len(pending), len(released), store.putCalls)
	}
	if _, err := e.Undo(ctx, adam); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Undo err = %v, want ErrNotFound", err)
	}
	if _, err := e.Release(ctx, p.Key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Release after undo err = %v, want ErrNotFound", err)
	}
}

func TestUndoFailureKeepsPending(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := &failingStore{Store: NewMemoryStore()}
	e := newTestEngine(store, clock)

	_, _ = e.MarkArrived(ctx, adam)
	store.failDelete = true
	if _, err := e.Undo(ctx, adam); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if e.Status(adam.Name) != StatusPending {
		t.Errorf("status = %s, want pending", e.Status(adam.Name))
	}
}

func TestObserveFollowsOtherClients(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore()
	admin := newTestEngine(store, clock)
	teacher := newTestEngine(store, clock)

	p, _ := admin.MarkArrived(ctx, aila)
	pending, _ := store.ListPending(ctx)
	teacher.Observe(Change{Collection: CollectionPending, Pending: pending})
	if teacher.Status(aila.Name) != StatusPending {
		t.Fatalf("teacher should see the pending mark")
	}

	if _, err := teacher.Release(ctx, p.Key); err != nil {
		t.Fatalf("Release: %v", err)
	}
	released, _ := store.ListReleased(ctx)
	admin.Observe(Change{Collection: CollectionReleased, Released: released})
	pending, _ = store.ListPending(ctx)
	admin.Observe(Change{Collection: CollectionPending, Pending: pending})
	if admin.Status(aila.Name) != StatusReleased {
		t.Errorf("admin status = %s, want released", admin.Status(aila.Name))
	}
	if names := admin.ReleasedToday(); len(names) != 1 || names[0] != aila.Name {
		t.Errorf("ReleasedToday = %v", names)
	}

	// A cleared released collection means the day was reset elsewhere.
	admin.Observe(Change{Collection: CollectionReleased})
	if admin.Status(aila.Name) != StatusAvailable {
		t.Errorf("status after remote reset = %s, want available", admin.Status(aila.Name))
	}
}

func TestStatusIsExclusive(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	e := newTestEngine(NewMemoryStore(), clock)

	check := func(want Status) {
		t.Helper()
		counts := 0
		for _, s := range []Status{StatusAvailable, StatusPending, StatusReleased} {
			if e.Status(aila.Name) == s {
				counts++
			}
		}
		if counts != 1 || e.Status(aila.Name) != want {
			t.Fatalf("status = %s, want exactly %s", e.Status(aila.Name), want)
		}
	}
	check(StatusAvailable)
	p, _ := e.MarkArrived(ctx, aila)
	check(StatusPending)
	_, _ = e.Release(ctx, p.Key)
	check(StatusReleased)
}

func TestClockTimesFollowClockZone(t *testing.T) {
	ctx := context.Background()
	dubai := time.FixedZone("GST", 4*60*60)
	at := time.Date(2026, 10, 14, 10, 30, 0, 0, time.UTC)
	e := NewEngine(NewMemoryStore(), 3*time.Second, WithClock(func() time.Time { return at.In(dubai) }))

	p, err := e.MarkArrived(ctx, roster.NewStudent("AILA ALLA", "KG1"))
	if err != nil {
		t.Fatalf("MarkArrived: %v", err)
	}
	if p.ArrivedAt != "14:30" {
		t.Errorf("ArrivedAt = %s, want local 14:30", p.ArrivedAt)
	}
	r, err := e.Release(ctx, p.Key)
	if err != nil || r.ReleasedTime != "14:30" {
		t.Errorf("Release = %s %v, want local 14:30", r.ReleasedTime, err)
	}
}
