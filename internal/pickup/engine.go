package pickup

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"dismissal/internal/logging"
	"dismissal/internal/metrics"
	"dismissal/internal/roster"
)

// Status is a student's pickup state for the current day.
type Status int

const (
	StatusAvailable Status = iota
	StatusPending
	StatusReleased
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReleased:
		return "released"
	}
	return "available"
}

// MarshalText renders the status name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type entry struct {
	status Status
	// inflight is set while a mark-arrived write has not landed yet.
	inflight bool
}

// Engine owns the per-student lifecycle Available -> Pending -> Released and
// the local throttle state. Every mutating action re-reads the store first.
type Engine struct {
	store    Store
	cooldown *Cooldown
	now      func() time.Time
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	entries map[string]entry
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source for timestamps and cooldowns.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) { e.log = logging.OrNop(log) }
}

// WithMetrics records lifecycle counters.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine over store with the given click cooldown.
func NewEngine(store Store, cooldown time.Duration, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		now:     time.Now,
		log:     zap.NewNop(),
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cooldown = NewCooldown(cooldown, e.now)
	return e
}

// MarkArrived records that a parent arrived for s. The student is marked
// Pending locally before the store is consulted and rolled back if the write fails.
func (e *Engine) MarkArrived(ctx context.Context, s roster.Student) (PendingPickup, error) {
	if ok, remaining := e.cooldown.Allow(s.Name); !ok {
		e.metrics.IncThrottled()
		return PendingPickup{}, &ThrottledError{Name: s.Name, Remaining: remaining}
	}

	e.mu.Lock()
	prev := e.entries[s.Name]
	switch {
	case prev.status == StatusReleased:
		e.mu.Unlock()
		return PendingPickup{}, ErrAlreadyReleased
	case prev.status == StatusPending && prev.inflight:
		e.mu.Unlock()
		e.metrics.IncDuplicate()
		return PendingPickup{}, &DuplicateError{Existing: PendingPickup{Name: s.Name}}
	}
	e.entries[s.Name] = entry{status: StatusPending, inflight: true}
	e.mu.Unlock()

	existing, found, err := e.IsAlreadyPending(ctx, s.Name)
	if err != nil {
		e.rollback(s.Name, prev)
		e.metrics.StoreFailure("list pending")
		e.log.Warn("mark arrived: pending lookup failed", zap.String("student", s.Name), zap.Error(err))
		return PendingPickup{}, err
	}
	if found {
		e.settle(s.Name)
		e.metrics.IncDuplicate()
		return existing, &DuplicateError{Existing: existing, Waiting: existing.Waiting(e.now())}
	}

	now := e.now()
	created, err := e.store.CreatePending(ctx, PendingPickup{
		StudentID: s.ID,
		Name:      s.Name,
		Class:     s.Class,
		Year:      s.Year,
		Timestamp: now,
		ArrivedAt: clockTime(now),
		MarkedBy:  MarkedByAdmin,
		Status:    StatusWaiting,
	})
	var dup *DuplicateError
	if errors.As(err, &dup) {
		e.settle(s.Name)
		e.metrics.IncDuplicate()
		dup.Waiting = dup.Existing.Waiting(now)
		return dup.Existing, dup
	}
	if err != nil {
		e.rollback(s.Name, prev)
		e.metrics.StoreFailure("create pending")
		e.log.Warn("mark arrived: create failed", zap.String("student", s.Name), zap.Error(err))
		return PendingPickup{}, storeErr("create pending", err)
	}

	e.settle(s.Name)
	e.metrics.IncMarked()
	e.log.Info("parent arrived", zap.String("student", s.Name), zap.String("key", created.Key))
	return created, nil
}

// Undo deletes the waiting pickup for s without releasing it.
func (e *Engine) Undo(ctx context.Context, s roster.Student) (PendingPickup, error) {
	existing, found, err := e.IsAlreadyPending(ctx, s.Name)
	if err != nil {
		e.metrics.StoreFailure("list pending")
		return PendingPickup{}, err
	}
	if !found {
		e.clearPending(s.Name)
		return PendingPickup{}, ErrNotFound
	}
	if err := e.store.DeletePending(ctx, existing.Key); err != nil {
		if errors.Is(err, ErrNotFound) {
			e.clearPending(s.Name)
			return PendingPickup{}, ErrNotFound
		}
		e.metrics.StoreFailure("delete pending")
		e.log.Warn("undo: delete failed", zap.String("student", s.Name), zap.Error(err))
		return PendingPickup{}, storeErr("delete pending", err)
	}
	e.clearPending(s.Name)
	e.metrics.IncUndone()
	e.log.Info("pickup undone", zap.String("student", s.Name), zap.String("key", existing.Key))
	return existing, nil
}

// Release moves the pending pickup at key to the released collection under
// the same key. A key that no longer exists is reported as ErrNotFound and
// nothing is written.
func (e *Engine) Release(ctx context.Context, key string) (ReleasedPickup, error) {
	p, found, err := e.store.GetPending(ctx, key)
	if err != nil {
		e.metrics.StoreFailure("get pending")
		return ReleasedPickup{}, storeErr("get pending", err)
	}
	if !found {
		return ReleasedPickup{}, ErrNotFound
	}
	p.Key = key

	now := e.now()
	released := ReleasedPickup{
		PendingPickup: p,
		ReleasedAt:    now,
		ReleasedTime:  clockTime(now),
		ReleasedBy:    ReleasedByTeacher,
	}
	if err := e.store.PutReleased(ctx, released); err != nil {
		e.metrics.StoreFailure("put released")
		e.log.Warn("release: write failed", zap.String("student", p.Name), zap.Error(err))
		return ReleasedPickup{}, storeErr("put released", err)
	}

	e.mu.Lock()
	e.entries[p.Name] = entry{status: StatusReleased}
	e.mu.Unlock()
	e.metrics.IncReleased()

	if err := e.store.DeletePending(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		// The released copy exists; releasing the same key again finishes the move.
		e.metrics.StoreFailure("delete pending")
		e.log.Error("release: pending copy left behind", zap.String("key", key), zap.Error(err))
		return released, storeErr("delete pending", err)
	}
	e.log.Info("student released", zap.String("student", p.Name), zap.String("key", key))
	return released, nil
}

// IsAlreadyPending scans the pending collection for name.
func (e *Engine) IsAlreadyPending(ctx context.Context, name string) (PendingPickup, bool, error) {
	pending, err := e.store.ListPending(ctx)
	if err != nil {
		return PendingPickup{}, false, storeErr("list pending", err)
	}
	p, ok := FindByName(pending, name)
	return p, ok, nil
}

// Status returns the local status of the named student.
func (e *Engine) Status(name string) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entries[name].status
}

// Statuses returns every non-available student and its status.
func (e *Engine) Statuses() map[string]Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]Status, len(e.entries))
	for name, ent := range e.entries {
		out[name] = ent.status
	}
	return out
}

// ReleasedToday lists the names hidden from the admin view.
func (e *Engine) ReleasedToday() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for name, ent := range e.entries {
		if ent.status == StatusReleased {
			out = append(out, name)
		}
	}
	return out
}

// Observe folds a store snapshot into the local statuses so that actions
// taken by other clients, or before a restart, are reflected here.
// Released stays terminal until the released collection is cleared.
func (e *Engine) Observe(change Change) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch change.Collection {
	case CollectionPending:
		waiting := make(map[string]struct{}, len(change.Pending))
		for _, p := range change.Pending {
			waiting[p.Name] = struct{}{}
			if e.entries[p.Name].status == StatusAvailable {
				e.entries[p.Name] = entry{status: StatusPending}
			}
		}
		for name, ent := range e.entries {
			if _, ok := waiting[name]; !ok && ent.status == StatusPending && !ent.inflight {
				delete(e.entries, name)
			}
		}
	case CollectionReleased:
		released := make(map[string]struct{}, len(change.Released))
		for _, r := range change.Released {
			released[r.Name] = struct{}{}
			e.entries[r.Name] = entry{status: StatusReleased}
		}
		for name, ent := range e.entries {
			if _, ok := released[name]; !ok && ent.status == StatusReleased {
				delete(e.entries, name)
			}
		}
	}
}

// ResetLocal clears released-today, pending marks and cooldowns for a new day.
func (e *Engine) ResetLocal() {
	e.mu.Lock()
	e.entries = make(map[string]entry)
	e.mu.Unlock()
	e.cooldown.Reset()
}

// SweepCooldowns evicts stale cooldown entries.
func (e *Engine) SweepCooldowns() int {
	return e.cooldown.Sweep()
}

func (e *Engine) settle(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent := e.entries[name]; ent.status == StatusPending {
		e.entries[name] = entry{status: StatusPending}
	}
}

func (e *Engine) rollback(name string, prev entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent := e.entries[name]; ent.status != StatusPending || !ent.inflight {
		return
	}
	if prev.status == StatusAvailable {
		delete(e.entries, name)
		return
	}
	e.entries[name] = prev
}

func (e *Engine) clearPending(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.entries[name].status == StatusPending {
		delete(e.entries, name)
	}
}
