package pickup

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store and Archive for dev and tests.
type MemoryStore struct {
	mu       sync.Mutex
	pending  map[string]PendingPickup
	released map[string]ReleasedPickup
	archive  map[string]ArchiveSnapshot
	marker   *ResetMarker
	watchers map[*mailbox]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pending:  make(map[string]PendingPickup),
		released: make(map[string]ReleasedPickup),
		archive:  make(map[string]ArchiveSnapshot),
		watchers: make(map[*mailbox]struct{}),
	}
}

// ListPending returns pending pickups oldest first.
func (s *MemoryStore) ListPending(ctx context.Context) ([]PendingPickup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked(), nil
}

// GetPending returns the pickup stored under key.
func (s *MemoryStore) GetPending(ctx context.Context, key string) (PendingPickup, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[key]
	return p, ok, nil
}

// CreatePending stores p under a new key unless its name is already waiting.
func (s *MemoryStore) CreatePending(ctx context.Context, p PendingPickup) (PendingPickup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := FindByName(s.pendingLocked(), p.Name); ok {
		return existing, &DuplicateError{Existing: existing}
	}
	p.Key = newKey()
	s.pending[p.Key] = p
	s.notifyLocked(CollectionPending)
	return p, nil
}

// DeletePending removes key.
func (s *MemoryStore) DeletePending(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[key]; !ok {
		return ErrNotFound
	}
	delete(s.pending, key)
	s.notifyLocked(CollectionPending)
	return nil
}

// ListReleased returns released pickups in release order.
func (s *MemoryStore) ListReleased(ctx context.Context) ([]ReleasedPickup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releasedLocked(), nil
}

// PutReleased writes r under its key.
func (s *MemoryStore) PutReleased(ctx context.Context, r ReleasedPickup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released[r.Key] = r
	s.notifyLocked(CollectionReleased)
	return nil
}

// ClearLive empties both collections.
func (s *MemoryStore) ClearLive(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]PendingPickup)
	s.released = make(map[string]ReleasedPickup)
	s.notifyLocked(CollectionPending)
	s.notifyLocked(CollectionReleased)
	return nil
}

// ResetMarker returns the stored marker.
func (s *MemoryStore) ResetMarker(ctx context.Context) (ResetMarker, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marker == nil {
		return ResetMarker{}, false, nil
	}
	return *s.marker, true, nil
}

// SetResetMarker replaces the marker.
func (s *MemoryStore) SetResetMarker(ctx context.Context, m ResetMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = &m
	return nil
}

// SaveArchive stores snap under its date.
func (s *MemoryStore) SaveArchive(ctx context.Context, snap ArchiveSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive[snap.Date] = snap
	return nil
}

// LoadArchive returns the snapshot for date.
func (s *MemoryStore) LoadArchive(ctx context.Context, date string) (ArchiveSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.archive[date]
	return snap, ok, nil
}

// Watch subscribes to collection changes.
func (s *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	box := newMailbox()
	s.mu.Lock()
	box.push(Change{Collection: CollectionPending, Pending: s.pendingLocked()})
	box.push(Change{Collection: CollectionReleased, Released: s.releasedLocked()})
	s.watchers[box] = struct{}{}
	s.mu.Unlock()

	go func() {
		box.run(ctx)
		s.mu.Lock()
		delete(s.watchers, box)
		s.mu.Unlock()
	}()
	return box.out, nil
}

func (s *MemoryStore) pendingLocked() []PendingPickup {
	out := make([]PendingPickup, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	sortPending(out)
	return out
}

func (s *MemoryStore) releasedLocked() []ReleasedPickup {
	out := make([]ReleasedPickup, 0, len(s.released))
	for _, r := range s.released {
		out = append(out, r)
	}
	sortReleased(out)
	return out
}

func (s *MemoryStore) notifyLocked(c Collection) {
	if len(s.watchers) == 0 {
		return
	}
	change := Change{Collection: c}
	if c == CollectionPending {
		change.Pending = s.pendingLocked()
	} else {
		change.Released = s.releasedLocked()
	}
	for box := range s.watchers {
		box.push(change)
	}
}

// mailbox is an unbounded ordered queue feeding one watcher, so a slow
// consumer never blocks a store mutation.
type mailbox struct {
	mu     sync.Mutex
	queue  []Change
	signal chan struct{}
	out    chan Change
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1), out: make(chan Change)}
}

func (m *mailbox) push(c Change) {
	m.mu.Lock()
	m.queue = append(m.queue, c)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) run(ctx context.Context) {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.signal:
				continue
			case <-ctx.Done():
				return
			}
		}
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- next:
		case <-ctx.Done():
			return
		}
	}
}
