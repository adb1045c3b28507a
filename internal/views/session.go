package views

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"dismissal/internal/pickup"
	"dismissal/internal/roster"
)

// ErrNoReleaseRequested is returned when a release is confirmed without a pending request.
var ErrNoReleaseRequested = errors.New("no release awaiting confirmation")

// Roster is the student list a session projects.
type Roster interface {
	Students() []roster.Student
}

// ReleaseCandidate is the pickup a teacher asked to release, shown for confirmation.
type ReleaseCandidate struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Class       string `json:"class"`
	ArrivedAt   string `json:"arrivedAt"`
	WaitMinutes int    `json:"waitMinutes"`
}

// Session is one client's view state: search text, cohort filter and the
// release awaiting confirmation.
type Session struct {
	ID string

	hub      *Hub
	engine   *pickup.Engine
	roster   Roster
	debounce time.Duration
	now      func() time.Time

	mu        sync.Mutex
	search    string
	typed     string
	timer     *time.Timer
	cohort    string
	candidate *ReleaseCandidate
	lastSeen  time.Time
}

// Search returns the applied search text.
func (s *Session) Search() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.search
}

// SetSearch records typed text. It is applied once no further text arrives
// within the debounce interval.
func (s *Session) SetSearch(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	s.typed = text
	if s.debounce <= 0 {
		s.search = text
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		s.search = s.typed
		s.mu.Unlock()
	})
}

// FilterByCohort selects the teacher view cohort; "" or AllCohorts selects all.
func (s *Session) FilterByCohort(cohort string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	if cohort == "" {
		cohort = AllCohorts
	}
	s.cohort = cohort
}

// Cohort returns the selected cohort.
func (s *Session) Cohort() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cohort
}

// Admin projects the admin view with the applied search.
func (s *Session) Admin() AdminView {
	search := s.touch(func() string { return s.search })
	return Admin(s.roster.Students(), s.engine.Statuses(), s.hub.Pending(), search)
}

// Teacher projects the teacher view with the selected cohort.
func (s *Session) Teacher() TeacherView {
	cohort := s.touch(func() string { return s.cohort })
	return Teacher(s.roster.Students(), s.hub.Pending(), cohort, s.now())
}

// Released projects today's released pickups.
func (s *Session) Released() []pickup.ReleasedPickup {
	return Released(s.hub.Released())
}

// RequestRelease stages the pending pickup at key for confirmation.
func (s *Session) RequestRelease(key string) (ReleaseCandidate, error) {
	p, ok := findKey(s.hub.Pending(), key)
	if !ok {
		return ReleaseCandidate{}, pickup.ErrNotFound
	}
	c := ReleaseCandidate{
		Key:         p.Key,
		Name:        p.Name,
		Class:       p.Class,
		ArrivedAt:   p.ArrivedAt,
		WaitMinutes: WaitMinutes(p.Timestamp, s.now()),
	}
	s.mu.Lock()
	s.touchLocked()
	s.candidate = &c
	s.mu.Unlock()
	return c, nil
}

// Candidate returns the release awaiting confirmation, if any.
func (s *Session) Candidate() (ReleaseCandidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candidate == nil {
		return ReleaseCandidate{}, false
	}
	return *s.candidate, true
}

// ConfirmRelease releases the staged pickup. The request is consumed whether
// or not the release succeeds.
func (s *Session) ConfirmRelease(ctx context.Context) (pickup.ReleasedPickup, error) {
	s.mu.Lock()
	s.touchLocked()
	c := s.candidate
	s.candidate = nil
	s.mu.Unlock()
	if c == nil {
		return pickup.ReleasedPickup{}, ErrNoReleaseRequested
	}
	return s.engine.Release(ctx, c.Key)
}

// CancelRelease drops the staged pickup.
func (s *Session) CancelRelease() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	s.candidate = nil
}

// Close stops a pending search timer.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Session) touch(read func() string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	return read()
}

func (s *Session) touchLocked() {
	s.lastSeen = s.now()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func findKey(pending []pickup.PendingPickup, key string) (pickup.PendingPickup, bool) {
	for _, p := range pending {
		if p.Key == key {
			return p, true
		}
	}
	return pickup.PendingPickup{}, false
}

// Sessions holds the open client sessions.
type Sessions struct {
	hub      *Hub
	engine   *pickup.Engine
	roster   Roster
	debounce time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	items map[string]*Session
}

// NewSessions creates a registry. now may be nil.
func NewSessions(hub *Hub, engine *pickup.Engine, r Roster, debounce time.Duration, now func() time.Time) *Sessions {
	if now == nil {
		now = time.Now
	}
	return &Sessions{
		hub:      hub,
		engine:   engine,
		roster:   r,
		debounce: debounce,
		now:      now,
		items:    make(map[string]*Session),
	}
}

// Open creates a session.
func (r *Sessions) Open() *Session {
	s := &Session{
		ID:       uuid.NewString(),
		hub:      r.hub,
		engine:   r.engine,
		roster:   r.roster,
		debounce: r.debounce,
		now:      r.now,
		cohort:   AllCohorts,
		lastSeen: r.now(),
	}
	r.mu.Lock()
	r.items[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get looks up a session by id.
func (r *Sessions) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[id]
	return s, ok
}

// Close removes a session.
func (r *Sessions) Close(id string) {
	r.mu.Lock()
	s, ok := r.items[id]
	delete(r.items, id)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Len returns the number of open sessions.
func (r *Sessions) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Sweep closes sessions idle for longer than idle.
func (r *Sessions) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)
	r.mu.Lock()
	var stale []*Session
	for id, s := range r.items {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, s)
			delete(r.items, id)
		}
	}
	r.mu.Unlock()
	for _, s := range stale {
		s.Close()
	}
	return len(stale)
}

// CancelAll drops every staged release, e.g. after a daily reset.
func (r *Sessions) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.items {
		s.CancelRelease()
	}
}
