package roster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"dismissal/internal/logging"
	"dismissal/internal/metrics"
)

// ErrDegraded marks a load that fell back to the built-in roster.
var ErrDegraded = errors.New("roster degraded to fallback")

var errEmptyRoster = errors.New("roster source has no students")

// DegradedError wraps the fetch failure that caused the fallback.
type DegradedError struct {
	Err error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("roster load failed, using fallback: %v", e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// Is reports ErrDegraded.
func (e *DegradedError) Is(target error) bool { return target == ErrDegraded }

// Loader serves the roster from a time-bounded cache, coalescing concurrent fetches.
type Loader struct {
	source  Source
	cache   Cache
	ttl     time.Duration
	now     func() time.Time
	log     *zap.Logger
	metrics *metrics.Metrics

	group singleflight.Group

	mu      sync.RWMutex
	current []Student
	byID    map[string]Student
}

// Option configures a Loader.
type Option func(*Loader)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) { l.log = logging.OrNop(log) }
}

// WithMetrics records load sources.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// NewLoader creates a loader. ttl <= 0 defaults to five minutes.
func NewLoader(source Source, cache Cache, ttl time.Duration, opts ...Option) *Loader {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	l := &Loader{
		source: source,
		cache:  cache,
		ttl:    ttl,
		now:    time.Now,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the roster. Within the cache expiry the cached copy is returned
// without touching the source. On fetch failure the fallback roster is
// returned together with a *DegradedError; the fallback is never cached.
func (l *Loader) Load(ctx context.Context) ([]Student, error) {
	if students, ok := l.fromCache(); ok {
		l.metrics.RosterLoad("cache")
		l.set(students)
		return students, nil
	}

	v, err, _ := l.group.Do("roster", func() (any, error) {
		return l.fetch(ctx)
	})
	if err != nil {
		l.log.Warn("roster load failed, using fallback", zap.Error(err))
		l.metrics.RosterLoad("fallback")
		fallback := Fallback()
		l.set(fallback)
		return fallback, &DegradedError{Err: err}
	}
	l.metrics.RosterLoad("fetch")
	students := v.([]Student)
	l.set(students)
	return students, nil
}

// Refresh drops the cached roster and loads it again from the source.
func (l *Loader) Refresh(ctx context.Context) ([]Student, error) {
	if err := l.cache.Clear(); err != nil {
		l.log.Warn("roster cache clear failed", zap.Error(err))
	}
	l.group.Forget("roster")
	return l.Load(ctx)
}

// Students returns the most recently loaded roster.
func (l *Loader) Students() []Student {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Lookup finds a student of the current roster by id.
func (l *Loader) Lookup(id string) (Student, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.byID[id]
	return s, ok
}

func (l *Loader) fromCache() ([]Student, bool) {
	entry, ok, err := l.cache.Get()
	if err != nil {
		l.log.Warn("roster cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if l.now().Sub(entry.Timestamp) > l.ttl {
		if err := l.cache.Clear(); err != nil {
			l.log.Warn("roster cache clear failed", zap.Error(err))
		}
		return nil, false
	}
	return entry.Students, true
}

func (l *Loader) fetch(ctx context.Context) ([]Student, error) {
	body, err := l.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	students, err := Parse(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("roster: parse: %w", err)
	}
	if len(students) == 0 {
		return nil, errEmptyRoster
	}
	if err := l.cache.Put(CacheEntry{Students: students, Timestamp: l.now()}); err != nil {
		l.log.Warn("roster cache write failed", zap.Error(err))
	}
	l.log.Info("roster loaded", zap.Int("students", len(students)))
	return students, nil
}

func (l *Loader) set(students []Student) {
	byID := make(map[string]Student, len(students))
	for _, s := range students {
		byID[s.ID] = s
	}
	l.mu.Lock()
	l.current = students
	l.byID = byID
	l.mu.Unlock()
}
