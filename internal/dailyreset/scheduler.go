package dailyreset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"dismissal/internal/logging"
	"dismissal/internal/metrics"
	"dismissal/internal/pickup"
)

// Result describes what a reset check did.
type Result string

const (
	ResultInitialized Result = "initialized"
	ResultUpToDate    Result = "up_to_date"
	ResultReset       Result = "reset"
	ResultFailed      Result = "failed"
)

// Scheduler archives and clears the live pickup collections once per calendar date.
// The reset marker in the store is the gate: it only advances after the
// archive write and the clear both succeeded, so a failed run is retried on the next check.
type Scheduler struct {
	store   pickup.Store
	archive pickup.Archive
	now     func() time.Time
	loc     *time.Location
	log     *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	hooks    []func()
	failures []func(error)
}

// Claimer is implemented by stores shared between processes. ClaimReset
// reports whether the caller won the reset for date.
type Claimer interface {
	ClaimReset(ctx context.Context, date string) (bool, error)
	ReleaseReset(ctx context.Context, date string) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLocation sets the zone calendar dates are computed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Scheduler) { s.log = logging.OrNop(log) }
}

// WithMetrics records reset outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a scheduler.
func New(store pickup.Store, archive pickup.Archive, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   store,
		archive: archive,
		now:     time.Now,
		loc:     time.Local,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnReset registers fn to run after every successful reset, typically to clear local state.
func (s *Scheduler) OnReset(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// OnFailure registers fn to run after every failed check or forced reset.
func (s *Scheduler) OnFailure(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, fn)
}

// Check compares today's date with the stored marker. A missing marker is
// initialized without archiving; a stale one triggers a reset that archives
// the live collections under yesterday's date.
func (s *Scheduler) Check(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().In(s.loc)
	today := now.Format(pickup.DateLayout)

	marker, ok, err := s.store.ResetMarker(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("read reset marker: %w", err))
	}
	if !ok {
		if err := s.store.SetResetMarker(ctx, pickup.ResetMarker{Date: today, Timestamp: now}); err != nil {
			return s.fail(fmt.Errorf("initialize reset marker: %w", err))
		}
		s.log.Info("reset marker initialized", zap.String("date", today))
		s.metrics.Reset(string(ResultInitialized))
		return ResultInitialized, nil
	}
	if marker.Date == today {
		s.metrics.Reset(string(ResultUpToDate))
		return ResultUpToDate, nil
	}

	s.log.Info("new day detected", zap.String("last_reset", marker.Date), zap.String("today", today))
	claimer, shared := s.store.(Claimer)
	if shared {
		won, err := claimer.ClaimReset(ctx, today)
		if err != nil {
			return s.fail(fmt.Errorf("claim reset: %w", err))
		}
		if !won {
			s.log.Info("reset for today claimed by another instance", zap.String("today", today))
			s.metrics.Reset(string(ResultUpToDate))
			return ResultUpToDate, nil
		}
	}
	yesterday := now.AddDate(0, 0, -1).Format(pickup.DateLayout)
	if err := s.rollover(ctx, yesterday, today, now); err != nil {
		if shared {
			if rerr := claimer.ReleaseReset(ctx, today); rerr != nil {
				s.log.Warn("release reset claim failed", zap.Error(rerr))
			}
		}
		return s.fail(err)
	}
	s.metrics.Reset(string(ResultReset))
	return ResultReset, nil
}

// Force resets immediately regardless of the marker, archiving under today's date.
// A later reset that archives under the same date merges into that snapshot.
func (s *Scheduler) Force(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().In(s.loc)
	today := now.Format(pickup.DateLayout)
	if err := s.rollover(ctx, today, today, now); err != nil {
		_, err = s.fail(err)
		return err
	}
	s.metrics.Reset("forced")
	return nil
}

// Schedule runs Check on c with spec, e.g. "@every 1h".
func (s *Scheduler) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Check(ctx); err != nil {
			s.log.Warn("scheduled reset check failed, will retry", zap.Error(err))
		}
	})
}

// rollover archives, then clears, then advances the marker, then resets local state.
// Each step only runs if the previous one succeeded.
func (s *Scheduler) rollover(ctx context.Context, archiveDate, today string, now time.Time) error {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("read pending for archive: %w", err)
	}
	released, err := s.store.ListReleased(ctx)
	if err != nil {
		return fmt.Errorf("read released for archive: %w", err)
	}

	if len(pending) > 0 || len(released) > 0 {
		snap := pickup.ArchiveSnapshot{
			Date:            archiveDate,
			PendingPickups:  pending,
			ReleasedPickups: released,
			ArchivedAt:      now,
		}
		// A forced reset earlier in the cycle already used this date.
		prev, ok, err := s.archive.LoadArchive(ctx, archiveDate)
		if err != nil {
			return fmt.Errorf("read archive %s: %w", archiveDate, err)
		}
		if ok {
			snap = pickup.MergeArchive(prev, snap)
		}
		if err := s.archive.SaveArchive(ctx, snap); err != nil {
			return fmt.Errorf("archive %s: %w", archiveDate, err)
		}
		s.log.Info("day archived", zap.String("date", archiveDate),
			zap.Int("pending", len(snap.PendingPickups)), zap.Int("released", len(snap.ReleasedPickups)))
	}

	if err := s.store.ClearLive(ctx); err != nil {
		return fmt.Errorf("clear live collections: %w", err)
	}
	if err := s.store.SetResetMarker(ctx, pickup.ResetMarker{Date: today, Timestamp: now}); err != nil {
		return fmt.Errorf("advance reset marker: %w", err)
	}
	for _, fn := range s.hooks {
		fn()
	}
	s.log.Info("system reset for new day", zap.String("date", today))
	return nil
}

func (s *Scheduler) fail(err error) (Result, error) {
	s.log.Error("daily reset failed", zap.Error(err))
	s.metrics.Reset(string(ResultFailed))
	for _, fn := range s.failures {
		fn(err)
	}
	return ResultFailed, err
}
