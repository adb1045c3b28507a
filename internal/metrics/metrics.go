package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the dismissal counters and gauges. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Marked        prometheus.Counter
	Duplicates    prometheus.Counter
	Throttled     prometheus.Counter
	Undone        prometheus.Counter
	Released      prometheus.Counter
	StoreFailures *prometheus.CounterVec
	Pending       prometheus.Gauge
	ReleasedToday prometheus.Gauge
	Resets        *prometheus.CounterVec
	RosterLoads   *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Marked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dismissal_pickups_marked_total",
			Help: "Pending pickups created after a parent arrived.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dismissal_pickups_duplicate_total",
			Help: "Mark-arrived attempts for a student already waiting.",
		}),
		Throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dismissal_pickups_throttled_total",
			Help: "Mark-arrived attempts rejected by the click cooldown.",
		}),
		Undone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dismissal_pickups_undone_total",
			Help: "Pending pickups removed by undo.",
		}),
		Released: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dismissal_pickups_released_total",
			Help: "Pending pickups released by a teacher.",
		}),
		StoreFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dismissal_store_failures_total",
			Help: "Pickup store operations that failed, by operation.",
		}, []string{"op"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dismissal_pickups_pending",
			Help: "Students currently waiting for release.",
		}),
		ReleasedToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dismissal_pickups_released_today",
			Help: "Students released since the last daily reset.",
		}),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dismissal_daily_resets_total",
			Help: "Daily reset checks, by result.",
		}, []string{"result"}),
		RosterLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dismissal_roster_loads_total",
			Help: "Roster loads, by source (cache, fetch, fallback).",
		}, []string{"source"}),
	}
	if reg != nil {
		reg.MustRegister(m.Marked, m.Duplicates, m.Throttled, m.Undone, m.Released,
			m.StoreFailures, m.Pending, m.ReleasedToday, m.Resets, m.RosterLoads)
	}
	return m
}

// IncMarked counts a created pending pickup.
func (m *Metrics) IncMarked() {
	if m != nil {
		m.Marked.Inc()
	}
}

// IncDuplicate counts a suppressed duplicate mark.
func (m *Metrics) IncDuplicate() {
	if m != nil {
		m.Duplicates.Inc()
	}
}

// IncThrottled counts a mark rejected by cooldown.
func (m *Metrics) IncThrottled() {
	if m != nil {
		m.Throttled.Inc()
	}
}

// IncUndone counts an undo.
func (m *Metrics) IncUndone() {
	if m != nil {
		m.Undone.Inc()
	}
}

// IncReleased counts a release.
func (m *Metrics) IncReleased() {
	if m != nil {
		m.Released.Inc()
	}
}

// StoreFailure counts a failed store operation.
func (m *Metrics) StoreFailure(op string) {
	if m != nil {
		m.StoreFailures.WithLabelValues(op).Inc()
	}
}

// SetCounts updates the live collection gauges.
func (m *Metrics) SetCounts(pending, released int) {
	if m != nil {
		m.Pending.Set(float64(pending))
		m.ReleasedToday.Set(float64(released))
	}
}

// Reset counts a daily reset check outcome.
func (m *Metrics) Reset(result string) {
	if m != nil {
		m.Resets.WithLabelValues(result).Inc()
	}
}

// RosterLoad counts where a roster load was served from.
func (m *Metrics) RosterLoad(source string) {
	if m != nil {
		m.RosterLoads.WithLabelValues(source).Inc()
	}
}
