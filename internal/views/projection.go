package views

import (
	"math"
	"sort"
	"strings"
	"time"

	"dismissal/internal/pickup"
	"dismissal/internal/roster"
)

// AllCohorts selects every cohort in the teacher view.
const AllCohorts = "all"

// Action is the admin button state for a student.
type Action string

const (
	ActionMark    Action = "mark"
	ActionWaiting Action = "waiting"
)

// AdminEntry is one student row of the admin list.
type AdminEntry struct {
	Student roster.Student `json:"student"`
	Action  Action         `json:"action"`
	CanUndo bool           `json:"canUndo"`
}

// CohortGroup is the admin list section for one cohort.
type CohortGroup struct {
	Cohort  string       `json:"cohort"`
	Entries []AdminEntry `json:"entries"`
}

// AdminView lists the students not yet picked up today.
type AdminView struct {
	Search  string        `json:"search,omitempty"`
	Matches int           `json:"matches"`
	Groups  []CohortGroup `json:"groups"`
}

// PendingEntry is a waiting pickup with its wait in whole minutes.
type PendingEntry struct {
	pickup.PendingPickup
	WaitMinutes int `json:"waitMinutes"`
}

// CohortCount is a teacher filter button.
type CohortCount struct {
	Cohort string `json:"cohort"`
	Count  int    `json:"count"`
}

// TeacherView lists waiting pickups, oldest first.
type TeacherView struct {
	Cohort  string         `json:"cohort"`
	Total   int            `json:"total"`
	Filters []CohortCount  `json:"filters"`
	Entries []PendingEntry `json:"entries"`
}

// Admin projects the roster minus students released today, minus search
// misses, grouped by cohort. A student is shown waiting when a pending
// pickup with its name exists or the engine holds a local pending mark.
func Admin(students []roster.Student, statuses map[string]pickup.Status, pending []pickup.PendingPickup, search string) AdminView {
	waiting := make(map[string]struct{}, len(pending))
	for _, p := range pending {
		waiting[p.Name] = struct{}{}
	}
	term := strings.ToLower(strings.TrimSpace(search))

	grouped := make(map[string][]AdminEntry)
	matches := 0
	for _, s := range students {
		status := statuses[s.Name]
		if status == pickup.StatusReleased {
			continue
		}
		if term != "" && !matchesSearch(s, term) {
			continue
		}
		_, stored := waiting[s.Name]
		entry := AdminEntry{Student: s, Action: ActionMark, CanUndo: stored}
		if stored || status == pickup.StatusPending {
			entry.Action = ActionWaiting
		}
		grouped[s.Year] = append(grouped[s.Year], entry)
		matches++
	}

	cohorts := make([]string, 0, len(grouped))
	for c := range grouped {
		cohorts = append(cohorts, c)
	}
	sort.Strings(cohorts)
	roster.SortCohorts(cohorts)

	view := AdminView{Search: search, Matches: matches, Groups: make([]CohortGroup, 0, len(cohorts))}
	for _, c := range cohorts {
		view.Groups = append(view.Groups, CohortGroup{Cohort: c, Entries: grouped[c]})
	}
	return view
}

func matchesSearch(s roster.Student, term string) bool {
	return strings.Contains(strings.ToLower(s.Name), term) ||
		strings.Contains(strings.ToLower(s.Class), term) ||
		strings.Contains(strings.ToLower(s.Year), term)
}

// Teacher projects the pending pickups of cohort (or all), oldest arrival first.
func Teacher(students []roster.Student, pending []pickup.PendingPickup, cohort string, now time.Time) TeacherView {
	if cohort == "" {
		cohort = AllCohorts
	}
	entries := make([]PendingEntry, 0, len(pending))
	for _, p := range pending {
		if cohort != AllCohorts && cohortOf(p) != cohort {
			continue
		}
		entries = append(entries, PendingEntry{PendingPickup: p, WaitMinutes: WaitMinutes(p.Timestamp, now)})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return TeacherView{
		Cohort:  cohort,
		Total:   len(pending),
		Filters: CohortCounts(students, pending),
		Entries: entries,
	}
}

// Released projects today's released pickups, most recent first.
func Released(released []pickup.ReleasedPickup) []pickup.ReleasedPickup {
	out := make([]pickup.ReleasedPickup, len(released))
	copy(out, released)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReleasedAt.After(out[j].ReleasedAt)
	})
	return out
}

// CohortCounts counts pending pickups for every cohort of the roster, in cohort order.
func CohortCounts(students []roster.Student, pending []pickup.PendingPickup) []CohortCount {
	counts := make(map[string]int)
	for _, p := range pending {
		counts[cohortOf(p)]++
	}
	cohorts := roster.Cohorts(students)
	out := make([]CohortCount, 0, len(cohorts))
	for _, c := range cohorts {
		out = append(out, CohortCount{Cohort: c, Count: counts[c]})
	}
	return out
}

// WaitMinutes rounds the wait since arrival to whole minutes, never below one.
func WaitMinutes(since, now time.Time) int {
	if since.IsZero() {
		return 1
	}
	minutes := int(math.Round(now.Sub(since).Minutes()))
	if minutes < 1 {
		return 1
	}
	return minutes
}

func cohortOf(p pickup.PendingPickup) string {
	if p.Year != "" {
		return p.Year
	}
	return roster.CohortOf(p.Class)
}
