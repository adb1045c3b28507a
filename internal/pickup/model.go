package pickup

import (
	"time"
)

const (
	// StatusWaiting is the stored status of every pending pickup.
	StatusWaiting = "waiting"

	// MarkedByAdmin identifies front-desk marks.
	MarkedByAdmin = "admin"

	// ReleasedByTeacher identifies teacher releases.
	ReleasedByTeacher = "teacher"

	// DateLayout keys the reset marker and archive snapshots.
	DateLayout = "2006-01-02"

	clockLayout = "15:04"
)

// PendingPickup is a student whose parent has arrived.
type PendingPickup struct {
	Key       string    `json:"key"`
	StudentID string    `json:"studentId"`
	Name      string    `json:"name"`
	Class     string    `json:"class"`
	Year      string    `json:"year"`
	Timestamp time.Time `json:"timestamp"`
	ArrivedAt string    `json:"arrivedAt"`
	MarkedBy  string    `json:"markedBy"`
	Status    string    `json:"status"`
}

// ReleasedPickup is a pending pickup after teacher release. It keeps the pending key.
type ReleasedPickup struct {
	PendingPickup
	ReleasedAt   time.Time `json:"releasedAt"`
	ReleasedTime string    `json:"releasedTime"`
	ReleasedBy   string    `json:"releasedBy"`
}

// ArchiveSnapshot is the immutable copy of one day's collections.
type ArchiveSnapshot struct {
	Date            string           `json:"date"`
	PendingPickups  []PendingPickup  `json:"pendingPickups"`
	ReleasedPickups []ReleasedPickup `json:"releasedPickups"`
	ArchivedAt      time.Time        `json:"archivedAt"`
}

// ResetMarker records the last calendar date a daily reset ran for.
type ResetMarker struct {
	Date      string    `json:"date"`
	Timestamp time.Time `json:"timestamp"`
}

// Collection names a live pickup collection.
type Collection string

const (
	CollectionPending  Collection = "pending"
	CollectionReleased Collection = "released"
)

// Change is a full snapshot of one collection after it mutated.
type Change struct {
	Collection Collection
	Pending    []PendingPickup
	Released   []ReleasedPickup
}

// Waiting returns how long the pickup has been waiting at now.
func (p PendingPickup) Waiting(now time.Time) time.Duration {
	if p.Timestamp.IsZero() {
		return 0
	}
	return now.Sub(p.Timestamp)
}

func clockTime(t time.Time) string {
	return t.Format(clockLayout)
}
