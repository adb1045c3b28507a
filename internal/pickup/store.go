package pickup

import (
	"context"
	"sort"

	"github.com/google/uuid"
)

// Store is the shared source of truth for the day's pickups.
// Implementations write and delete atomically per key; nothing spans keys.
type Store interface {
	ListPending(ctx context.Context) ([]PendingPickup, error)
	GetPending(ctx context.Context, key string) (PendingPickup, bool, error)
	// CreatePending assigns a new key and stores p unless a pickup with the
	// same name is already waiting, in which case it returns a *DuplicateError.
	CreatePending(ctx context.Context, p PendingPickup) (PendingPickup, error)
	// DeletePending removes the pickup, returning ErrNotFound when it is gone.
	DeletePending(ctx context.Context, key string) error

	ListReleased(ctx context.Context) ([]ReleasedPickup, error)
	PutReleased(ctx context.Context, r ReleasedPickup) error

	// ClearLive empties both live collections.
	ClearLive(ctx context.Context) error

	ResetMarker(ctx context.Context) (ResetMarker, bool, error)
	SetResetMarker(ctx context.Context, m ResetMarker) error

	// Watch delivers the current snapshot of both collections, then one
	// Change per mutation in mutation order, until ctx is done.
	Watch(ctx context.Context) (<-chan Change, error)
}

// Archive keeps one snapshot per calendar date. Saving the same date overwrites.
type Archive interface {
	SaveArchive(ctx context.Context, snap ArchiveSnapshot) error
	LoadArchive(ctx context.Context, date string) (ArchiveSnapshot, bool, error)
}

// newKey returns a unique key that sorts in creation order.
func newKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func sortPending(list []PendingPickup) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Timestamp.Equal(list[j].Timestamp) {
			return list[i].Timestamp.Before(list[j].Timestamp)
		}
		return list[i].Key < list[j].Key
	})
}

func sortReleased(list []ReleasedPickup) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].ReleasedAt.Equal(list[j].ReleasedAt) {
			return list[i].ReleasedAt.Before(list[j].ReleasedAt)
		}
		return list[i].Key < list[j].Key
	})
}

// MergeArchive adds the records of next that prev does not hold yet, matched by key.
// Records already in prev are kept as they were archived.
func MergeArchive(prev, next ArchiveSnapshot) ArchiveSnapshot {
	seen := make(map[string]struct{}, len(prev.PendingPickups)+len(prev.ReleasedPickups))
	merged := ArchiveSnapshot{
		Date:            prev.Date,
		PendingPickups:  append([]PendingPickup(nil), prev.PendingPickups...),
		ReleasedPickups: append([]ReleasedPickup(nil), prev.ReleasedPickups...),
		ArchivedAt:      next.ArchivedAt,
	}
	for _, p := range prev.PendingPickups {
		seen[p.Key] = struct{}{}
	}
	for _, r := range prev.ReleasedPickups {
		seen[r.Key] = struct{}{}
	}
	for _, p := range next.PendingPickups {
		if _, ok := seen[p.Key]; !ok {
			merged.PendingPickups = append(merged.PendingPickups, p)
		}
	}
	for _, r := range next.ReleasedPickups {
		if _, ok := seen[r.Key]; !ok {
			merged.ReleasedPickups = append(merged.ReleasedPickups, r)
		}
	}
	sortPending(merged.PendingPickups)
	sortReleased(merged.ReleasedPickups)
	return merged
}

// FindByName scans pending for a pickup with the given name.
func FindByName(pending []PendingPickup, name string) (PendingPickup, bool) {
	for _, p := range pending {
		if p.Name == name {
			return p, true
		}
	}
	return PendingPickup{}, false
}
