package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dismissal/internal/pickup"
)

const schema = `
CREATE TABLE IF NOT EXISTS pickup_archives (
	archive_date    DATE PRIMARY KEY,
	pending         JSONB NOT NULL DEFAULT '[]'::jsonb,
	released        JSONB NOT NULL DEFAULT '[]'::jsonb,
	pending_count   INTEGER NOT NULL DEFAULT 0,
	released_count  INTEGER NOT NULL DEFAULT 0,
	archived_at     TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Summary is one archived day without its records.
type Summary struct {
	Date          string    `json:"date"`
	PendingCount  int       `json:"pendingCount"`
	ReleasedCount int       `json:"releasedCount"`
	ArchivedAt    time.Time `json:"archivedAt"`
}

// PostgresRepository persists day archives in Postgres, one row per date.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the archive table if needed.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// SaveArchive writes snap, overwriting an earlier archive of the same date.
func (r *PostgresRepository) SaveArchive(ctx context.Context, snap pickup.ArchiveSnapshot) error {
	date, err := time.Parse(pickup.DateLayout, snap.Date)
	if err != nil {
		return fmt.Errorf("archive date %q: %w", snap.Date, err)
	}
	pending, err := json.Marshal(nonNilPending(snap.PendingPickups))
	if err != nil {
		return err
	}
	released, err := json.Marshal(nonNilReleased(snap.ReleasedPickups))
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pickup_archives (archive_date, pending, released, pending_count, released_count, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (archive_date) DO UPDATE SET
			pending = EXCLUDED.pending,
			released = EXCLUDED.released,
			pending_count = EXCLUDED.pending_count,
			released_count = EXCLUDED.released_count,
			archived_at = EXCLUDED.archived_at,
			updated_at = NOW()
	`, date, pending, released, len(snap.PendingPickups), len(snap.ReleasedPickups), snap.ArchivedAt)
	return err
}

// LoadArchive reads the archive of date.
func (r *PostgresRepository) LoadArchive(ctx context.Context, date string) (pickup.ArchiveSnapshot, bool, error) {
	day, err := time.Parse(pickup.DateLayout, date)
	if err != nil {
		return pickup.ArchiveSnapshot{}, false, fmt.Errorf("archive date %q: %w", date, err)
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT pending, released, archived_at FROM pickup_archives WHERE archive_date = $1
	`, day)
	var (
		pending, released []byte
		snap              = pickup.ArchiveSnapshot{Date: date}
	)
	if err := row.Scan(&pending, &released, &snap.ArchivedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pickup.ArchiveSnapshot{}, false, nil
		}
		return pickup.ArchiveSnapshot{}, false, err
	}
	if err := json.Unmarshal(pending, &snap.PendingPickups); err != nil {
		return pickup.ArchiveSnapshot{}, false, fmt.Errorf("decode pending archive: %w", err)
	}
	if err := json.Unmarshal(released, &snap.ReleasedPickups); err != nil {
		return pickup.ArchiveSnapshot{}, false, fmt.Errorf("decode released archive: %w", err)
	}
	return snap, true, nil
}

// ListArchives returns the most recent archived days.
func (r *PostgresRepository) ListArchives(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT archive_date, pending_count, released_count, archived_at
		FROM pickup_archives
		ORDER BY archive_date DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Summary
	for rows.Next() {
		var (
			s   Summary
			day time.Time
		)
		if err := rows.Scan(&day, &s.PendingCount, &s.ReleasedCount, &s.ArchivedAt); err != nil {
			return nil, err
		}
		s.Date = day.Format(pickup.DateLayout)
		res = append(res, s)
	}
	return res, rows.Err()
}

func nonNilPending(list []pickup.PendingPickup) []pickup.PendingPickup {
	if list == nil {
		return []pickup.PendingPickup{}
	}
	return list
}

func nonNilReleased(list []pickup.ReleasedPickup) []pickup.ReleasedPickup {
	if list == nil {
		return []pickup.ReleasedPickup{}
	}
	return list
}
