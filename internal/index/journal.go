package index

import (
	"context"
	"fmt"
	"time"

	"tagify/internal/commit"
)

// BeginWrite records a commit whose shadow file may be on disk. A second
// call with the same ID updates the entry's mode.
func (s *Store) BeginWrite(ctx context.Context, e commit.JournalEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO commit_journal (id, track_id, original, shadow, mode, started_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET mode = excluded.mode`,
		e.ID, e.TrackID, e.Original, e.Shadow, string(e.Mode), e.Started.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal begin %s: %w", e.ID, err)
	}
	return nil
}

// EndWrite removes a settled commit from the journal.
func (s *Store) EndWrite(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM commit_journal WHERE id = ?", id); err != nil {
		return fmt.Errorf("journal end %s: %w", id, err)
	}
	return nil
}

// PendingWrites returns the commits that never settled, oldest first.
func (s *Store) PendingWrites(ctx context.Context) ([]commit.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, track_id, original, shadow, mode, started_at FROM commit_journal ORDER BY started_at")
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	defer rows.Close()

	var entries []commit.JournalEntry
	for rows.Next() {
		var e commit.JournalEntry
		var mode, started string
		if err := rows.Scan(&e.ID, &e.TrackID, &e.Original, &e.Shadow, &mode, &started); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Mode = commit.Mode(mode)
		e.Started, _ = time.Parse(time.RFC3339Nano, started)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
