package commit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"tagify/internal/logger"
)

// JournalEntry records a write whose shadow may still be on disk.
type JournalEntry struct {
	ID       string
	TrackID  int64
	Original string
	Shadow   string
	Mode     Mode
	Started  time.Time
}

// Journal persists entries across process death. BeginWrite is called with
// ModeCopy before the shadow copy starts, then again with the same ID and
// the backend's mode before the original can change; it replaces an
// existing entry. EndWrite is called after the shadow is gone.
type Journal interface {
	BeginWrite(ctx context.Context, e JournalEntry) error
	EndWrite(ctx context.Context, id string) error
	PendingWrites(ctx context.Context) ([]JournalEntry, error)
}

// Recover settles every pending journal entry left by a crashed process.
// In-place writes are rolled back from their backup; rename writes and
// interrupted shadow copies only leave a stray shadow to delete. It returns the number of originals that
// were restored.
func Recover(ctx context.Context, j Journal, log *logger.Logger) (int, error) {
	pending, err := j.PendingWrites(ctx)
	if err != nil {
		return 0, fmt.Errorf("read journal: %w", err)
	}

	restored := 0
	var errs []error
	for _, e := range pending {
		if _, err := os.Stat(e.Shadow); errors.Is(err, os.ErrNotExist) {
			log.Debug("Journal entry %s has no shadow, discarding", e.ID)
			if err := j.EndWrite(ctx, e.ID); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		fh := NewFileHandle(e.Mode, e.Original, e.Shadow)
		if err := fh.Restore(context.WithoutCancel(ctx)); err != nil {
			log.Error("Failed to recover %s from %s: %v", e.Original, e.Shadow, err)
			errs = append(errs, fmt.Errorf("recover %s: %w", e.Original, err))
			continue
		}
		if e.Mode == ModeInPlace {
			log.Warn("Restored %s from backup after interrupted write", e.Original)
			restored++
		} else {
			log.Info("Removed leftover shadow for %s", e.Original)
		}
		if err := j.EndWrite(ctx, e.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return restored, errors.Join(errs...)
}
