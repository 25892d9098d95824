// Package commit rewrites a track's embedded tag without ever leaving the
// original file half-written. The original is copied to a hidden shadow in
// the same directory, the codec writes through a FileHandle backend, and
// any failure or cancellation during the write restores the original before
// the error is returned.
package commit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"tagify/internal/logger"
	"tagify/internal/metadata"
	"tagify/internal/metrics"
	"tagify/internal/pattern"
	"tagify/pkg/utils"
)

// Result is the outcome of a commit as seen by the caller.
type Result int

const (
	Success Result = iota
	LoadFailed
	WriteFailed
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case LoadFailed:
		return "load_failed"
	default:
		return "write_failed"
	}
}

var (
	// ErrLoadFailed wraps failures to read or parse the original file. Nothing
	// was modified.
	ErrLoadFailed = errors.New("load failed")
	// ErrWriteFailed wraps codec, copy and rename failures. The original has
	// been restored.
	ErrWriteFailed = errors.New("write failed")
)

// Handle is an open, editable tag.
type Handle interface {
	Values() map[metadata.Field]string
	Picture() []byte
	SetField(f metadata.Field, value string)
	RemoveField(f metadata.Field)
	SetPicture(data []byte)
	RemovePicture()
	Clear()
	WriteTo(path string) error
	Close() error
}

// ScanFunc opens the tag of the file at path for editing.
type ScanFunc func(path string) (Handle, error)

// Change describes the desired tag. Fields with a blank value are removed;
// fields absent from the map are left alone.
type Change struct {
	Fields        map[metadata.Field]string
	Picture       []byte
	RemovePicture bool
	// RemoveTag drops every field and the picture. Other settings are ignored.
	RemoveTag bool
}

// FromCandidate builds the change that applies a lookup result. Blank
// candidate fields keep the file's existing values.
func FromCandidate(c metadata.Candidate, picture []byte) Change {
	fields := make(map[metadata.Field]string)
	for f, v := range c.Values() {
		if strings.TrimSpace(v) != "" {
			fields[f] = v
		}
	}
	return Change{Fields: fields, Picture: picture}
}

// RemoveTag is the change that strips the whole tag.
func RemoveTag() Change { return Change{RemoveTag: true} }

// RemoveArtwork is the change that strips only the embedded picture.
func RemoveArtwork() Change { return Change{RemovePicture: true} }

// SetArtwork is the change that replaces the embedded picture.
func SetArtwork(data []byte) Change { return Change{Picture: data} }

func (c Change) apply(h Handle) {
	if c.RemoveTag {
		h.Clear()
		return
	}
	for f, v := range c.Fields {
		if strings.TrimSpace(v) == "" {
			h.RemoveField(f)
		} else {
			h.SetField(f, v)
		}
	}
	switch {
	case c.RemovePicture:
		h.RemovePicture()
	case c.Picture != nil:
		h.SetPicture(c.Picture)
	}
}

// Index receives the committed track record.
type Index interface {
	UpdateTrack(ctx context.Context, t metadata.Track) error
	AlbumTrackCount(ctx context.Context, album string) (int, error)
}

// ArtworkStore holds the thumbnail and album artwork derived from a tag.
type ArtworkStore interface {
	// SaveThumbnail regenerates the track's thumbnail; nil removes it.
	SaveThumbnail(trackID int64, picture []byte) error
	SaveAlbumArtwork(album string, picture []byte) error
	RemoveAlbumArtwork(album string) error
}

// Options wires the optional collaborators of a Committer. Nil fields are
// skipped.
type Options struct {
	Index   Index
	Journal Journal
	Artwork ArtworkStore
	// LockDir holds per-track lock files serializing commits across
	// processes. Empty disables locking.
	LockDir string
	// Rename, when set, renames committed files after the pattern.
	Rename *pattern.Pattern
	ASCII  bool
	// Required decides Track.HasRequiredTag for the updated record.
	Required []metadata.Field
	// Critical marks the write phase as work shutdown must wait for.
	Critical func() (release func())
}

// Committer runs tag commit transactions.
type Committer struct {
	scan ScanFunc
	opts Options
	log  *logger.Logger
}

// New creates a Committer reading tags with scan.
func New(scan ScanFunc, opts Options, log *logger.Logger) *Committer {
	return &Committer{scan: scan, opts: opts, log: log}
}

// Commit applies change to the track's file. It returns Success only after
// the new content replaced the original; on WriteFailed the original is
// byte-identical to its state before the call and no shadow remains.
func (c *Committer) Commit(ctx context.Context, track metadata.Track, change Change) (metadata.Track, Result, error) {
	start := time.Now()
	updated, res, err := c.commit(ctx, track, change)
	metrics.IncCommit(res.String())
	metrics.ObserveCommitDuration(time.Since(start))
	return updated, res, err
}

func (c *Committer) commit(ctx context.Context, track metadata.Track, change Change) (metadata.Track, Result, error) {
	unlock, err := c.lock(ctx, track.ID)
	if err != nil {
		return track, WriteFailed, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	defer unlock()

	h, err := c.scan(track.Path)
	if err != nil {
		c.log.Error("Failed to read tag of %s: %v", track.Path, err)
		return track, LoadFailed, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	defer h.Close()

	fh, err := Open(track.Path)
	if err != nil {
		return track, LoadFailed, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	change.apply(h)

	safe := context.WithoutCancel(ctx)
	entry := JournalEntry{
		ID:       uuid.NewString(),
		TrackID:  track.ID,
		Original: fh.Original(),
		Shadow:   fh.Shadow(),
		Mode:     ModeCopy,
		Started:  time.Now(),
	}
	if j := c.opts.Journal; j != nil {
		if err := j.BeginWrite(safe, entry); err != nil {
			return track, WriteFailed, fmt.Errorf("%w: journal: %w", ErrWriteFailed, err)
		}
		defer func() {
			if _, err := os.Stat(entry.Shadow); err == nil {
				c.log.Error("Shadow %s left for recovery", entry.Shadow)
				return
			}
			if err := j.EndWrite(safe, entry.ID); err != nil {
				c.log.Warn("Failed to close journal entry %s: %v", entry.ID, err)
			}
		}()
	}

	if err := fh.Prepare(ctx); err != nil {
		c.log.Error("Failed to copy %s: %v", track.Path, err)
		return track, WriteFailed, fmt.Errorf("%w: shadow copy: %w", ErrWriteFailed, err)
	}

	entry.Mode = fh.Mode()
	if err := c.write(ctx, track, h, fh, entry); err != nil {
		return track, WriteFailed, fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	c.log.Debug("Committed tag to %s (%s)", track.Path, fh.Mode())
	return c.afterCommit(context.WithoutCancel(ctx), track, h), Success, nil
}

// write runs the phase that may touch the original. The journal entry is
// first switched to the backend's mode, after which every exit path leaves
// either the new content or the restored original and no shadow.
func (c *Committer) write(ctx context.Context, track metadata.Track, h Handle, fh FileHandle, entry JournalEntry) error {
	if c.opts.Critical != nil {
		release := c.opts.Critical()
		defer release()
	}
	safe := context.WithoutCancel(ctx)

	if c.opts.Journal != nil {
		if err := c.opts.Journal.BeginWrite(safe, entry); err != nil {
			fh.Cleanup()
			return fmt.Errorf("journal: %w", err)
		}
	}

	err := h.WriteTo(fh.Target())
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = fh.Commit()
	}
	if err != nil {
		c.log.Warn("Write to %s failed, restoring original: %v", track.Path, err)
		if rerr := fh.Restore(safe); rerr != nil {
			c.log.Error("Failed to restore %s from %s: %v", track.Path, fh.Shadow(), rerr)
			return errors.Join(err, rerr)
		}
		return err
	}
	if err := fh.Cleanup(); err != nil {
		c.log.Warn("Failed to remove shadow %s: %v", fh.Shadow(), err)
	}
	return nil
}

// afterCommit propagates a successful write to the collaborators. Failures
// here are logged only: the file is already consistent and the next
// indexing pass reconciles the record.
func (c *Committer) afterCommit(ctx context.Context, track metadata.Track, h Handle) metadata.Track {
	values := h.Values()
	picture := h.Picture()
	oldAlbum := track.Album

	updated := track.WithValues(values)
	updated.HasRequiredTag = metadata.HasRequired(values, picture != nil, c.opts.Required)

	if c.opts.Rename != nil {
		if p, ok := c.rename(track.Path, values); ok {
			updated.Path = p
		}
	}

	if a := c.opts.Artwork; a != nil {
		if err := a.SaveThumbnail(track.ID, picture); err != nil {
			c.log.Warn("Failed to update thumbnail for %s: %v", track.Path, err)
		}
		if picture != nil && updated.Album != "" {
			if err := a.SaveAlbumArtwork(updated.Album, picture); err != nil {
				c.log.Warn("Failed to update artwork for album %q: %v", updated.Album, err)
			}
		}
	}

	if c.opts.Index != nil {
		if err := c.opts.Index.UpdateTrack(ctx, updated); err != nil {
			c.log.Warn("Failed to update index for %s: %v", updated.Path, err)
		}
		if oldAlbum != "" && oldAlbum != updated.Album && c.opts.Artwork != nil {
			c.dropOrphanedArtwork(ctx, oldAlbum)
		}
	}
	return updated
}

func (c *Committer) dropOrphanedArtwork(ctx context.Context, album string) {
	n, err := c.opts.Index.AlbumTrackCount(ctx, album)
	if err != nil {
		c.log.Warn("Failed to count tracks of album %q: %v", album, err)
		return
	}
	if n > 0 {
		return
	}
	if err := c.opts.Artwork.RemoveAlbumArtwork(album); err != nil {
		c.log.Warn("Failed to remove artwork for album %q: %v", album, err)
	}
}

// rename moves path to the name the pattern produces from values. It
// refuses to overwrite an existing file.
func (c *Committer) rename(path string, values map[metadata.Field]string) (string, bool) {
	name, ok := c.opts.Rename.Format(values)
	if !ok {
		c.log.Debug("Not renaming %s: pattern fields missing", path)
		return "", false
	}
	if c.opts.ASCII {
		name = pattern.Sanitize(pattern.ASCII(name))
	}

	newPath := filepath.Join(filepath.Dir(path), name+filepath.Ext(path))
	if newPath == path {
		return "", false
	}
	if _, err := os.Lstat(newPath); err == nil {
		c.log.Warn("Not renaming %s: %s already exists", filepath.Base(path), filepath.Base(newPath))
		return "", false
	}
	if err := utils.MoveFile(path, newPath); err != nil {
		c.log.Warn("Failed to rename %s: %v", path, err)
		return "", false
	}
	c.log.Info("Renamed %s -> %s", filepath.Base(path), filepath.Base(newPath))
	return newPath, true
}

func (c *Committer) lock(ctx context.Context, trackID int64) (func(), error) {
	if c.opts.LockDir == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(c.opts.LockDir, 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	fl := flock.New(filepath.Join(c.opts.LockDir, strconv.FormatInt(trackID, 10)+".lock"))
	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock track %d: %w", trackID, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock track %d: busy", trackID)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			c.log.Warn("Failed to release lock for track %d: %v", trackID, err)
		}
	}, nil
}
