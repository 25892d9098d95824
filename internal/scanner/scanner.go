// Package scanner keeps the track index in step with the library on disk.
// A scan pass reads the tags of new and modified files; Watch applies
// filesystem events as they happen.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"

	"tagify/internal/index"
	"tagify/internal/logger"
	"tagify/internal/metadata"
	"tagify/internal/metrics"
	"tagify/pkg/utils"
)

// Index is the part of index.Store the scanner writes to.
type Index interface {
	Upsert(ctx context.Context, t *metadata.Track) error
	GetByPath(ctx context.Context, path string) (metadata.Track, error)
	List(ctx context.Context, f index.Filter) ([]metadata.Track, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}

// DurationFunc returns the playing time of an audio file.
type DurationFunc func(path string) (time.Duration, error)

// Stats summarizes a scan pass.
type Stats struct {
	Added     int
	Updated   int
	Unchanged int
	Removed   int
	Failed    int
}

// Scanner indexes audio files.
type Scanner struct {
	index       Index
	required    []metadata.Field
	fixEncoding bool
	duration    DurationFunc
	log         *logger.Logger

	// OnProgress, when set, is called after every file of a pass.
	OnProgress func(done, total int)
}

// New creates a Scanner. duration may be nil, leaving Track.Duration at 0.
func New(idx Index, required []metadata.Field, fixEncoding bool, duration DurationFunc, log *logger.Logger) *Scanner {
	return &Scanner{
		index:       idx,
		required:    required,
		fixEncoding: fixEncoding,
		duration:    duration,
		log:         log,
	}
}

// Scan indexes every audio file under dirs and drops records whose file is
// gone. Files whose modification time matches the index are skipped.
func (s *Scanner) Scan(ctx context.Context, dirs ...string) (Stats, error) {
	var stats Stats
	var files []string
	roots := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return stats, err
		}
		roots = append(roots, abs)
		found, err := utils.FindAudioFiles(abs)
		if err != nil {
			return stats, err
		}
		files = append(files, found...)
	}

	s.log.Info("Scanning %d audio files", len(files))
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		switch res, err := s.IndexFile(ctx, path); {
		case err != nil:
			s.log.Warn("Skipping %s: %v", path, err)
			stats.Failed++
		case res == index.Inserted:
			stats.Added++
		case res == index.Updated:
			stats.Updated++
		default:
			stats.Unchanged++
		}
		if s.OnProgress != nil {
			s.OnProgress(i+1, len(files))
		}
	}

	for _, dir := range roots {
		removed, err := s.prune(ctx, dir)
		stats.Removed += removed
		if err != nil {
			return stats, err
		}
	}

	if n, err := s.index.Count(ctx); err == nil {
		metrics.SetIndexedTracks(n)
	}
	s.log.Info("Scan complete: %d added, %d updated, %d unchanged, %d removed, %d failed",
		stats.Added, stats.Updated, stats.Unchanged, stats.Removed, stats.Failed)
	return stats, nil
}

// unchanged is returned by IndexFile for files whose record is current.
const unchanged index.EventKind = -1

// IndexFile reads path and stores its record. It reports whether the record
// was inserted, updated or left alone.
func (s *Scanner) IndexFile(ctx context.Context, path string) (index.EventKind, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return unchanged, err
	}

	existing, err := s.index.GetByPath(ctx, path)
	switch {
	case err == nil && existing.ModTime == fi.ModTime().Unix():
		return unchanged, nil
	case err != nil && !errors.Is(err, index.ErrNotFound):
		return unchanged, err
	}

	track, err := s.ReadTrack(path)
	if err != nil {
		return unchanged, err
	}
	track.ModTime = fi.ModTime().Unix()
	if err := s.index.Upsert(ctx, &track); err != nil {
		return unchanged, err
	}
	if existing.ID != 0 {
		return index.Updated, nil
	}
	s.log.Debug("Indexed %s", path)
	return index.Inserted, nil
}

// ReadTrack builds a Track from the tags of path. Files without a tag yield
// a record with empty fields.
func (s *Scanner) ReadTrack(path string) (metadata.Track, error) {
	track := metadata.Track{Path: path, MimeType: mimeByExt(path)}

	f, err := os.Open(path)
	if err != nil {
		return track, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	hasPicture := false
	m, err := tag.ReadFrom(f)
	switch {
	case errors.Is(err, tag.ErrNoTagsFound):
	case err != nil:
		return track, fmt.Errorf("failed to read tags: %w", err)
	default:
		track.Title = m.Title()
		track.Artist = m.Artist()
		track.Album = m.Album()
		track.AlbumArtist = m.AlbumArtist()
		track.Genre = m.Genre()
		track.Composer = m.Composer()
		track.Year = m.Year()
		track.TrackPos, track.TrackCount = m.Track()
		track.DiscPos, track.DiscCount = m.Disc()
		if mt := mimeByType(m.FileType()); mt != "" {
			track.MimeType = mt
		}
		hasPicture = m.Picture() != nil

		if s.fixEncoding && isID3(m.Format()) {
			repairTrack(&track)
		}
	}

	if s.duration != nil {
		if d, err := s.duration(path); err == nil {
			track.Duration = int(d.Round(time.Second) / time.Second)
		} else {
			s.log.Debug("No duration for %s: %v", path, err)
		}
	}

	track.HasRequiredTag = metadata.HasRequired(track.Fields(), hasPicture, s.required)
	return track, nil
}

// Remove drops the record of a deleted file.
func (s *Scanner) Remove(ctx context.Context, path string) error {
	t, err := s.index.GetByPath(ctx, path)
	if errors.Is(err, index.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.index.Delete(ctx, t.ID)
}

func (s *Scanner) prune(ctx context.Context, dir string) (int, error) {
	tracks, err := s.index.List(ctx, index.Filter{Under: dir})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, t := range tracks {
		if _, err := os.Stat(t.Path); errors.Is(err, os.ErrNotExist) {
			if err := s.index.Delete(ctx, t.ID); err != nil {
				return removed, err
			}
			s.log.Debug("Removed %s from index", t.Path)
			removed++
		}
	}
	return removed, nil
}

func repairTrack(t *metadata.Track) {
	for _, field := range []*string{&t.Title, &t.Artist, &t.Album, &t.AlbumArtist, &t.Genre, &t.Composer} {
		if fixed, ok := RepairEncoding(*field); ok {
			*field = fixed
		}
	}
}

func isID3(f tag.Format) bool {
	switch f {
	case tag.ID3v1, tag.ID3v2_2, tag.ID3v2_3, tag.ID3v2_4:
		return true
	}
	return false
}

func mimeByType(ft tag.FileType) string {
	switch ft {
	case tag.MP3:
		return "audio/mpeg"
	case tag.M4A, tag.M4B, tag.M4P, tag.ALAC:
		return "audio/mp4"
	case tag.FLAC:
		return "audio/flac"
	case tag.OGG:
		return "audio/ogg"
	case tag.DSF:
		return "audio/dsf"
	}
	return ""
}

var mimeTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".aiff": "audio/aiff",
	".aif":  "audio/aiff",
	".wv":   "audio/wavpack",
	".ape":  "audio/ape",
	".wma":  "audio/x-ms-wma",
}

func mimeByExt(path string) string {
	if mt, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	return "application/octet-stream"
}
