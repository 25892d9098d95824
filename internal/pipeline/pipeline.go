// Package pipeline runs tag operations over many tracks: saving lookup
// results, stripping tags or artwork, tagging from file names and setting a
// shared cover. Every operation goes through the commit transaction.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"tagify/internal/commit"
	"tagify/internal/logger"
	"tagify/internal/lookup"
	"tagify/internal/metadata"
	"tagify/internal/pattern"
)

// Workers is the number of files committed concurrently.
const Workers = 4

// Committer applies a change to one track.
type Committer interface {
	Commit(ctx context.Context, track metadata.Track, change commit.Change) (metadata.Track, commit.Result, error)
}

// ArtworkSource downloads and normalizes cover images.
type ArtworkSource interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

type Hooks struct {
	OnStart    func(total int)
	OnProgress func(done, total int)
	OnWarning  func(msg string)
	// OnCommitted receives every processed track with its updated record.
	OnCommitted func(track metadata.Track, res commit.Result, err error)
}

// Stats counts the outcomes of an operation.
type Stats struct {
	Total       int
	Succeeded   int
	Skipped     int
	LoadFailed  int
	WriteFailed int
}

// Failed is the number of tracks that could not be committed.
func (s Stats) Failed() int { return s.LoadFailed + s.WriteFailed }

// Match is a lookup result chosen for a track.
type Match struct {
	Track     metadata.Track
	Candidate metadata.Candidate
}

// Pipeline drives batch tag operations.
type Pipeline struct {
	committer Committer
	artwork   ArtworkSource
	pattern   *pattern.Pattern
	log       *logger.Logger
	hooks     Hooks
}

// New creates a Pipeline. artwork and p may be nil when the operations that
// need them are not used.
func New(c Committer, artwork ArtworkSource, p *pattern.Pattern, log *logger.Logger, hooks Hooks) *Pipeline {
	return &Pipeline{committer: c, artwork: artwork, pattern: p, log: log, hooks: hooks}
}

// plan decides the change for a track. ok=false skips the track.
type plan func(ctx context.Context, t metadata.Track) (change commit.Change, ok bool)

// SaveResults writes each chosen candidate, with its cover when one was
// resolved, to its track.
func (p *Pipeline) SaveResults(ctx context.Context, matches []Match) (Stats, error) {
	byPath := make(map[string]metadata.Candidate, len(matches))
	tracks := make([]metadata.Track, 0, len(matches))
	for _, m := range matches {
		byPath[m.Track.Path] = m.Candidate
		tracks = append(tracks, m.Track)
	}
	return p.run(ctx, "Saving results", tracks, func(ctx context.Context, t metadata.Track) (commit.Change, bool) {
		c := byPath[t.Path]
		return commit.FromCandidate(c, p.cover(ctx, c)), true
	})
}

// AutoTag consumes batch lookup results and writes the best candidate of
// every successful match. Tracks without a match are skipped.
func (p *Pipeline) AutoTag(ctx context.Context, results <-chan lookup.Result, total int) (Stats, error) {
	var matches []Match
	skipped := 0
	for r := range results {
		switch {
		case r.Err != nil:
			p.warn(fmt.Sprintf("%s: %v", r.Track.Path, r.Err))
			skipped++
		case !r.Outcome.Success || len(r.Outcome.Candidates) == 0:
			p.log.Info("No match for %s", r.Track.Path)
			skipped++
		default:
			matches = append(matches, Match{Track: r.Track, Candidate: r.Outcome.Candidates[0]})
		}
	}
	if err := ctx.Err(); err != nil {
		return Stats{Total: total, Skipped: skipped}, err
	}
	stats, err := p.SaveResults(ctx, matches)
	stats.Total = total
	stats.Skipped += skipped
	return stats, err
}

// RemoveTags strips the whole tag of every track.
func (p *Pipeline) RemoveTags(ctx context.Context, tracks []metadata.Track) (Stats, error) {
	return p.run(ctx, "Removing tags", tracks, func(context.Context, metadata.Track) (commit.Change, bool) {
		return commit.RemoveTag(), true
	})
}

// RemoveArtwork strips the embedded picture of every track.
func (p *Pipeline) RemoveArtwork(ctx context.Context, tracks []metadata.Track) (Stats, error) {
	return p.run(ctx, "Removing artwork", tracks, func(context.Context, metadata.Track) (commit.Change, bool) {
		return commit.RemoveArtwork(), true
	})
}

// SetArtwork embeds picture in every track.
func (p *Pipeline) SetArtwork(ctx context.Context, tracks []metadata.Track, picture []byte) (Stats, error) {
	if len(picture) == 0 {
		return Stats{}, fmt.Errorf("empty artwork")
	}
	return p.run(ctx, "Setting artwork", tracks, func(context.Context, metadata.Track) (commit.Change, bool) {
		return commit.SetArtwork(picture), true
	})
}

// TagFromFilename parses every file name with the filename pattern and
// writes the extracted fields. Names that do not match are skipped.
func (p *Pipeline) TagFromFilename(ctx context.Context, tracks []metadata.Track) (Stats, error) {
	if p.pattern == nil {
		return Stats{}, fmt.Errorf("no filename pattern configured")
	}
	return p.run(ctx, "Tagging from file names", tracks, func(_ context.Context, t metadata.Track) (commit.Change, bool) {
		values, ok := p.pattern.Parse(t.BaseName())
		if !ok {
			p.warn(fmt.Sprintf("%s does not match %s", t.BaseName(), p.pattern))
			return commit.Change{}, false
		}
		return commit.Change{Fields: values}, true
	})
}

func (p *Pipeline) run(ctx context.Context, name string, tracks []metadata.Track, decide plan) (Stats, error) {
	stats := Stats{Total: len(tracks)}
	if p.hooks.OnStart != nil {
		p.hooks.OnStart(len(tracks))
	}
	p.log.Info("=== %s (%d files) ===", name, len(tracks))

	var mu sync.Mutex
	done := 0
	finish := func(t metadata.Track, res commit.Result, err error, skipped bool) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case skipped:
			stats.Skipped++
		case err == nil:
			stats.Succeeded++
		case res == commit.LoadFailed:
			stats.LoadFailed++
		default:
			stats.WriteFailed++
		}
		done++
		if !skipped && p.hooks.OnCommitted != nil {
			p.hooks.OnCommitted(t, res, err)
		}
		if p.hooks.OnProgress != nil {
			p.hooks.OnProgress(done, len(tracks))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Workers)
	for _, t := range tracks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			change, ok := decide(gctx, t)
			if !ok {
				finish(t, commit.Success, nil, true)
				return nil
			}
			updated, res, err := p.committer.Commit(gctx, t, change)
			if err != nil {
				p.log.Warn("%s: %v", t.Path, err)
			} else {
				p.log.Debug("Committed %s", updated.Path)
			}
			finish(updated, res, err, false)
			return nil
		})
	}
	g.Wait()

	if stats.Failed() > 0 {
		p.warn(fmt.Sprintf("%d of %d files could not be written", stats.Failed(), stats.Total))
	}
	p.log.Info("%s: %d written, %d skipped, %d failed", name, stats.Succeeded, stats.Skipped, stats.Failed())
	return stats, ctx.Err()
}

// cover downloads the candidate's artwork. A failed download leaves the
// file's current picture alone.
func (p *Pipeline) cover(ctx context.Context, c metadata.Candidate) []byte {
	if p.artwork == nil || strings.TrimSpace(c.CoverURL) == "" {
		return nil
	}
	data, err := p.artwork.Download(ctx, c.CoverURL)
	if err != nil {
		p.log.Debug("No artwork from %s: %v", c.CoverURL, err)
		return nil
	}
	return data
}

func (p *Pipeline) warn(msg string) {
	p.log.Warn("%s", msg)
	if p.hooks.OnWarning != nil {
		p.hooks.OnWarning(msg)
	}
}
