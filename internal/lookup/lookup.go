// Package lookup finds candidate tags for tracks. It races the text catalogs
// against each other, chains the fingerprint catalog into the commerce
// catalog, and drives batch lookups under provider rate limits.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tagify/internal/logger"
	"tagify/internal/metadata"
	"tagify/internal/metrics"
	"tagify/internal/pattern"
	"tagify/internal/rank"
)

var (
	ErrNoAPIKey        = errors.New("fingerprint lookup requires a provider API key")
	ErrNoFingerprinter = errors.New("no fingerprint generator configured")
	ErrFingerprint     = errors.New("failed to compute fingerprint")
	ErrPatternMismatch = errors.New("file name does not match the filename pattern")
	ErrNoStrategy      = errors.New("no lookup strategy selected")
	ErrNoTerms         = errors.New("no artist or title to search for")
)

// artworkWorkers bounds concurrent artwork resolutions for one track.
const artworkWorkers = 4

// Fingerprinter computes the acoustic fingerprint of a track. Implementations
// cache results by track id.
type Fingerprinter interface {
	Compute(ctx context.Context, trackID int64, path string) (string, error)
}

// Config holds the lookup settings.
type Config struct {
	APIKey      string
	ArtworkSize int
	Pattern     *pattern.Pattern
	// RetryDelay is how long a batch waits before retrying a deferred track.
	RetryDelay time.Duration
	// MaxAttempts caps retries of a track whose providers could not be
	// reached. Throttled tracks are retried without limit.
	MaxAttempts int
}

// Orchestrator runs lookups against the fingerprint, encyclopedia and
// commerce catalogs.
type Orchestrator struct {
	fingerprint  metadata.Provider
	encyclopedia metadata.Provider
	commerce     metadata.Provider
	fp           Fingerprinter
	albums       *metadata.ArtworkChain
	cfg          Config
	logger       *logger.Logger
}

// New creates an Orchestrator. fp may be nil when fingerprint lookups are not
// available.
func New(fingerprint, encyclopedia, commerce metadata.Provider, fp Fingerprinter, cfg Config, log *logger.Logger) *Orchestrator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Orchestrator{
		fingerprint:  fingerprint,
		encyclopedia: encyclopedia,
		commerce:     commerce,
		fp:           fp,
		albums:       metadata.NewArtworkChain([]metadata.Provider{commerce, encyclopedia}, log),
		cfg:          cfg,
		logger:       log,
	}
}

// attempt is the outcome of one lookup try. answered is set when at least
// one provider completed its request, which separates "nothing found" from
// "nothing reachable".
type attempt struct {
	out      metadata.Outcome
	answered bool
}

// Lookup looks up a single track with the given strategy. Artwork is
// resolved for the returned candidates.
func (o *Orchestrator) Lookup(ctx context.Context, track metadata.Track, strategy metadata.Strategy) (metadata.Outcome, error) {
	a, err := o.lookup(ctx, track, strategy, true)
	record(strategy, a.out, err)
	return a.out, err
}

// Search runs a manual query for artist and title.
func (o *Orchestrator) Search(ctx context.Context, artist, title string) (metadata.Outcome, error) {
	if artist == "" && title == "" {
		return metadata.Failed(), ErrNoTerms
	}
	a, err := o.query(ctx, artist, title, true)
	record(metadata.StrategyQuery, a.out, err)
	return a.out, err
}

// AlbumArtwork returns the artwork URL for an album, or "" when no catalog
// has one.
func (o *Orchestrator) AlbumArtwork(ctx context.Context, artist, album string) string {
	return o.albums.AlbumArtwork(ctx, artist, album, o.cfg.ArtworkSize)
}

func (o *Orchestrator) lookup(ctx context.Context, track metadata.Track, strategy metadata.Strategy, artwork bool) (attempt, error) {
	switch strategy {
	case metadata.StrategyFingerprint:
		return o.byFingerprint(ctx, track, artwork)
	case metadata.StrategyFilename:
		return o.byFilename(ctx, track, artwork)
	case metadata.StrategyQuery:
		artist, title := track.Artist, track.Title
		if artist == "" && title == "" {
			q := metadata.NormalizeQuery(track.BaseName(), "")
			artist, title = q.Artist, q.Title
		}
		if artist == "" && title == "" {
			return attempt{out: metadata.Failed()}, ErrNoTerms
		}
		return o.query(ctx, artist, title, artwork)
	default:
		return attempt{out: metadata.Failed()}, ErrNoStrategy
	}
}

func (o *Orchestrator) byFingerprint(ctx context.Context, track metadata.Track, artwork bool) (attempt, error) {
	if o.cfg.APIKey == "" {
		return attempt{out: metadata.Failed()}, ErrNoAPIKey
	}
	if o.fp == nil {
		return attempt{out: metadata.Failed()}, ErrNoFingerprinter
	}

	fingerprint, err := o.fp.Compute(ctx, track.ID, track.Path)
	if err != nil {
		return attempt{out: metadata.Failed()}, fmt.Errorf("%w: %w", ErrFingerprint, err)
	}

	out, err := o.fingerprint.QueryByFingerprint(ctx, o.cfg.APIKey, fingerprint, track.Duration)
	if err != nil {
		return attempt{out: metadata.Failed()}, err
	}
	if len(out.Candidates) == 0 {
		return attempt{out: out, answered: out.Success}, nil
	}

	top := out.Candidates[0]
	more, err := o.commerce.QueryByText(ctx, top.Artist, top.Title)
	if err != nil {
		return attempt{out: metadata.Failed()}, err
	}

	merged := append(slices.Clone(out.Candidates), more.Candidates...)
	merged = rank.SortMerged(merged, top.SortKey())
	if artwork {
		merged[0] = o.resolveArtwork(ctx, merged[0])
	}
	o.logger.Debug("Fingerprint matched %d recordings, %d store results for %s", len(out.Candidates), len(more.Candidates), track.Path)

	success := out.Success || more.Success
	return attempt{
		out:      metadata.Outcome{Success: success, Candidates: merged},
		answered: success,
	}, nil
}

func (o *Orchestrator) byFilename(ctx context.Context, track metadata.Track, artwork bool) (attempt, error) {
	if o.cfg.Pattern == nil {
		return attempt{out: metadata.Failed()}, ErrPatternMismatch
	}
	fields, ok := o.cfg.Pattern.Parse(track.BaseName())
	if !ok {
		return attempt{out: metadata.Failed()}, ErrPatternMismatch
	}
	q := metadata.NormalizeQuery(fields[metadata.FieldTitle], fields[metadata.FieldArtist])
	if q.Artist == "" || q.Title == "" {
		return attempt{out: metadata.Failed()}, ErrPatternMismatch
	}
	return o.query(ctx, q.Artist, q.Title, artwork)
}

// query races the encyclopedia and commerce catalogs. The first outcome that
// succeeds with candidates wins and cancels the other request. Outcomes that
// arrive earlier without a usable answer are merged into the result.
func (o *Orchestrator) query(parent context.Context, artist, title string, artwork bool) (attempt, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var (
		mu        sync.Mutex
		winner    *metadata.Outcome
		acc       []metadata.Candidate
		answered  bool
		throttled bool
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range []metadata.Provider{o.encyclopedia, o.commerce} {
		g.Go(func() error {
			out, err := p.QueryByText(gctx, artist, title)
			if err != nil {
				return err
			}
			if artwork && out.Success && len(out.Candidates) > 0 {
				out.Candidates = o.resolveAll(gctx, out.Candidates)
			}

			mu.Lock()
			defer mu.Unlock()
			if winner != nil {
				return nil
			}
			answered = answered || out.Success
			if out.Success && len(out.Candidates) > 0 {
				winner = &out
				o.logger.Debug("%s answered first for %q - %q", p.Name(), artist, title)
				cancel()
				return nil
			}
			acc = append(acc, out.Candidates...)
			throttled = throttled || out.Throttled
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return attempt{out: metadata.Failed()}, err
	}
	if err := parent.Err(); err != nil {
		return attempt{out: metadata.Failed()}, err
	}

	ref := artist + " - " + title
	if winner != nil {
		if len(acc) == 0 {
			return attempt{out: *winner, answered: true}, nil
		}
		merged := rank.SortMerged(append(acc, winner.Candidates...), ref)
		return attempt{out: metadata.Outcome{Success: true, Candidates: merged}, answered: true}, nil
	}

	out := metadata.Outcome{
		Success:    len(acc) > 0,
		Candidates: rank.SortMerged(acc, ref),
		Throttled:  throttled && len(acc) == 0,
	}
	return attempt{out: out, answered: answered}, nil
}

// artworkSource picks the catalog that can resolve a candidate's cover.
func (o *Orchestrator) artworkSource(c metadata.Candidate) metadata.Provider {
	if c.Kind == metadata.ProviderITunes {
		return o.commerce
	}
	if o.encyclopedia != nil {
		return o.encyclopedia
	}
	return o.fingerprint
}

func (o *Orchestrator) resolveArtwork(ctx context.Context, c metadata.Candidate) metadata.Candidate {
	if c.CoverURL != "" {
		return c
	}
	p := o.artworkSource(c)
	if p == nil {
		return c
	}
	resolved, err := p.FetchArtwork(ctx, c, o.cfg.ArtworkSize)
	if err != nil {
		o.logger.Debug("%s cannot resolve artwork: %v", p.Name(), err)
		return c
	}
	return resolved
}

// resolveAll resolves artwork for every candidate concurrently and returns a
// new slice in the same order.
func (o *Orchestrator) resolveAll(ctx context.Context, cands []metadata.Candidate) []metadata.Candidate {
	resolved := make([]metadata.Candidate, len(cands))
	var g errgroup.Group
	g.SetLimit(artworkWorkers)
	for i, c := range cands {
		g.Go(func() error {
			resolved[i] = o.resolveArtwork(ctx, c)
			return nil
		})
	}
	g.Wait()
	return resolved
}

func record(strategy metadata.Strategy, out metadata.Outcome, err error) {
	var label string
	switch {
	case err != nil:
		label = "error"
	case out.Success:
		label = "success"
	case out.Throttled:
		label = "throttled"
	default:
		label = "empty"
	}
	metrics.IncLookup(strategy.String(), label)
}
