// Package app wires the tagify components from a Config. Both the CLI and
// the web server build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tagify/internal/artwork"
	"tagify/internal/cache"
	"tagify/internal/commit"
	"tagify/internal/config"
	"tagify/internal/fingerprint"
	"tagify/internal/httpclient"
	"tagify/internal/index"
	"tagify/internal/logger"
	"tagify/internal/lookup"
	"tagify/internal/metadata"
	"tagify/internal/pattern"
	"tagify/internal/pipeline"
	"tagify/internal/provider/acoustid"
	"tagify/internal/provider/itunes"
	"tagify/internal/provider/musicbrainz"
	"tagify/internal/ratelimit"
	"tagify/internal/scanner"
	"tagify/internal/tagcodec"
)

// App holds the long-lived components.
type App struct {
	Config       config.Config
	Log          *logger.Logger
	Store        *cache.Store
	Index        *index.Store
	HTTP         *httpclient.Client
	Artwork      *artwork.Service
	Fingerprints *fingerprint.Generator
	Lookup       *lookup.Orchestrator
	Committer    *commit.Committer
	Scanner      *scanner.Scanner
	Pattern      *pattern.Pattern
}

// Open builds an App. critical, when set, marks commit write phases as work
// that shutdown waits for.
func Open(cfg config.Config, log *logger.Logger, critical func() func()) (*App, error) {
	p, err := pattern.Compile(cfg.FilenamePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid filename_pattern: %w", err)
	}
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	store, err := cache.Open(cfg.StoreDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	idx, err := index.Open(cfg.IndexPath, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	client := httpclient.New(log,
		httpclient.WithTimeout(cfg.HTTPTimeout),
		httpclient.WithCache(store, cfg.HTTPCacheTTL),
	)
	cover := musicbrainz.NewCoverArt(client)
	fp := fingerprint.New(cfg.FingerprintDir(), log)
	art := artwork.New(client, store, log)

	orchestrator := lookup.New(
		acoustid.New(client, ratelimit.NewAcoustID(), cover, log),
		musicbrainz.New(client, ratelimit.NewMusicBrainz(), log),
		itunes.New(client, ratelimit.NewITunes(), log),
		fp,
		lookup.Config{
			APIKey:      cfg.ProviderAPIKey,
			ArtworkSize: cfg.ArtworkSize,
			Pattern:     p,
			RetryDelay:  cfg.BatchRetryDelay,
			MaxAttempts: cfg.BatchMaxAttempts,
		},
		log,
	)

	opts := commit.Options{
		Index:    idx,
		Journal:  idx,
		Artwork:  art,
		LockDir:  cfg.LockDir(),
		ASCII:    cfg.ASCIIFilenames,
		Required: cfg.Required(),
		Critical: critical,
	}
	if cfg.RenameFilesOnCommit {
		opts.Rename = p
	}

	return &App{
		Config:       cfg,
		Log:          log,
		Store:        store,
		Index:        idx,
		HTTP:         client,
		Artwork:      art,
		Fingerprints: fp,
		Lookup:       orchestrator,
		Committer:    commit.New(scanTag, opts, log),
		Scanner:      scanner.New(idx, cfg.Required(), cfg.FixEncoding, probeDuration, log),
		Pattern:      p,
	}, nil
}

func scanTag(path string) (commit.Handle, error) {
	return tagcodec.Scan(path)
}

func probeDuration(path string) (time.Duration, error) {
	info, err := tagcodec.Probe(path)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// Recover finishes commits interrupted by a crash.
func (a *App) Recover(ctx context.Context) error {
	n, err := commit.Recover(ctx, a.Index, a.Log)
	if n > 0 {
		a.Log.Warn("Restored %d files from interrupted writes", n)
	}
	return err
}

// Pipeline returns a batch driver reporting through hooks.
func (a *App) Pipeline(hooks pipeline.Hooks) *pipeline.Pipeline {
	return pipeline.New(a.Committer, a.Artwork, a.Pattern, a.Log, hooks)
}

// Tracks resolves command arguments to indexed tracks. Files that are not
// indexed yet are indexed first. With no arguments every track matching f is
// returned.
func (a *App) Tracks(ctx context.Context, paths []string, f index.Filter) ([]metadata.Track, error) {
	if len(paths) == 0 {
		return a.Index.List(ctx, f)
	}
	tracks := make([]metadata.Track, 0, len(paths))
	for _, p := range paths {
		t, err := a.Track(ctx, p)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// Track returns the indexed record of the file at path, indexing it when
// needed.
func (a *App) Track(ctx context.Context, path string) (metadata.Track, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return metadata.Track{}, err
	}
	if _, err := a.Scanner.IndexFile(ctx, path); err != nil {
		return metadata.Track{}, fmt.Errorf("failed to index %s: %w", path, err)
	}
	return a.Index.GetByPath(ctx, path)
}

// Close releases the index and the cache.
func (a *App) Close() error {
	return errors.Join(a.Index.Close(), a.Store.Close())
}
