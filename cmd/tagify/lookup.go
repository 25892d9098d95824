package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tagify/internal/app"
	"tagify/internal/commit"
	"tagify/internal/index"
	"tagify/internal/metadata"
	"tagify/internal/progress"
)

func strategyFlag(a *app.App, name string) (metadata.Strategy, error) {
	s := a.Config.Strategy()
	if name != "" {
		var ok bool
		if s, ok = metadata.ParseStrategy(name); !ok {
			return s, fmt.Errorf("unknown strategy %q (fingerprint, filename, query, none)", name)
		}
	}
	if s == metadata.StrategyFingerprint {
		if err := a.Fingerprints.Check(); err != nil {
			return s, fmt.Errorf("fingerprint lookups need chromaprint: %w", err)
		}
	}
	return s, nil
}

func newLookupCommand(cc *commandContext) *cobra.Command {
	var (
		strategyName  string
		artist, title string
		apply         int
	)
	cmd := &cobra.Command{
		Use:   "lookup <file>",
		Short: "Find tag candidates for one file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.run(func(ctx context.Context, a *app.App) error {
				track, err := a.Track(ctx, args[0])
				if err != nil {
					return err
				}

				var out metadata.Outcome
				if artist != "" || title != "" {
					out, err = a.Lookup.Search(ctx, artist, title)
				} else {
					strategy, serr := strategyFlag(a, strategyName)
					if serr != nil {
						return serr
					}
					out, err = a.Lookup.Lookup(ctx, track, strategy)
				}
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if len(out.Candidates) == 0 {
					if out.Throttled {
						fmt.Fprintln(w, "Providers are rate limiting requests, try again shortly")
					} else {
						fmt.Fprintln(w, "No matches")
					}
					return nil
				}
				fmt.Fprintln(w, candidateTable(out.Candidates))

				if apply == 0 {
					return nil
				}
				if apply < 0 || apply > len(out.Candidates) {
					return fmt.Errorf("--apply must be between 1 and %d", len(out.Candidates))
				}
				return applyCandidate(ctx, a, track, out.Candidates[apply-1])
			})
		},
	}
	cmd.Flags().StringVar(&strategyName, "strategy", "", "Lookup strategy: fingerprint, filename, query (default from config)")
	cmd.Flags().StringVar(&artist, "artist", "", "Search by artist instead of the file")
	cmd.Flags().StringVar(&title, "title", "", "Search by title instead of the file")
	cmd.Flags().IntVar(&apply, "apply", 0, "Write the candidate with this number")
	return cmd
}

func applyCandidate(ctx context.Context, a *app.App, track metadata.Track, c metadata.Candidate) error {
	var picture []byte
	if c.CoverURL != "" {
		data, err := a.Artwork.Download(ctx, c.CoverURL)
		if err != nil {
			a.Log.Warn("No artwork from %s: %v", c.CoverURL, err)
		}
		picture = data
	}
	updated, res, err := a.Committer.Commit(ctx, track, commit.FromCandidate(c, picture))
	if err != nil {
		return fmt.Errorf("commit %s (%s): %w", track.Path, res, err)
	}
	a.Log.Info("Tagged %s", updated.Path)
	return nil
}

func newBatchCommand(cc *commandContext) *cobra.Command {
	var (
		strategyName string
		missing      bool
	)
	cmd := &cobra.Command{
		Use:   "batch [file...]",
		Short: "Look up and tag many files, writing the best match of each",
		Long: "Look up every given file, or every indexed track when none are given, " +
			"and write the best candidate. Rate-limited lookups are retried later in the run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.run(func(ctx context.Context, a *app.App) error {
				strategy, err := strategyFlag(a, strategyName)
				if err != nil {
					return err
				}
				tracks, err := a.Tracks(ctx, args, index.Filter{MissingTag: missing})
				if err != nil {
					return err
				}
				if len(tracks) == 0 {
					a.Log.Info("Nothing to tag")
					return nil
				}

				var lookupBar *progress.Bar
				if !a.Config.Verbose {
					lookupBar = progress.New(len(tracks), "Looking up")
					a.Log.SetProgressBar(true)
				}
				endLookup := func() {
					if lookupBar != nil {
						lookupBar.Finish()
						a.Log.SetProgressBar(false)
						lookupBar = nil
					}
				}
				defer endLookup()

				hooks, finish := progressHooks(a)
				defer finish()
				start := hooks.OnStart
				hooks.OnStart = func(total int) {
					endLookup()
					start(total)
				}

				results := a.Lookup.LookupBatch(ctx, tracks, strategy, func(done, _ int) {
					if lookupBar != nil {
						lookupBar.Set(done)
					}
				})
				stats, err := a.Pipeline(hooks).AutoTag(ctx, results, len(tracks))
				finish()
				if err != nil {
					return err
				}
				reportStats(a, "Batch tagging completed", stats)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&strategyName, "strategy", "", "Lookup strategy: fingerprint, filename, query (default from config)")
	cmd.Flags().BoolVar(&missing, "missing", false, "With no files given, only tracks lacking a required field")
	return cmd
}
