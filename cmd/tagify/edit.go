package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tagify/internal/app"
	"tagify/internal/artwork"
	"tagify/internal/commit"
	"tagify/internal/index"
	"tagify/internal/metadata"
	"tagify/internal/pipeline"
)

// parseAssignments turns FIELD=VALUE pairs into field values. An empty value
// clears the field.
func parseAssignments(pairs []string) (map[metadata.Field]string, error) {
	fields := make(map[metadata.Field]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected FIELD=VALUE, got %q", pair)
		}
		f, ok := metadata.ParseField(strings.ToUpper(strings.TrimSpace(name)))
		if !ok || f == metadata.FieldPicture {
			return nil, fmt.Errorf("unknown field %q", name)
		}
		fields[f] = value
	}
	return fields, nil
}

func newCommitCommand(cc *commandContext) *cobra.Command {
	var (
		assignments   []string
		artworkPath   string
		removeArtwork bool
	)
	cmd := &cobra.Command{
		Use:   "commit <file>",
		Short: "Write tag fields to one file",
		Example: `  tagify commit song.mp3 --set ARTIST=Queen --set TITLE="Under Pressure"
  tagify commit song.mp3 --artwork cover.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseAssignments(assignments)
			if err != nil {
				return err
			}
			change := commit.Change{Fields: fields, RemovePicture: removeArtwork}
			if artworkPath != "" {
				if removeArtwork {
					return errors.New("--artwork and --remove-artwork are mutually exclusive")
				}
				if change.Picture, err = loadArtwork(artworkPath); err != nil {
					return err
				}
			}
			if len(fields) == 0 && change.Picture == nil && !removeArtwork {
				return errors.New("nothing to write")
			}

			return cc.run(func(ctx context.Context, a *app.App) error {
				track, err := a.Track(ctx, args[0])
				if err != nil {
					return err
				}
				updated, res, err := a.Committer.Commit(ctx, track, change)
				if err != nil {
					return fmt.Errorf("commit %s (%s): %w", track.Path, res, err)
				}
				a.Log.Info("Wrote %s", updated.Path)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&assignments, "set", nil, "Field assignment FIELD=VALUE (repeatable)")
	cmd.Flags().StringVar(&artworkPath, "artwork", "", "Embed this image as the cover")
	cmd.Flags().BoolVar(&removeArtwork, "remove-artwork", false, "Remove the embedded cover")
	return cmd
}

func loadArtwork(path string) ([]byte, error) {
	return artwork.ReadFile(path)
}

// newBatchEditCommand builds a command that applies op to the given files,
// or to every indexed track matching the filter flags when allowAll is set
// and no files are given.
func newBatchEditCommand(cc *commandContext, use, short, done string, allowAll bool,
	op func(ctx context.Context, p *pipeline.Pipeline, tracks []metadata.Track) (pipeline.Stats, error)) *cobra.Command {
	var missing bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !allowAll {
				return errors.New("at least one file is required")
			}
			return cc.run(func(ctx context.Context, a *app.App) error {
				tracks, err := a.Tracks(ctx, args, index.Filter{MissingTag: missing})
				if err != nil {
					return err
				}
				return runBatchEdit(ctx, a, done, tracks, op)
			})
		},
	}
	if allowAll {
		cmd.Flags().BoolVar(&missing, "missing", false, "With no files given, only tracks lacking a required field")
	}
	return cmd
}

func runBatchEdit(ctx context.Context, a *app.App, done string, tracks []metadata.Track,
	op func(ctx context.Context, p *pipeline.Pipeline, tracks []metadata.Track) (pipeline.Stats, error)) error {
	if len(tracks) == 0 {
		a.Log.Info("Nothing to do")
		return nil
	}
	hooks, finish := progressHooks(a)
	stats, err := op(ctx, a.Pipeline(hooks), tracks)
	finish()
	if err != nil {
		return err
	}
	reportStats(a, done, stats)
	if stats.Failed() > 0 {
		return fmt.Errorf("%d of %d files failed", stats.Failed(), stats.Total)
	}
	return nil
}

func newRemoveTagsCommand(cc *commandContext) *cobra.Command {
	return newBatchEditCommand(cc, "remove-tags <file...>", "Strip the whole tag of each file",
		"Tags removed", false,
		func(ctx context.Context, p *pipeline.Pipeline, tracks []metadata.Track) (pipeline.Stats, error) {
			return p.RemoveTags(ctx, tracks)
		})
}

func newRemoveArtworkCommand(cc *commandContext) *cobra.Command {
	return newBatchEditCommand(cc, "remove-artwork <file...>", "Strip the embedded cover of each file",
		"Artwork removed", false,
		func(ctx context.Context, p *pipeline.Pipeline, tracks []metadata.Track) (pipeline.Stats, error) {
			return p.RemoveArtwork(ctx, tracks)
		})
}

func newTagFromFilenameCommand(cc *commandContext) *cobra.Command {
	return newBatchEditCommand(cc, "tag-from-filename [file...]",
		"Fill tags from file names using filename_pattern",
		"Tagged from file names", true,
		func(ctx context.Context, p *pipeline.Pipeline, tracks []metadata.Track) (pipeline.Stats, error) {
			return p.TagFromFilename(ctx, tracks)
		})
}

func newSetArtworkCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-artwork <image> <file...>",
		Short: "Embed an image as the cover of each file",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			picture, err := loadArtwork(args[0])
			if err != nil {
				return err
			}
			return cc.run(func(ctx context.Context, a *app.App) error {
				tracks, err := a.Tracks(ctx, args[1:], index.Filter{})
				if err != nil {
					return err
				}
				return runBatchEdit(ctx, a, "Artwork set", tracks,
					func(ctx context.Context, p *pipeline.Pipeline, tracks []metadata.Track) (pipeline.Stats, error) {
						return p.SetArtwork(ctx, tracks, picture)
					})
			})
		},
	}
}
