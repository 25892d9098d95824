package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tagify/internal/app"
	"tagify/internal/index"
	"tagify/internal/metadata"
)

func libraryDirs(a *app.App, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(a.Config.LibraryDirs) == 0 {
		return nil, errors.New("no directories given and library_dirs is empty")
	}
	return a.Config.LibraryDirs, nil
}

func newScanCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [dir...]",
		Short: "Index the audio files under the library directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.run(func(ctx context.Context, a *app.App) error {
				dirs, err := libraryDirs(a, args)
				if err != nil {
					return err
				}
				stats, err := a.Scanner.Scan(ctx, dirs...)
				if err != nil {
					return err
				}
				a.Log.Info("=== Scan completed: %d added, %d updated, %d unchanged, %d removed, %d failed ===",
					stats.Added, stats.Updated, stats.Unchanged, stats.Removed, stats.Failed)
				return nil
			})
		},
	}
}

func newWatchCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [dir...]",
		Short: "Keep the index in sync with the library directories until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.run(func(ctx context.Context, a *app.App) error {
				dirs, err := libraryDirs(a, args)
				if err != nil {
					return err
				}
				if _, err := a.Scanner.Scan(ctx, dirs...); err != nil {
					return err
				}
				a.Log.Info("Watching %d directories, press Ctrl+C to stop", len(dirs))
				err = a.Scanner.Watch(ctx, dirs...)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func newListCommand(cc *commandContext) *cobra.Command {
	var (
		filter index.Filter
		find   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed tracks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.run(func(ctx context.Context, a *app.App) error {
				var (
					tracks []metadata.Track
					err    error
				)
				if find != "" {
					tracks, err = a.Index.Find(ctx, find)
				} else {
					tracks, err = a.Index.List(ctx, filter)
				}
				if err != nil {
					return err
				}
				if len(tracks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tracks")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), trackTable(tracks))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&filter.MissingTag, "missing", false, "Only tracks lacking a required field")
	cmd.Flags().StringVar(&filter.Artist, "artist", "", "Only tracks by this artist")
	cmd.Flags().StringVar(&filter.Album, "album", "", "Only tracks on this album")
	cmd.Flags().StringVar(&filter.Under, "under", "", "Only tracks inside this directory")
	cmd.Flags().StringVar(&filter.OrderBy, "order", "path", "Sort by path, title, artist or album")
	cmd.Flags().StringVar(&find, "find", "", "Fuzzy search titles, artists and albums")
	return cmd
}

func newRecoverCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Restore files left behind by interrupted tag writes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Recovery itself runs on every start.
			return cc.run(func(ctx context.Context, a *app.App) error {
				pending, err := a.Index.PendingWrites(ctx)
				if err != nil {
					return err
				}
				if len(pending) > 0 {
					return fmt.Errorf("%d interrupted writes could not be resolved", len(pending))
				}
				fmt.Fprintln(cmd.OutOrStdout(), "No interrupted writes pending")
				return nil
			})
		},
	}
}
