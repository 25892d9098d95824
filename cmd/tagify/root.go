package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tagify/internal/app"
	"tagify/internal/config"
	"tagify/internal/logger"
	"tagify/internal/pipeline"
	"tagify/internal/progress"
	"tagify/internal/shutdown"
)

func newRootCommand() *cobra.Command {
	cc := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "tagify",
		Short:         "Look up, edit and fix the tags of your music library",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cc.configPath, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&cc.verbose, "verbose", "v", false, "Show detailed output (no progress bar, no file logging)")

	rootCmd.AddCommand(newScanCommand(cc))
	rootCmd.AddCommand(newWatchCommand(cc))
	rootCmd.AddCommand(newListCommand(cc))
	rootCmd.AddCommand(newLookupCommand(cc))
	rootCmd.AddCommand(newBatchCommand(cc))
	rootCmd.AddCommand(newCommitCommand(cc))
	rootCmd.AddCommand(newRemoveTagsCommand(cc))
	rootCmd.AddCommand(newRemoveArtworkCommand(cc))
	rootCmd.AddCommand(newTagFromFilenameCommand(cc))
	rootCmd.AddCommand(newSetArtworkCommand(cc))
	rootCmd.AddCommand(newRecoverCommand(cc))
	rootCmd.AddCommand(newInitConfigCommand())

	return rootCmd
}

// commandContext carries the global flags and builds the per-command
// environment.
type commandContext struct {
	configPath string
	verbose    bool
}

func (c *commandContext) loadConfig() (config.Config, error) {
	cfg, err := config.LoadConfigFile(strings.TrimSpace(c.configPath))
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	if c.verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *logger.Logger {
	log := logger.New(cfg.Verbose)
	if cfg.Verbose {
		return log
	}
	logDir := config.GetDefaultLogPath()
	if err := os.MkdirAll(logDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Failed to create log directory: %v\n", err)
		return log
	}
	logFile := filepath.Join(logDir, fmt.Sprintf("tagify_%s.log", time.Now().Format("2006-01-02_15-04-05")))
	if err := log.SetFileLog(logFile); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Failed to setup file logging: %v\n", err)
	} else {
		log.Debug("Logging to file: %s", logFile)
	}
	return log
}

// run opens the application, finishes interrupted commits and calls fn with
// a context that is cancelled on SIGINT/SIGTERM. In-flight tag writes are
// waited for before returning.
func (c *commandContext) run(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	defer log.Close()

	sh := shutdown.New(log)
	sh.Listen()

	a, err := app.Open(cfg, log, sh.Critical)
	if err != nil {
		return err
	}
	defer a.Close()
	defer func() {
		if !sh.WaitTimeout(30 * time.Second) {
			log.Error("Timed out waiting for in-flight writes")
		}
	}()

	ctx := sh.Context()
	if err := a.Recover(ctx); err != nil {
		log.Warn("Recovery incomplete: %v", err)
	}
	return fn(ctx, a)
}

// progressHooks renders a progress bar for batch operations unless verbose
// output is on.
func progressHooks(a *app.App) (pipeline.Hooks, func()) {
	var bar *progress.Bar
	hooks := pipeline.Hooks{
		OnStart: func(total int) {
			if !a.Config.Verbose && total > 0 {
				bar = progress.New(total, "Writing tags")
				a.Log.SetProgressBar(true)
			}
		},
		OnProgress: func(done, _ int) {
			if bar != nil {
				bar.Set(done)
			}
		},
	}
	finish := func() {
		if bar != nil {
			bar.Finish()
			a.Log.SetProgressBar(false)
			bar = nil
		}
	}
	return hooks, finish
}

func reportStats(a *app.App, name string, stats pipeline.Stats) {
	a.Log.Info("=== %s: %d written, %d skipped, %d failed (of %d) ===",
		name, stats.Succeeded, stats.Skipped, stats.Failed(), stats.Total)
}

func newInitConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Create a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.GetDefaultConfigPath()
			out := cmd.OutOrStdout()

			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(out, "Config file already exists at: %s\n", path)
				fmt.Fprintln(out, "Delete it first if you want to recreate it.")
				return nil
			}

			if err := config.SaveConfigFile(config.DefaultConfig(), path); err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}

			fmt.Fprintf(out, "Created default config file at: %s\n", path)
			fmt.Fprintln(out, "\nYou can now edit this file to customize your settings.")
			fmt.Fprintln(out, "Available options:")
			fmt.Fprintln(out, "  required_fields: fields a track must have (TITLE, ARTIST, ALBUM, PICTURE, ...)")
			fmt.Fprintln(out, "  artwork_size: 30-1400 (artwork pixel size requested from iTunes)")
			fmt.Fprintln(out, "  filename_pattern: e.g. \"%ARTIST% - %TITLE%\"")
			fmt.Fprintln(out, "  preferred_lookup_strategy: fingerprint, filename, query, none")
			fmt.Fprintf(out, "  provider_api_key: AcoustID key (or set %s)\n", config.APIKeyEnv)
			fmt.Fprintln(out, "  rename_files_on_commit: true/false")
			return nil
		},
	}
}
