package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"tagify/internal/app"
	"tagify/internal/config"
	"tagify/internal/logger"
	"tagify/internal/metrics"
	"tagify/internal/shutdown"
	"tagify/internal/web"
)

func main() {
	var (
		addr       string
		configPath string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:           "tagify-web",
		Short:         "Serve the tagify library and batch jobs over HTTP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, addr, watch)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from listen_addr)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path")
	cmd.Flags().BoolVar(&watch, "watch", true, "Scan and watch library_dirs while serving")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
		os.Exit(1)
	}
}

func serve(configPath, addr string, watch bool) error {
	cfg, err := config.LoadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Setup logger with file logging
	l := logger.New(cfg.Verbose)
	logDir := config.GetDefaultLogPath()
	if err := os.MkdirAll(logDir, 0755); err == nil {
		logPath := filepath.Join(logDir, fmt.Sprintf("tagify-web-%d.log", time.Now().Unix()))
		if err := l.SetFileLog(logPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to setup file logging: %v\n", err)
		}
	}
	defer l.Close()

	sh := shutdown.New(l)
	sh.Listen()

	a, err := app.Open(cfg, l, sh.Critical)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := sh.Context()
	if err := a.Recover(ctx); err != nil {
		l.Warn("Recovery incomplete: %v", err)
	}
	metrics.Register()

	if watch && len(cfg.LibraryDirs) > 0 {
		go func() {
			if _, err := a.Scanner.Scan(ctx, cfg.LibraryDirs...); err != nil && !errors.Is(err, context.Canceled) {
				l.Error("Library scan failed: %v", err)
				return
			}
			if err := a.Scanner.Watch(ctx, cfg.LibraryDirs...); err != nil {
				l.Error("Library watch stopped: %v", err)
			}
		}()
	}

	// Create job manager and server
	jobMgr := web.NewJobManager()
	jobMgr.StartCleanup(ctx)
	server := web.NewServer(ctx, jobMgr, web.Deps{
		Library:   a.Index,
		Lookup:    a.Lookup,
		Committer: a.Committer,
		Artwork:   a.Artwork,
		Pattern:   a.Pattern,
		Strategy:  cfg.Strategy(),
	}, l)

	// The write timeout stays off so websocket streams are not cut.
	httpServer := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		l.Info("Starting web server on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		sh.Shutdown()
		return fmt.Errorf("server error: %w", err)
	}

	l.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		l.Error("Server shutdown error: %v", err)
	}
	if !sh.WaitTimeout(30 * time.Second) {
		l.Error("Timed out waiting for in-flight writes")
	}

	l.Info("Server stopped")
	return nil
}
