// Package fingerprint computes Chromaprint fingerprints with fpcalc and
// caches them on disk per track.
package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"tagify/internal/logger"
	"tagify/pkg/utils"
)

// MaxSeconds is how much of the audio fpcalc analyses.
const MaxSeconds = 120

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Generator produces fingerprints, reusing cached ones keyed by track id.
type Generator struct {
	Dir    string
	Binary string
	Logger *logger.Logger

	run Runner
}

// New creates a Generator caching into dir.
func New(dir string, log *logger.Logger) *Generator {
	return &Generator{
		Dir:    dir,
		Binary: "fpcalc",
		Logger: log,
		run:    execRunner,
	}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s failed: %w\nDetails: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Check returns an error when the fpcalc binary is not installed.
func (g *Generator) Check() error {
	return utils.CheckDependencies(g.Binary)
}

// Compute returns the fingerprint of the file at path, computing and caching
// it when no cached copy exists for trackID.
func (g *Generator) Compute(ctx context.Context, trackID int64, path string) (string, error) {
	cachePath := g.cachePath(trackID)
	if data, err := os.ReadFile(cachePath); err == nil && len(bytes.TrimSpace(data)) > 0 {
		g.Logger.Debug("fingerprint cache hit for track %d", trackID)
		return string(bytes.TrimSpace(data)), nil
	}

	out, err := g.run(ctx, g.Binary, "-length", strconv.Itoa(MaxSeconds), "-json", path)
	if err != nil {
		return "", err
	}

	var result struct {
		Duration    float64 `json:"duration"`
		Fingerprint string  `json:"fingerprint"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return "", fmt.Errorf("failed to parse fpcalc output: %w", err)
	}
	if result.Fingerprint == "" {
		return "", errors.New("fpcalc returned an empty fingerprint")
	}

	if err := g.store(cachePath, result.Fingerprint); err != nil {
		g.Logger.Warn("Failed to cache fingerprint for track %d: %v", trackID, err)
	}
	return result.Fingerprint, nil
}

// Remove drops the cached fingerprint of trackID.
func (g *Generator) Remove(trackID int64) error {
	err := os.Remove(g.cachePath(trackID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (g *Generator) cachePath(trackID int64) string {
	return filepath.Join(g.Dir, strconv.FormatInt(trackID, 10))
}

// store writes through a temp file so a crash never leaves a truncated entry.
func (g *Generator) store(path, fingerprint string) error {
	if err := os.MkdirAll(g.Dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(g.Dir, ".fp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(fingerprint); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
