package commit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"tagify/pkg/utils"
)

// Mode names the FileHandle backend used for a write.
type Mode string

const (
	// ModeRename writes the tag into the shadow and renames it over the
	// original.
	ModeRename Mode = "rename"
	// ModeInPlace keeps the shadow as a backup and writes the original
	// directly. Used when a rename would break a symlink or hard link.
	ModeInPlace Mode = "inplace"
	// ModeCopy marks a journal entry whose shadow may be a partial copy.
	// The original is untouched, so recovery only deletes the shadow.
	ModeCopy Mode = "copy"
)

// FileHandle stages a write to one original file.
type FileHandle interface {
	Mode() Mode
	Original() string
	Shadow() string
	// Prepare copies the original to the shadow. A cancelled ctx aborts the
	// copy and removes the partial shadow.
	Prepare(ctx context.Context) error
	// Target is the file the tag writer modifies.
	Target() string
	// Commit makes the written target the original's content.
	Commit() error
	// Restore returns the original to its pre-transaction content and
	// removes the shadow.
	Restore(ctx context.Context) error
	// Cleanup removes the shadow if it is still on disk.
	Cleanup() error
}

// ShadowName returns a randomized hidden sibling for path, keeping its
// extension so the codec recognizes the container.
func ShadowName(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return filepath.Join(filepath.Dir(path), "."+uuid.NewString()+"."+ext)
}

// Open selects a backend for path. Symlinks and files with more than one
// hard link are written in place; everything else goes through rename.
func Open(path string) (FileHandle, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() && fi.Mode()&os.ModeSymlink == 0 {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if fi.Mode()&os.ModeSymlink != 0 || linkCount(fi) > 1 {
		return NewFileHandle(ModeInPlace, path, ShadowName(path)), nil
	}
	return NewFileHandle(ModeRename, path, ShadowName(path)), nil
}

// NewFileHandle builds the backend for mode over an existing original and
// shadow pair. Recover uses it to replay journal entries; ModeCopy entries
// get the rename backend, whose Restore only discards the shadow.
func NewFileHandle(mode Mode, original, shadow string) FileHandle {
	if mode == ModeInPlace {
		return &inPlaceBackend{original: original, shadow: shadow}
	}
	return &renameBackend{original: original, shadow: shadow}
}

type renameBackend struct {
	original string
	shadow   string
}

func (b *renameBackend) Mode() Mode       { return ModeRename }
func (b *renameBackend) Original() string { return b.original }
func (b *renameBackend) Shadow() string   { return b.shadow }
func (b *renameBackend) Target() string   { return b.shadow }

func (b *renameBackend) Prepare(ctx context.Context) error {
	return utils.CopyFileContext(ctx, b.original, b.shadow)
}

func (b *renameBackend) Commit() error {
	if err := os.Rename(b.shadow, b.original); err != nil {
		return fmt.Errorf("rename shadow over %s: %w", b.original, err)
	}
	return nil
}

// Restore only discards the shadow: the original is not touched until
// Commit, and rename either happens or it doesn't.
func (b *renameBackend) Restore(ctx context.Context) error {
	return b.Cleanup()
}

func (b *renameBackend) Cleanup() error {
	return removeIfExists(b.shadow)
}

type inPlaceBackend struct {
	original string
	shadow   string
}

func (b *inPlaceBackend) Mode() Mode       { return ModeInPlace }
func (b *inPlaceBackend) Original() string { return b.original }
func (b *inPlaceBackend) Shadow() string   { return b.shadow }
func (b *inPlaceBackend) Target() string   { return b.original }

func (b *inPlaceBackend) Prepare(ctx context.Context) error {
	return utils.CopyFileContext(ctx, b.original, b.shadow)
}

func (b *inPlaceBackend) Commit() error { return nil }

// Restore copies the backup over the original. The shadow is only removed
// once the copy-back completed.
func (b *inPlaceBackend) Restore(ctx context.Context) error {
	if err := utils.OverwriteFileContext(ctx, b.shadow, b.original); err != nil {
		return err
	}
	return b.Cleanup()
}

func (b *inPlaceBackend) Cleanup() error {
	return removeIfExists(b.shadow)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
