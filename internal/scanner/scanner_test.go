package scanner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagify/internal/index"
	"tagify/internal/logger"
	"tagify/internal/metadata"
)

func openIndex(t *testing.T) *index.Store {
	t.Helper()
	s, err := index.Open(filepath.Join(t.TempDir(), "index.db"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// writeUntagged creates a file without any recognizable tag.
func writeUntagged(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("\x00audio", 64)), 0644))
}

func createTaggedMP3(t *testing.T, path string) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available, skipping tagged file test")
	}
	cmd := exec.Command("ffmpeg", "-f", "lavfi", "-i", "anullsrc=r=44100:cl=mono", "-t", "1", "-q:a", "9",
		"-metadata", "title=Under Pressure",
		"-metadata", "artist=Queen",
		"-metadata", "album=Hot Space",
		"-metadata", "track=11/11",
		path)
	if err := cmd.Run(); err != nil {
		t.Fatalf("failed to create test audio file: %v", err)
	}
}

func required() []metadata.Field {
	return []metadata.Field{metadata.FieldTitle, metadata.FieldArtist, metadata.FieldAlbum}
}

func TestScanIndexesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	idx := openIndex(t)
	s := New(idx, required(), true, func(string) (time.Duration, error) { return 3 * time.Minute, nil }, logger.Discard())

	a := filepath.Join(dir, "a.mp3")
	b := filepath.Join(dir, "sub", "b.flac")
	writeUntagged(t, a)
	writeUntagged(t, b)
	writeUntagged(t, filepath.Join(dir, ".shadow.mp3"))

	var progress []int
	s.OnProgress = func(done, total int) { progress = append(progress, done) }

	ctx := context.Background()
	stats, err := s.Scan(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, []int{1, 2}, progress)

	tr, err := idx.GetByPath(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 180, tr.Duration)
	assert.Equal(t, "audio/mpeg", tr.MimeType)
	assert.False(t, tr.HasRequiredTag)

	stats, err = s.Scan(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Unchanged)

	require.NoError(t, os.Remove(b))
	stats, err = s.Scan(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIndexFileDetectsModification(t *testing.T) {
	dir := t.TempDir()
	idx := openIndex(t)
	s := New(idx, required(), false, nil, logger.Discard())
	ctx := context.Background()

	path := filepath.Join(dir, "a.mp3")
	writeUntagged(t, path)

	kind, err := s.IndexFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, index.Inserted, kind)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	kind, err = s.IndexFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, index.Updated, kind)

	require.NoError(t, s.Remove(ctx, path))
	_, err = idx.GetByPath(ctx, path)
	assert.ErrorIs(t, err, index.ErrNotFound)
}

func TestReadTrackTagged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.mp3")
	createTaggedMP3(t, path)

	s := New(openIndex(t), required(), true, nil, logger.Discard())
	tr, err := s.ReadTrack(path)
	require.NoError(t, err)
	assert.Equal(t, "Under Pressure", tr.Title)
	assert.Equal(t, "Queen", tr.Artist)
	assert.Equal(t, "Hot Space", tr.Album)
	assert.Equal(t, 11, tr.TrackPos)
	assert.True(t, tr.HasRequiredTag)
}

func TestRepairEncoding(t *testing.T) {
	// "Кино" stored as Windows-1251 bytes and read back as Latin-1.
	misread := "Êèíî"
	fixed, ok := RepairEncoding(misread)
	assert.True(t, ok)
	assert.Equal(t, "Кино", fixed)

	_, ok = RepairEncoding("Queen")
	assert.False(t, ok, "plain ASCII is left alone")

	_, ok = RepairEncoding("Кино")
	assert.False(t, ok, "text beyond Latin-1 is already decoded")

	_, ok = RepairEncoding("")
	assert.False(t, ok)
}

func TestWatchIndexesNewFiles(t *testing.T) {
	dir := t.TempDir()
	idx := openIndex(t)
	s := New(idx, required(), false, nil, logger.Discard())

	old := Debounce
	Debounce = 50 * time.Millisecond
	defer func() { Debounce = old }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx, dir) }()

	path := filepath.Join(dir, "new.mp3")
	payload := []byte(strings.Repeat("\x00audio", 64))
	// Rewrite until indexed: the first write may land before the watcher
	// is registered.
	assert.Eventually(t, func() bool {
		if _, err := idx.GetByPath(context.Background(), path); err == nil {
			return true
		}
		os.WriteFile(path, payload, 0644)
		return false
	}, 5*time.Second, 200*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		_, err := idx.GetByPath(context.Background(), path)
		return err != nil
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
