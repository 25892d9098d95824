package index

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagify/internal/commit"
	"tagify/internal/logger"
	"tagify/internal/metadata"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index.db"), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTrack(path, artist, title, album string) metadata.Track {
	return metadata.Track{
		Path:       path,
		Duration:   200,
		MimeType:   "audio/mpeg",
		Title:      title,
		Artist:     artist,
		Album:      album,
		Year:       1982,
		TrackPos:   11,
		TrackCount: 11,
	}
}

func TestUpsertAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	tr := sampleTrack("/music/a.mp3", "Queen", "Under Pressure", "Hot Space")
	require.NoError(t, s.Upsert(ctx, &tr))
	require.NotZero(t, tr.ID)

	got, err := s.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr, got)

	tr.Title = "Under Pressure (Remastered)"
	tr.HasRequiredTag = true
	id := tr.ID
	tr.ID = 0
	require.NoError(t, s.Upsert(ctx, &tr))
	assert.Equal(t, id, tr.ID, "same path keeps its id")

	got, err = s.GetByPath(ctx, "/music/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, "Under Pressure (Remastered)", got.Title)
	assert.True(t, got.HasRequiredTag)

	_, err = s.Get(ctx, 999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateTrackMovesPath(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	tr := sampleTrack("/music/a.mp3", "Queen", "Under Pressure", "Hot Space")
	require.NoError(t, s.Upsert(ctx, &tr))

	tr.Path = "/music/Queen - Under Pressure.mp3"
	require.NoError(t, s.UpdateTrack(ctx, tr))

	got, err := s.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.Path, got.Path)

	err = s.UpdateTrack(ctx, metadata.Track{ID: 12345, Path: "/x.mp3"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFilters(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	tracks := []metadata.Track{
		sampleTrack("/music/queen/1.mp3", "Queen", "Staying Power", "Hot Space"),
		sampleTrack("/music/queen/2.mp3", "Queen", "Dancer", "Hot Space"),
		sampleTrack("/music/bowie/1.mp3", "David Bowie", "Heroes", "Heroes"),
		sampleTrack("/music/queen_other/1.mp3", "Queen", "Innuendo", "Innuendo"),
	}
	tracks[0].HasRequiredTag = true
	for i := range tracks {
		require.NoError(t, s.Upsert(ctx, &tracks[i]))
	}

	got, err := s.List(ctx, Filter{Album: "Hot Space"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.List(ctx, Filter{Artist: "Queen", MissingTag: true})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.List(ctx, Filter{Under: "/music/queen"})
	require.NoError(t, err)
	assert.Len(t, got, 2, "sibling directory with the same prefix is excluded")

	got, err = s.List(ctx, Filter{OrderBy: "title"})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "Dancer", got[0].Title)

	_, err = s.List(ctx, Filter{OrderBy: "bogus"})
	assert.Error(t, err)

	n, err := s.AlbumTrackCount(ctx, "Hot Space")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestFind(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, tr := range []metadata.Track{
		sampleTrack("/music/1.mp3", "Queen", "Under Pressure", "Hot Space"),
		sampleTrack("/music/2.mp3", "David Bowie", "Heroes", "Heroes"),
	} {
		require.NoError(t, s.Upsert(ctx, &tr))
	}

	got, err := s.Find(ctx, "undpres")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Under Pressure", got[0].Title)

	got, err = s.Find(ctx, "")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSubscribe(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	events, cancel := s.Subscribe()
	defer cancel()

	tr := sampleTrack("/music/a.mp3", "Queen", "Under Pressure", "Hot Space")
	require.NoError(t, s.Upsert(ctx, &tr))
	require.NoError(t, s.UpdateTrack(ctx, tr))
	require.NoError(t, s.Delete(ctx, tr.ID))

	var kinds []EventKind
	timeout := time.After(time.Second)
	for len(kinds) < 3 {
		select {
		case e := <-events:
			assert.Equal(t, tr.ID, e.Track.ID)
			kinds = append(kinds, e.Kind)
		case <-timeout:
			t.Fatalf("received %v, want 3 events", kinds)
		}
	}
	assert.Equal(t, []EventKind{Inserted, Updated, Deleted}, kinds)

	cancel()
	_, open := <-events
	assert.False(t, open)
}

func TestJournal(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	e := commit.JournalEntry{
		ID:       "abc",
		TrackID:  3,
		Original: "/music/a.mp3",
		Shadow:   "/music/.abc.mp3",
		Mode:     commit.ModeInPlace,
		Started:  time.Now(),
	}
	require.NoError(t, s.BeginWrite(ctx, e))

	pending, err := s.PendingWrites(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, e.Shadow, pending[0].Shadow)
	assert.Equal(t, commit.ModeInPlace, pending[0].Mode)
	assert.WithinDuration(t, e.Started, pending[0].Started, time.Millisecond)

	e.Mode = commit.ModeRename
	require.NoError(t, s.BeginWrite(ctx, e))
	pending, err = s.PendingWrites(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, commit.ModeRename, pending[0].Mode)

	require.NoError(t, s.EndWrite(ctx, "abc"))
	pending, err = s.PendingWrites(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
