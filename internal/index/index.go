// Package index is the SQLite-backed track index. It stores one record per
// audio file, notifies subscribers of changes and holds the commit journal.
package index

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	_ "modernc.org/sqlite"

	"tagify/internal/logger"
	"tagify/internal/metadata"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when no track matches.
var ErrNotFound = errors.New("track not found")

const trackColumns = `id, path, duration, mime_type, title, artist, album, album_artist,
    genre, composer, year, track_pos, track_count, disc_pos, disc_count,
    has_required_tag, mod_time`

// Store manages the track index.
type Store struct {
	db  *sql.DB
	log *logger.Logger

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// Open creates or opens the index at path.
func Open(path string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection.
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	return &Store{db: db, log: log, subs: make(map[int]chan Event)}, nil
}

// Close closes the database and every subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	return s.db.Close()
}

// Upsert inserts t or updates the record with the same path, setting t.ID.
func (s *Store) Upsert(ctx context.Context, t *metadata.Track) error {
	_, err := s.GetByPath(ctx, t.Path)
	existed := err == nil

	row := s.db.QueryRowContext(ctx, `
        INSERT INTO tracks (path, duration, mime_type, title, artist, album, album_artist,
            genre, composer, year, track_pos, track_count, disc_pos, disc_count,
            has_required_tag, mod_time)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(path) DO UPDATE SET
            duration = excluded.duration,
            mime_type = excluded.mime_type,
            title = excluded.title,
            artist = excluded.artist,
            album = excluded.album,
            album_artist = excluded.album_artist,
            genre = excluded.genre,
            composer = excluded.composer,
            year = excluded.year,
            track_pos = excluded.track_pos,
            track_count = excluded.track_count,
            disc_pos = excluded.disc_pos,
            disc_count = excluded.disc_count,
            has_required_tag = excluded.has_required_tag,
            mod_time = excluded.mod_time
        RETURNING id`,
		t.Path, t.Duration, t.MimeType, t.Title, t.Artist, t.Album, t.AlbumArtist,
		t.Genre, t.Composer, t.Year, t.TrackPos, t.TrackCount, t.DiscPos, t.DiscCount,
		t.HasRequiredTag, t.ModTime,
	)
	if err := row.Scan(&t.ID); err != nil {
		return fmt.Errorf("upsert %s: %w", t.Path, err)
	}

	kind := Inserted
	if existed {
		kind = Updated
	}
	s.publish(Event{Kind: kind, Track: *t})
	return nil
}

// UpdateTrack replaces the record with t.ID, including its path.
func (s *Store) UpdateTrack(ctx context.Context, t metadata.Track) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE tracks SET path = ?, duration = ?, mime_type = ?, title = ?, artist = ?,
            album = ?, album_artist = ?, genre = ?, composer = ?, year = ?,
            track_pos = ?, track_count = ?, disc_pos = ?, disc_count = ?,
            has_required_tag = ?, mod_time = ?
        WHERE id = ?`,
		t.Path, t.Duration, t.MimeType, t.Title, t.Artist, t.Album, t.AlbumArtist,
		t.Genre, t.Composer, t.Year, t.TrackPos, t.TrackCount, t.DiscPos, t.DiscCount,
		t.HasRequiredTag, t.ModTime, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update track %d: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update track %d: %w", t.ID, ErrNotFound)
	}
	s.publish(Event{Kind: Updated, Track: t})
	return nil
}

// Get returns the track with id.
func (s *Store) Get(ctx context.Context, id int64) (metadata.Track, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+trackColumns+" FROM tracks WHERE id = ?", id)
	return scanTrack(row)
}

// GetByPath returns the track stored for path.
func (s *Store) GetByPath(ctx context.Context, path string) (metadata.Track, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+trackColumns+" FROM tracks WHERE path = ?", path)
	return scanTrack(row)
}

// Filter selects tracks by simple equality. Zero values match everything.
type Filter struct {
	Album  string
	Artist string
	// MissingTag selects only tracks lacking a required field.
	MissingTag bool
	// Under restricts the result to paths inside a directory.
	Under string
	// OrderBy is one of "path" (default), "title", "artist", "album".
	OrderBy string
}

var orderColumns = map[string]string{
	"":       "path",
	"path":   "path",
	"title":  "title COLLATE NOCASE, path",
	"artist": "artist COLLATE NOCASE, album COLLATE NOCASE, disc_pos, track_pos",
	"album":  "album COLLATE NOCASE, disc_pos, track_pos",
}

// List returns the tracks matching f.
func (s *Store) List(ctx context.Context, f Filter) ([]metadata.Track, error) {
	var where []string
	var args []any
	if f.Album != "" {
		where = append(where, "album = ?")
		args = append(args, f.Album)
	}
	if f.Artist != "" {
		where = append(where, "artist = ?")
		args = append(args, f.Artist)
	}
	if f.MissingTag {
		where = append(where, "has_required_tag = 0")
	}
	if f.Under != "" {
		where = append(where, "path LIKE ? ESCAPE '\\'")
		args = append(args, likePrefix(strings.TrimSuffix(f.Under, string(filepath.Separator))+string(filepath.Separator)))
	}

	order, ok := orderColumns[f.OrderBy]
	if !ok {
		return nil, fmt.Errorf("unknown order %q", f.OrderBy)
	}

	query := "SELECT " + trackColumns + " FROM tracks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + order

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	defer rows.Close()

	var tracks []metadata.Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// Delete removes the track with id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tracks WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete track %d: %w", id, err)
	}
	s.publish(Event{Kind: Deleted, Track: t})
	return nil
}

// Count returns the number of indexed tracks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracks").Scan(&n)
	return n, err
}

// AlbumTrackCount returns the number of tracks tagged with album.
func (s *Store) AlbumTrackCount(ctx context.Context, album string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracks WHERE album = ?", album).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count album %q: %w", album, err)
	}
	return n, nil
}

// Find returns the tracks whose "artist - title" or file name fuzzily
// matches query, best matches first.
func (s *Store) Find(ctx context.Context, query string) ([]metadata.Track, error) {
	all, err := s.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return all, nil
	}

	type hit struct {
		track metadata.Track
		dist  int
	}
	var hits []hit
	for _, t := range all {
		best := -1
		for _, target := range []string{t.Artist + " - " + t.Title, t.BaseName(), t.Album} {
			if d := fuzzy.RankMatchNormalizedFold(query, target); d >= 0 && (best < 0 || d < best) {
				best = d
			}
		}
		if best >= 0 {
			hits = append(hits, hit{track: t, dist: best})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	out := make([]metadata.Track, len(hits))
	for i, h := range hits {
		out[i] = h.track
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrack(row scanner) (metadata.Track, error) {
	var t metadata.Track
	err := row.Scan(&t.ID, &t.Path, &t.Duration, &t.MimeType, &t.Title, &t.Artist,
		&t.Album, &t.AlbumArtist, &t.Genre, &t.Composer, &t.Year, &t.TrackPos,
		&t.TrackCount, &t.DiscPos, &t.DiscCount, &t.HasRequiredTag, &t.ModTime)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, fmt.Errorf("scan track: %w", err)
	}
	return t, nil
}

func likePrefix(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s) + "%"
}
