package metadata

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrUnsupported is returned when a provider is asked for a capability it
// does not implement. Correct orchestration never triggers it.
var ErrUnsupported = errors.New("operation not supported by provider")

// ResultsLimit caps the number of candidates a single provider returns.
const ResultsLimit = 10

// Field names a tag field. The names double as filename pattern placeholders.
type Field string

const (
	FieldTitle       Field = "TITLE"
	FieldArtist      Field = "ARTIST"
	FieldAlbum       Field = "ALBUM"
	FieldAlbumArtist Field = "ALBUM_ARTIST"
	FieldYear        Field = "YEAR"
	FieldGenre       Field = "GENRE"
	FieldTrackNumber Field = "TRACK_NUMBER"
	FieldDiscNumber  Field = "DISC_NUMBER"
	FieldComposer    Field = "COMPOSER"
	FieldPicture     Field = "PICTURE"
)

// TextFields lists every field that carries a string value.
var TextFields = []Field{
	FieldTitle, FieldArtist, FieldAlbum, FieldAlbumArtist, FieldYear,
	FieldGenre, FieldTrackNumber, FieldDiscNumber, FieldComposer,
}

// IsTextField reports whether name is a known string field.
func IsTextField(name string) bool {
	for _, f := range TextFields {
		if string(f) == name {
			return true
		}
	}
	return false
}

// ParseField validates a field name, accepting PICTURE as well as text fields.
func ParseField(name string) (Field, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == string(FieldPicture) || IsTextField(name) {
		return Field(name), true
	}
	return "", false
}

// Track is one indexed audio file.
type Track struct {
	ID          int64
	Path        string
	Duration    int // seconds
	MimeType    string
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Genre       string
	Composer    string
	Year        int
	TrackPos    int
	TrackCount  int
	DiscPos     int
	DiscCount   int

	HasRequiredTag bool
	// ModTime is the file's modification time (unix seconds) when it was
	// last indexed.
	ModTime int64
}

// BaseName returns the file name without directory and extension.
func (t Track) BaseName() string {
	base := filepath.Base(t.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Fields returns the track's current tag values keyed by field.
func (t Track) Fields() map[Field]string {
	return map[Field]string{
		FieldTitle:       t.Title,
		FieldArtist:      t.Artist,
		FieldAlbum:       t.Album,
		FieldAlbumArtist: t.AlbumArtist,
		FieldGenre:       t.Genre,
		FieldComposer:    t.Composer,
		FieldYear:        itoaNonZero(t.Year),
		FieldTrackNumber: FormatNumberPair(t.TrackPos, t.TrackCount),
		FieldDiscNumber:  FormatNumberPair(t.DiscPos, t.DiscCount),
	}
}

// WithValues returns a copy of t carrying the given tag values. Fields absent
// from values are cleared.
func (t Track) WithValues(values map[Field]string) Track {
	t.Title = values[FieldTitle]
	t.Artist = values[FieldArtist]
	t.Album = values[FieldAlbum]
	t.AlbumArtist = values[FieldAlbumArtist]
	t.Genre = values[FieldGenre]
	t.Composer = values[FieldComposer]
	t.Year = ParseYear(values[FieldYear])
	t.TrackPos, t.TrackCount = ParseNumberPair(values[FieldTrackNumber])
	t.DiscPos, t.DiscCount = ParseNumberPair(values[FieldDiscNumber])
	return t
}

// HasRequired reports whether every required field is non-blank. PICTURE is
// satisfied by hasPicture.
func HasRequired(values map[Field]string, hasPicture bool, required []Field) bool {
	for _, f := range required {
		if f == FieldPicture {
			if !hasPicture {
				return false
			}
			continue
		}
		if strings.TrimSpace(values[f]) == "" {
			return false
		}
	}
	return true
}

// ProviderKind identifies where a candidate came from. The declaration order
// is the merge order: commerce results rank ahead of encyclopedia results.
type ProviderKind int

const (
	ProviderITunes ProviderKind = iota
	ProviderMusicBrainz
)

func (k ProviderKind) String() string {
	switch k {
	case ProviderITunes:
		return "itunes"
	case ProviderMusicBrainz:
		return "musicbrainz"
	default:
		return "unknown"
	}
}

// Candidate is one provider's proposed tag for a track. Values are copied,
// never mutated; artwork resolution returns a new Candidate.
type Candidate struct {
	Kind        ProviderKind
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Date        string
	Genre       string
	TrackPos    string
	TrackCount  string
	DiscPos     string
	DiscCount   string
	Format      string
	Country     string

	// ReleaseID is the MusicBrainz release used to locate cover art.
	ReleaseID string
	// Sources is the AcoustID popularity of the matched recording.
	Sources int
	// ArtworkRef is an unresolved artwork reference such as a catalog's
	// default-size image URL.
	ArtworkRef string
	// CoverURL is empty until artwork has been resolved.
	CoverURL string
}

// WithCover returns a copy of c pointing at the given artwork URL.
func (c Candidate) WithCover(url string) Candidate {
	c.CoverURL = url
	return c
}

// Year parses the leading four digits of Date, returning 0 when absent.
func (c Candidate) Year() int {
	return ParseYear(c.Date)
}

// SortKey is the string candidates are ranked by.
func (c Candidate) SortKey() string {
	return c.Artist + " - " + c.Title
}

// Values maps the candidate onto tag fields the way it is written to a file.
// The year is only set when the date carries at least four characters.
func (c Candidate) Values() map[Field]string {
	values := map[Field]string{
		FieldTitle:       c.Title,
		FieldArtist:      c.Artist,
		FieldAlbum:       c.Album,
		FieldAlbumArtist: c.AlbumArtist,
		FieldGenre:       c.Genre,
		FieldTrackNumber: joinPair(c.TrackPos, c.TrackCount),
		FieldDiscNumber:  joinPair(c.DiscPos, c.DiscCount),
	}
	if len(c.Date) >= 4 {
		values[FieldYear] = c.Date
	}
	return values
}

// Outcome is the result of a lookup. Success=false with no candidates means
// the provider was reachable but produced nothing usable, or was throttled.
type Outcome struct {
	Success    bool
	Candidates []Candidate
	// Throttled is set when a rate limiter denied admission.
	Throttled bool
}

// Failed is the empty unsuccessful outcome.
func Failed() Outcome { return Outcome{} }

// Throttle is the outcome returned when admission was denied.
func Throttle() Outcome { return Outcome{Throttled: true} }

// Strategy selects how a track is looked up.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyFingerprint
	StrategyFilename
	StrategyQuery
)

func (s Strategy) String() string {
	switch s {
	case StrategyFingerprint:
		return "fingerprint"
	case StrategyFilename:
		return "filename"
	case StrategyQuery:
		return "query"
	default:
		return "none"
	}
}

// ParseStrategy maps a config value onto a Strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fingerprint":
		return StrategyFingerprint, true
	case "filename":
		return StrategyFilename, true
	case "query":
		return StrategyQuery, true
	case "none", "":
		return StrategyNone, true
	}
	return StrategyNone, false
}

// Provider is implemented by every catalog client. Variants return
// ErrUnsupported for capabilities they lack; every other failure is folded
// into an unsuccessful Outcome or an unchanged Candidate.
type Provider interface {
	Name() string
	Kind() ProviderKind
	QueryByText(ctx context.Context, artist, title string) (Outcome, error)
	QueryByFingerprint(ctx context.Context, key, fingerprint string, duration int) (Outcome, error)
	FetchArtwork(ctx context.Context, c Candidate, size int) (Candidate, error)
	FetchAlbumArtwork(ctx context.Context, artist, album string, size int) (string, error)
}

// ParseYear returns the leading four-digit year of a date string, or 0.
func ParseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}

// ParseNumberPair splits "3/12" into (3, 12). Missing or invalid parts are 0.
func ParseNumberPair(s string) (int, int) {
	parts := strings.SplitN(strings.TrimSpace(s), "/", 2)
	pos, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
	total := 0
	if len(parts) == 2 {
		total, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return pos, total
}

// FormatNumberPair is the inverse of ParseNumberPair. Zero values are omitted.
func FormatNumberPair(pos, total int) string {
	return joinPair(itoaNonZero(pos), itoaNonZero(total))
}

func joinPair(pos, total string) string {
	switch {
	case pos == "" && total == "":
		return ""
	case total == "":
		return pos
	default:
		return pos + "/" + total
	}
}

func itoaNonZero(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}
