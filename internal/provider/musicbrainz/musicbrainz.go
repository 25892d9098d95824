package musicbrainz

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"tagify/internal/logger"
	"tagify/internal/metadata"
	"tagify/internal/provider"
	"tagify/internal/rank"
)

// Client is a MusicBrainz Web API client that implements metadata.Provider.
// Artwork comes from the Cover Art Archive.
type Client struct {
	transport provider.Transport
	limiter   provider.Limiter
	apiURL    string
	cover     *CoverArt
	logger    *logger.Logger
}

// New creates a new MusicBrainz client.
func New(t provider.Transport, l provider.Limiter, log *logger.Logger) *Client {
	return &Client{
		transport: t,
		limiter:   l,
		apiURL:    "https://musicbrainz.org/ws/2",
		cover:     NewCoverArt(t),
		logger:    log,
	}
}

func (c *Client) Name() string { return "musicbrainz" }

func (c *Client) Kind() metadata.ProviderKind { return metadata.ProviderMusicBrainz }

// QueryByText searches recordings and returns one candidate per official
// release, closest to "artist - title" first.
func (c *Client) QueryByText(ctx context.Context, artist, title string) (metadata.Outcome, error) {
	reqURL := c.apiURL + "/recording?query=" + url.QueryEscape(buildQuery(title, artist)) +
		"&inc=tags+artist-credits+media&fmt=json"
	if !provider.Admit(c.transport, c.limiter, reqURL) {
		return metadata.Throttle(), nil
	}

	var resp recordingResponse
	if !c.transport.GetJSON(ctx, reqURL, &resp) {
		return metadata.Failed(), nil
	}

	cands := parseRecordings(resp.Recordings)
	c.logger.Debug("musicbrainz: %d results for %q - %q", len(cands), artist, title)
	return metadata.Outcome{
		Success:    true,
		Candidates: rank.Rank(cands, artist+" - "+title),
	}, nil
}

func (c *Client) QueryByFingerprint(context.Context, string, string, int) (metadata.Outcome, error) {
	return metadata.Failed(), provider.Unsupported(c.Name(), "QueryByFingerprint")
}

// FetchArtwork resolves the candidate's release cover.
func (c *Client) FetchArtwork(ctx context.Context, cand metadata.Candidate, size int) (metadata.Candidate, error) {
	return c.cover.Resolve(ctx, cand, size), nil
}

// FetchAlbumArtwork finds the official release closest to "artist - album"
// and returns its cover URL, or "" when nothing matched.
func (c *Client) FetchAlbumArtwork(ctx context.Context, artist, album string, size int) (string, error) {
	reqURL := c.apiURL + "/release?query=" + url.QueryEscape(buildQuery(album, artist)) + "&fmt=json"
	if !provider.Admit(c.transport, c.limiter, reqURL) {
		return "", nil
	}
	var resp releaseResponse
	if !c.transport.GetJSON(ctx, reqURL, &resp) {
		return "", nil
	}

	var releases []metadata.Candidate
	for _, rel := range resp.Releases {
		if rel.Status != "Official" || rel.ID == "" {
			continue
		}
		releases = append(releases, metadata.Candidate{
			Artist:    firstCredit(rel.ArtistCredit),
			Album:     rel.Title.String(),
			ReleaseID: rel.ID.String(),
		})
	}
	if len(releases) == 0 {
		return "", nil
	}

	best := rank.RankAlbums(releases, artist+" - "+album)[0]
	return c.cover.URL(ctx, best.ReleaseID, size), nil
}

// buildQuery builds a Lucene query matching the phrase and the artist.
func buildQuery(phrase, artist string) string {
	return `"` + LuceneEscape(phrase) + `" AND artist:"` + LuceneEscape(artist) + `"`
}

// LuceneEscape backslash-escapes Lucene query syntax characters.
func LuceneEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`+-&|!(){}[]^"~*?:\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func parseRecordings(recordings []recording) []metadata.Candidate {
	var results []metadata.Candidate
	for _, rec := range recordings {
		if len(rec.Releases) == 0 {
			continue
		}
		artist := firstCredit(rec.ArtistCredit)
		genre := topGenre(rec.Tags)

		for _, rel := range rec.Releases {
			if len(results) >= metadata.ResultsLimit {
				return results
			}
			if rel.Status != "Official" {
				continue
			}

			date := rel.Date.String()
			if len(date) > 4 {
				date = date[:4]
			}

			cand := metadata.Candidate{
				Kind:        metadata.ProviderMusicBrainz,
				Title:       rec.Title.String(),
				Artist:      artist,
				Album:       rel.Title.String(),
				AlbumArtist: firstCredit(rel.ArtistCredit),
				Date:        date,
				Genre:       genre,
				TrackCount:  rel.TrackCount.String(),
				ReleaseID:   rel.ID.String(),
			}
			if len(rel.Media) > 0 {
				m := rel.Media[0]
				cand.Format = m.Format.String()
				cand.DiscPos = m.Position.String()
				cand.DiscCount = strconv.Itoa(len(rel.Media))
				if len(m.Track) > 0 {
					cand.TrackPos = m.Track[0].Number.String()
				}
			}
			results = append(results, cand)
		}
	}
	return results
}

// topGenre returns the highest-count tag with its first letter capitalized.
func topGenre(tags []tag) string {
	if len(tags) == 0 {
		return ""
	}
	genre, count := tags[0].Name.String(), tags[0].Count
	for _, t := range tags[1:] {
		if t.Count > count {
			count = t.Count
			genre = t.Name.String()
		}
	}
	if genre == "" {
		return ""
	}
	r, n := utf8.DecodeRuneInString(genre)
	return string(unicode.ToUpper(r)) + genre[n:]
}

func firstCredit(credits []artistCredit) string {
	if len(credits) == 0 {
		return ""
	}
	return credits[0].Name.String()
}

// MusicBrainz API response types

type recordingResponse struct {
	Recordings []recording `json:"recordings"`
}

type releaseResponse struct {
	Releases []release `json:"releases"`
}

type recording struct {
	ID           provider.Text  `json:"id"`
	Title        provider.Text  `json:"title"`
	ArtistCredit []artistCredit `json:"artist-credit"`
	Releases     []release      `json:"releases"`
	Tags         []tag          `json:"tags"`
}

type artistCredit struct {
	Name provider.Text `json:"name"`
}

type tag struct {
	Count int           `json:"count"`
	Name  provider.Text `json:"name"`
}

type release struct {
	ID           provider.Text  `json:"id"`
	Title        provider.Text  `json:"title"`
	Status       provider.Text  `json:"status"`
	Date         provider.Text  `json:"date"`
	TrackCount   provider.Text  `json:"track-count"`
	ArtistCredit []artistCredit `json:"artist-credit"`
	Media        []media        `json:"media"`
}

type media struct {
	Format   provider.Text `json:"format"`
	Position provider.Text `json:"position"`
	Track    []track       `json:"track"`
}

type track struct {
	Number provider.Text `json:"number"`
}
