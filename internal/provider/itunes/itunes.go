package itunes

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"tagify/internal/logger"
	"tagify/internal/metadata"
	"tagify/internal/provider"
	"tagify/internal/rank"
)

// Sizes are the square artwork sizes the image CDN serves.
var Sizes = []int{30, 40, 60, 100, 110, 130, 150, 160, 170, 200, 220, 230, 250, 340, 400, 440, 450, 460, 600, 1200, 1400}

// Client is an iTunes Search API client that implements metadata.Provider.
type Client struct {
	transport provider.Transport
	limiter   provider.Limiter
	apiURL    string
	logger    *logger.Logger
}

// New creates a new iTunes client.
func New(t provider.Transport, l provider.Limiter, log *logger.Logger) *Client {
	return &Client{
		transport: t,
		limiter:   l,
		apiURL:    "https://itunes.apple.com/search",
		logger:    log,
	}
}

func (c *Client) Name() string { return "itunes" }

func (c *Client) Kind() metadata.ProviderKind { return metadata.ProviderITunes }

// QueryByText searches songs by artist and title.
func (c *Client) QueryByText(ctx context.Context, artist, title string) (metadata.Outcome, error) {
	reqURL := c.searchURL(artist, title, "song")
	if !provider.Admit(c.transport, c.limiter, reqURL) {
		return metadata.Throttle(), nil
	}

	var resp searchResponse
	if !c.transport.GetJSON(ctx, reqURL, &resp) {
		return metadata.Failed(), nil
	}

	cands := parseSongs(resp.Results)
	c.logger.Debug("itunes: %d results for %q - %q", len(cands), artist, title)
	return metadata.Outcome{
		Success:    true,
		Candidates: rank.Rank(cands, artist+" - "+title),
	}, nil
}

func (c *Client) QueryByFingerprint(context.Context, string, string, int) (metadata.Outcome, error) {
	return metadata.Failed(), provider.Unsupported(c.Name(), "QueryByFingerprint")
}

// FetchArtwork rewrites the candidate's artwork reference to the requested
// size. No request is made.
func (c *Client) FetchArtwork(_ context.Context, cand metadata.Candidate, size int) (metadata.Candidate, error) {
	if cand.ArtworkRef == "" {
		return cand, nil
	}
	return cand.WithCover(ArtworkURL(cand.ArtworkRef, size)), nil
}

// FetchAlbumArtwork searches albums and returns the artwork URL of the one
// closest to "artist - album", or "" when nothing matched.
func (c *Client) FetchAlbumArtwork(ctx context.Context, artist, album string, size int) (string, error) {
	reqURL := c.searchURL(artist, album, "album")
	if !provider.Admit(c.transport, c.limiter, reqURL) {
		return "", nil
	}

	var resp searchResponse
	if !c.transport.GetJSON(ctx, reqURL, &resp) {
		return "", nil
	}

	var albums []metadata.Candidate
	for _, item := range resp.Results {
		if item.ArtworkURL100 == "" {
			continue
		}
		albums = append(albums, metadata.Candidate{
			Kind:     metadata.ProviderITunes,
			Artist:   item.ArtistName.String(),
			Album:    item.CollectionName.String(),
			CoverURL: ArtworkURL(item.ArtworkURL100.String(), size),
		})
	}
	if len(albums) == 0 {
		return "", nil
	}
	return rank.RankAlbums(albums, artist+" - "+album)[0].CoverURL, nil
}

func (c *Client) searchURL(artist, term, entity string) string {
	return c.apiURL + "?term=" + url.QueryEscape(artist) + "-" + url.QueryEscape(term) +
		"&media=music&entity=" + entity
}

// ArtworkURL maps a default-size artwork URL onto the nearest supported size
// at least as large as size. Size 100 is the default and is left untouched.
func ArtworkURL(base string, size int) string {
	if size == 100 {
		return base
	}
	n := provider.NearestSize(Sizes, size)
	i := strings.LastIndexByte(base, '/')
	if i < 0 {
		return base
	}
	return base[:i+1] + strconv.Itoa(n) + "x" + strconv.Itoa(n) + "bb.jpg"
}

func parseSongs(items []resultItem) []metadata.Candidate {
	var results []metadata.Candidate
	for _, item := range items {
		if len(results) >= metadata.ResultsLimit {
			break
		}

		date := item.ReleaseDate.String()
		if date != "" {
			// Drop the trailing zone designator of "2011-01-01T08:00:00Z".
			date = date[:len(date)-1]
		}

		results = append(results, metadata.Candidate{
			Kind:        metadata.ProviderITunes,
			Title:       item.TrackName.String(),
			Artist:      item.ArtistName.String(),
			Album:       item.CollectionName.String(),
			AlbumArtist: item.ArtistName.String(),
			Date:        date,
			Genre:       item.PrimaryGenreName.String(),
			TrackPos:    item.TrackNumber.String(),
			TrackCount:  item.TrackCount.String(),
			DiscPos:     item.DiscNumber.String(),
			DiscCount:   item.DiscCount.String(),
			Country:     item.Country.String(),
			ArtworkRef:  item.ArtworkURL100.String(),
		})
	}
	return results
}

// iTunes Search API response types

type searchResponse struct {
	ResultCount int          `json:"resultCount"`
	Results     []resultItem `json:"results"`
}

type resultItem struct {
	TrackName        provider.Text `json:"trackName"`
	ArtistName       provider.Text `json:"artistName"`
	CollectionName   provider.Text `json:"collectionName"`
	PrimaryGenreName provider.Text `json:"primaryGenreName"`
	TrackNumber      provider.Text `json:"trackNumber"`
	TrackCount       provider.Text `json:"trackCount"`
	DiscNumber       provider.Text `json:"discNumber"`
	DiscCount        provider.Text `json:"discCount"`
	Country          provider.Text `json:"country"`
	ArtworkURL100    provider.Text `json:"artworkUrl100"`
	ReleaseDate      provider.Text `json:"releaseDate"`
}
