// Package acoustid implements the fingerprint catalog. Matches are
// MusicBrainz releases, so artwork resolves through the Cover Art Archive.
package acoustid

import (
	"context"
	"net/url"
	"sort"
	"strconv"

	"tagify/internal/logger"
	"tagify/internal/metadata"
	"tagify/internal/provider"
	"tagify/internal/provider/musicbrainz"
)

// Client is an AcoustID lookup client that implements metadata.Provider.
type Client struct {
	transport provider.Transport
	limiter   provider.Limiter
	apiURL    string
	cover     *musicbrainz.CoverArt
	logger    *logger.Logger
}

// New creates a new AcoustID client. cover resolves release artwork.
func New(t provider.Transport, l provider.Limiter, cover *musicbrainz.CoverArt, log *logger.Logger) *Client {
	return &Client{
		transport: t,
		limiter:   l,
		apiURL:    "https://api.acoustid.org/v2/lookup",
		cover:     cover,
		logger:    log,
	}
}

func (c *Client) Name() string { return "acoustid" }

// Kind reports MusicBrainz: every match is a MusicBrainz release.
func (c *Client) Kind() metadata.ProviderKind { return metadata.ProviderMusicBrainz }

func (c *Client) QueryByText(context.Context, string, string) (metadata.Outcome, error) {
	return metadata.Failed(), provider.Unsupported(c.Name(), "QueryByText")
}

// QueryByFingerprint looks up a Chromaprint fingerprint. Candidates are
// ordered by how many submissions back the recording, most first.
func (c *Client) QueryByFingerprint(ctx context.Context, key, fingerprint string, duration int) (metadata.Outcome, error) {
	reqURL := c.apiURL + "?client=" + url.QueryEscape(key) +
		"&duration=" + strconv.Itoa(duration) +
		"&meta=tracks+sources+recordings+releases" +
		"&fingerprint=" + url.QueryEscape(fingerprint) +
		"&limit=5"
	if !provider.Admit(c.transport, c.limiter, reqURL) {
		return metadata.Throttle(), nil
	}

	var resp lookupResponse
	if !c.transport.GetJSON(ctx, reqURL, &resp) {
		return metadata.Failed(), nil
	}
	if resp.Status != "" && resp.Status != "ok" {
		c.logger.Warn("acoustid: lookup rejected: %s", resp.Error.Message)
		return metadata.Failed(), nil
	}

	cands := parseResults(resp.Results)
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Sources > cands[j].Sources })
	if len(cands) > metadata.ResultsLimit {
		cands = cands[:metadata.ResultsLimit]
	}
	c.logger.Debug("acoustid: %d matches", len(cands))
	return metadata.Outcome{Success: true, Candidates: cands}, nil
}

// FetchArtwork resolves the release cover on the Cover Art Archive.
func (c *Client) FetchArtwork(ctx context.Context, cand metadata.Candidate, size int) (metadata.Candidate, error) {
	return c.cover.Resolve(ctx, cand, size), nil
}

func (c *Client) FetchAlbumArtwork(context.Context, string, string, int) (string, error) {
	return "", provider.Unsupported(c.Name(), "FetchAlbumArtwork")
}

func parseResults(results []result) []metadata.Candidate {
	var cands []metadata.Candidate
	for _, res := range results {
		for _, rec := range res.Recordings {
			artist := firstName(rec.Artists)
			for _, rel := range rec.Releases {
				cand := metadata.Candidate{
					Kind:        metadata.ProviderMusicBrainz,
					Title:       rec.Title.String(),
					Artist:      artist,
					Album:       rel.Title.String(),
					AlbumArtist: firstName(rel.Artists),
					Date:        rel.Date.Year.String(),
					DiscCount:   rel.MediumCount.String(),
					ReleaseID:   rel.ID.String(),
					Sources:     rec.Sources,
				}
				if len(rel.Mediums) > 0 {
					m := rel.Mediums[0]
					cand.Format = m.Format.String()
					cand.DiscPos = m.Position.String()
					cand.TrackCount = m.TrackCount.String()
					if len(m.Tracks) > 0 {
						cand.TrackPos = m.Tracks[0].Position.String()
					}
				}
				cands = append(cands, cand)
			}
		}
	}
	return cands
}

func firstName(artists []artist) string {
	if len(artists) == 0 {
		return ""
	}
	return artists[0].Name.String()
}

// AcoustID API response types

type lookupResponse struct {
	Status  string   `json:"status"`
	Results []result `json:"results"`
	Error   struct {
		Message string `json:"message"`
	} `json:"error"`
}

type result struct {
	ID         provider.Text `json:"id"`
	Score      float64       `json:"score"`
	Recordings []recording   `json:"recordings"`
}

type recording struct {
	Title    provider.Text `json:"title"`
	Sources  int           `json:"sources"`
	Artists  []artist      `json:"artists"`
	Releases []release     `json:"releases"`
}

type artist struct {
	Name provider.Text `json:"name"`
}

type release struct {
	ID          provider.Text `json:"id"`
	Title       provider.Text `json:"title"`
	Artists     []artist      `json:"artists"`
	MediumCount provider.Text `json:"medium_count"`
	Date        struct {
		Year provider.Text `json:"year"`
	} `json:"date"`
	Mediums []medium `json:"mediums"`
}

type medium struct {
	Format     provider.Text `json:"format"`
	Position   provider.Text `json:"position"`
	TrackCount provider.Text `json:"track_count"`
	Tracks     []struct {
		Position provider.Text `json:"position"`
	} `json:"tracks"`
}
