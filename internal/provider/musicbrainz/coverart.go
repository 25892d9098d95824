package musicbrainz

import (
	"context"
	"net/url"

	"tagify/internal/metadata"
	"tagify/internal/provider"
)

// CoverSizes are the thumbnail sizes the Cover Art Archive serves.
var CoverSizes = []int{250, 500, 1200}

// CoverArt looks up release covers on the Cover Art Archive. It is shared by
// the MusicBrainz and AcoustID clients since both yield release ids.
type CoverArt struct {
	transport provider.Transport
	apiURL    string
}

// NewCoverArt creates a Cover Art Archive client.
func NewCoverArt(t provider.Transport) *CoverArt {
	return &CoverArt{transport: t, apiURL: "https://coverartarchive.org"}
}

// WithAPIURL returns a copy of c that talks to a different archive mirror.
func (c *CoverArt) WithAPIURL(u string) *CoverArt {
	cp := *c
	cp.apiURL = u
	return &cp
}

// Resolve returns cand with its cover URL set, or cand unchanged when the
// release has no usable cover.
func (c *CoverArt) Resolve(ctx context.Context, cand metadata.Candidate, size int) metadata.Candidate {
	if cand.ReleaseID == "" {
		return cand
	}
	if u := c.URL(ctx, cand.ReleaseID, size); u != "" {
		return cand.WithCover(u)
	}
	return cand
}

// URL returns the image URL of the release's front cover at the nearest
// thumbnail size at least as large as size, or "" when there is none.
func (c *CoverArt) URL(ctx context.Context, releaseID string, size int) string {
	var resp coverResponse
	if !c.transport.GetJSON(ctx, c.apiURL+"/release/"+url.PathEscape(releaseID), &resp) {
		return ""
	}
	if len(resp.Images) == 0 {
		return ""
	}

	img := resp.Images[0]
	for _, i := range resp.Images {
		if i.Front && i.Approved {
			img = i
			break
		}
	}

	var thumb provider.Text
	switch provider.NearestSize(CoverSizes, size) {
	case 250:
		thumb = firstNonEmpty(img.Thumbnails["250"], img.Thumbnails["small"])
	case 500:
		thumb = firstNonEmpty(img.Thumbnails["500"], img.Thumbnails["large"])
	case 1200:
		thumb = img.Thumbnails["1200"]
	}
	if thumb == "" {
		return img.Image.String()
	}
	return thumb.String()
}

func firstNonEmpty(values ...provider.Text) provider.Text {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type coverResponse struct {
	Images []coverImage `json:"images"`
}

type coverImage struct {
	Front      bool                     `json:"front"`
	Approved   bool                     `json:"approved"`
	Image      provider.Text            `json:"image"`
	Thumbnails map[string]provider.Text `json:"thumbnails"`
}
