package metadata

import (
	"context"

	"tagify/internal/logger"
)

// ArtworkChain asks providers in order for album artwork and returns the
// first URL found.
type ArtworkChain struct {
	providers []Provider
	logger    *logger.Logger
}

// NewArtworkChain creates an ArtworkChain that queries providers in order.
func NewArtworkChain(providers []Provider, log *logger.Logger) *ArtworkChain {
	return &ArtworkChain{providers: providers, logger: log}
}

func (c *ArtworkChain) Name() string { return "chain" }

// AlbumArtwork returns the first non-empty artwork URL for artist/album, or ""
// when no provider has one.
func (c *ArtworkChain) AlbumArtwork(ctx context.Context, artist, album string, size int) string {
	for _, p := range c.providers {
		if ctx.Err() != nil {
			return ""
		}
		url, err := p.FetchAlbumArtwork(ctx, artist, album, size)
		if err != nil {
			c.logger.Debug("provider %s cannot fetch album artwork: %v", p.Name(), err)
			continue
		}
		if url != "" {
			return url
		}
	}
	return ""
}
