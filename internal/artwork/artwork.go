// Package artwork downloads cover art, normalizes it for embedding and keeps
// per-album artwork and per-track thumbnails in the cache store.
package artwork

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
	"golang.org/x/time/rate"

	"tagify/internal/cache"
	"tagify/internal/logger"
)

const (
	// ThumbnailSize is the edge length of generated thumbnails in pixels.
	ThumbnailSize = 94
	jpegQuality   = 90
)

// Fetcher returns the body at url, or nil on failure.
type Fetcher interface {
	Get(ctx context.Context, url string) []byte
}

// Store is the subset of cache.Store used for artwork.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte, ttl time.Duration) error
	Delete(key string) error
}

// Service downloads artwork and maintains the cached album artwork and
// track thumbnails.
type Service struct {
	fetch   Fetcher
	store   Store
	limiter *rate.Limiter
	log     *logger.Logger
}

// New creates a Service. Downloads are throttled to a few per second
// regardless of which catalog served the URL.
func New(fetch Fetcher, store Store, log *logger.Logger) *Service {
	return &Service{
		fetch:   fetch,
		store:   store,
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 4),
		log:     log,
	}
}

// Download fetches the image at url and returns it ready for embedding.
// Formats other than JPEG and PNG are re-encoded as JPEG.
func (s *Service) Download(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("empty artwork URL")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	data := s.fetch.Get(ctx, url)
	if data == nil {
		return nil, fmt.Errorf("failed to download artwork from %s", url)
	}

	out, err := Normalize(data)
	if err != nil {
		return nil, fmt.Errorf("artwork from %s: %w", url, err)
	}
	s.log.Debug("Downloaded artwork %s (%d bytes)", url, len(out))
	return out, nil
}

// ReadFile loads an image file chosen by the user for embedding.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return Normalize(data)
}

// Normalize checks that data is a decodable image. JPEG and PNG pass through
// unchanged; anything else is converted to JPEG.
func Normalize(data []byte) ([]byte, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("not a supported image: %w", err)
	}
	if format == "jpeg" || format == "png" {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", format, err)
	}
	return encodeJPEG(img)
}

// Thumbnail scales picture to fit a ThumbnailSize square and encodes it as
// JPEG.
func Thumbnail(picture []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(picture))
	if err != nil {
		return nil, fmt.Errorf("failed to decode picture: %w", err)
	}
	return encodeJPEG(resize.Thumbnail(ThumbnailSize, ThumbnailSize, img, resize.Lanczos3))
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// SaveThumbnail regenerates the thumbnail of a track. A nil picture removes
// it.
func (s *Service) SaveThumbnail(trackID int64, picture []byte) error {
	key := cache.ThumbnailKey(trackID)
	if picture == nil {
		return s.store.Delete(key)
	}
	thumb, err := Thumbnail(picture)
	if err != nil {
		s.store.Delete(key)
		return err
	}
	return s.store.Set(key, thumb, 0)
}

// ThumbnailFor returns the cached thumbnail of a track.
func (s *Service) ThumbnailFor(trackID int64) ([]byte, bool) {
	return s.store.Get(cache.ThumbnailKey(trackID))
}

// SaveAlbumArtwork caches picture as the artwork of album.
func (s *Service) SaveAlbumArtwork(album string, picture []byte) error {
	if album == "" {
		return nil
	}
	return s.store.Set(cache.ArtworkKey(album), picture, 0)
}

// AlbumArtwork returns the cached artwork of album.
func (s *Service) AlbumArtwork(album string) ([]byte, bool) {
	return s.store.Get(cache.ArtworkKey(album))
}

// RemoveAlbumArtwork drops the cached artwork of album.
func (s *Service) RemoveAlbumArtwork(album string) error {
	return s.store.Delete(cache.ArtworkKey(album))
}
