package artwork

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagify/internal/cache"
	"tagify/internal/httpclient"
	"tagify/internal/logger"
)

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 20, B: 20, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(w, h)))
	return buf.Bytes()
}

func newService(t *testing.T) (*Service, *cache.Store) {
	t.Helper()
	store, err := cache.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	log := logger.Discard()
	return New(httpclient.New(log), store, log), store
}

func TestThumbnailSize(t *testing.T) {
	thumb, err := Thumbnail(pngBytes(t, 600, 300))
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, ThumbnailSize, img.Bounds().Dx())
	assert.LessOrEqual(t, img.Bounds().Dy(), ThumbnailSize)
}

func TestNormalize(t *testing.T) {
	p := pngBytes(t, 10, 10)
	out, err := Normalize(p)
	require.NoError(t, err)
	assert.Equal(t, p, out, "png passes through unchanged")

	var g bytes.Buffer
	require.NoError(t, gif.Encode(&g, solid(10, 10), nil))
	out, err = Normalize(g.Bytes())
	require.NoError(t, err)
	_, err = jpeg.DecodeConfig(bytes.NewReader(out))
	assert.NoError(t, err, "gif is converted to jpeg")

	_, err = Normalize([]byte("not an image"))
	assert.Error(t, err)
}

func TestDownload(t *testing.T) {
	img := pngBytes(t, 20, 20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Write(img)
	}))
	defer srv.Close()

	s, _ := newService(t)
	data, err := s.Download(context.Background(), srv.URL+"/cover.png")
	require.NoError(t, err)
	assert.Equal(t, img, data)

	_, err = s.Download(context.Background(), srv.URL+"/missing.jpg")
	assert.Error(t, err)

	_, err = s.Download(context.Background(), "")
	assert.Error(t, err)
}

func TestThumbnailAndAlbumArtworkCache(t *testing.T) {
	s, _ := newService(t)
	pic := pngBytes(t, 200, 200)

	require.NoError(t, s.SaveThumbnail(5, pic))
	thumb, ok := s.ThumbnailFor(5)
	require.True(t, ok)
	_, err := jpeg.DecodeConfig(bytes.NewReader(thumb))
	assert.NoError(t, err)

	require.NoError(t, s.SaveThumbnail(5, nil))
	_, ok = s.ThumbnailFor(5)
	assert.False(t, ok)

	require.NoError(t, s.SaveAlbumArtwork("Hot Space", pic))
	got, ok := s.AlbumArtwork("hot space ")
	require.True(t, ok)
	assert.Equal(t, pic, got)

	require.NoError(t, s.RemoveAlbumArtwork("Hot Space"))
	_, ok = s.AlbumArtwork("Hot Space")
	assert.False(t, ok)
}
