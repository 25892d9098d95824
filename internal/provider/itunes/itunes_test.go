package itunes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"tagify/internal/cache"
	"tagify/internal/httpclient"
	"tagify/internal/logger"
	"tagify/internal/metadata"
	"tagify/internal/ratelimit"
)

func newTestClient(url string, limiter *ratelimit.Window) *Client {
	if limiter == nil {
		limiter = ratelimit.New(100, time.Minute)
	}
	c := New(httpclient.New(logger.Discard()), limiter, logger.Discard())
	c.apiURL = url
	return c
}

const songsJSON = `{
	"resultCount": 3,
	"results": [
		{
			"trackName": "Under Pressure (Live)",
			"artistName": "Queen",
			"collectionName": "Live at Wembley",
			"primaryGenreName": "Rock",
			"trackNumber": 4, "trackCount": 20, "discNumber": 1, "discCount": 2,
			"country": "USA",
			"artworkUrl100": "https://is1.mzstatic.com/image/thumb/a/b/100x100bb.jpg",
			"releaseDate": "1992-05-26T07:00:00Z"
		},
		{
			"trackName": "Under Pressure",
			"artistName": "Queen",
			"collectionName": "Hot Space",
			"primaryGenreName": "Rock",
			"trackNumber": 11, "trackCount": 11, "discNumber": 1, "discCount": 1,
			"country": "USA",
			"artworkUrl100": "https://is1.mzstatic.com/image/thumb/c/d/100x100bb.jpg",
			"releaseDate": "1982-05-21T07:00:00Z"
		},
		{
			"trackName": null,
			"artistName": "Someone"
		}
	]
}`

func TestQueryByText_ParsesAndRanks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("term"); got != "Queen-Under Pressure" {
			t.Errorf("term = %q", got)
		}
		if q.Get("media") != "music" || q.Get("entity") != "song" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(songsJSON))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	out, err := c.QueryByText(context.Background(), "Queen", "Under Pressure")
	if err != nil {
		t.Fatalf("QueryByText() error: %v", err)
	}
	if !out.Success {
		t.Fatal("expected success")
	}
	if len(out.Candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(out.Candidates))
	}

	top := out.Candidates[0]
	if top.Title != "Under Pressure" || top.Album != "Hot Space" {
		t.Errorf("top candidate = %+v", top)
	}
	if top.Date != "1982-05-21T07:00:00" {
		t.Errorf("Date = %q", top.Date)
	}
	if top.TrackPos != "11" || top.TrackCount != "11" || top.DiscPos != "1" || top.DiscCount != "1" {
		t.Errorf("numbers = %s/%s %s/%s", top.TrackPos, top.TrackCount, top.DiscPos, top.DiscCount)
	}
	if top.AlbumArtist != "Queen" || top.Country != "USA" || top.Genre != "Rock" {
		t.Errorf("unexpected fields %+v", top)
	}
	if top.Kind != metadata.ProviderITunes {
		t.Errorf("Kind = %v", top.Kind)
	}
	if top.CoverURL != "" {
		t.Errorf("artwork should not be resolved yet, got %q", top.CoverURL)
	}

	last := out.Candidates[2]
	if last.Title != "" || last.Artist != "Someone" {
		t.Errorf("null fields should decode to empty strings, got %+v", last)
	}
}

func TestQueryByText_ResultsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[` +
			`{"trackName":"a"},{"trackName":"b"},{"trackName":"c"},{"trackName":"d"},` +
			`{"trackName":"e"},{"trackName":"f"},{"trackName":"g"},{"trackName":"h"},` +
			`{"trackName":"i"},{"trackName":"j"},{"trackName":"k"},{"trackName":"l"}]}`))
	}))
	defer srv.Close()

	out, _ := newTestClient(srv.URL, nil).QueryByText(context.Background(), "x", "y")
	if len(out.Candidates) != metadata.ResultsLimit {
		t.Errorf("got %d candidates, want %d", len(out.Candidates), metadata.ResultsLimit)
	}
}

func TestQueryByText_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL, nil).QueryByText(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("transport failures must not surface as errors: %v", err)
	}
	if out.Success || len(out.Candidates) != 0 || out.Throttled {
		t.Errorf("expected plain failure, got %+v", out)
	}
}

func TestQueryByText_Throttled(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, ratelimit.New(1, time.Hour))
	first, _ := c.QueryByText(context.Background(), "a", "b")
	if !first.Success {
		t.Fatalf("first request should be admitted, got %+v", first)
	}
	second, _ := c.QueryByText(context.Background(), "a", "b")
	if !second.Throttled || second.Success {
		t.Errorf("second request should be throttled, got %+v", second)
	}
	if calls != 1 {
		t.Errorf("server saw %d calls, want 1", calls)
	}
}

func TestQueryByFingerprintUnsupported(t *testing.T) {
	c := newTestClient("http://unused", nil)
	_, err := c.QueryByFingerprint(context.Background(), "k", "fp", 10)
	if !errors.Is(err, metadata.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestArtworkURL(t *testing.T) {
	base := "https://is1.mzstatic.com/image/thumb/x/y/100x100bb.jpg"
	tests := []struct {
		size int
		want string
	}{
		{100, base},
		{600, "https://is1.mzstatic.com/image/thumb/x/y/600x600bb.jpg"},
		{500, "https://is1.mzstatic.com/image/thumb/x/y/600x600bb.jpg"},
		{30, "https://is1.mzstatic.com/image/thumb/x/y/30x30bb.jpg"},
		{5000, "https://is1.mzstatic.com/image/thumb/x/y/1400x1400bb.jpg"},
	}
	for _, tt := range tests {
		if got := ArtworkURL(base, tt.size); got != tt.want {
			t.Errorf("ArtworkURL(%d) = %q, want %q", tt.size, got, tt.want)
		}
	}
}

func TestFetchArtwork(t *testing.T) {
	c := newTestClient("http://unused", nil)
	cand := metadata.Candidate{ArtworkRef: "https://cdn/a/100x100bb.jpg"}

	got, err := c.FetchArtwork(context.Background(), cand, 1200)
	if err != nil {
		t.Fatalf("FetchArtwork() error: %v", err)
	}
	if got.CoverURL != "https://cdn/a/1200x1200bb.jpg" {
		t.Errorf("CoverURL = %q", got.CoverURL)
	}
	if cand.CoverURL != "" {
		t.Error("original candidate must not be mutated")
	}

	none, _ := c.FetchArtwork(context.Background(), metadata.Candidate{}, 600)
	if none.CoverURL != "" {
		t.Errorf("candidate without reference got %q", none.CoverURL)
	}
}

func TestFetchAlbumArtwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("entity") != "album" {
			t.Errorf("entity = %q", r.URL.Query().Get("entity"))
		}
		w.Write([]byte(`{"results":[
			{"artistName":"Radiohead","collectionName":"Kid A Mnesia","artworkUrl100":"https://cdn/m/100x100bb.jpg"},
			{"artistName":"Radiohead","collectionName":"Kid A","artworkUrl100":"https://cdn/k/100x100bb.jpg"},
			{"artistName":"Radiohead","collectionName":"Kid A (no art)"}
		]}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL, nil).FetchAlbumArtwork(context.Background(), "Radiohead", "Kid A", 600)
	if err != nil {
		t.Fatalf("FetchAlbumArtwork() error: %v", err)
	}
	if got != "https://cdn/k/600x600bb.jpg" {
		t.Errorf("got %q", got)
	}
}

func TestQueryByText_CachedResponseSkipsLimiter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(songsJSON))
	}))
	defer srv.Close()

	store, err := cache.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error: %v", err)
	}
	defer store.Close()

	transport := httpclient.New(logger.Discard(), httpclient.WithCache(store, time.Hour))
	c := New(transport, ratelimit.New(1, time.Minute), logger.Discard())
	c.apiURL = srv.URL
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := c.QueryByText(ctx, "Queen", "Under Pressure")
		if err != nil {
			t.Fatalf("QueryByText() error: %v", err)
		}
		if out.Throttled || !out.Success {
			t.Fatalf("call %d: got %+v, want a cached success", i, out)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hits = %d, want 1", n)
	}

	out, _ := c.QueryByText(ctx, "Queen", "Radio Ga Ga")
	if !out.Throttled {
		t.Error("uncached query should be throttled once the quota is spent")
	}
}
