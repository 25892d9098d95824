package metadata

import (
	"context"
	"fmt"
	"testing"

	"tagify/internal/logger"
)

type chainMockProvider struct {
	name  string
	url   string
	err   error
	calls int
}

func (m *chainMockProvider) Name() string       { return m.name }
func (m *chainMockProvider) Kind() ProviderKind { return ProviderITunes }
func (m *chainMockProvider) QueryByText(context.Context, string, string) (Outcome, error) {
	return Outcome{}, ErrUnsupported
}
func (m *chainMockProvider) QueryByFingerprint(context.Context, string, string, int) (Outcome, error) {
	return Outcome{}, ErrUnsupported
}
func (m *chainMockProvider) FetchArtwork(_ context.Context, c Candidate, _ int) (Candidate, error) {
	return c, nil
}
func (m *chainMockProvider) FetchAlbumArtwork(context.Context, string, string, int) (string, error) {
	m.calls++
	return m.url, m.err
}

func TestArtworkChain_FirstSuccess(t *testing.T) {
	p1 := &chainMockProvider{name: "first", url: "https://img/first.jpg"}
	p2 := &chainMockProvider{name: "second", url: "https://img/second.jpg"}

	chain := NewArtworkChain([]Provider{p1, p2}, logger.New(false))
	got := chain.AlbumArtwork(context.Background(), "Queen", "Jazz", 600)
	if got != "https://img/first.jpg" {
		t.Errorf("AlbumArtwork() = %q, want first provider's URL", got)
	}
	if p2.calls != 0 {
		t.Errorf("second provider called %d times, want 0", p2.calls)
	}
}

func TestArtworkChain_FallbackOnError(t *testing.T) {
	p1 := &chainMockProvider{name: "failing", err: fmt.Errorf("wrapped: %w", ErrUnsupported)}
	p2 := &chainMockProvider{name: "fallback", url: "https://img/fallback.jpg"}

	chain := NewArtworkChain([]Provider{p1, p2}, logger.New(false))
	if got := chain.AlbumArtwork(context.Background(), "Queen", "Jazz", 600); got != "https://img/fallback.jpg" {
		t.Errorf("AlbumArtwork() = %q, want fallback URL", got)
	}
}

func TestArtworkChain_FallbackOnEmpty(t *testing.T) {
	p1 := &chainMockProvider{name: "empty"}
	p2 := &chainMockProvider{name: "has-art", url: "https://img/found.jpg"}

	chain := NewArtworkChain([]Provider{p1, p2}, logger.New(false))
	if got := chain.AlbumArtwork(context.Background(), "Queen", "Jazz", 600); got != "https://img/found.jpg" {
		t.Errorf("AlbumArtwork() = %q, want %q", got, "https://img/found.jpg")
	}
}

func TestArtworkChain_AllFail(t *testing.T) {
	p1 := &chainMockProvider{name: "fail1", err: fmt.Errorf("error1")}
	p2 := &chainMockProvider{name: "fail2"}

	chain := NewArtworkChain([]Provider{p1, p2}, logger.New(false))
	if got := chain.AlbumArtwork(context.Background(), "Queen", "Jazz", 600); got != "" {
		t.Errorf("AlbumArtwork() = %q, want empty", got)
	}
}

func TestArtworkChain_CancelledContext(t *testing.T) {
	p1 := &chainMockProvider{name: "first", url: "https://img/first.jpg"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := NewArtworkChain([]Provider{p1}, logger.New(false))
	if got := chain.AlbumArtwork(ctx, "Queen", "Jazz", 600); got != "" {
		t.Errorf("AlbumArtwork() = %q, want empty for cancelled context", got)
	}
	if p1.calls != 0 {
		t.Errorf("provider called %d times after cancellation", p1.calls)
	}
}
