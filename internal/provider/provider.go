// Package provider contains the catalog clients (AcoustID, MusicBrainz,
// iTunes).
//
// The Provider interface is defined in internal/metadata (metadata.Provider),
// following the Go convention of defining interfaces where they are consumed.
// Each sub-package here implements that interface for a specific service.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"tagify/internal/metadata"
)

// Transport fetches and decodes JSON. It is satisfied by *httpclient.Client.
// Implementations report false for every failure and never return raw
// transport errors. Cached reports whether rawURL would be answered without
// a network request.
type Transport interface {
	GetJSON(ctx context.Context, rawURL string, v any) bool
	Cached(rawURL string) bool
}

// Admit reports whether a request for rawURL may proceed. Cached responses
// do not use up a slot of the provider quota.
func Admit(t Transport, l Limiter, rawURL string) bool {
	return t.Cached(rawURL) || l.Allow()
}

// Limiter is a non-blocking admission check, satisfied by *ratelimit.Window.
type Limiter interface {
	Allow() bool
}

// Unsupported wraps metadata.ErrUnsupported with the provider and operation.
func Unsupported(provider, op string) error {
	return fmt.Errorf("%s: %s: %w", provider, op, metadata.ErrUnsupported)
}

// NearestSize returns the first of sizes (ascending) that is at least want,
// or the largest size when want exceeds them all.
func NearestSize(sizes []int, want int) int {
	for _, s := range sizes {
		if s >= want {
			return s
		}
	}
	return sizes[len(sizes)-1]
}

// Text decodes a JSON string, number or null into a string. Any other JSON
// value decodes to the empty string, so missing or oddly typed fields never
// fail a whole response.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	*t = ""
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*t = Text(n.String())
	}
	return nil
}

func (t Text) String() string { return string(t) }
