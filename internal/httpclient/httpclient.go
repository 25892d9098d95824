// Package httpclient is the transport shared by every provider client. It
// sends the fixed tagify headers, enforces a per-call timeout and caches
// successful bodies. Failures of any kind collapse to a nil body.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"tagify/internal/cache"
	"tagify/internal/logger"
	"tagify/internal/metrics"
)

const (
	UserAgent      = "tagify/1.0 ( https://github.com/rrtry/Tagify )"
	DefaultTimeout = 30 * time.Second
	DefaultTTL     = 24 * time.Hour

	// Bodies larger than this are treated as failures.
	maxBodySize = 8 << 20
)

// Cache is the subset of cache.Store the client needs.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, data []byte, ttl time.Duration) error
}

// Client performs GET requests for provider clients.
type Client struct {
	http   *http.Client
	cache  Cache
	ttl    time.Duration
	logger *logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCache stores successful responses for ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(cl *Client) {
		cl.cache = c
		cl.ttl = ttl
	}
}

// WithTimeout overrides the per-call ceiling.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.http.Timeout = d }
}

// New creates a Client.
func New(log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		http:   &http.Client{Timeout: DefaultTimeout},
		ttl:    DefaultTTL,
		logger: log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get fetches rawURL and returns its body, or nil on any failure.
func (c *Client) Get(ctx context.Context, rawURL string) []byte {
	host := hostOf(rawURL)

	if c.cache != nil {
		if data, ok := c.cache.Get(cache.HTTPKey(rawURL)); ok {
			metrics.IncProviderRequest(host, "cached")
			return data
		}
	}

	start := time.Now()
	data, err := c.fetch(ctx, rawURL)
	metrics.ObserveProviderLatency(host, time.Since(start))
	if err != nil {
		metrics.IncProviderRequest(host, "error")
		c.logger.Debug("GET %s failed: %v", rawURL, err)
		return nil
	}
	metrics.IncProviderRequest(host, "ok")

	if c.cache != nil {
		if err := c.cache.Set(cache.HTTPKey(rawURL), data, c.ttl); err != nil {
			c.logger.Debug("failed to cache %s: %v", rawURL, err)
		}
	}
	return data
}

// Cached reports whether a stored response exists for rawURL.
func (c *Client) Cached(rawURL string) bool {
	if c.cache == nil {
		return false
	}
	_, ok := c.cache.Get(cache.HTTPKey(rawURL))
	return ok
}

// GetJSON fetches rawURL and decodes it into v. It reports false on any
// transport or decoding failure.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) bool {
	data := c.Get(ctx, rawURL)
	if data == nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Debug("failed to decode %s: %v", rawURL, err)
		return false
	}
	return true
}

func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) > maxBodySize {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBodySize)
	}
	return data, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}
