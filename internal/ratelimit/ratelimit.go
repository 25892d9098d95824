// Package ratelimit provides a sliding-window admission check for outbound
// provider requests. It never blocks: a denied admission tells the caller to
// back off and retry later.
package ratelimit

import (
	"sync"
	"time"
)

// Per-provider quotas.
const (
	ITunesRequests      = 20
	ITunesWindow        = 60 * time.Second
	AcoustIDRequests    = 3
	AcoustIDWindow      = time.Second
	MusicBrainzRequests = 1
	MusicBrainzWindow   = time.Second
)

// Window admits at most max requests within any window-long span.
type Window struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

// New creates a Window allowing max requests per window.
func New(max int, window time.Duration) *Window {
	return &Window{
		max:    max,
		window: window,
		stamps: make([]time.Time, 0, max),
		now:    time.Now,
	}
}

// NewITunes returns the window for the commerce catalog.
func NewITunes() *Window { return New(ITunesRequests, ITunesWindow) }

// NewAcoustID returns the window for the fingerprint catalog.
func NewAcoustID() *Window { return New(AcoustIDRequests, AcoustIDWindow) }

// NewMusicBrainz returns the window for the encyclopedia catalog.
func NewMusicBrainz() *Window { return New(MusicBrainzRequests, MusicBrainzWindow) }

// Allow is Admit at the current time.
func (w *Window) Allow() bool {
	return w.Admit(w.now())
}

// Admit evicts timestamps older than the window and records now when fewer
// than max remain. A denied admission leaves the window untouched apart from
// eviction.
func (w *Window) Admit(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	expired := 0
	for expired < len(w.stamps) && now.Sub(w.stamps[expired]) > w.window {
		expired++
	}
	if expired > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[expired:]...)
	}

	if len(w.stamps) >= w.max {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Len returns the number of timestamps currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.stamps)
}
