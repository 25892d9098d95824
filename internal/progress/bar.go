package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Bar is a terminal progress bar for batch operations.
type Bar struct {
	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	done bool
}

// New creates a progress bar on stderr.
func New(total int, description string) *Bar {
	return NewWithWriter(os.Stderr, total, description)
}

// NewWithWriter creates a progress bar rendering to w.
func NewWithWriter(w io.Writer, total int, description string) *Bar {
	return &Bar{
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(description),
			progressbar.OptionShowCount(),
			progressbar.OptionSetElapsedTime(true),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(500*time.Millisecond),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionOnCompletion(func() { io.WriteString(w, "\n") }),
		),
	}
}

// Increment advances the bar by one.
func (b *Bar) Increment() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.done {
		b.bar.Add(1)
	}
}

// Set moves the bar to done. Progress never moves backwards.
func (b *Bar) Set(done int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done || int64(done) <= b.bar.State().CurrentNum {
		return
	}
	b.bar.Set(done)
}

// Current returns the number of completed steps.
func (b *Bar) Current() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.bar.State().CurrentNum)
}

// Finish marks the progress as complete
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.done {
		b.bar.Finish()
		b.done = true
	}
}
