// Package metrics tracks live keystroke activity over a rolling window.
package metrics

import (
	"sync"
	"time"

	"github.com/nidhogg/skillgate/internal/capability"
)

// DefaultWindow is the rolling window used for CPM and backspace counts.
const DefaultWindow = time.Minute

type sample struct {
	at         time.Time
	chars      int
	backspaces int
}

// Tracker aggregates keystroke samples. It is safe for concurrent use.
type Tracker struct {
	window  time.Duration
	samples []sample
	last    time.Time
	started time.Time
	now     func() time.Time
	mu      sync.Mutex
}

// NewTracker creates a tracker with the given window; zero means DefaultWindow.
func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{window: window, now: time.Now, started: time.Now()}
}

// Record adds a sample. A zero at means now and a future at is clamped to
// now. Samples older than the window are ignored.
func (t *Tracker) Record(at time.Time, chars, backspaces int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if at.IsZero() || at.After(now) {
		at = now
	}
	if chars < 0 {
		chars = 0
	}
	if backspaces < 0 {
		backspaces = 0
	}
	if at.Before(now.Add(-t.window)) {
		return
	}
	t.samples = append(t.samples, sample{at: at, chars: chars, backspaces: backspaces})
	if at.After(t.last) {
		t.last = at
	}
	t.prune(now)
}

// Snapshot returns characters per minute and backspaces within the window.
func (t *Tracker) Snapshot() capability.MetricsSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.now())

	var chars, backspaces int
	for _, s := range t.samples {
		chars += s.chars
		backspaces += s.backspaces
	}
	return capability.MetricsSnapshot{
		CPM:        float64(chars) / t.window.Minutes(),
		Backspaces: backspaces,
		Window:     t.window,
		LastInput:  t.last,
	}
}

// IdleFor returns how long ago the last input was recorded, or how long the
// tracker has existed if nothing was ever recorded.
func (t *Tracker) IdleFor(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	ref := t.last
	if ref.IsZero() {
		ref = t.started
	}
	if d := now.Sub(ref); d > 0 {
		return d
	}
	return 0
}

func (t *Tracker) prune(now time.Time) {
	cutoff := now.Add(-t.window)
	kept := t.samples[:0]
	for _, s := range t.samples {
		if !s.at.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	t.samples = kept
}

var _ capability.Metrics = (*Tracker)(nil)
