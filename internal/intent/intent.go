// Package intent tracks recent user intent to enter a verification
// code (e.g. focusing an OTP input field). While the window is active,
// a freshly stored code may be offered for autofill without further
// prompting.
package intent

import (
	"sync"
	"time"
)

// DefaultWindow is how long a signal keeps the tracker in the
// high-alert state.
const DefaultWindow = 2 * time.Minute

// Tracker is a concurrency-safe cooldown latch.
type Tracker struct {
	mu     sync.Mutex
	window time.Duration
	last   time.Time
	now    func() time.Time
}

// NewTracker returns a tracker with the given window; window <= 0
// selects DefaultWindow.
func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{window: window, now: time.Now}
}

// Signal records that the user just expressed intent. Repeated signals
// extend the window.
func (t *Tracker) Signal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = t.now()
}

// Active reports whether a signal happened within the window.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.last.IsZero() && t.now().Sub(t.last) < t.window
}

// Remaining returns how long the window stays active, zero when it
// already lapsed.
func (t *Tracker) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last.IsZero() {
		return 0
	}
	rem := t.window - t.now().Sub(t.last)
	if rem < 0 {
		return 0
	}
	return rem
}
