package fixly

import (
	"sync"
	"time"
)

// DefaultDebounceDelay is the quiet period used when none is given.
const DefaultDebounceDelay = 400 * time.Millisecond

// Debouncer delays dispatch of an action until a quiet period has
// elapsed since the last trigger, coalescing rapid repeated triggers
// into a single call. A newer trigger cancels the pending one, so a
// stale in-flight call never fires after fresher input arrived.
type Debouncer struct {
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer creates a debouncer with the given quiet period; zero
// uses DefaultDebounceDelay.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &Debouncer{delay: delay}
}

// Trigger schedules fn after the quiet period, replacing any pending
// call.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Stop cancels any pending call. Used on component teardown.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
