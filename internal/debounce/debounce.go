// Package debounce delays a call until input has been quiet for a while.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs only the last scheduled function, once the delay has
// elapsed without another Schedule call (trailing edge).
type Debouncer struct {
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
	// id tracks the latest schedule; a timer whose id is behind is stale.
	id     uint64
	closed bool
}

// New creates a debouncer. A non-positive delay runs functions immediately
// on their own goroutine.
func New(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Delay returns the configured delay.
func (d *Debouncer) Delay() time.Duration { return d.delay }

// Schedule replaces any pending call with fn.
func (d *Debouncer) Schedule(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.id++
	id := d.id
	if d.timer != nil {
		d.timer.Stop()
	}
	delay := d.delay
	if delay < 0 {
		delay = 0
	}
	d.timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		current := id == d.id && !d.closed
		if current {
			d.timer = nil
		}
		d.mu.Unlock()
		if current {
			fn()
		}
	})
}

// Cancel drops the pending call, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.id++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Pending reports whether a call is waiting to fire.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Close cancels the pending call and rejects further schedules.
func (d *Debouncer) Close() {
	d.Cancel()
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}
