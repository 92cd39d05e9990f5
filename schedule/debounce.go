// Package schedule runs editor actions on a trailing-edge debounce, one
// timer per action kind.
package schedule

import (
	"sync"
	"time"
)

// Debouncer runs its action once the window has elapsed without another
// Trigger, with the payload of the most recent Trigger. Intermediate
// payloads are dropped.
type Debouncer[T any] struct {
	mu      sync.Mutex
	window  time.Duration
	timer   *time.Timer
	seq     uint64 // detects stale timer callbacks
	pending bool
	payload T
	action  func(T)
}

func NewDebouncer[T any](window time.Duration, action func(T)) *Debouncer[T] {
	return &Debouncer[T]{window: window, action: action}
}

// Trigger records payload and restarts the window. It never waits for a
// running action.
func (d *Debouncer[T]) Trigger(payload T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.payload = payload
	d.pending = true
	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, func() { d.fire(seq) })
}

func (d *Debouncer[T]) fire(seq uint64) {
	d.mu.Lock()
	if !d.pending || d.seq != seq {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	payload := d.payload
	var zero T
	d.payload = zero
	d.mu.Unlock()

	d.action(payload)
}

// Cancel drops the pending payload, if any.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	d.pending = false
	var zero T
	d.payload = zero
}

func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Debouncer[T]) Window() time.Duration {
	return d.window
}
