// Package guard keeps operations of one kind from overlapping.
package guard

import (
	"sync"
	"sync/atomic"
)

// Flag admits one holder at a time. Contended acquisitions fail
// immediately rather than wait.
type Flag struct {
	held atomic.Bool
}

// TryAcquire takes the flag if it is free. release may be called more than
// once.
func (f *Flag) TryAcquire() (release func(), ok bool) {
	if !f.held.CompareAndSwap(false, true) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { f.held.Store(false) }) }, true
}

func (f *Flag) Held() bool {
	return f.held.Load()
}

// Persist is a Flag that also remembers whether the document changed since
// the last persist began.
type Persist struct {
	flag  Flag
	dirty atomic.Bool
}

// MarkDirty records an edit.
func (p *Persist) MarkDirty() {
	p.dirty.Store(true)
}

func (p *Persist) Dirty() bool {
	return p.dirty.Load()
}

// Begin starts a persist. Dirty is cleared only when the persist actually
// begins. done releases the guard and reports whether another edit arrived
// while the persist was running.
func (p *Persist) Begin() (done func() (dirty bool), ok bool) {
	release, ok := p.flag.TryAcquire()
	if !ok {
		return nil, false
	}
	p.dirty.Store(false)
	return func() bool {
		release()
		return p.dirty.Load()
	}, true
}

func (p *Persist) InFlight() bool {
	return p.flag.Held()
}
