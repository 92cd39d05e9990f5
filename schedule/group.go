package schedule

import (
	"slices"
	"sync"
	"time"
)

// Kind names an independently debounced action.
type Kind string

const (
	KindPersist Kind = "persist"
	KindNotify  Kind = "notify-analyzer"
	KindInfo    Kind = "info-panel"
	KindCompile Kind = "compile"
)

const (
	DefaultPersistWindow = 600 * time.Millisecond
	DefaultNotifyWindow  = 250 * time.Millisecond
	DefaultInfoWindow    = 120 * time.Millisecond
	DefaultCompileWindow = 1500 * time.Millisecond
)

// Cancelable is the part of a Debouncer a Group manages.
type Cancelable interface {
	Cancel()
	Pending() bool
}

// Group tracks the debouncers of one editing session so navigation can
// cancel them together.
type Group struct {
	mu      sync.Mutex
	members map[Kind]Cancelable
}

func NewGroup() *Group {
	return &Group{members: make(map[Kind]Cancelable)}
}

// Add registers d under kind, replacing any previous member.
func (g *Group) Add(kind Kind, d Cancelable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[kind] = d
}

func (g *Group) CancelAll() {
	g.mu.Lock()
	members := make([]Cancelable, 0, len(g.members))
	for _, m := range g.members {
		members = append(members, m)
	}
	g.mu.Unlock()

	for _, m := range members {
		m.Cancel()
	}
}

// Pending returns the kinds with a pending action, sorted.
func (g *Group) Pending() []Kind {
	g.mu.Lock()
	defer g.mu.Unlock()
	var kinds []Kind
	for kind, m := range g.members {
		if m.Pending() {
			kinds = append(kinds, kind)
		}
	}
	slices.Sort(kinds)
	return kinds
}
