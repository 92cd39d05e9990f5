// Package extsync keeps the open document in step with a file that an
// external tool may edit.
package extsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/corymhall/proofsync/debug"
)

const DefaultPollInterval = 50 * time.Millisecond

// ErrStopped is returned by Start once the loop has been stopped.
var ErrStopped = errors.New("external sync stopped")

// Snapshot is the state of the external file. Index is the record the file
// was prepared for, nil when unknown.
type Snapshot struct {
	Exists  bool
	Index   *int
	Content string
}

// Subscription delivers pushed snapshots until it fails or is closed.
type Subscription interface {
	Next() (Snapshot, error)
	Close() error
}

type Source interface {
	Subscribe(ctx context.Context) (Subscription, error)
	Read(ctx context.Context) (Snapshot, error)
}

// Target is the editor buffer being synchronized.
type Target interface {
	// ActiveIndex is the 1-based record index of the open document.
	ActiveIndex() int
	Content() string
	Replace(content string)
}

// Apply replaces the target's content with snap when snap belongs to the
// active document and differs from it.
func Apply(target Target, snap Snapshot) bool {
	if !snap.Exists {
		return false
	}
	if snap.Index != nil && *snap.Index != target.ActiveIndex() {
		return false
	}
	if snap.Content == target.Content() {
		return false
	}
	target.Replace(snap.Content)
	return true
}

type Mode string

const (
	ModeIdle Mode = "idle"
	ModePush Mode = "push"
	ModePoll Mode = "poll"
)

type Loop struct {
	source   Source
	target   Target
	interval time.Duration

	mu      sync.Mutex
	base    context.Context
	cancel  context.CancelFunc
	gen     uint64
	mode    Mode
	timer   *time.Timer
	sub     Subscription
	running bool
	visible bool
	stopped bool
}

func New(source Source, target Target, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Loop{
		source:   source,
		target:   target,
		interval: interval,
		mode:     ModeIdle,
		visible:  true,
	}
}

// Start begins synchronizing. Calling Start on a running loop does nothing.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrStopped
	}
	if l.running {
		return nil
	}
	l.running = true
	l.base, _ = debug.WithGroup(ctx, "extsync")
	if l.visible {
		l.resumeLocked()
	}
	return nil
}

// SetVisible suspends the loop while the document is hidden and resumes it
// when it is shown again.
func (l *Loop) SetVisible(visible bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.visible == visible {
		return
	}
	l.visible = visible
	if !l.running || l.stopped {
		return
	}
	if visible {
		l.resumeLocked()
	} else {
		l.suspendLocked()
	}
}

// Stop ends the loop for good: the subscription is closed and no further
// polls are scheduled.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.running = false
	l.suspendLocked()
}

func (l *Loop) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

func (l *Loop) resumeLocked() {
	l.gen++
	ctx, cancel := context.WithCancel(l.base)
	l.cancel = cancel
	l.mode = ModePush
	go l.push(ctx, l.gen)
}

func (l *Loop) suspendLocked() {
	l.gen++
	l.mode = ModeIdle
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.sub != nil {
		l.sub.Close()
		l.sub = nil
	}
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Loop) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen == gen
}

func (l *Loop) push(ctx context.Context, gen uint64) {
	sub, err := l.source.Subscribe(ctx)
	if err != nil {
		l.fallback(ctx, gen, err)
		return
	}
	l.mu.Lock()
	if l.gen != gen {
		l.mu.Unlock()
		sub.Close()
		return
	}
	l.sub = sub
	l.mu.Unlock()

	for {
		snap, err := sub.Next()
		if err != nil {
			l.fallback(ctx, gen, err)
			return
		}
		if !l.current(gen) {
			return
		}
		if Apply(l.target, snap) {
			debug.Debug.Log(ctx, "applied pushed external edit")
		}
	}
}

// fallback switches generation gen from push to polling.
func (l *Loop) fallback(ctx context.Context, gen uint64, cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen {
		return
	}
	if l.sub != nil {
		l.sub.Close()
		l.sub = nil
	}
	debug.Info.Log(ctx, "push channel unavailable, polling", slog.Any("error", cause), slog.Duration("interval", l.interval))
	l.mode = ModePoll
	l.armLocked(ctx, gen)
}

func (l *Loop) armLocked(ctx context.Context, gen uint64) {
	l.timer = time.AfterFunc(l.interval, func() { l.tick(ctx, gen) })
}

func (l *Loop) tick(ctx context.Context, gen uint64) {
	if !l.current(gen) {
		return
	}
	snap, err := l.source.Read(ctx)
	if err != nil {
		debug.Trace.Log(ctx, "poll failed", slog.Any("error", err))
	} else if l.current(gen) && Apply(l.target, snap) {
		debug.Debug.Log(ctx, "applied polled external edit")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen == gen {
		l.armLocked(ctx, gen)
	}
}
