package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/corymhall/proofsync/backend"
	"github.com/corymhall/proofsync/debug"
	"github.com/corymhall/proofsync/file"
)

// tempFile is the file shared with external editors, together with the
// record it was prepared for.
type tempFile struct {
	path string
	hub  *Hub

	mu    sync.Mutex
	index *int

	// last broadcast state, to drop events that change nothing
	lastExists bool
	lastIndex  int
	lastHash   file.Hash
}

func newTempFile(path string, hub *Hub) *tempFile {
	return &tempFile{path: path, hub: hub}
}

// Prepare writes code to the temp file and associates it with index.
func (t *tempFile) Prepare(ctx context.Context, index int, code string) error {
	if !strings.HasSuffix(code, "\n") {
		code += "\n"
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(t.path, []byte(code), 0o644); err != nil {
		return err
	}
	t.mu.Lock()
	t.index = &index
	t.mu.Unlock()
	debug.Info.Log(ctx, "temp file prepared", slog.Int("index", index), slog.String("path", t.path))
	t.notify(ctx)
	return nil
}

func (t *tempFile) activeIndex() *int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.index == nil {
		return nil
	}
	i := *t.index
	return &i
}

// Snapshot reads the temp file.
func (t *tempFile) Snapshot() (backend.TempSnapshot, error) {
	snap := backend.TempSnapshot{Index: t.activeIndex()}
	st, err := os.Stat(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, err
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		return snap, err
	}
	snap.Exists = true
	snap.Mtime = float64(st.ModTime().UnixNano()) / 1e9
	snap.Path = t.path
	snap.Code = string(data)
	return snap, nil
}

// notify broadcasts the current snapshot if it differs from the last one.
func (t *tempFile) notify(ctx context.Context) {
	snap, err := t.Snapshot()
	if err != nil {
		debug.LogError(ctx, "reading temp file", err)
		return
	}
	hash := file.HashOf([]byte(snap.Code))
	index := 0
	if snap.Index != nil {
		index = *snap.Index
	}

	t.mu.Lock()
	if snap.Exists == t.lastExists && index == t.lastIndex && hash == t.lastHash {
		t.mu.Unlock()
		return
	}
	t.lastExists, t.lastIndex, t.lastHash = snap.Exists, index, hash
	t.mu.Unlock()

	if !snap.Exists {
		snap = backend.TempSnapshot{Index: snap.Index}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		debug.LogError(ctx, "encoding temp snapshot", err)
		return
	}
	t.hub.Broadcast(data)
}

// Watch pushes a snapshot whenever the temp file changes, until ctx is done.
// The directory is watched so that editors replacing the file by rename are
// still seen.
func (t *tempFile) Watch(ctx context.Context) error {
	ctx, _ = debug.WithGroup(ctx, "tempfile")
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	t.notify(ctx)

	name := filepath.Clean(t.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			debug.Trace.Log(ctx, "temp file event", slog.String("op", ev.Op.String()))
			t.notify(ctx)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			debug.Warning.Log(ctx, "temp file watch error", slog.Any("error", err))
		}
	}
}
