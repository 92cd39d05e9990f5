package server

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/nxadm/tail"

	"github.com/corymhall/proofsync/debug"
)

// stderrWatcher follows the analysis process stderr log and copies every
// line into the bridge log.
type stderrWatcher struct {
	Filename string
	tail     *tail.Tail
	done     chan struct{}
}

func watchStderr(ctx context.Context, path string) (*stderrWatcher, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	t, err := tail.TailFile(path, tail.Config{
		Follow:        true,
		ReOpen:        true,
		MustExist:     false,
		Poll:          runtime.GOOS == "windows", // on Windows poll for file changes instead of using the default inotify
		Logger:        tail.DiscardingLogger,
		CompleteLines: true,
		Location:      &tail.SeekInfo{Whence: io.SeekEnd},
	})
	if err != nil {
		return nil, err
	}
	ctx, _ = debug.WithGroup(ctx, "lean.stderr")
	done := make(chan struct{})
	go func(tailed *tail.Tail) {
		defer close(done)
		for line := range tailed.Lines {
			if line.Err != nil {
				debug.Warning.Log(ctx, "reading analysis stderr", slog.Any("error", line.Err))
				continue
			}
			if line.Text == "" {
				continue
			}
			debug.Debug.Log(ctx, line.Text)
		}
	}(t)
	return &stderrWatcher{Filename: t.Filename, tail: t, done: done}, nil
}

func (w *stderrWatcher) Close() {
	if w == nil || w.tail == nil {
		return
	}
	//nolint:errcheck
	w.tail.Stop()
	<-w.done
	w.tail.Cleanup()
	w.tail = nil
}
