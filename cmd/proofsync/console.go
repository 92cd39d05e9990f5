package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/corymhall/proofsync/debug"
	"github.com/corymhall/proofsync/diagnostics"
	"github.com/corymhall/proofsync/lsp"
)

// console is a session.Display for a terminal. Markers are printed to out
// in file:line:col form, everything else goes to the log.
type console struct {
	ctx context.Context

	mu   sync.Mutex
	out  io.Writer
	info string
}

func newConsole(ctx context.Context) *console {
	ctx, _ = debug.WithGroup(ctx, "display")
	return &console{ctx: ctx, out: os.Stdout}
}

func (c *console) SetMarkers(uri lsp.DocumentURI, markers []diagnostics.Marker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, formatMarkers(uri, markers))
}

func formatMarkers(uri lsp.DocumentURI, markers []diagnostics.Marker) string {
	name := string(uri)
	if strings.HasPrefix(name, "file://") {
		name = uri.Path()
	}
	if len(markers) == 0 {
		return fmt.Sprintf("%s: no problems\n", name)
	}
	var b strings.Builder
	for _, m := range markers {
		fmt.Fprintf(&b, "%s:%d:%d: %s: %s\n", name, m.StartLine, m.StartColumn, m.Severity, m.Message)
	}
	return b.String()
}

func (c *console) SetOnline(online bool) {
	if online {
		debug.Info.Log(c.ctx, "analysis service online")
		return
	}
	debug.Warning.Log(c.ctx, "analysis service offline, reconnecting")
}

func (c *console) SetInfo(text string) {
	c.mu.Lock()
	changed := text != c.info
	c.info = text
	c.mu.Unlock()
	if changed && text != "" {
		debug.Debug.Log(c.ctx, "info", slog.String("text", text))
	}
}

func (c *console) SetStatus(text string) {
	debug.Info.Log(c.ctx, text)
}

func (c *console) SetContent(content string) {
	debug.Info.Log(c.ctx, "content replaced from external editor", slog.Int("bytes", len(content)))
}
