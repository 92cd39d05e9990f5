// Package server is the bridge between browser or headless clients and the
// Lean analysis process. It relays protocol messages over HTTP, persists
// records, runs builds and shares a temp file with external editors.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corymhall/proofsync/debug"
	"github.com/corymhall/proofsync/leancmd"
	"github.com/corymhall/proofsync/lsp"
	"github.com/corymhall/proofsync/store"
)

const (
	DefaultAddr     = "127.0.0.1:8000"
	DefaultCacheTTL = 5 * time.Second
	// hubBuffer is the number of events a subscriber may fall behind.
	hubBuffer = 1024
)

// DefaultEditors are tried in order to open the temp file.
var DefaultEditors = [][]string{
	{"code", "-r"},
	{"code-insiders", "-r"},
	{"codium", "-r"},
	{"xdg-open"},
}

type Options struct {
	Addr string
	// Root is the Lean project root.
	Root        string
	RecordsPath string
	BlocksDir   string
	TempFile    string
	// StaticDir, if set, is served at /.
	StaticDir string

	// LeanCommand starts the analysis process; it defaults to
	// `lake env lean --root=<root> --server`.
	LeanCommand    []string
	StderrLog      string
	CompileTimeout time.Duration
	CacheTTL       time.Duration
	Editors        [][]string

	// Launcher overrides LeanCommand.
	Launcher Launcher
	// Runner overrides the default build runner.
	Runner *leancmd.Runner
}

func (o *Options) setDefaults() {
	if o.Addr == "" {
		o.Addr = DefaultAddr
	}
	if o.Root == "" {
		o.Root = "."
	}
	if abs, err := filepath.Abs(o.Root); err == nil {
		o.Root = abs
	}
	if o.RecordsPath == "" {
		o.RecordsPath = filepath.Join(o.Root, "records.json")
	}
	if o.BlocksDir == "" {
		o.BlocksDir = filepath.Join(o.Root, "blocks")
	}
	if o.TempFile == "" {
		o.TempFile = filepath.Join(o.Root, "MTS_temp.lean")
	}
	if len(o.LeanCommand) == 0 {
		o.LeanCommand = []string{"lake", "env", "lean", "--root=" + o.Root, "--server"}
	}
	if o.CompileTimeout <= 0 {
		o.CompileTimeout = leancmd.DefaultTimeout
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.Editors == nil {
		o.Editors = DefaultEditors
	}
}

type serverState int

const (
	serverCreated = serverState(iota)
	serverRunning
	serverShutDown
)

func (s serverState) String() string {
	switch s {
	case serverCreated:
		return "created"
	case serverRunning:
		return "running"
	case serverShutDown:
		return "shutDown"
	}
	return fmt.Sprintf("(unknown state: %d)", int(s))
}

type Server struct {
	opts Options

	stateMu sync.Mutex
	state   serverState

	store    *store.Store
	runner   *leancmd.Runner
	analysis *analysis
	temp     *tempFile

	leanEvents *Hub
	tempEvents *Hub

	// openEditor starts an external editor on path.
	openEditor func(ctx context.Context, path string) error
}

func New(opts Options) *Server {
	opts.setDefaults()
	launch := opts.Launcher
	if launch == nil {
		launch = ExecLauncher(opts.LeanCommand, opts.Root, opts.StderrLog)
	}
	runner := opts.Runner
	if runner == nil {
		runner = leancmd.New(opts.Root, opts.CompileTimeout)
	}
	s := &Server{
		opts:       opts,
		store:      store.Open(opts.RecordsPath, opts.BlocksDir, opts.CacheTTL),
		runner:     runner,
		leanEvents: NewHub(hubBuffer),
		tempEvents: NewHub(hubBuffer),
	}
	s.analysis = newAnalysis(launch, lsp.URIFromPath(opts.Root), s.leanEvents)
	s.temp = newTempFile(opts.TempFile, s.tempEvents)
	s.openEditor = s.launchEditor
	return s
}

func (s *Server) State() serverState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Run serves on opts.Addr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then stops the analysis process.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.stateMu.Lock()
	if s.state != serverCreated {
		s.stateMu.Unlock()
		ln.Close()
		return fmt.Errorf("server is %s", s.state)
	}
	s.state = serverRunning
	s.stateMu.Unlock()

	ctx, logger := debug.WithGroup(ctx, "bridge")
	srv := &http.Server{
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving", slog.String("addr", ln.Addr().String()), slog.String("root", s.opts.Root))
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return s.temp.Watch(gctx)
	})
	if s.opts.StderrLog != "" {
		w, err := watchStderr(ctx, s.opts.StderrLog)
		if err != nil {
			debug.Warning.Log(ctx, "not following analysis stderr", slog.Any("error", err))
		} else {
			defer w.Close()
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) shutdown() {
	s.stateMu.Lock()
	s.state = serverShutDown
	s.stateMu.Unlock()
	s.analysis.Shutdown()
}
