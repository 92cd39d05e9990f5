package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/pulumi/pulumi/sdk/v3/go/common/util/contract"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/corymhall/proofsync/debug"
	"github.com/corymhall/proofsync/file"
	"github.com/corymhall/proofsync/lsp"
	"github.com/corymhall/proofsync/rpc"
	"github.com/corymhall/proofsync/xcontext"
)

// ErrUnavailable is returned when the analysis process cannot be started.
var ErrUnavailable = errors.New("lean server unavailable")

// Process is a running analysis process.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Wait   func() error
	Kill   func() error
}

// Launcher starts the analysis process.
type Launcher func(ctx context.Context) (*Process, error)

// ExecLauncher runs command in root, appending its stderr to stderrLog.
func ExecLauncher(command []string, root, stderrLog string) Launcher {
	return func(ctx context.Context) (*Process, error) {
		contract.Assertf(len(command) > 0, "empty analysis command")
		cmd := exec.Command(command[0], command[1:]...)
		cmd.Dir = root
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		if stderrLog != "" {
			f, err := os.OpenFile(stderrLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("opening analysis log: %w", err)
			}
			cmd.Stderr = f
			defer f.Close()
		}
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		debug.Info.Log(ctx, "analysis process started", slog.Int("pid", cmd.Process.Pid), slog.Any("command", command))
		return &Process{
			Stdin:  stdin,
			Stdout: stdout,
			Wait:   cmd.Wait,
			Kill:   cmd.Process.Kill,
		}, nil
	}
}

type processState int

const (
	processStopped = processState(iota)
	processRunning
	processShutDown
)

func (s processState) String() string {
	switch s {
	case processStopped:
		return "stopped"
	case processRunning:
		return "running"
	case processShutDown:
		return "shutDown"
	}
	return fmt.Sprintf("(unknown state: %d)", int(s))
}

// analysis owns the analysis process. It is started on first use and
// restarted on the next use after it exits. Everything it writes is
// broadcast on the hub.
type analysis struct {
	launch  Launcher
	rootURI lsp.DocumentURI
	hub     *Hub
	overlay *file.Overlay

	mu     sync.Mutex
	state  processState
	proc   *Process
	stream rpc.Stream
	seq    int64
}

func newAnalysis(launch Launcher, rootURI lsp.DocumentURI, hub *Hub) *analysis {
	return &analysis{
		launch:  launch,
		rootURI: rootURI,
		hub:     hub,
		overlay: file.NewOverlay(),
	}
}

func (a *analysis) State() processState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ensure returns the stream to the running process, starting it if needed.
func (a *analysis) ensure(ctx context.Context) (rpc.Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case processRunning:
		return a.stream, nil
	case processShutDown:
		return nil, ErrUnavailable
	}

	// the process outlives the request that started it
	ctx = xcontext.Detach(ctx)
	proc, err := a.launch(ctx)
	if err != nil {
		debug.LogError(ctx, "failed to start analysis process", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	stream := rpc.NewHeaderStream(proc.Stdout, proc.Stdin)
	a.proc, a.stream, a.state = proc, stream, processRunning
	a.overlay.Reset()
	go a.readLoop(ctx, stream)

	if err := a.initialize(ctx, stream); err != nil {
		a.stopLocked()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return stream, nil
}

func (a *analysis) initialize(ctx context.Context, stream rpc.Stream) error {
	a.seq++
	// string ids keep our requests apart from the numeric ids of relayed
	// client requests
	id := rpc.StringID(fmt.Sprintf("proofsync-%d", a.seq))
	pid := os.Getpid()
	call, err := rpc.NewCall(id, lsp.MethodInitialize, &lsp.InitializeRequestParams{
		ProcessID: &pid,
		RootURI:   a.rootURI,
		Capabilities: lsp.ClientCapabilities{
			TextDocument: lsp.TextDocumentClientCapabilities{
				Synchronization: lsp.SynchronizationCapabilities{DidSave: true},
				Hover:           lsp.HoverCapabilities{ContentFormat: []lsp.MarkupKind{lsp.Markdown, lsp.PlainText}},
			},
		},
		ClientInfo: &lsp.ClientInfo{Name: "proofsync", Version: "0.1.0"},
	})
	if err != nil {
		return err
	}
	if _, err := stream.Write(ctx, call); err != nil {
		return err
	}
	initialized, err := rpc.NewNotification(lsp.MethodInitialized, &lsp.InitializedParams{})
	if err != nil {
		return err
	}
	_, err = stream.Write(ctx, initialized)
	return err
}

func (a *analysis) readLoop(ctx context.Context, stream rpc.Stream) {
	for {
		data, _, err := stream.ReadRaw(ctx)
		if err != nil {
			debug.Warning.Log(ctx, "analysis process output ended", slog.Any("error", err))
			a.mu.Lock()
			if a.stream == stream {
				a.stopLocked()
			}
			a.mu.Unlock()
			return
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, data); err != nil {
			// keep the frame so subscribers see something went wrong
			raw, _ := json.Marshal(map[string]string{"raw": string(data)})
			a.hub.Broadcast(raw)
			continue
		}
		a.hub.Broadcast(compact.Bytes())
	}
}

func (a *analysis) stopLocked() {
	if a.proc != nil {
		if a.proc.Kill != nil {
			_ = a.proc.Kill()
		}
		a.proc.Stdin.Close()
		if a.proc.Wait != nil {
			go a.proc.Wait()
		}
	}
	a.proc, a.stream = nil, nil
	if a.state == processRunning {
		a.state = processStopped
	}
}

// Forward sends a client message to the process unchanged, except that a
// missing protocol version is filled in.
func (a *analysis) Forward(ctx context.Context, msg []byte) error {
	stream, err := a.ensure(ctx)
	if err != nil {
		return err
	}
	if !gjson.GetBytes(msg, "jsonrpc").Exists() {
		if msg, err = sjson.SetBytes(msg, "jsonrpc", "2.0"); err != nil {
			return err
		}
	}
	_, err = stream.WriteRaw(ctx, msg)
	return err
}

// Sync tells the process about the new content of uri: didOpen the first
// time, didChange with the next version after that.
func (a *analysis) Sync(ctx context.Context, uri lsp.DocumentURI, code string) (int32, error) {
	stream, err := a.ensure(ctx)
	if err != nil {
		return 0, err
	}
	mod := a.overlay.Update(uri, []byte(code))
	var msg *rpc.Notification
	switch mod.Action {
	case file.Open:
		lang := mod.LanguageID
		if lang == "" {
			lang = lsp.LanguageLean4
		}
		msg, err = rpc.NewNotification(lsp.MethodDidOpen, &lsp.DidOpenTextDocumentParams{
			TextDocument: lsp.TextDocumentItem{
				URI:        uri,
				LanguageID: lang,
				Version:    mod.Version,
				Text:       code,
			},
		})
	default:
		msg, err = rpc.NewNotification(lsp.MethodDidChange, &lsp.DidChangeTextDocumentParams{
			TextDocument: lsp.VersionedTextDocumentIdentifier{
				TextDocumentIdentifier: lsp.TextDocumentIdentifier{URI: uri},
				Version:                mod.Version,
			},
			ContentChanges: []lsp.TextDocumentContentChangeEvent{{Text: code}},
		})
	}
	if err != nil {
		return 0, err
	}
	if _, err := stream.Write(ctx, msg); err != nil {
		return mod.Version, err
	}
	return mod.Version, nil
}

// Shutdown stops the process for good.
func (a *analysis) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.state = processShutDown
}
