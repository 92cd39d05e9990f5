package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corymhall/proofsync/rpc"
)

// fakeLean stands in for the analysis process. It records every message the
// bridge writes and lets tests write messages back.
type fakeLean struct {
	t        *testing.T
	mu       sync.Mutex
	stream   rpc.Stream
	received chan rpc.Message
	frames   chan []byte
	starts   int
	respond  func(call *rpc.Call) (any, error)
	closers  []io.Closer
}

func newFakeLean(t *testing.T) *fakeLean {
	f := &fakeLean{t: t, received: make(chan rpc.Message, 100), frames: make(chan []byte, 100)}
	t.Cleanup(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, c := range f.closers {
			c.Close()
		}
	})
	return f
}

func (f *fakeLean) launch(ctx context.Context) (*Process, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	stream := rpc.NewHeaderStream(inR, outW)

	f.mu.Lock()
	f.starts++
	f.stream = stream
	f.closers = append(f.closers, inR, inW, outR, outW)
	f.mu.Unlock()

	go func() {
		for {
			raw, _, err := stream.ReadRaw(context.Background())
			if err != nil {
				return
			}
			select {
			case f.frames <- raw:
			default:
			}
			msg, err := rpc.DecodeMessage(raw)
			if err != nil {
				continue
			}
			f.received <- msg
			if call, ok := msg.(*rpc.Call); ok && f.responder() != nil {
				result, err := f.responder()(call)
				resp, rerr := rpc.NewResponse(call.ID(), result, err)
				if rerr == nil {
					_, _ = stream.Write(context.Background(), resp)
				}
			}
		}
	}()

	kill := func() error {
		inR.Close()
		outW.Close()
		return nil
	}
	return &Process{Stdin: inW, Stdout: outR, Kill: kill}, nil
}

func (f *fakeLean) responder() func(call *rpc.Call) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.respond
}

// next returns the next message the bridge sent.
func (f *fakeLean) next() rpc.Message {
	f.t.Helper()
	select {
	case msg := <-f.received:
		return msg
	case <-time.After(5 * time.Second):
		f.t.Fatal("timed out waiting for a message")
		return nil
	}
}

// nextMethod skips messages until one with method arrives.
func (f *fakeLean) nextMethod(method string) rpc.Request {
	f.t.Helper()
	for {
		if req, ok := f.next().(rpc.Request); ok && req.Method() == method {
			return req
		}
	}
}

func (f *fakeLean) notify(method string, params any) {
	f.t.Helper()
	msg, err := rpc.NewNotification(method, params)
	require.NoError(f.t, err)
	f.mu.Lock()
	stream := f.stream
	f.mu.Unlock()
	_, err = stream.Write(context.Background(), msg)
	require.NoError(f.t, err)
}

func failingLauncher(context.Context) (*Process, error) {
	return nil, errors.New("lake: not found")
}

type testEnv struct {
	root    string
	records string
	server  *Server
	lean    *fakeLean
	editors []string
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	root := t.TempDir()
	records := filepath.Join(root, "records.json")
	require.NoError(t, os.WriteFile(records, []byte(`[
  {"name": "first", "main theorem statement": "theorem a : True := trivial"},
  {"name": "second", "main theorem statement": "theorem b : True := trivial"}
]`), 0o644))

	env := &testEnv{root: root, records: records, lean: newFakeLean(t)}
	opts.Root = root
	opts.RecordsPath = records
	opts.BlocksDir = filepath.Join(root, "blocks")
	opts.TempFile = filepath.Join(root, "MTS_temp.lean")
	if opts.Launcher == nil {
		opts.Launcher = env.lean.launch
	}
	env.server = New(opts)
	env.server.openEditor = func(_ context.Context, path string) error {
		env.editors = append(env.editors, path)
		return nil
	}
	return env
}

func decodeParams[T any](t *testing.T, req rpc.Request) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(req.Params(), &v))
	return v
}
