package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/corymhall/proofsync/backend"
	"github.com/corymhall/proofsync/leancmd"
	"github.com/corymhall/proofsync/lsp"
	"github.com/corymhall/proofsync/rpc"
	"github.com/corymhall/proofsync/transport"
)

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	switch b := body.(type) {
	case string:
		data = []byte(b)
	default:
		var err error
		data, err = json.Marshal(body)
		require.NoError(t, err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data)))
	return rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestSyncOpensThenChanges(t *testing.T) {
	env := newTestEnv(t, Options{})
	h := env.server.Handler()

	rec := postJSON(t, h, backend.PathSync, backend.CodeRequest{Index: 2, Code: "theorem b : 1 = 1 := rfl"})
	require.Equal(t, http.StatusOK, rec.Code)
	var first backend.SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.True(t, first.OK)
	assert.Equal(t, int32(1), first.Version)
	assert.Equal(t, filepath.Join(env.root, "blocks", "Block_002.lean"), first.Path)
	assert.Equal(t, lsp.URIFromPath(first.Path), first.URI)

	initReq := env.lean.nextMethod(lsp.MethodInitialize)
	params := decodeParams[lsp.InitializeRequestParams](t, initReq)
	assert.Equal(t, lsp.URIFromPath(env.root), params.RootURI)
	assert.True(t, params.Capabilities.TextDocument.Synchronization.DidSave)
	env.lean.nextMethod(lsp.MethodInitialized)

	open := decodeParams[lsp.DidOpenTextDocumentParams](t, env.lean.nextMethod(lsp.MethodDidOpen))
	assert.Equal(t, int32(1), open.TextDocument.Version)
	assert.Equal(t, lsp.LanguageLean4, open.TextDocument.LanguageID)
	assert.Equal(t, "theorem b : 1 = 1 := rfl", open.TextDocument.Text)

	rec = postJSON(t, h, backend.PathSync, backend.CodeRequest{Index: 2, Code: "theorem b : 2 = 2 := rfl"})
	require.Equal(t, http.StatusOK, rec.Code)
	change := decodeParams[lsp.DidChangeTextDocumentParams](t, env.lean.nextMethod(lsp.MethodDidChange))
	assert.Equal(t, int32(2), change.TextDocument.Version)
	assert.Equal(t, first.URI, change.TextDocument.URI)
	require.Len(t, change.ContentChanges, 1)
	assert.Equal(t, "theorem b : 2 = 2 := rfl", change.ContentChanges[0].Text)

	block, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, "theorem b : 2 = 2 := rfl\n", string(block))
	assert.Equal(t, 1, env.lean.starts)
}

func TestSyncInvalidIndex(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := postJSON(t, env.server.Handler(), backend.PathSync, backend.CodeRequest{Code: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeanUnavailable(t *testing.T) {
	env := newTestEnv(t, Options{Launcher: failingLauncher})
	h := env.server.Handler()

	rec := postJSON(t, h, backend.PathSync, backend.CodeRequest{Index: 1, Code: "x"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, gjson.Get(rec.Body.String(), "ok").Bool())

	rec = postJSON(t, h, backend.PathLeanRPC, `{"id":1,"method":"textDocument/hover"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, backend.PathLeanEvents, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "lean server not available", gjson.Get(rec.Body.String(), "error").String())
}

type recordingClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *recordingClock) AfterFunc(d time.Duration, f func()) transport.Timer {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	return time.AfterFunc(5*time.Millisecond, f)
}

func (c *recordingClock) scheduled() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration{}, c.delays...)
}

func TestLeanUnavailableBacksOff(t *testing.T) {
	env := newTestEnv(t, Options{Launcher: failingLauncher})
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := &recordingClock{}
	tr := backend.New(srv.URL, srv.Client()).Transport(transport.Options{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		AfterFunc:      clock.AfterFunc,
	})
	var flips atomic.Int32
	tr.OnStatus(func(bool) { flips.Add(1) })
	tr.Start(ctx)
	defer tr.Close()

	require.Eventually(t, func() bool { return len(clock.scheduled()) >= 4 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
	}, clock.scheduled()[:4])
	assert.False(t, tr.Online())
	assert.Zero(t, flips.Load())
}

func TestLeanRPCFillsVersion(t *testing.T) {
	env := newTestEnv(t, Options{})
	h := env.server.Handler()

	rec := postJSON(t, h, backend.PathLeanRPC, `{"id":7,"method":"textDocument/hover","params":{}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	var frame []byte
	require.Eventually(t, func() bool {
		select {
		case f := <-env.lean.frames:
			if gjson.GetBytes(f, "method").String() == "textDocument/hover" {
				frame = f
				return true
			}
		default:
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "2.0", gjson.GetBytes(frame, "jsonrpc").String())
	assert.Equal(t, int64(7), gjson.GetBytes(frame, "id").Int())

	rec = postJSON(t, h, backend.PathLeanRPC, `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = postJSON(t, h, backend.PathLeanRPC, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeanEventsRelay(t *testing.T) {
	env := newTestEnv(t, Options{})
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := (&transport.HTTPDialer{Client: srv.Client(), URL: srv.URL + backend.PathLeanEvents}).Dial(ctx)
	require.NoError(t, err)
	defer stream.Close()

	env.lean.nextMethod(lsp.MethodInitialized)
	env.lean.notify(lsp.MethodFileProgress, map[string]any{"processing": []any{}})

	data, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","method":"$/lean/fileProgress","params":{"processing":[]}}`, string(data))
}

func TestEndToEndRequest(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.lean.respond = func(call *rpc.Call) (any, error) {
		if call.Method() == lsp.MethodPlainGoal {
			return map[string]any{"rendered": "⊢ True"}, nil
		}
		return nil, nil
	}
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := backend.New(srv.URL, srv.Client())
	tr := client.Transport(transport.Options{})
	tr.Start(ctx)
	defer tr.Close()
	require.True(t, tr.Online())

	uri, err := client.OpenAndSync(ctx, 1, "theorem a : True := by\n  trivial")
	require.NoError(t, err)

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()
	raw, err := tr.Send(reqCtx, lsp.MethodPlainGoal, map[string]any{
		"textDocument": map[string]any{"uri": uri},
		"position":     map[string]any{"line": 1, "character": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "⊢ True", gjson.GetBytes(raw, "rendered").String())
}

func TestUpdateAndData(t *testing.T) {
	env := newTestEnv(t, Options{})
	h := env.server.Handler()

	rec := postJSON(t, h, backend.PathUpdate, backend.CodeRequest{Index: 1, Code: "theorem a : 1 = 1 := rfl"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = get(t, h, backend.PathData)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "theorem a : 1 = 1 := rfl", gjson.Get(rec.Body.String(), `0.main theorem statement`).String())
	assert.Equal(t, "second", gjson.Get(rec.Body.String(), "1.name").String())

	block, err := os.ReadFile(filepath.Join(env.root, "blocks", "Block_001.lean"))
	require.NoError(t, err)
	assert.Equal(t, "theorem a : 1 = 1 := rfl\n", string(block))

	rec = postJSON(t, h, backend.PathUpdate, backend.CodeRequest{Index: 3, Code: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = postJSON(t, h, backend.PathUpdate, backend.CodeRequest{Index: 0, Code: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = postJSON(t, h, backend.PathUpdate, backend.CodeRequest{Index: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDataMissing(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, os.Remove(env.records))
	rec := get(t, env.server.Handler(), backend.PathData)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"json not found"}`, rec.Body.String())
}

func TestCompile(t *testing.T) {
	runner := &leancmd.Runner{
		Command: []string{"sh", "-c", `echo "$1:2:3: error: unknown identifier"; exit 1`, "sh"},
	}
	env := newTestEnv(t, Options{Runner: runner})
	rec := postJSON(t, env.server.Handler(), backend.PathCompile, backend.CodeRequest{Index: 1, Code: "theorem a : True := foo"})
	require.Equal(t, http.StatusOK, rec.Code)

	var res backend.CompileResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.OK)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ReturnCode)
	block := filepath.Join(env.root, "blocks", "Block_001.lean")
	assert.Equal(t, block+":2:3: error: unknown identifier\n", res.Stdout)

	rec = postJSON(t, env.server.Handler(), backend.PathCompile, backend.CodeRequest{Index: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrepareTempAndRead(t *testing.T) {
	env := newTestEnv(t, Options{})
	h := env.server.Handler()

	rec := get(t, h, backend.PathTempRead)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"exists":false,"index":null}`, rec.Body.String())

	rec = postJSON(t, h, backend.PathPrepareTemp, backend.CodeRequest{Index: 2, Code: "theorem b : True := trivial", OpenEditor: true})
	require.Equal(t, http.StatusOK, rec.Code)
	var prep backend.PrepareResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prep))
	assert.Equal(t, 2, prep.Index)
	assert.Equal(t, filepath.Join(env.root, "MTS_temp.lean"), prep.Path)
	assert.Equal(t, []string{prep.Path}, env.editors)

	rec = get(t, h, backend.PathTempRead)
	var snap backend.TempSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.Exists)
	require.NotNil(t, snap.Index)
	assert.Equal(t, 2, *snap.Index)
	assert.Equal(t, "theorem b : True := trivial\n", snap.Code)
	assert.NotZero(t, snap.Mtime)

	rec = postJSON(t, h, backend.PathPrepareTemp, backend.CodeRequest{Code: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTempEvents(t *testing.T) {
	env := newTestEnv(t, Options{})
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := backend.New(srv.URL, srv.Client())
	sub, err := client.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	snap, err := sub.Next()
	require.NoError(t, err)
	assert.False(t, snap.Exists)

	require.NoError(t, client.PrepareExternalEdit(ctx, 1, "theorem a : True := trivial", false))
	snap, err = sub.Next()
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	require.NotNil(t, snap.Index)
	assert.Equal(t, 1, *snap.Index)
	assert.Equal(t, "theorem a : True := trivial\n", snap.Content)

	// an external editor saves the file
	require.NoError(t, os.WriteFile(filepath.Join(env.root, "MTS_temp.lean"), []byte("theorem a : 1 = 1 := rfl\n"), 0o644))
	env.server.temp.notify(ctx)
	snap, err = sub.Next()
	require.NoError(t, err)
	assert.Equal(t, "theorem a : 1 = 1 := rfl\n", snap.Content)
}

func TestTempWatch(t *testing.T) {
	env := newTestEnv(t, Options{})
	events, unsubscribe := env.server.tempEvents.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- env.server.temp.Watch(ctx) }()

	// the initial state
	select {
	case data := <-events:
		assert.False(t, gjson.GetBytes(data, "exists").Bool())
	case <-time.After(5 * time.Second):
		t.Fatal("no initial event")
	}

	path := filepath.Join(env.root, "MTS_temp.lean")
	require.NoError(t, os.WriteFile(path, []byte("edited\n"), 0o644))
	require.Eventually(t, func() bool {
		select {
		case data := <-events:
			return gjson.GetBytes(data, "code").String() == "edited\n"
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		select {
		case data := <-events:
			return !gjson.GetBytes(data, "exists").Bool()
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestReadFile(t *testing.T) {
	env := newTestEnv(t, Options{})
	h := env.server.Handler()
	inside := filepath.Join(env.root, "Defs.lean")
	require.NoError(t, os.WriteFile(inside, []byte("def x := 1\n"), 0o644))
	outside := filepath.Join(t.TempDir(), "Secret.lean")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))

	rec := postJSON(t, h, backend.PathReadFile, backend.ReadFileRequest{URI: lsp.URIFromPath(inside)})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp backend.ReadFileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "def x := 1\n", resp.Code)

	rec = postJSON(t, h, backend.PathReadFile, backend.ReadFileRequest{Path: outside})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = postJSON(t, h, backend.PathReadFile, backend.ReadFileRequest{Path: filepath.Join(env.root, "..", filepath.Base(env.root), "..", "x")})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = postJSON(t, h, backend.PathReadFile, backend.ReadFileRequest{Path: env.root})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = postJSON(t, h, backend.PathReadFile, backend.ReadFileRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, h, backend.PathReadFile+"?path="+inside)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadFileOpenDocument(t *testing.T) {
	env := newTestEnv(t, Options{})
	h := env.server.Handler()

	rec := postJSON(t, h, backend.PathSync, backend.CodeRequest{Index: 1, Code: "theorem a : True := trivial"})
	require.Equal(t, http.StatusOK, rec.Code)
	var synced backend.SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &synced))

	rec = postJSON(t, h, backend.PathReadFile, backend.ReadFileRequest{URI: synced.URI})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp backend.ReadFileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// the block file on disk ends with a newline, the synced text does not
	assert.Equal(t, "theorem a : True := trivial", resp.Code)
}

func TestHeaders(t *testing.T) {
	env := newTestEnv(t, Options{})
	h := env.server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, backend.PathUpdate, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	rec = get(t, h, backend.PathData)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")

	rec = get(t, h, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaticDir(t *testing.T) {
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html></html>"), 0o644))
	env := newTestEnv(t, Options{StaticDir: static})
	rec := get(t, env.server.Handler(), "/")
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "<html></html>", string(body))
}

func TestServeShutsDown(t *testing.T) {
	env := newTestEnv(t, Options{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Run(ctx) }()
	require.Eventually(t, func() bool { return env.server.State() == serverRunning }, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, serverShutDown, env.server.State())
	assert.Equal(t, processShutDown, env.server.analysis.State())
}
