package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corymhall/proofsync/lsp"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", srv.Client())
}

func decodeCode(t *testing.T, r *http.Request) CodeRequest {
	t.Helper()
	var req CodeRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestOpenAndSync(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync_lean", func(w http.ResponseWriter, r *http.Request) {
		req := decodeCode(t, r)
		assert.Equal(t, 4, req.Index)
		assert.Equal(t, "theorem t : 1 = 1 := rfl", req.Code)
		fmt.Fprint(w, `{"ok":true,"path":"/p/Block_004.lean","uri":"file:///p/Block_004.lean","version":1}`)
	})
	c := newTestClient(t, mux)

	uri, err := c.OpenAndSync(context.Background(), 4, "theorem t : 1 = 1 := rfl")
	require.NoError(t, err)
	assert.Equal(t, lsp.DocumentURI("file:///p/Block_004.lean"), uri)
}

func TestOpenAndSyncUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync_lean", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"ok":false,"uri":"file:///p/Block_004.lean"}`)
	})
	c := newTestClient(t, mux)

	_, err := c.OpenAndSync(context.Background(), 4, "x")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
}

func TestUpdateErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /update", func(w http.ResponseWriter, r *http.Request) {
		req := decodeCode(t, r)
		if req.Index > 2 {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"ok":false,"error":"index out of range"}`)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.Update(context.Background(), 1, "code"))
	err := c.Update(context.Background(), 9, "code")
	require.Error(t, err)
	assert.Equal(t, "/update: index out of range", err.Error())
}

func TestCompile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /compile", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"success":false,"returncode":1,"stdout":"Block_001.lean:2:3: error: boom","stderr":"warn"}`)
	})
	c := newTestClient(t, mux)

	res, err := c.Compile(context.Background(), 1, "code")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ReturnCode)
	assert.Equal(t, "Block_001.lean:2:3: error: boom\nwarn", res.Output())
}

func TestCompileBridgeError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /compile", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error":"lake: not found"}`)
	})
	c := newTestClient(t, mux)

	res, err := c.Compile(context.Background(), 1, "code")
	assert.Nil(t, res)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "/compile: lake: not found", err.Error())
}

func TestCompileResultOutput(t *testing.T) {
	assert.Equal(t, "", (&CompileResult{}).Output())
	assert.Equal(t, "out", (&CompileResult{Stdout: "out"}).Output())
	assert.Equal(t, "err", (&CompileResult{Stderr: "err"}).Output())
}

func TestPrepareAndRead(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /prepare_temp", func(w http.ResponseWriter, r *http.Request) {
		req := decodeCode(t, r)
		assert.True(t, req.OpenEditor)
		fmt.Fprintf(w, `{"ok":true,"index":%d,"path":"/p/MTS_temp.lean"}`, req.Index)
	})
	mux.HandleFunc("GET /temp_read", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"exists":true,"index":3,"mtime":1.5,"path":"/p/MTS_temp.lean","code":"abc"}`)
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.PrepareExternalEdit(context.Background(), 3, "abc", true))
	snap, err := c.Read(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	require.NotNil(t, snap.Index)
	assert.Equal(t, 3, *snap.Index)
	assert.Equal(t, "abc", snap.Content)
}

func TestSubscribe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /temp_events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"exists\": false, \"index\": null}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: {\"exists\": true, \"index\": 2, \"code\": \"x\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	c := newTestClient(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := c.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	snap, err := sub.Next()
	require.NoError(t, err)
	assert.False(t, snap.Exists)
	assert.Nil(t, snap.Index)

	snap, err = sub.Next()
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.Equal(t, 2, *snap.Index)
	assert.Equal(t, "x", snap.Content)
}

func TestSubscribeNotFound(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())
	_, err := c.Subscribe(context.Background())
	require.Error(t, err)
}

func TestReadFileAndRecords(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /read_file", func(w http.ResponseWriter, r *http.Request) {
		var req ReadFileRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, lsp.DocumentURI("file:///p/Mathlib/Foo.lean"), req.URI)
		fmt.Fprint(w, `{"ok":true,"code":"def foo := 1"}`)
	})
	mux.HandleFunc("GET /data", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"main theorem statement":"a"},{"main theorem statement":"b"}]`)
	})
	c := newTestClient(t, mux)

	code, err := c.ReadFile(context.Background(), "file:///p/Mathlib/Foo.lean")
	require.NoError(t, err)
	assert.Equal(t, "def foo := 1", code)

	records, err := c.Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
