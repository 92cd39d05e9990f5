package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/corymhall/proofsync/backend"
	"github.com/corymhall/proofsync/debug"
	"github.com/corymhall/proofsync/lsp"
	"github.com/corymhall/proofsync/store"
)

// maxBody bounds request bodies; statements are small.
const maxBody = 8 << 20

// Handler returns the bridge's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+backend.PathData, s.handleData)
	mux.HandleFunc("POST "+backend.PathUpdate, s.handleUpdate)
	mux.HandleFunc("POST "+backend.PathCompile, s.handleCompile)
	mux.HandleFunc("POST "+backend.PathSync, s.handleSync)
	mux.HandleFunc("POST "+backend.PathLeanRPC, s.handleLeanRPC)
	mux.HandleFunc("GET "+backend.PathLeanEvents, s.handleLeanEvents)
	mux.HandleFunc("POST "+backend.PathPrepareTemp, s.handlePrepareTemp)
	mux.HandleFunc("GET "+backend.PathTempEvents, s.handleTempEvents)
	mux.HandleFunc("GET "+backend.PathTempRead, s.handleTempRead)
	mux.HandleFunc("GET "+backend.PathReadFile, s.handleReadFile)
	mux.HandleFunc("POST "+backend.PathReadFile, s.handleReadFile)
	if s.opts.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.opts.StaticDir)))
	} else {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown endpoint"})
		})
	}
	return withHeaders(mux)
}

// withHeaders adds CORS and no-store caching to every response and answers
// preflight requests.
func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, backend.Ack{OK: false, Error: msg})
}

// readBody decodes the JSON body into v. An empty or malformed body leaves
// v untouched.
func readBody(r *http.Request, v any) []byte {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil || len(data) == 0 {
		return nil
	}
	_ = json.Unmarshal(data, v)
	return data
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.Raw()
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "json not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req backend.CodeRequest
	readBody(r, &req)
	if req.Index <= 0 || req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid index/code")
		return
	}
	err := s.store.Update(req.Index, req.Code)
	switch {
	case errors.Is(err, store.ErrIndexOutOfRange), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "index out of range")
	case err != nil:
		debug.LogError(r.Context(), "updating record", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		debug.Info.Log(r.Context(), "record updated", slog.Int("index", req.Index))
		writeJSON(w, http.StatusOK, backend.Ack{OK: true})
	}
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req backend.CodeRequest
	readBody(r, &req)
	if req.Index <= 0 || req.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid index/code")
		return
	}
	path, err := s.store.WriteBlock(req.Index, req.Code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	res, err := s.runner.Run(r.Context(), path)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, backend.CompileResult{
		OK:         true,
		Success:    res.Success,
		ReturnCode: res.ReturnCode,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		Command:    res.Command,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req backend.CodeRequest
	readBody(r, &req)
	if req.Index <= 0 {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}
	path, err := s.store.WriteBlock(req.Index, req.Code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	uri := lsp.URIFromPath(path)
	version, err := s.analysis.Sync(r.Context(), uri, req.Code)
	resp := backend.SyncResponse{OK: err == nil, Path: path, URI: uri, Version: version}
	if err != nil {
		debug.Warning.Log(r.Context(), "sync failed", slog.String("uri", string(uri)), slog.Any("error", err))
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLeanRPC(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil || !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := s.analysis.Forward(r.Context(), data); err != nil {
		debug.Warning.Log(r.Context(), "forward failed", slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "lean server unavailable")
		return
	}
	writeJSON(w, http.StatusOK, backend.Ack{OK: true})
}

// serveEvents streams events from hub as server-sent events until the client
// goes away. first, if not nil, is sent before anything from the hub.
func serveEvents(w http.ResponseWriter, r *http.Request, hub *Hub, first func() ([]byte, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if first != nil {
		data, err := first()
		if err != nil {
			fmt.Fprintf(w, "data: %s\n\n", mustMarshal(map[string]string{"error": err.Error()}))
			flusher.Flush()
			return
		}
		if data != nil {
			writeEvent(w, data)
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-events:
			writeEvent(w, data)
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, data []byte) {
	// a payload with newlines needs one data field per line
	for _, line := range strings.Split(string(data), "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

func mustMarshal(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func (s *Server) handleLeanEvents(w http.ResponseWriter, r *http.Request) {
	// start the process so that the client sees its output
	if _, err := s.analysis.ensure(r.Context()); err != nil {
		debug.Warning.Log(r.Context(), "lean server not available", slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "lean server not available")
		return
	}
	serveEvents(w, r, s.leanEvents, nil)
}

func (s *Server) handlePrepareTemp(w http.ResponseWriter, r *http.Request) {
	var req backend.CodeRequest
	readBody(r, &req)
	if req.Index <= 0 {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}
	if err := s.temp.Prepare(r.Context(), req.Index, req.Code); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.OpenEditor {
		if err := s.openEditor(r.Context(), s.temp.path); err != nil {
			debug.Warning.Log(r.Context(), "no editor could be opened", slog.Any("error", err))
		}
	}
	writeJSON(w, http.StatusOK, backend.PrepareResponse{OK: true, Index: req.Index, Path: s.temp.path})
}

func (s *Server) handleTempEvents(w http.ResponseWriter, r *http.Request) {
	serveEvents(w, r, s.tempEvents, func() ([]byte, error) {
		snap, err := s.temp.Snapshot()
		if err != nil {
			return nil, err
		}
		return json.Marshal(snap)
	})
}

func (s *Server) handleTempRead(w http.ResponseWriter, r *http.Request) {
	snap, err := s.temp.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	var req backend.ReadFileRequest
	readBody(r, &req)
	if req.URI == "" && req.Path == "" {
		q := r.URL.Query()
		req.URI, req.Path = lsp.DocumentURI(q.Get("uri")), q.Get("path")
	}
	f, err := readProjectFile(r.Context(), s.opts.Root, req)
	switch {
	case errors.Is(err, errMissingPath):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		// an open document is returned as the analysis process sees it
		if fh, ok := s.analysis.overlay.Get(f.uri); ok {
			if content, err := fh.Content(); err == nil {
				f.content = content
			}
		}
		writeJSON(w, http.StatusOK, backend.ReadFileResponse{OK: true, URI: f.uri, Path: f.path, Code: string(f.content)})
	}
}

// launchEditor starts the first configured editor that can be started.
func (s *Server) launchEditor(ctx context.Context, path string) error {
	var errs []error
	for _, editor := range s.opts.Editors {
		if len(editor) == 0 {
			continue
		}
		args := append(append([]string{}, editor[1:]...), path)
		cmd := exec.Command(editor[0], args...)
		if err := cmd.Start(); err != nil {
			errs = append(errs, err)
			continue
		}
		debug.Info.Log(ctx, "editor opened", slog.String("editor", editor[0]))
		go cmd.Wait() //nolint:errcheck
		return nil
	}
	return errors.Join(errs...)
}
