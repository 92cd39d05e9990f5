// Package backend is the HTTP client for the bridge that fronts the
// analysis process, the record store and the build tool.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/corymhall/proofsync/extsync"
	"github.com/corymhall/proofsync/lsp"
	"github.com/corymhall/proofsync/transport"
)

// StatusError is a non-2xx reply from the bridge.
type StatusError struct {
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %d %s", e.Path, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the bridge at baseURL. A nil httpClient uses
// http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

// Transport returns a transport relaying through the bridge's event
// stream and RPC endpoints.
func (c *Client) Transport(opts transport.Options) *transport.Transport {
	return transport.New(
		&transport.HTTPDialer{Client: c.http, URL: c.url(PathLeanEvents)},
		&transport.HTTPPoster{Client: c.http, URL: c.url(PathLeanRPC)},
		opts,
	)
}

// OpenAndSync makes index the document the analysis process is working on
// and returns its protocol URI.
func (c *Client) OpenAndSync(ctx context.Context, index int, content string) (lsp.DocumentURI, error) {
	var resp SyncResponse
	if err := c.post(ctx, PathSync, &CodeRequest{Index: index, Code: content}, &resp); err != nil {
		return "", err
	}
	if !resp.OK {
		return resp.URI, fmt.Errorf("%s: analysis process unavailable", PathSync)
	}
	return resp.URI, nil
}

// Update persists content as the statement of record index.
func (c *Client) Update(ctx context.Context, index int, content string) error {
	var resp Ack
	if err := c.post(ctx, PathUpdate, &CodeRequest{Index: index, Code: content}, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return &StatusError{Path: PathUpdate, Code: http.StatusOK, Message: resp.Error}
	}
	return nil
}

func (c *Client) Compile(ctx context.Context, index int, content string) (*CompileResult, error) {
	var resp CompileResult
	if err := c.post(ctx, PathCompile, &CodeRequest{Index: index, Code: content}, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, &StatusError{Path: PathCompile, Code: http.StatusOK, Message: resp.Error}
	}
	return &resp, nil
}

// PrepareExternalEdit writes content to the temp file shared with external
// editors and associates it with index.
func (c *Client) PrepareExternalEdit(ctx context.Context, index int, content string, openEditor bool) error {
	var resp PrepareResponse
	req := &CodeRequest{Index: index, Code: content, OpenEditor: openEditor}
	if err := c.post(ctx, PathPrepareTemp, req, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return &StatusError{Path: PathPrepareTemp, Code: http.StatusOK, Message: resp.Error}
	}
	return nil
}

// Read returns the current temp file snapshot.
func (c *Client) Read(ctx context.Context) (extsync.Snapshot, error) {
	var snap TempSnapshot
	if err := c.get(ctx, PathTempRead, &snap); err != nil {
		return extsync.Snapshot{}, err
	}
	return snap.toSync(), nil
}

// Subscribe opens the temp file event stream.
func (c *Client) Subscribe(ctx context.Context) (extsync.Subscription, error) {
	dialer := &transport.HTTPDialer{Client: c.http, URL: c.url(PathTempEvents)}
	stream, err := dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return &tempSubscription{stream: stream}, nil
}

type tempSubscription struct {
	stream transport.EventStream
}

func (s *tempSubscription) Next() (extsync.Snapshot, error) {
	for {
		data, err := s.stream.Next()
		if err != nil {
			return extsync.Snapshot{}, err
		}
		var snap TempSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		return snap.toSync(), nil
	}
}

func (s *tempSubscription) Close() error {
	return s.stream.Close()
}

func (s TempSnapshot) toSync() extsync.Snapshot {
	return extsync.Snapshot{Exists: s.Exists, Index: s.Index, Content: s.Code}
}

// ReadFile reads a file under the bridge's project root, e.g. the target of
// a definition.
func (c *Client) ReadFile(ctx context.Context, uri lsp.DocumentURI) (string, error) {
	var resp ReadFileResponse
	if err := c.post(ctx, PathReadFile, &ReadFileRequest{URI: uri}, &resp); err != nil {
		return "", err
	}
	return resp.Code, nil
}

// Records returns the raw record list.
func (c *Client) Records(ctx context.Context) ([]json.RawMessage, error) {
	var records []json.RawMessage
	if err := c.get(ctx, PathData, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, result)
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	return c.do(req, path, result)
}

func (c *Client) do(req *http.Request, path string, result any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: reading response: %w", path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var ack Ack
		_ = json.Unmarshal(body, &ack)
		return &StatusError{Path: path, Code: resp.StatusCode, Message: ack.Error}
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%s: decoding response: %w", path, err)
	}
	return nil
}
