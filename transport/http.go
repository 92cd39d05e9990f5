package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPDialer opens the inbound stream as a server-sent event stream.
type HTTPDialer struct {
	Client *http.Client
	URL    string
}

func (d *HTTPDialer) Dial(ctx context.Context) (EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := client(d.Client).Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream %s: unexpected status %s", d.URL, resp.Status)
	}
	return &httpEventStream{EventReader: NewEventReader(resp.Body), body: resp.Body}, nil
}

type httpEventStream struct {
	*EventReader
	body io.Closer
}

func (s *httpEventStream) Close() error {
	return s.body.Close()
}

// HTTPPoster sends outbound messages as individual POST requests. The
// receiver acknowledges each one with {"ok": bool, "error": string}.
type HTTPPoster struct {
	Client *http.Client
	URL    string
}

type postAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (p *HTTPPoster) Post(ctx context.Context, msg []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(msg))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client(p.Client).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var ack postAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return fmt.Errorf("decoding acknowledgement (status %s): %w", resp.Status, err)
	}
	if !ack.OK {
		if ack.Error == "" {
			ack.Error = resp.Status
		}
		return fmt.Errorf("message rejected: %s", ack.Error)
	}
	return nil
}

func client(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}
