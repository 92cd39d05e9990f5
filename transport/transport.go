// Package transport maintains the duplex channel between the sync core and
// the analysis service: a long-lived inbound event stream carrying pushed
// notifications and correlated responses, and a separate outbound channel
// for requests.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corymhall/proofsync/debug"
	"github.com/corymhall/proofsync/lsp"
	"github.com/corymhall/proofsync/rpc"
	"github.com/corymhall/proofsync/xcontext"
)

var (
	// ErrConnectionReset fails every request that was pending when the
	// inbound stream dropped.
	ErrConnectionReset = errors.New("connection to analysis service reset")
	// ErrClosed is returned once the transport has been closed.
	ErrClosed = errors.New("transport closed")
)

const (
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 8 * time.Second
)

// EventStream is the inbound half of the channel. Next blocks until the
// next message payload arrives or the stream fails.
type EventStream interface {
	Next() ([]byte, error)
	Close() error
}

// Dialer opens a new inbound stream.
type Dialer interface {
	Dial(ctx context.Context) (EventStream, error)
}

// Poster transmits one encoded message on the outbound channel.
type Poster interface {
	Post(ctx context.Context, msg []byte) error
}

// NotificationHandler handles a message pushed by the analysis service.
// Handlers run on the read loop, in arrival order, and must not block.
type NotificationHandler func(ctx context.Context, method string, params json.RawMessage)

// Timer is the part of *time.Timer the reconnect logic needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Options struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// AfterFunc schedules reconnects; tests replace it to observe delays.
	AfterFunc AfterFunc
	// Handler answers calls initiated by the analysis service. Defaults to
	// rpc.MethodNotFound.
	Handler rpc.Handler
}

type Transport struct {
	dialer  Dialer
	poster  Poster
	opts    Options
	seq     atomic.Int64
	pending *rpc.PendingTable

	handlersMu sync.RWMutex
	handlers   map[string]NotificationHandler
	statusFns  []func(online bool)

	mu        sync.Mutex
	ctx       context.Context
	stream    EventStream
	gen       uint64
	reconnect Timer
	backoff   time.Duration
	online    bool
	started   bool
	closed    bool
}

func New(dialer Dialer, poster Poster, opts Options) *Transport {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	if opts.Handler == nil {
		opts.Handler = rpc.MethodNotFound
	}
	return &Transport{
		dialer:   dialer,
		poster:   poster,
		opts:     opts,
		pending:  rpc.NewPendingTable(),
		handlers: make(map[string]NotificationHandler),
		backoff:  opts.InitialBackoff,
		ctx:      context.Background(),
	}
}

// Start opens the inbound stream. ctx bounds the life of every stream the
// transport opens, including reconnects.
func (t *Transport) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started || t.closed {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.ctx, _ = debug.WithGroup(ctx, "transport")
	t.mu.Unlock()
	t.connect()
}

// OnNotification registers a handler for pushed messages with the given
// method. The method "*" receives everything without a dedicated handler.
func (t *Transport) OnNotification(method string, handler NotificationHandler) {
	t.handlersMu.Lock()
	t.handlers[method] = handler
	t.handlersMu.Unlock()
}

// OnStatus registers fn to be told about connectivity changes.
func (t *Transport) OnStatus(fn func(online bool)) {
	t.handlersMu.Lock()
	t.statusFns = append(t.statusFns, fn)
	t.handlersMu.Unlock()
}

// Online reports whether the inbound stream is currently connected.
func (t *Transport) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// Pending returns the number of requests waiting for a response.
func (t *Transport) Pending() int {
	return t.pending.Len()
}

// Send issues method with params and waits for the correlated response.
// The returned result is nil when the response carried none.
func (t *Transport) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	resp, err := t.roundTrip(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return resp.Value(), nil
}

// Call is Send followed by decoding the result into result. A response
// without a result leaves result untouched.
func (t *Transport) Call(ctx context.Context, method string, params, result any) error {
	raw, err := t.Send(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := lsp.UnmarshalJSON(raw, result); err != nil {
		return fmt.Errorf("unmarshaling %s result: %w", method, err)
	}
	return nil
}

func (t *Transport) roundTrip(ctx context.Context, method string, params any) (*rpc.Response, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	id := rpc.NumberID(t.seq.Add(1))
	call, err := rpc.NewCall(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("marshaling call parameters: %w", err)
	}
	data, err := json.Marshal(call)
	if err != nil {
		return nil, err
	}
	// register before sending, otherwise we are racing the response
	rchan := t.pending.Register(id)
	debug.Trace.Log(ctx, "sending request", slog.String("method", method), slog.String("id", id.String()))
	if err := t.poster.Post(ctx, data); err != nil {
		// sending failed, we will never get a response, so don't leave it pending
		t.pending.Forget(id)
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}
	select {
	case resp := <-rchan:
		if resp.Err() != nil {
			return nil, resp.Err()
		}
		return resp, nil
	case <-ctx.Done():
		t.pending.Forget(id)
		t.cancelCall(ctx, id)
		return nil, ctx.Err()
	}
}

// Notify sends a message that expects no response.
func (t *Transport) Notify(ctx context.Context, method string, params any) error {
	if t.isClosed() {
		return ErrClosed
	}
	notify, err := rpc.NewNotification(method, params)
	if err != nil {
		return fmt.Errorf("marshaling notify parameters: %w", err)
	}
	data, err := json.Marshal(notify)
	if err != nil {
		return err
	}
	return t.poster.Post(ctx, data)
}

func (t *Transport) cancelCall(ctx context.Context, id rpc.ID) {
	ctx = xcontext.Detach(ctx)
	if err := t.Notify(ctx, lsp.MethodCancelRequest, &lsp.CancelParams{ID: id.Number()}); err != nil {
		debug.Debug.Log(ctx, "cancel request failed", slog.String("id", id.String()), slog.Any("error", err))
	}
}

func (t *Transport) connect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.reconnect = nil
	ctx, gen := t.ctx, t.gen
	t.mu.Unlock()

	stream, err := t.dialer.Dial(ctx)
	if err != nil {
		t.fail(gen, fmt.Errorf("dialing event stream: %w", err))
		return
	}

	t.mu.Lock()
	if t.closed || t.gen != gen {
		t.mu.Unlock()
		stream.Close()
		return
	}
	t.gen++
	gen = t.gen
	t.stream = stream
	t.backoff = t.opts.InitialBackoff
	wasOnline := t.online
	t.online = true
	t.mu.Unlock()

	debug.Info.Log(ctx, "analysis stream connected")
	if !wasOnline {
		t.notifyStatus(true)
	}
	go t.readLoop(ctx, gen, stream)
}

func (t *Transport) readLoop(ctx context.Context, gen uint64, stream EventStream) {
	for {
		data, err := stream.Next()
		if err != nil {
			t.fail(gen, err)
			return
		}
		t.dispatch(ctx, data)
	}
}

// fail handles an inbound failure observed on generation gen. Failures from
// a generation that has already been replaced are ignored.
func (t *Transport) fail(gen uint64, cause error) {
	t.mu.Lock()
	if t.closed || t.gen != gen {
		t.mu.Unlock()
		return
	}
	// bump the generation so a late failure of this stream is ignored
	t.gen++
	wasOnline := t.online
	t.online = false
	if t.stream != nil {
		t.stream.Close()
		t.stream = nil
	}
	if t.reconnect != nil {
		t.reconnect.Stop()
	}
	delay := t.backoff
	t.backoff = min(t.backoff*2, t.opts.MaxBackoff)
	t.reconnect = t.opts.AfterFunc(delay, t.connect)
	ctx := t.ctx
	t.mu.Unlock()

	swept := t.pending.Sweep(ErrConnectionReset)
	debug.Warning.Log(ctx, "analysis stream failed",
		slog.Any("error", cause),
		slog.Duration("retryIn", delay),
		slog.Int("abandoned", swept))
	if wasOnline {
		t.notifyStatus(false)
	}
}

func (t *Transport) dispatch(ctx context.Context, data []byte) {
	msg, err := rpc.DecodeMessage(data)
	if err != nil {
		// not a protocol message, e.g. an error event from the bridge
		debug.Trace.Log(ctx, "ignoring undecodable event", slog.Any("error", err))
		return
	}
	switch msg := msg.(type) {
	case *rpc.Response:
		if !t.pending.Resolve(msg) {
			debug.Trace.Log(ctx, "dropping uncorrelated response", slog.String("id", msg.ID().String()))
		}
	case *rpc.Notification:
		t.handle(ctx, msg.Method(), msg.Params())
	case *rpc.Call:
		if err := t.opts.Handler(ctx, t.replier(msg), msg); err != nil {
			debug.Debug.Log(ctx, "reply to server call failed", slog.String("method", msg.Method()), slog.Any("error", err))
		}
	}
}

func (t *Transport) handle(ctx context.Context, method string, params json.RawMessage) {
	t.handlersMu.RLock()
	handler, ok := t.handlers[method]
	if !ok {
		handler, ok = t.handlers["*"]
	}
	t.handlersMu.RUnlock()
	if ok && handler != nil {
		handler(ctx, method, params)
	}
}

func (t *Transport) replier(call *rpc.Call) rpc.Replier {
	return func(ctx context.Context, result any, err error) error {
		response, err := rpc.NewResponse(call.ID(), result, err)
		if err != nil {
			return err
		}
		data, err := json.Marshal(response)
		if err != nil {
			return err
		}
		return t.poster.Post(ctx, data)
	}
}

func (t *Transport) notifyStatus(online bool) {
	t.handlersMu.RLock()
	fns := append([]func(bool){}, t.statusFns...)
	t.handlersMu.RUnlock()
	for _, fn := range fns {
		fn(online)
	}
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close stops reconnecting, closes the stream and fails every pending
// request with ErrClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	wasOnline := t.online
	t.online = false
	if t.reconnect != nil {
		t.reconnect.Stop()
		t.reconnect = nil
	}
	var err error
	if t.stream != nil {
		err = t.stream.Close()
		t.stream = nil
	}
	t.mu.Unlock()

	t.pending.Sweep(ErrClosed)
	if wasOnline {
		t.notifyStatus(false)
	}
	return err
}
