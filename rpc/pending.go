package rpc

import (
	"sync"

	"github.com/pulumi/pulumi/sdk/v3/go/common/util/contract"
)

// PendingTable correlates outbound calls with their responses by ID.
//
// Every registered entry leaves the table exactly once: through Resolve
// when its response arrives, through Forget when the caller gives up, or
// through Sweep when the channel it was issued on is reset.
type PendingTable struct {
	mu      sync.Mutex
	pending map[ID]chan *Response
}

func NewPendingTable() *PendingTable {
	return &PendingTable{pending: make(map[ID]chan *Response)}
}

// Register adds id to the table and returns the channel its response will
// be delivered on. The channel is buffered, so delivery never blocks even
// if the caller has stopped waiting.
func (t *PendingTable) Register(id ID) <-chan *Response {
	ch := make(chan *Response, 1)
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.pending[id]
	contract.Assertf(!exists, "request id %v registered twice", id)
	t.pending[id] = ch
	return ch
}

// Resolve delivers resp to the caller waiting on its ID. It reports false
// when nobody is waiting, which happens for responses to requests that
// were swept or forgotten.
func (t *PendingTable) Resolve(resp *Response) bool {
	t.mu.Lock()
	ch, ok := t.pending[resp.id]
	if ok {
		delete(t.pending, resp.id)
	}
	t.mu.Unlock()
	if ok {
		ch <- resp
	}
	return ok
}

// Forget removes id without delivering anything.
func (t *PendingTable) Forget(id ID) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Sweep fails every pending request with err and empties the table. It
// returns the number of requests that were failed.
func (t *PendingTable) Sweep(err error) int {
	t.mu.Lock()
	swept := t.pending
	t.pending = make(map[ID]chan *Response)
	t.mu.Unlock()
	for id, ch := range swept {
		ch <- &Response{id: id, err: err}
	}
	return len(swept)
}

// Len returns the number of requests still waiting for a response.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
