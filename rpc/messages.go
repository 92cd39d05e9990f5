package rpc

import (
	"encoding/json"
	"fmt"
)

// Message is one of *Call, *Notification or *Response.
type Message interface {
	isRPCMessage()
}

// Request is a message that names a method: a *Call or a *Notification.
type Request interface {
	Message
	Method() string
	// Params is the raw parameter value, possibly empty.
	Params() json.RawMessage
	isRPCRequest()
}

// request carries the fields shared by calls and notifications.
type request struct {
	method string
	params json.RawMessage
}

func (r *request) Method() string          { return r.method }
func (r *request) Params() json.RawMessage { return r.params }
func (r *request) isRPCMessage()           {}
func (r *request) isRPCRequest()           {}

// Notification is a request without an id. No response is ever sent for it.
type Notification struct {
	request
}

// Call is a request that is answered by a Response with the same id.
type Call struct {
	request
	id ID
}

// Response answers the Call with the same id. A failed call has a non-nil
// Err and no result.
type Response struct {
	id     ID
	result json.RawMessage
	err    error
}

func newRequest(method string, params any) (request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return request{method: method}, err
	}
	return request{method: method, params: raw}, nil
}

// NewNotification builds a notification for method. params is marshaled
// immediately.
func NewNotification(method string, params any) (*Notification, error) {
	r, err := newRequest(method, params)
	return &Notification{request: r}, err
}

// NewCall builds a call for method with the given id.
func NewCall(id ID, method string, params any) (*Call, error) {
	r, err := newRequest(method, params)
	return &Call{request: r, id: id}, err
}

// NewResponse builds the reply to the call with id. When err is set the
// result is not sent.
func NewResponse(id ID, result any, err error) (*Response, error) {
	resp := &Response{id: id, err: err}
	if err != nil {
		return resp, nil
	}
	raw, merr := json.Marshal(result)
	resp.result = raw
	return resp, merr
}

func (c *Call) ID() ID { return c.id }

func (r *Response) ID() ID                  { return r.id }
func (r *Response) Result() json.RawMessage { return r.result }
func (r *Response) Err() error              { return r.err }
func (r *Response) isRPCMessage()           {}

// Value returns the result, or nil when the response has no usable one.
// Lean answers goal queries at positions without a goal with null, which
// is treated the same as a missing result.
func (r *Response) Value() json.RawMessage {
	if len(r.result) == 0 || string(r.result) == "null" {
		return nil
	}
	return r.result
}

func (n *Notification) MarshalJSON() ([]byte, error) {
	return encode("notification", wireRequest{Method: n.method, Params: &n.params})
}

func (c *Call) MarshalJSON() ([]byte, error) {
	return encode("call", wireRequest{Method: c.method, Params: &c.params, ID: &c.id})
}

func (r *Response) MarshalJSON() ([]byte, error) {
	w := wireResponse{ID: &r.id, Error: toWireError(r.err)}
	if w.Error == nil {
		w.Result = &r.result
	}
	return encode("response", w)
}

func encode(kind string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return data, fmt.Errorf("marshaling %s: %w", kind, err)
	}
	return data, nil
}

// DecodeMessage decodes one JSON-RPC 2.0 message. The kind is decided by
// which of method and id are present.
func DecodeMessage(data []byte) (Message, error) {
	var w wireCombined
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshaling jsonrpc message: %w", err)
	}
	var params, result json.RawMessage
	if w.Params != nil {
		params = *w.Params
	}
	if w.Result != nil {
		result = *w.Result
	}
	switch {
	case w.Method != "" && w.ID != nil:
		return &Call{request: request{method: w.Method, params: params}, id: *w.ID}, nil
	case w.Method != "":
		return &Notification{request: request{method: w.Method, params: params}}, nil
	case w.ID != nil:
		resp := &Response{id: *w.ID, result: result}
		if w.Error != nil {
			resp.err = w.Error
		}
		return resp, nil
	}
	return nil, ErrInvalidRequest
}
