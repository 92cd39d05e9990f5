package rpc

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknown should be used for all non coded errors.
	ErrUnknown = NewError(-32001, "JSON RPC unknown error")
	// ErrParse is used when invalid JSON was received by the server.
	ErrParse = NewError(-32700, "JSON RPC parse error")
	//ErrInvalidRequest is used when the JSON sent is not a valid Request object.
	ErrInvalidRequest = NewError(-32600, "JSON RPC invalid request")
	// ErrMethodNotFound should be returned by the handler when the method does
	// not exist / is not available.
	ErrMethodNotFound = NewError(-32601, "JSON RPC method not found")
	// ErrInvalidParams should be returned by the handler when method
	// parameter(s) were invalid.
	ErrInvalidParams = NewError(-32602, "JSON RPC invalid params")
	// ErrInternal is not currently returned but defined for completeness.
	ErrInternal = NewError(-32603, "JSON RPC internal error")
	// ErrRequestCancelled is returned by the analysis service when a request
	// was cancelled by a $/cancelRequest notification.
	ErrRequestCancelled = NewError(-32800, "JSON RPC cancelled")
	// ErrContentModified is returned when the document changed while the
	// request was being computed.
	ErrContentModified = NewError(-32801, "JSON RPC content modified")
)

// Handler is invoked to handle incoming requests.
// The Replier sends a reply to the request and must be called exactly once.
type Handler func(ctx context.Context, reply Replier, req Request) error

// Replier is passed to handlers to allow them to reply to the request.
// If err is set then result will be ignored.
type Replier func(ctx context.Context, result any, err error) error

// MethodNotFound is a Handler that replies to all call requests with the
// standard method not found response.
// This should normally be the final handler in a chain.
func MethodNotFound(ctx context.Context, reply Replier, req Request) error {
	return reply(ctx, nil, fmt.Errorf("%w: %q", ErrMethodNotFound, req.Method()))
}

// toWireError converts any error into a coded wire error, keeping the code
// of the first WireError in its chain.
func toWireError(err error) *WireError {
	if err == nil {
		return nil
	}
	var wire *WireError
	if errors.As(err, &wire) {
		if wire.Message == err.Error() {
			return wire
		}
		return &WireError{Code: wire.Code, Message: err.Error(), Data: wire.Data}
	}
	return &WireError{Code: ErrUnknown.Code, Message: err.Error()}
}
