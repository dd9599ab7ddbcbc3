// Package channel provides the opaque bidirectional channel the session
// core speaks over: RPC request/response correlation, broadcast fan-in, a
// websocket transport and an in-memory loopback transport backed by a local
// authority.
package channel

import "github.com/fxamacker/cbor/v2"

// RPCRequest is one client request on the channel.
type RPCRequest struct {
	ID     string `cbor:"id"`
	Method string `cbor:"method,omitempty"`
	Params []any  `cbor:"params,omitempty"`
}

// RPCError is an authoritative rejection.
type RPCError struct {
	Code    int    `cbor:"code"`
	Message string `cbor:"message,omitempty"`
}

func (r *RPCError) Error() string {
	return r.Message
}

func (r *RPCError) Is(target error) bool {
	if target == nil {
		return r == nil
	}
	_, ok := target.(*RPCError)
	return ok
}

// Error codes carried by authoritative rejections.
const (
	CodeValidation = 400
	CodePermission = 403
	CodeStale      = 404
	CodeInternal   = 500
)

// RPCResponse correlates to a request by ID. Result stays raw until the
// caller names a destination type.
type RPCResponse[T any] struct {
	ID     string    `cbor:"id"`
	Error  *RPCError `cbor:"error,omitempty"`
	Result *T        `cbor:"result,omitempty"`
}

// Notification is a peer broadcast: an operation applied elsewhere that
// this client must replay. Responses carry a request ID; notifications
// carry none.
type Notification struct {
	Method  string          `cbor:"method"`
	Type    string          `cbor:"type,omitempty"`
	Payload cbor.RawMessage `cbor:"payload,omitempty"`
}

// inboundFrame is the decoded superset of response and notification
// envelopes; an empty ID marks a notification.
type inboundFrame struct {
	ID      string          `cbor:"id,omitempty"`
	Error   *RPCError       `cbor:"error,omitempty"`
	Result  cbor.RawMessage `cbor:"result,omitempty"`
	Method  string          `cbor:"method,omitempty"`
	Type    string          `cbor:"type,omitempty"`
	Payload cbor.RawMessage `cbor:"payload,omitempty"`
}
