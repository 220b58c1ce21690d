// Package message defines the RPC envelope exchanged between peers.
//
// Every RPCMessage carries a message type, a correlation triple (method,
// order key, sequence id), an optional metadata variant selected by the type,
// and an optional body. The wire codec turns it into a protocol.Frame; the
// peer routes it by type.
package message

import "fmt"

// RPCMessageType selects how a message is routed and which metadata variant it
// carries. The numeric values are part of the wire format.
type RPCMessageType int

const (
	TypeFunction RPCMessageType = 0 // request to invoke a unary handler
	TypeStream   RPCMessageType = 1 // request to a stream handler, or a stream chunk
	TypeResult   RPCMessageType = 2 // successful reply
	TypeFailure  RPCMessageType = 3 // a user handler returned an error
	TypeError    RPCMessageType = 4 // the RPC layer itself failed
	TypeCancel   RPCMessageType = 5 // caller abandoned a request
)

var typeNames = [...]string{"FUNCTION", "STREAM", "RESULT", "FAILURE", "ERROR", "CANCEL"}

func (t RPCMessageType) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return fmt.Sprintf("RPCMessageType(%d)", int(t))
}

// Valid reports whether t is one of the six defined message types.
func (t RPCMessageType) Valid() bool {
	return t >= TypeFunction && t <= TypeCancel
}

// IsRequest reports whether t is dispatched to a handler registry.
func (t RPCMessageType) IsRequest() bool {
	return t == TypeFunction || t == TypeStream
}

// IsReply reports whether t resolves an outstanding request.
func (t RPCMessageType) IsReply() bool {
	return t == TypeResult || t == TypeFailure || t == TypeError
}

// HasSerializedBody reports whether the body goes through the value
// serializer. All other types carry raw bytes.
func (t RPCMessageType) HasSerializedBody() bool {
	return t == TypeFunction || t == TypeResult
}
