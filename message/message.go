package message

import "fmt"

// RPCMessage is the envelope for every request, reply, stream chunk and
// cancellation.
//
//   - Method, OrderKey and SeqID are echoed verbatim in replies; together they
//     form the RequestID used to match a reply to its request.
//   - Body is a deserialized value for FUNCTION and RESULT, and raw []byte (or
//     nil) for every other type.
//
// Messages are built once per send or receive and never mutated.
type RPCMessage struct {
	Type     RPCMessageType
	Method   string
	OrderKey string
	SeqID    uint64
	Metadata Metadata
	Body     any
}

// RequestID correlates a reply with its outstanding request.
type RequestID struct {
	Method   string
	OrderKey string
	SeqID    uint64
}

func (id RequestID) String() string {
	return fmt.Sprintf("%s[%s]#%d", id.Method, id.OrderKey, id.SeqID)
}

// ID returns the message's correlation key.
func (m *RPCMessage) ID() RequestID {
	return RequestID{Method: m.Method, OrderKey: m.OrderKey, SeqID: m.SeqID}
}

func (m *RPCMessage) String() string {
	return fmt.Sprintf("%s %s", m.Type, m.ID())
}

// NewFunction builds a FUNCTION request.
func NewFunction(method, orderKey string, seq uint64, body any) *RPCMessage {
	return &RPCMessage{
		Type:     TypeFunction,
		Method:   method,
		OrderKey: orderKey,
		SeqID:    seq,
		Metadata: FunctionMetadata{},
		Body:     body,
	}
}

// NewStream builds a STREAM request carrying one raw chunk.
func NewStream(method, orderKey string, seq uint64, md StreamMetadata, chunk []byte) *RPCMessage {
	return &RPCMessage{
		Type:     TypeStream,
		Method:   method,
		OrderKey: orderKey,
		SeqID:    seq,
		Metadata: md,
		Body:     chunk,
	}
}

func reply(req *RPCMessage, t RPCMessageType, md Metadata, body any) *RPCMessage {
	return &RPCMessage{
		Type:     t,
		Method:   req.Method,
		OrderKey: req.OrderKey,
		SeqID:    req.SeqID,
		Metadata: md,
		Body:     body,
	}
}

// Result builds the RESULT reply to req.
func Result(req *RPCMessage, body any) *RPCMessage {
	return reply(req, TypeResult, ResultMetadata{}, body)
}

// Failure builds the FAILURE reply to req for an error returned by a user
// handler.
func Failure(req *RPCMessage, cause error) *RPCMessage {
	return reply(req, TypeFailure, ErrorMetadata{Name: ErrorName(cause), Traceback: Traceback(cause)}, nil)
}

// Error builds the ERROR reply to req for an error raised by the RPC layer
// itself: serialization, dispatch or transport faults. Never use it for user
// handler errors.
func Error(req *RPCMessage, cause error) *RPCMessage {
	return reply(req, TypeError, ErrorMetadata{Name: ErrorName(cause), Traceback: Traceback(cause)}, nil)
}

// Cancel builds the CANCEL message abandoning req.
func Cancel(req *RPCMessage) *RPCMessage {
	return reply(req, TypeCancel, NullMetadata{}, nil)
}

// CancelID builds a CANCEL message from a bare correlation key.
func CancelID(id RequestID) *RPCMessage {
	return Cancel(&RPCMessage{Method: id.Method, OrderKey: id.OrderKey, SeqID: id.SeqID})
}
