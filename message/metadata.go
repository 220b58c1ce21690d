package message

import (
	"reflect"

	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"

	"peer-rpc/rpcerr"
)

// Metadata is the small per-type record attached to a message. The set of
// variants is closed: FunctionMetadata, StreamMetadata, ResultMetadata,
// ErrorMetadata and NullMetadata.
//
// Variants encode their fields positionally, in declaration order, as a
// msgpack array. Field-less variants encode to zero bytes.
type Metadata interface {
	fieldCount() int
	appendFields(b []byte) []byte
	readFields(b []byte) (Metadata, []byte, error)
}

type FunctionMetadata struct{}

type ResultMetadata struct{}

// StreamMetadata describes one stream chunk.
type StreamMetadata struct {
	ResourceName string
	Length       int64
}

// ErrorMetadata is shared by FAILURE and ERROR replies.
type ErrorMetadata struct {
	Name      string
	Traceback string
}

// NullMetadata is carried by CANCEL.
type NullMetadata struct{}

func (FunctionMetadata) fieldCount() int             { return 0 }
func (FunctionMetadata) appendFields(b []byte) []byte { return b }
func (m FunctionMetadata) readFields(b []byte) (Metadata, []byte, error) {
	return m, b, nil
}

func (ResultMetadata) fieldCount() int             { return 0 }
func (ResultMetadata) appendFields(b []byte) []byte { return b }
func (m ResultMetadata) readFields(b []byte) (Metadata, []byte, error) {
	return m, b, nil
}

func (NullMetadata) fieldCount() int             { return 0 }
func (NullMetadata) appendFields(b []byte) []byte { return b }
func (m NullMetadata) readFields(b []byte) (Metadata, []byte, error) {
	return m, b, nil
}

func (StreamMetadata) fieldCount() int { return 2 }

func (m StreamMetadata) appendFields(b []byte) []byte {
	b = msgp.AppendString(b, m.ResourceName)
	return msgp.AppendInt64(b, m.Length)
}

func (StreamMetadata) readFields(b []byte) (Metadata, []byte, error) {
	var m StreamMetadata
	var err error
	if m.ResourceName, b, err = msgp.ReadStringBytes(b); err != nil {
		return nil, b, errors.Wrap(err, "resource_name")
	}
	if m.Length, b, err = msgp.ReadInt64Bytes(b); err != nil {
		return nil, b, errors.Wrap(err, "length")
	}
	return m, b, nil
}

func (ErrorMetadata) fieldCount() int { return 2 }

func (m ErrorMetadata) appendFields(b []byte) []byte {
	b = msgp.AppendString(b, m.Name)
	return msgp.AppendString(b, m.Traceback)
}

func (ErrorMetadata) readFields(b []byte) (Metadata, []byte, error) {
	var m ErrorMetadata
	var err error
	if m.Name, b, err = msgp.ReadStringBytes(b); err != nil {
		return nil, b, errors.Wrap(err, "name")
	}
	if m.Traceback, b, err = msgp.ReadStringBytes(b); err != nil {
		return nil, b, errors.Wrap(err, "traceback")
	}
	return m, b, nil
}

// MetadataFor returns the empty variant bound to t. FAILURE and ERROR share
// ErrorMetadata but remain distinct message types.
func MetadataFor(t RPCMessageType) (Metadata, error) {
	switch t {
	case TypeFunction:
		return FunctionMetadata{}, nil
	case TypeStream:
		return StreamMetadata{}, nil
	case TypeResult:
		return ResultMetadata{}, nil
	case TypeFailure, TypeError:
		return ErrorMetadata{}, nil
	case TypeCancel:
		return NullMetadata{}, nil
	}
	return nil, errors.Wrapf(rpcerr.ErrProtocol, "unknown message type %d", int(t))
}

// Matches reports whether md is the variant bound to t. A nil md always
// matches.
func Matches(t RPCMessageType, md Metadata) bool {
	if md == nil {
		return true
	}
	want, err := MetadataFor(t)
	if err != nil {
		return false
	}
	return reflect.TypeOf(md) == reflect.TypeOf(want)
}

// EncodeMetadata returns the positional encoding of md. Nil and field-less
// variants produce zero bytes.
func EncodeMetadata(md Metadata) []byte {
	if md == nil || md.fieldCount() == 0 {
		return nil
	}
	b := msgp.AppendArrayHeader(nil, uint32(md.fieldCount()))
	return md.appendFields(b)
}

// DecodeMetadata rebuilds the variant bound to t from its positional
// encoding. An empty buffer yields the zero-valued variant.
func DecodeMetadata(t RPCMessageType, b []byte) (Metadata, error) {
	md, err := MetadataFor(t)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return md, nil
	}

	sz, rest, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, errors.Wrapf(rpcerr.ErrProtocol, "%s metadata: %v", t, err)
	}
	if int(sz) != md.fieldCount() {
		return nil, errors.Wrapf(rpcerr.ErrProtocol, "%s metadata: expected %d fields, got %d", t, md.fieldCount(), sz)
	}
	md, rest, err = md.readFields(rest)
	if err != nil {
		return nil, errors.Wrapf(rpcerr.ErrProtocol, "%s metadata: %v", t, err)
	}
	if len(rest) != 0 {
		return nil, errors.Wrapf(rpcerr.ErrProtocol, "%s metadata: %d trailing bytes", t, len(rest))
	}
	return md, nil
}
