package codec

import (
	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"

	"peer-rpc/message"
	"peer-rpc/protocol"
	"peer-rpc/rpcerr"
)

// Header field names, part of the wire format.
const (
	keyType     = "type"
	keyMethod   = "meth"
	keyOrderKey = "okey"
	keySeq      = "seq"
	keyZip      = "zip"
	keyMeta     = "meta"
	keyBody     = "body"
)

// Header is the decoded first segment of a frame. It is never compressed.
type Header struct {
	Type     message.RPCMessageType
	Method   string
	OrderKey string
	SeqID    uint64
	Zip      bool
}

// ID returns the correlation key carried by the header.
func (h Header) ID() message.RequestID {
	return message.RequestID{Method: h.Method, OrderKey: h.OrderKey, SeqID: h.SeqID}
}

// Wire encodes and decodes RPC messages. Serialize and Deserialize apply to
// FUNCTION and RESULT bodies only. A nil Compressor means compression is
// unavailable.
type Wire struct {
	Serialize   Serializer
	Deserialize Deserializer
	Compressor  Compressor
}

// NewWire builds a Wire around the value codec c with snappy compression.
func NewWire(c Codec) *Wire {
	return &Wire{
		Serialize:   SerializerOf(c),
		Deserialize: DeserializerOf(c),
		Compressor:  Snappy{},
	}
}

// Encode converts msg into a frame. Either a complete frame is returned or an
// error; compress without a Compressor fails with rpcerr.ErrConfiguration.
func (w *Wire) Encode(msg *message.RPCMessage, compress bool) (protocol.Frame, error) {
	if !msg.Type.Valid() {
		return protocol.Frame{}, errors.Wrapf(rpcerr.ErrProtocol, "encode: unknown message type %d", int(msg.Type))
	}
	if !message.Matches(msg.Type, msg.Metadata) {
		return protocol.Frame{}, errors.Wrapf(rpcerr.ErrMetadataMismatch, "encode %s: got %T", msg.Type, msg.Metadata)
	}
	if compress && w.Compressor == nil {
		return protocol.Frame{}, errors.Wrap(rpcerr.ErrConfiguration, "encode: compression requested but no compressor is available")
	}

	meta := message.EncodeMetadata(msg.Metadata)

	var payload []byte
	if msg.Type.HasSerializedBody() {
		if w.Serialize == nil {
			return protocol.Frame{}, errors.Wrap(rpcerr.ErrConfiguration, "encode: no serializer")
		}
		b, err := w.Serialize(msg.Body)
		if err != nil {
			return protocol.Frame{}, errors.Wrapf(err, "encode %s", msg)
		}
		payload = b
	} else {
		switch b := msg.Body.(type) {
		case nil:
		case []byte:
			payload = b
		default:
			return protocol.Frame{}, errors.Wrapf(rpcerr.ErrProtocol, "encode %s: body must be []byte, got %T", msg.Type, msg.Body)
		}
	}

	blob := msgp.AppendMapHeader(nil, 2)
	blob = msgp.AppendString(blob, keyMeta)
	blob = msgp.AppendBytes(blob, meta)
	blob = msgp.AppendString(blob, keyBody)
	if payload == nil {
		blob = msgp.AppendNil(blob)
	} else {
		blob = msgp.AppendBytes(blob, payload)
	}

	if compress {
		zipped, err := w.Compressor.Compress(blob)
		if err != nil {
			return protocol.Frame{}, errors.Wrapf(err, "encode %s: %s", msg, w.Compressor.Name())
		}
		blob = zipped
	}

	header := EncodeHeader(Header{
		Type:     msg.Type,
		Method:   msg.Method,
		OrderKey: msg.OrderKey,
		SeqID:    msg.SeqID,
		Zip:      compress,
	})
	return protocol.Frame{Header: header, Body: blob}, nil
}

// Decode is the inverse of Encode.
func (w *Wire) Decode(f protocol.Frame) (*message.RPCMessage, error) {
	h, err := DecodeHeader(f.Header)
	if err != nil {
		return nil, err
	}
	return w.DecodeBody(h, f.Body)
}

// DecodeBody rebuilds a message from an already decoded header. Split from
// Decode so a caller can still reply to a request whose body is corrupt.
func (w *Wire) DecodeBody(h Header, data []byte) (*message.RPCMessage, error) {
	if h.Zip {
		if w.Compressor == nil {
			return nil, errors.Wrap(rpcerr.ErrConfiguration, "decode: compressed frame but no compressor is available")
		}
		plain, err := w.Compressor.Decompress(data)
		if err != nil {
			return nil, errors.Wrapf(rpcerr.ErrProtocol, "decode: %v", err)
		}
		data = plain
	}

	var meta, payload []byte
	sz, data, err := msgp.ReadMapHeaderBytes(data)
	if err != nil {
		return nil, errors.Wrapf(rpcerr.ErrProtocol, "decode body: %v", err)
	}
	for i := uint32(0); i < sz; i++ {
		var key []byte
		key, data, err = msgp.ReadMapKeyZC(data)
		if err != nil {
			return nil, errors.Wrapf(rpcerr.ErrProtocol, "decode body: %v", err)
		}
		switch msgp.UnsafeString(key) {
		case keyMeta:
			meta, data, err = msgp.ReadBytesBytes(data, nil)
		case keyBody:
			if msgp.IsNil(data) {
				payload = nil
				data, err = msgp.ReadNilBytes(data)
			} else {
				payload, data, err = msgp.ReadBytesBytes(data, nil)
				if err == nil && payload == nil {
					// a present but empty bin stays distinct from nil
					payload = []byte{}
				}
			}
		default:
			data, err = msgp.Skip(data)
		}
		if err != nil {
			return nil, errors.Wrapf(rpcerr.ErrProtocol, "decode body field %q: %v", key, err)
		}
	}

	md, err := message.DecodeMetadata(h.Type, meta)
	if err != nil {
		return nil, err
	}

	msg := &message.RPCMessage{
		Type:     h.Type,
		Method:   h.Method,
		OrderKey: h.OrderKey,
		SeqID:    h.SeqID,
		Metadata: md,
	}
	if h.Type.HasSerializedBody() {
		if payload != nil {
			if w.Deserialize == nil {
				return nil, errors.Wrap(rpcerr.ErrConfiguration, "decode: no deserializer")
			}
			v, err := w.Deserialize(payload)
			if err != nil {
				return nil, errors.Wrapf(err, "decode %s", msg)
			}
			msg.Body = v
		}
	} else if payload != nil {
		msg.Body = payload
	}
	return msg, nil
}

// EncodeHeader builds the header segment: a msgpack map
// {type, meth, okey, seq, zip}.
func EncodeHeader(h Header) []byte {
	b := msgp.AppendMapHeader(nil, 5)
	b = msgp.AppendString(b, keyType)
	b = msgp.AppendInt(b, int(h.Type))
	b = msgp.AppendString(b, keyMethod)
	b = msgp.AppendString(b, h.Method)
	b = msgp.AppendString(b, keyOrderKey)
	b = msgp.AppendString(b, h.OrderKey)
	b = msgp.AppendString(b, keySeq)
	b = msgp.AppendUint64(b, h.SeqID)
	b = msgp.AppendString(b, keyZip)
	return msgp.AppendBool(b, h.Zip)
}

// DecodeHeader parses a header segment. Unknown keys are skipped; a missing or
// unknown type is a protocol error.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return h, errors.Wrapf(rpcerr.ErrProtocol, "decode header: %v", err)
	}

	hasType := false
	for i := uint32(0); i < sz; i++ {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return h, errors.Wrapf(rpcerr.ErrProtocol, "decode header: %v", err)
		}
		switch msgp.UnsafeString(key) {
		case keyType:
			var t int
			t, b, err = msgp.ReadIntBytes(b)
			h.Type = message.RPCMessageType(t)
			hasType = true
		case keyMethod:
			h.Method, b, err = msgp.ReadStringBytes(b)
		case keyOrderKey:
			h.OrderKey, b, err = msgp.ReadStringBytes(b)
		case keySeq:
			h.SeqID, b, err = msgp.ReadUint64Bytes(b)
		case keyZip:
			h.Zip, b, err = msgp.ReadBoolBytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return h, errors.Wrapf(rpcerr.ErrProtocol, "decode header field %q: %v", key, err)
		}
	}

	if !hasType {
		return h, errors.Wrap(rpcerr.ErrProtocol, "decode header: missing type")
	}
	if !h.Type.Valid() {
		return h, errors.Wrapf(rpcerr.ErrProtocol, "decode header: unknown message type %d", int(h.Type))
	}
	return h, nil
}
