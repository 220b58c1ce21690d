// Package codec converts RPC messages to and from wire frames.
//
// Two layers live here:
//
//   - value codecs (Codec) turn user-level arguments and return values into
//     bytes; they are supplied per peer and only touch FUNCTION and RESULT
//     bodies;
//   - the wire codec (Wire) builds the msgpack header and {meta, body} blob,
//     optionally compressing the blob.
package codec

import "github.com/pkg/errors"

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
	CodecTypeRaw  CodecType = 1
)

// Codec serializes user-level values.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Raw
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeRaw {
		return &RawCodec{}
	}

	return &JSONCodec{}
}

// Serializer turns a body value into bytes.
type Serializer func(v any) ([]byte, error)

// Deserializer turns bytes back into a body value.
type Deserializer func(data []byte) (any, error)

// SerializerOf adapts c to a Serializer.
func SerializerOf(c Codec) Serializer {
	return func(v any) ([]byte, error) {
		b, err := c.Encode(v)
		return b, errors.Wrap(err, "serialize body")
	}
}

// DeserializerOf adapts c to a Deserializer producing c's generic
// representation (e.g. map[string]any for JSON).
func DeserializerOf(c Codec) Deserializer {
	return func(data []byte) (any, error) {
		if c.Type() == CodecTypeRaw {
			var b []byte
			err := c.Decode(data, &b)
			return b, errors.Wrap(err, "deserialize body")
		}
		var v any
		if err := c.Decode(data, &v); err != nil {
			return nil, errors.Wrap(err, "deserialize body")
		}
		return v, nil
	}
}
