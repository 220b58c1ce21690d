package codec

import (
	"bytes"

	"github.com/pkg/errors"
)

// RawCodec passes []byte bodies through untouched, for peers that exchange
// pre-encoded payloads. Strings are accepted on encode; nil encodes as empty.
type RawCodec struct{}

func (c *RawCodec) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	return nil, errors.Errorf("RawCodec: cannot encode %T, want []byte", v)
}

func (c *RawCodec) Decode(data []byte, v any) error {
	switch out := v.(type) {
	case *[]byte:
		*out = bytes.Clone(data)
	case *any:
		*out = bytes.Clone(data)
	default:
		return errors.Errorf("RawCodec: cannot decode into %T, want *[]byte", v)
	}
	return nil
}

func (c *RawCodec) Type() CodecType {
	return CodecTypeRaw
}
