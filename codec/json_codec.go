package codec

import (
	"encoding/json"
)

// JSONCodec uses Go's standard library encoding/json for body values.
// Human-readable and language-neutral; numbers decode as float64 when the
// target is an interface.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
