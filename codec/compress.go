package codec

import (
	"github.com/klauspost/compress/snappy"
	"github.com/pkg/errors"
)

// Compressor compresses the {meta, body} blob of a frame. A Wire with a nil
// Compressor has no compression available and fails compressed frames with
// rpcerr.ErrConfiguration.
type Compressor interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
	Name() string
}

// Snappy is the block-format snappy compressor.
type Snappy struct{}

func (Snappy) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (Snappy) Decompress(src []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, errors.Wrap(err, "snappy decompress")
	}
	return out, nil
}

func (Snappy) Name() string { return "snappy" }
