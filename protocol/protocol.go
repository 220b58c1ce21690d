// Package protocol defines the two-part frame every transport carries and the
// stream framing used to move frames over byte-stream connections.
//
// A Frame is an opaque (header, body) pair produced by the wire codec. Over a
// byte-stream connection the two segments are preceded by a fixed 16-byte
// prefix so the receiver knows where each segment ends:
//
//	0      3  4  5      8         12        16
//	┌──────┬──┬──┬──────┬─────────┬─────────┬──────────┬──────────┐
//	│magic │v │k │ rsv  │ hdrLen  │ bodyLen │  header  │   body   │
//	│ prp  │01│  │ zero │ uint32  │ uint32  │ hdrLen B │ bodyLen B│
//	└──────┴──┴──┴──────┴─────────┴─────────┴──────────┴──────────┘
package protocol

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"peer-rpc/rpcerr"
)

// Magic bytes "prp" reject non-protocol connections early.
const (
	MagicNumber byte = 0x70 // 'p'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	PrefixSize  int  = 16 // 3 (magic) + 1 (version) + 1 (kind) + 3 (reserved) + 4 (hdrLen) + 4 (bodyLen)
)

// MaxSegmentSize bounds each segment read from the wire.
var MaxSegmentSize uint32 = 16 << 20

// Kind distinguishes data frames from keepalive probes.
type Kind byte

const (
	KindData      Kind = 0
	KindHeartbeat Kind = 1
)

// Frame is the unit moved by transports: a header segment and a body segment,
// sent and received together.
type Frame struct {
	Header []byte
	Body   []byte
}

// Encode writes one prefixed frame to w. Callers sharing w across goroutines
// must serialize calls, or segments of different frames interleave. A segment
// larger than MaxSegmentSize is rejected before anything is written, since the
// receiving side would treat it as a broken stream.
func Encode(w io.Writer, kind Kind, f Frame) error {
	if uint64(len(f.Header)) > uint64(MaxSegmentSize) || uint64(len(f.Body)) > uint64(MaxSegmentSize) {
		return errors.Wrapf(rpcerr.ErrProtocol, "segment too large: header=%d body=%d", len(f.Header), len(f.Body))
	}
	buf := make([]byte, PrefixSize, PrefixSize+len(f.Header)+len(f.Body))
	buf[0], buf[1], buf[2] = MagicNumber, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = byte(kind)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(f.Header)))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(f.Body)))

	// one write per frame keeps the frame contiguous on the connection
	buf = append(buf, f.Header...)
	buf = append(buf, f.Body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads one prefixed frame from r, validating magic, version and kind.
func Decode(r io.Reader) (Kind, Frame, error) {
	prefix := make([]byte, PrefixSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return 0, Frame{}, err
	}

	if prefix[0] != MagicNumber || prefix[1] != MagicByte2 || prefix[2] != MagicByte3 {
		return 0, Frame{}, errors.Wrapf(rpcerr.ErrProtocol, "invalid magic number: %x", prefix[0:3])
	}
	if prefix[3] != Version {
		return 0, Frame{}, errors.Wrapf(rpcerr.ErrProtocol, "unsupported version: %d", prefix[3])
	}
	kind := Kind(prefix[4])
	if kind != KindData && kind != KindHeartbeat {
		return 0, Frame{}, errors.Wrapf(rpcerr.ErrProtocol, "unsupported frame kind: %d", prefix[4])
	}

	hdrLen := binary.BigEndian.Uint32(prefix[8:12])
	bodyLen := binary.BigEndian.Uint32(prefix[12:16])
	if hdrLen > MaxSegmentSize || bodyLen > MaxSegmentSize {
		return 0, Frame{}, errors.Wrapf(rpcerr.ErrProtocol, "segment too large: header=%d body=%d", hdrLen, bodyLen)
	}

	payload := make([]byte, int(hdrLen)+int(bodyLen))
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, Frame{}, err
	}
	return kind, Frame{Header: payload[:hdrLen:hdrLen], Body: payload[hdrLen:]}, nil
}

// Marshal frames f into a single byte slice, for message-oriented transports.
func Marshal(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, KindData, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is the inverse of Marshal. Trailing bytes are an error.
func Unmarshal(data []byte) (Frame, error) {
	r := bytes.NewReader(data)
	kind, f, err := Decode(r)
	if err != nil {
		return Frame{}, err
	}
	if kind != KindData {
		return Frame{}, errors.Wrapf(rpcerr.ErrProtocol, "unexpected frame kind %d", kind)
	}
	if r.Len() != 0 {
		return Frame{}, errors.Wrapf(rpcerr.ErrProtocol, "%d trailing bytes after frame", r.Len())
	}
	return f, nil
}
