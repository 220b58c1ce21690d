package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"peer-rpc/rpcerr"
)

func TestEncodeDecode(t *testing.T) {
	frame := Frame{
		Header: []byte("header bytes"),
		Body:   []byte("hello world"),
	}

	var buf bytes.Buffer
	if err := Encode(&buf, KindData, frame); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != PrefixSize+len(frame.Header)+len(frame.Body) {
		t.Fatalf("encoded size = %d, want %d", buf.Len(), PrefixSize+len(frame.Header)+len(frame.Body))
	}

	kind, decoded, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if kind != KindData {
		t.Errorf("Kind mismatch: got %d, want %d", kind, KindData)
	}
	if !bytes.Equal(decoded.Header, frame.Header) {
		t.Errorf("Header mismatch: got %q, want %q", decoded.Header, frame.Header)
	}
	if !bytes.Equal(decoded.Body, frame.Body) {
		t.Errorf("Body mismatch: got %q, want %q", decoded.Body, frame.Body)
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, Version, byte(KindData), 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 1})
	buf.Write([]byte("ab"))

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("Expected error for invalid magic number, but got nil")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("invalid magic number")) {
		t.Errorf("Error message should contain 'invalid magic number', instead: %v", err)
	}
}

func TestDecodeInvalidVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{MagicNumber, MagicByte2, MagicByte3, 0xFF, byte(KindData), 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("Expected error for bad version, but got nil")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("unsupported version")) {
		t.Errorf("Error message should contain 'unsupported version', instead: %v", err)
	}
}

func TestDecodeHeartbeat(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, KindHeartbeat, Frame{}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	kind, f, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if kind != KindHeartbeat {
		t.Errorf("Kind mismatch: got %d, want %d", kind, KindHeartbeat)
	}
	if len(f.Header) != 0 || len(f.Body) != 0 {
		t.Errorf("Expected empty segments, got header=%d body=%d", len(f.Header), len(f.Body))
	}
}

func TestDecodeOversizedSegment(t *testing.T) {
	old := MaxSegmentSize
	MaxSegmentSize = 8
	defer func() { MaxSegmentSize = old }()

	// 手工构造前缀，Encode 不会写出超长的段
	prefix := make([]byte, PrefixSize)
	prefix[0], prefix[1], prefix[2], prefix[3] = MagicNumber, MagicByte2, MagicByte3, Version
	binary.BigEndian.PutUint32(prefix[8:12], 1)
	binary.BigEndian.PutUint32(prefix[12:16], 64)
	data := append(prefix, make([]byte, 65)...)

	if _, _, err := Decode(bytes.NewReader(data)); !errors.Is(err, rpcerr.ErrProtocol) {
		t.Fatalf("Expected protocol error for oversized body, got %v", err)
	}
}

func TestEncodeOversizedSegment(t *testing.T) {
	old := MaxSegmentSize
	MaxSegmentSize = 8
	defer func() { MaxSegmentSize = old }()

	for _, f := range []Frame{
		{Header: []byte("h"), Body: make([]byte, 64)},
		{Header: make([]byte, 9), Body: nil},
	} {
		var buf bytes.Buffer
		if err := Encode(&buf, KindData, f); !errors.Is(err, rpcerr.ErrProtocol) {
			t.Fatalf("Expected protocol error, got %v", err)
		}
		if buf.Len() != 0 {
			t.Fatalf("nothing may be written for a rejected frame, got %d bytes", buf.Len())
		}
		if _, err := Marshal(f); !errors.Is(err, rpcerr.ErrProtocol) {
			t.Fatalf("Marshal: expected protocol error, got %v", err)
		}
	}

	// 边界值可以通过
	var buf bytes.Buffer
	if err := Encode(&buf, KindData, Frame{Header: make([]byte, 8), Body: make([]byte, 8)}); err != nil {
		t.Fatalf("Encode at the limit failed: %v", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	data, err := Marshal(Frame{Header: []byte("head"), Body: []byte("body")})
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = Decode(bytes.NewReader(data[:len(data)-2]))
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("expect io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestDecodeLargeBody(t *testing.T) {
	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, KindData, Frame{Header: []byte{0x80}, Body: largeBody}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	_, f, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(f.Body, largeBody) {
		t.Errorf("large body mismatch")
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	in := Frame{Header: []byte{1, 2, 3}, Body: []byte{4, 5}}
	data, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !bytes.Equal(out.Header, in.Header) || !bytes.Equal(out.Body, in.Body) {
		t.Fatalf("got %+v, want %+v", out, in)
	}

	if _, err := Unmarshal(append(data, 0xff)); err == nil {
		t.Fatal("expect error for trailing bytes")
	}
}
