package codec

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/tinylib/msgp/msgp"

	"peer-rpc/message"
	"peer-rpc/protocol"
	"peer-rpc/rpcerr"
)

func sampleMessages() []*message.RPCMessage {
	req := message.NewFunction("add", "client-7", 1, []any{float64(2), float64(3)})
	return []*message.RPCMessage{
		req,
		message.NewFunction("noargs", "", 0, nil),
		message.NewStream("upload", "s", 9, message.StreamMetadata{ResourceName: "blob.bin", Length: 4}, []byte{1, 2, 3, 4}),
		message.Result(req, map[string]any{"result": float64(5)}),
		{Type: message.TypeFailure, Method: "add", OrderKey: "client-7", SeqID: 1,
			Metadata: message.ErrorMetadata{Name: "ValueError", Traceback: "bad input\n\tadd.go:10"}},
		{Type: message.TypeError, Method: "add", OrderKey: "client-7", SeqID: 1,
			Metadata: message.ErrorMetadata{Name: "HandlerNotFound", Traceback: "tb"}, Body: []byte("raw detail")},
		message.Cancel(req),
	}
}

func assertSameMessage(t *testing.T, got, want *message.RPCMessage) {
	t.Helper()
	if got.Type != want.Type || got.ID() != want.ID() {
		t.Fatalf("envelope mismatch: got %s, want %s", got, want)
	}
	if got.Metadata != want.Metadata {
		t.Fatalf("%s metadata: got %#v, want %#v", want.Type, got.Metadata, want.Metadata)
	}
	if want.Type.HasSerializedBody() {
		if !reflect.DeepEqual(got.Body, want.Body) {
			t.Fatalf("%s body: got %#v, want %#v", want.Type, got.Body, want.Body)
		}
		return
	}
	wb, _ := want.Body.([]byte)
	gb, _ := got.Body.([]byte)
	if !bytes.Equal(gb, wb) {
		t.Fatalf("%s body: got %x, want %x", want.Type, gb, wb)
	}
}

func TestWireRoundTrip(t *testing.T) {
	w := NewWire(&JSONCodec{})
	for _, compress := range []bool{false, true} {
		for _, msg := range sampleMessages() {
			f, err := w.Encode(msg, compress)
			if err != nil {
				t.Fatalf("encode %s (zip=%v): %v", msg, compress, err)
			}
			got, err := w.Decode(f)
			if err != nil {
				t.Fatalf("decode %s (zip=%v): %v", msg, compress, err)
			}
			assertSameMessage(t, got, msg)
		}
	}
}

// 空字节体与 nil 体在往返后保持区分
func TestWireEmptyBytesRoundTrip(t *testing.T) {
	cases := []struct {
		wire *Wire
		msg  *message.RPCMessage
	}{
		{NewWire(&JSONCodec{}), message.NewStream("upload", "", 1, message.StreamMetadata{ResourceName: "empty.bin"}, []byte{})},
		{NewWire(&JSONCodec{}), message.NewStream("upload", "", 2, message.StreamMetadata{ResourceName: "none"}, nil)},
		{NewWire(&RawCodec{}), message.NewFunction("put", "", 3, []byte{})},
		{NewWire(&RawCodec{}), message.NewFunction("put", "", 4, []byte("x"))},
	}
	for _, c := range cases {
		for _, compress := range []bool{false, true} {
			f, err := c.wire.Encode(c.msg, compress)
			if err != nil {
				t.Fatalf("encode %s: %v", c.msg, err)
			}
			got, err := c.wire.Decode(f)
			if err != nil {
				t.Fatalf("decode %s: %v", c.msg, err)
			}
			want, _ := c.msg.Body.([]byte)
			gb, ok := got.Body.([]byte)
			if want == nil {
				if got.Body != nil {
					t.Fatalf("%s: expect nil body, got %#v", c.msg, got.Body)
				}
				continue
			}
			if !ok || gb == nil || !bytes.Equal(gb, want) {
				t.Fatalf("%s (zip=%v): got %#v, want %#v", c.msg, compress, got.Body, want)
			}
		}
	}
}

func TestWireHeaderLayout(t *testing.T) {
	w := NewWire(&JSONCodec{})
	f, err := w.Encode(message.NewFunction("echo", "k", 77, "hi"), true)
	if err != nil {
		t.Fatal(err)
	}

	h, err := DecodeHeader(f.Header)
	if err != nil {
		t.Fatal(err)
	}
	want := Header{Type: message.TypeFunction, Method: "echo", OrderKey: "k", SeqID: 77, Zip: true}
	if h != want {
		t.Fatalf("header = %+v, want %+v", h, want)
	}

	// header is a plain five-entry msgpack map even when the body is compressed
	if f.Header[0] != 0x85 {
		t.Fatalf("expect fixmap(5) header, got %#x", f.Header[0])
	}
	if _, _, err := msgp.ReadMapHeaderBytes(f.Body); err == nil {
		t.Fatal("compressed body should not parse as a msgpack map")
	}
}

func TestWireCompressionUnavailable(t *testing.T) {
	w := NewWire(&JSONCodec{})
	w.Compressor = nil

	msg := message.NewFunction("add", "", 1, []int{2, 3})
	if _, err := w.Encode(msg, true); !errors.Is(err, rpcerr.ErrConfiguration) {
		t.Fatalf("expect ErrConfiguration, got %v", err)
	}

	// uncompressed traffic still works without a compressor
	f, err := w.Encode(msg, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Decode(f); err != nil {
		t.Fatal(err)
	}

	zipped, err := NewWire(&JSONCodec{}).Encode(msg, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Decode(zipped); !errors.Is(err, rpcerr.ErrConfiguration) {
		t.Fatalf("expect ErrConfiguration decoding zipped frame, got %v", err)
	}
}

func TestWireRejectsMismatchedMetadata(t *testing.T) {
	w := NewWire(&JSONCodec{})
	cases := []*message.RPCMessage{
		{Type: message.TypeResult, Method: "m", Metadata: message.StreamMetadata{ResourceName: "x"}},
		{Type: message.TypeCancel, Method: "m", Metadata: message.ErrorMetadata{}},
		{Type: message.TypeFunction, Method: "m", Metadata: message.ResultMetadata{}},
	}
	for _, msg := range cases {
		if _, err := w.Encode(msg, false); !errors.Is(err, rpcerr.ErrMetadataMismatch) {
			t.Fatalf("%s with %T: expect ErrMetadataMismatch, got %v", msg.Type, msg.Metadata, err)
		}
	}
}

func TestWireRejectsBadBodies(t *testing.T) {
	w := NewWire(&JSONCodec{})
	msg := &message.RPCMessage{Type: message.TypeStream, Method: "s", Metadata: message.StreamMetadata{}, Body: "not bytes"}
	if _, err := w.Encode(msg, false); !errors.Is(err, rpcerr.ErrProtocol) {
		t.Fatalf("expect ErrProtocol, got %v", err)
	}

	bad := message.NewFunction("f", "", 1, make(chan int))
	if _, err := w.Encode(bad, false); err == nil {
		t.Fatal("expect serializer error for a channel body")
	}

	if _, err := w.Encode(&message.RPCMessage{Type: message.RPCMessageType(9)}, false); !errors.Is(err, rpcerr.ErrProtocol) {
		t.Fatalf("expect ErrProtocol for unknown type, got %v", err)
	}
}

func TestDecodeNilMetadataNormalizes(t *testing.T) {
	w := NewWire(&JSONCodec{})
	msg := &message.RPCMessage{Type: message.TypeError, Method: "m", SeqID: 3}
	f, err := w.Encode(msg, false)
	if err != nil {
		t.Fatal(err)
	}
	got, err := w.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata != (message.ErrorMetadata{}) {
		t.Fatalf("expect empty ErrorMetadata, got %#v", got.Metadata)
	}
	if got.Body != nil {
		t.Fatalf("expect nil body, got %#v", got.Body)
	}
}

func TestDecodeHeaderErrors(t *testing.T) {
	noType := msgp.AppendMapHeader(nil, 1)
	noType = msgp.AppendString(noType, "meth")
	noType = msgp.AppendString(noType, "x")
	if _, err := DecodeHeader(noType); !errors.Is(err, rpcerr.ErrProtocol) {
		t.Fatalf("expect ErrProtocol for missing type, got %v", err)
	}

	badType := EncodeHeader(Header{Type: message.RPCMessageType(42)})
	if _, err := DecodeHeader(badType); !errors.Is(err, rpcerr.ErrProtocol) {
		t.Fatalf("expect ErrProtocol for unknown type, got %v", err)
	}

	if _, err := DecodeHeader([]byte{0xc1}); !errors.Is(err, rpcerr.ErrProtocol) {
		t.Fatalf("expect ErrProtocol for garbage, got %v", err)
	}
}

func TestDecodeHeaderSkipsUnknownKeys(t *testing.T) {
	b := msgp.AppendMapHeader(nil, 3)
	b = msgp.AppendString(b, "type")
	b = msgp.AppendInt(b, int(message.TypeResult))
	b = msgp.AppendString(b, "trace")
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendInt(b, 1)
	b = msgp.AppendString(b, "x")
	b = msgp.AppendString(b, "seq")
	b = msgp.AppendUint64(b, 12)

	h, err := DecodeHeader(b)
	if err != nil {
		t.Fatal(err)
	}
	if h.Type != message.TypeResult || h.SeqID != 12 {
		t.Fatalf("got %+v", h)
	}
}

func TestDecodeCorruptBody(t *testing.T) {
	w := NewWire(&JSONCodec{})
	f, err := w.Encode(message.NewFunction("add", "", 1, 1), false)
	if err != nil {
		t.Fatal(err)
	}
	corrupt := protocol.Frame{Header: f.Header, Body: []byte{0x82, 0xa4}}
	if _, err := w.Decode(corrupt); !errors.Is(err, rpcerr.ErrProtocol) {
		t.Fatalf("expect ErrProtocol, got %v", err)
	}
}

func BenchmarkWireEncodeDecode(b *testing.B) {
	w := NewWire(&JSONCodec{})
	msg := message.NewFunction("Arith.Add", "", 1, map[string]int{"A": 1, "B": 2})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f, _ := w.Encode(msg, false)
		w.Decode(f)
	}
}

func BenchmarkWireEncodeDecodeCompressed(b *testing.B) {
	w := NewWire(&JSONCodec{})
	msg := message.NewFunction("Arith.Add", "", 1, map[string]int{"A": 1, "B": 2})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f, _ := w.Encode(msg, true)
		w.Decode(f)
	}
}
