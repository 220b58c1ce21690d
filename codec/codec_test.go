package codec

import (
	"bytes"
	"testing"
)

func TestJSONCodec(t *testing.T) {
	jsonCodec := &JSONCodec{}

	data, err := jsonCodec.Encode(map[string]int{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}

	var decoded map[string]int
	if err := jsonCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("JSONCodec Decode failed: %v", err)
	}
	if decoded["a"] != 1 || decoded["b"] != 2 {
		t.Errorf("decoded mismatch: got %v", decoded)
	}
}

func TestRawCodec(t *testing.T) {
	rawCodec := &RawCodec{}

	data, err := rawCodec.Encode([]byte{0xde, 0xad})
	if err != nil {
		t.Fatalf("RawCodec Encode failed: %v", err)
	}
	var out []byte
	if err := rawCodec.Decode(data, &out); err != nil {
		t.Fatalf("RawCodec Decode failed: %v", err)
	}
	if !bytes.Equal(out, []byte{0xde, 0xad}) {
		t.Errorf("payload mismatch: got %x", out)
	}

	if _, err := rawCodec.Encode(42); err == nil {
		t.Error("expect error encoding an int with RawCodec")
	}
	if err := rawCodec.Decode(data, new(int)); err == nil {
		t.Error("expect error decoding into *int")
	}
}

func TestGetCodec(t *testing.T) {
	if GetCodec(CodecTypeJSON).Type() != CodecTypeJSON {
		t.Error("expect JSON codec")
	}
	if GetCodec(CodecTypeRaw).Type() != CodecTypeRaw {
		t.Error("expect raw codec")
	}
}

func TestDeserializerOf(t *testing.T) {
	v, err := DeserializerOf(&JSONCodec{})([]byte(`[2,3]`))
	if err != nil {
		t.Fatal(err)
	}
	arr, ok := v.([]any)
	if !ok || len(arr) != 2 || arr[0] != float64(2) {
		t.Fatalf("got %#v", v)
	}

	raw, err := DeserializerOf(&RawCodec{})([]byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw.([]byte), []byte("abc")) {
		t.Fatalf("got %#v", raw)
	}

	if _, err := DeserializerOf(&JSONCodec{})([]byte(`{`)); err == nil {
		t.Fatal("expect error for malformed JSON")
	}
}

func TestSnappy(t *testing.T) {
	in := bytes.Repeat([]byte("compressible "), 100)
	z, err := Snappy{}.Compress(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(z) >= len(in) {
		t.Fatalf("expect compression, got %d >= %d", len(z), len(in))
	}
	out, err := Snappy{}.Decompress(z)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, in) {
		t.Fatal("snappy round trip mismatch")
	}
	if _, err := (Snappy{}).Decompress([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatal("expect error for corrupt input")
	}
}
