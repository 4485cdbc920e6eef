package codec

import (
	"testing"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type binaryPayload struct {
	Value string
}

func (p binaryPayload) MarshalBinary() ([]byte, error) {
	return []byte(p.Value), nil
}

func (p *binaryPayload) UnmarshalBinary(b []byte) error {
	p.Value = string(b)
	return nil
}

func TestJSONCodec(t *testing.T) {
	in := payload{Name: "order", Count: 2}
	b, err := JSON.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out payload
	if err := JSON.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestBinaryCodec(t *testing.T) {
	b, err := Binary.Marshal(binaryPayload{Value: "hello"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out binaryPayload
	if err := Binary.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Value != "hello" {
		t.Errorf("round trip = %q, want hello", out.Value)
	}

	if _, err := Binary.Marshal(payload{}); err == nil {
		t.Error("marshal of non-BinaryMarshaler succeeded")
	}
	if err := Binary.Unmarshal(b, &payload{}); err == nil {
		t.Error("unmarshal into non-BinaryUnmarshaler succeeded")
	}
}

func TestBytesCodec(t *testing.T) {
	in := []byte("raw")
	b, err := Bytes.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out []byte
	if err := Bytes.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(out) != "raw" {
		t.Errorf("round trip = %q, want raw", out)
	}

	if _, err := Bytes.Marshal(42); err == nil {
		t.Error("marshal of non-bytes succeeded")
	}
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{"json", "binary", "bytes"} {
		if _, ok := Get(name); !ok {
			t.Errorf("built-in codec %q not registered", name)
		}
	}
	if _, ok := Get("protobuf"); ok {
		t.Error("unregistered codec found")
	}

	Register("custom", JSON)
	c, ok := Get("custom")
	if !ok || c != Codec(JSON) {
		t.Error("registered codec not returned")
	}
}
