// Package codec implements codecs for encoding and decoding event payloads.
// The log core treats payloads as opaque bytes; a codec is only consulted at
// the boundary, when typed events are appended or re-materialized.
package codec

import (
	"encoding"
	"encoding/json"
	"errors"
	"sync"
)

var (
	JSON   = &jsonCodec{}
	Binary = &binaryCodec{}
	Bytes  = &bytesCodec{}

	mu     sync.RWMutex
	codecs = map[string]Codec{
		"json":   JSON,
		"binary": Binary,
		"bytes":  Bytes,
	}
)

// Codec is an interface for encoding and decoding native types into bytes.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, v any) error
}

// Register registers a codec under a name.
func Register(name string, c Codec) {
	mu.Lock()
	defer mu.Unlock()
	codecs[name] = c
}

// Get gets a codec by name.
func Get(name string) (Codec, bool) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := codecs[name]
	return c, ok
}

type jsonCodec struct{}

func (*jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (*jsonCodec) Unmarshal(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

type binaryCodec struct{}

func (*binaryCodec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(encoding.BinaryMarshaler); ok {
		return m.MarshalBinary()
	}
	return nil, errors.New("codec: encoding.BinaryMarshaler required")
}

func (*binaryCodec) Unmarshal(b []byte, v any) error {
	if m, ok := v.(encoding.BinaryUnmarshaler); ok {
		return m.UnmarshalBinary(b)
	}
	return errors.New("codec: encoding.BinaryUnmarshaler required")
}

type bytesCodec struct{}

func (*bytesCodec) Marshal(v any) ([]byte, error) {
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	return nil, errors.New("codec: []byte required")
}

func (*bytesCodec) Unmarshal(b []byte, v any) error {
	if p, ok := v.(*[]byte); ok {
		*p = b
		return nil
	}
	return errors.New("codec: *[]byte required")
}
