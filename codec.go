package apubsub

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes message contents. Engines store the encoded bytes
// opaquely and hand them back to Message.Unmarshal.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Raw contents bypass the codec on send.
type Raw []byte

// JSONCodec encodes contents as JSON. It is the default codec.
type JSONCodec struct{}

func (JSONCodec) Name() string                       { return "json" }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// MsgpackCodec encodes contents as MessagePack.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string                  { return "msgpack" }
func (MsgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }
func (MsgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// CodecByName resolves the codec names accepted in configuration.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("%w: unknown codec %q", ErrInvalidValue, name)
}

// EncodeContents encodes v with c unless it is already Raw.
func EncodeContents(c Codec, v any) ([]byte, error) {
	if raw, ok := v.(Raw); ok {
		return []byte(raw), nil
	}
	data, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message contents with %s: %w", c.Name(), err)
	}
	return data, nil
}
