package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serialises values stored in NATS.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(b []byte, v any) error
	Name() string
}

var (
	JSON    Codec = jsonCodec{}    // JSON is used for everything that crosses the wire: events and API bodies.
	Msgpack Codec = msgpackCodec{} // Msgpack is used for key value records.
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("json unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return "json" }

// msgpackCodec honours json struct tags so a type needs a single set of tags.
type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("msgpack marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Unmarshal(b []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("msgpack unmarshal: %w", err)
	}
	return nil
}

func (msgpackCodec) Name() string { return "msgpack" }
