// Package queueutil provides queue key derivation and payload encoding
// shared by the bridge and its controller client.
package queueutil

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target. Trailing
// data after the first value is rejected: a queue element carries exactly
// one envelope.
func DecodePayload(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after payload")
	}
	return nil
}
