// Package codec converts store state to and from its JSON snapshot form.
//
// The snapshot is always the whole key/value map encoded as one JSON
// object. Values inside the map are the generic JSON tree produced by
// decoding into any: map[string]any, []any, json.Number, string, bool and
// nil. Numbers stay json.Number so integers beyond 2^53 keep every digit.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

var (
	ErrEncode = errors.New("value is not JSON-serializable")
	ErrDecode = errors.New("snapshot is not a JSON object")
)

// Encode renders the complete state as a JSON object. A nil map encodes as {}.
func Encode(state map[string]any) ([]byte, error) {
	if state == nil {
		state = map[string]any{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}

// Decode parses a snapshot. Anything other than a JSON object, including
// null and empty input, fails with ErrDecode.
func Decode(data []byte) (map[string]any, error) {
	var state map[string]any
	if err := unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if state == nil {
		return nil, fmt.Errorf("%w: top-level value is null", ErrDecode)
	}
	return state, nil
}

// Normalize returns v as it would read back after a commit and reload.
// The result shares no memory with v.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	var out any
	if err := unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return out, nil
}

// DecodeValue parses one JSON document into the generic tree stored by the
// store.
func DecodeValue(data []byte) (any, error) {
	var v any
	if err := unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, nil
}

// Convert decodes the generic value src into dst, which must be a pointer.
// Typed accessors use it to turn stored trees back into structs.
func Convert(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// unmarshal decodes exactly one JSON document, keeping numbers as
// json.Number.
func unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(new(json.RawMessage)); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after JSON document")
	}
	return nil
}
