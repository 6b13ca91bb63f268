// Package docjson converts between JSON text and attribute values.
//
// Decoded objects become core.Attributes and numbers become int64 when
// integral and float64 otherwise, so documents read back from JSON compare
// equal to the values they were written from.
package docjson

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/waigo/mongorito/core"
)

// Unmarshal decodes a JSON object into attributes.
func Unmarshal(data []byte) (core.Attributes, error) {
	var raw map[string]any
	if err := Decode(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return core.Attributes{}, nil
	}
	return Normalize(raw).(core.Attributes), nil
}

// UnmarshalValue decodes any JSON value.
func UnmarshalValue(data []byte) (any, error) {
	var raw any
	if err := Decode(data, &raw); err != nil {
		return nil, err
	}
	return Normalize(raw), nil
}

// Decode unmarshals data into out keeping numbers as json.Number. Callers
// pass the result through Normalize.
func Decode(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("docjson: %w", err)
	}
	return nil
}

// Normalize rewrites values produced by Decode: objects become Attributes,
// numbers become int64 or float64.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(core.Attributes, len(t))
		for k, item := range t {
			out[k] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

// Scalar returns the JSON form of v as a plain Go value: a string, int64,
// float64, bool or nil. Objects and arrays are returned as JSON text with
// ok set to false.
func Scalar(v any) (value any, ok bool, err error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("docjson: %w", err)
	}
	decoded, err := UnmarshalValue(data)
	if err != nil {
		return nil, false, err
	}
	switch decoded.(type) {
	case core.Attributes, []any:
		return string(data), false, nil
	}
	return decoded, true, nil
}
