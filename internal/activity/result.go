package activity

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Result is the handoff payload produced by an outgoing activity's Deactivate
// and consumed by the incoming activity's Activate. A nil *Result means the
// outgoing activity declared none.
type Result struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewResult encodes v as the payload of a result of the given kind.
func NewResult(kind string, v any) (*Result, error) {
	if v == nil {
		return &Result{Kind: kind}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", kind, err)
	}
	return &Result{Kind: kind, Data: data}, nil
}

// MustResult is like NewResult but panics if v cannot be encoded. It is for
// payload types built only from JSON-encodable fields.
func MustResult(kind string, v any) *Result {
	result, err := NewResult(kind, v)
	if err != nil {
		panic(err)
	}
	return result
}

// Decode unmarshals the payload into v.
func (r *Result) Decode(v any) error {
	if r == nil {
		return errors.New("activity: nil result")
	}
	if len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode %s result: %w", r.Kind, err)
	}
	return nil
}
