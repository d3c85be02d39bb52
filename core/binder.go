package core

import (
	"encoding/json"
	"fmt"
)

// Binder decodes an event payload into a Go value.
type Binder interface {
	Bind(data []byte, v any) error
}

// JSONBinder decodes JSON payloads.
type JSONBinder struct{}

func (JSONBinder) Bind(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("json: empty payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	return nil
}

// RawBinder copies the payload into a *[]byte or *string.
type RawBinder struct{}

func (RawBinder) Bind(data []byte, v any) error {
	switch dst := v.(type) {
	case *[]byte:
		*dst = append((*dst)[:0], data...)
	case *string:
		*dst = string(data)
	default:
		return fmt.Errorf("raw: unsupported target %T", v)
	}
	return nil
}
