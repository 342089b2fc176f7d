// Package convert maps service values to and from protobuf Struct messages.
package convert

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct renders v through its JSON form. v must encode to a JSON object.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode: not an object: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes s into out through JSON. A nil s leaves out untouched.
func FromStruct(s *structpb.Struct, out any) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
