package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Codec errors.
var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMissingID   = errors.New("message id is required")
	ErrMissingType = errors.New("message type is required")
)

// Encode serializes a message to its JSON wire form.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// DecodeHeader decodes only the envelope fields, leaving the type-specific
// payload untouched. Handlers use the Type to pick the concrete decoder.
func DecodeHeader(data []byte) (*Header, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

// Validate checks the envelope invariants.
func (h *Header) Validate() error {
	if h.ID == "" {
		return ErrMissingID
	}
	if h.Type == "" {
		return ErrMissingType
	}
	if !h.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, h.Type)
	}
	return nil
}

// Decode decodes a complete message of a known concrete type.
func Decode[T any](data []byte) (*T, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}
