package oauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// EncodeState builds an opaque `state` parameter: random bytes, then a "." and the JSON-encoded payload, both base64url. A nil payload leaves the second segment empty.
func EncodeState(payload any) (string, error) {
	buf, err := RandomBytes(32)
	if err != nil {
		return "", err
	}
	prefix := base64.RawURLEncoding.EncodeToString(buf)
	if payload == nil {
		return prefix + ".", nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding state payload: %w", err)
	}
	if string(b) == "null" {
		return prefix + ".", nil
	}
	return prefix + "." + base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeState returns the JSON payload of a state value created by [EncodeState], or nil if there was none.
func DecodeState(state string) (json.RawMessage, error) {
	parts := strings.Split(state, ".")
	if len(parts) > 2 {
		return nil, ErrInvalidState
	}
	if len(parts) < 2 || parts[1] == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("%w: payload is not JSON", ErrInvalidState)
	}
	return json.RawMessage(b), nil
}

// DecodeStateInto decodes a state payload in to v. A state without payload leaves v untouched.
func DecodeStateInto(state string, v any) error {
	raw, err := DecodeState(state)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	return json.Unmarshal(raw, v)
}
