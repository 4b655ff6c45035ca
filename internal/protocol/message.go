// Package protocol decodes the JSON messages clients send and encodes the
// presence updates the server pushes back.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidAuth is returned when the first message does not carry a string token.
var ErrInvalidAuth = errors.New("invalid auth message")

// Kind tags a decoded client command.
type Kind int

const (
	// Unrecognized covers every payload that is not a well-formed command.
	Unrecognized Kind = iota
	MarkIn
	MarkOut
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case MarkIn:
		return "IM_IN"
	case MarkOut:
		return "IM_OUT"
	default:
		return "UNRECOGNIZED"
	}
}

// Command is a decoded message received after authentication.
type Command struct {
	Kind Kind
}

// DecodeAuth extracts the token from the first message of a connection.
// Anything other than an object with a string "token" field is rejected.
// Keys match exactly.
func DecodeAuth(data []byte) (string, error) {
	msg, err := decodeObject(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAuth, err)
	}
	raw, ok := msg["token"]
	if !ok || isNull(raw) {
		return "", fmt.Errorf("%w: missing token", ErrInvalidAuth)
	}
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		return "", fmt.Errorf("%w: token is not a string", ErrInvalidAuth)
	}
	return token, nil
}

// DecodeCommand maps a raw message to a Command. It never fails: payloads
// that are not {"im_in": <bool>} decode to Unrecognized, including null.
func DecodeCommand(data []byte) Command {
	msg, err := decodeObject(data)
	if err != nil {
		return Command{Kind: Unrecognized}
	}
	raw, ok := msg["im_in"]
	if !ok || isNull(raw) {
		return Command{Kind: Unrecognized}
	}
	var in bool
	if err := json.Unmarshal(raw, &in); err != nil {
		return Command{Kind: Unrecognized}
	}
	if in {
		return Command{Kind: MarkIn}
	}
	return Command{Kind: MarkOut}
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, errors.New("not an object")
	}
	return msg, nil
}

// isNull reports whether raw is the JSON literal null, which json.Unmarshal
// accepts into any type without error.
func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Snapshot is the full per-recipient update.
type Snapshot struct {
	PeopleIn int  `json:"people_in"`
	ImIn     bool `json:"im_in"`
}

// CountUpdate carries only the counter; used when state arrives split
// across channels.
type CountUpdate struct {
	PeopleIn int `json:"people_in"`
}

// FlagUpdate carries only the recipient's own flag.
type FlagUpdate struct {
	ImIn bool `json:"im_in"`
}

// Encode marshals an outbound update.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}
