// Package relay validates inbound websocket frames, authorizes and persists
// sends, and fans the stored message out to every live connection of the two
// participants.
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Frame type literals on the wire.
const (
	TypeSend     = "send"
	TypePresence = "presence"
	TypeNew      = "new"
	TypeError    = "error"
)

// Error codes carried in error notifications.
const (
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeSendFailed     = "SEND_FAILED"
	CodeRateLimited    = "RATE_LIMITED"
)

var validate = validator.New()

// Inbound is a decoded client frame: either SendMessage or PresenceUpdate.
type Inbound interface {
	frameType() string
}

type SendMessage struct {
	ConversationID string `json:"conversationId" validate:"required"`
	RecipientID    string `json:"recipientId" validate:"required"`
	Content        string `json:"content" validate:"min=1,max=1000"`
}

func (SendMessage) frameType() string { return TypeSend }

// Validate applies the same rules Decode does to a send built outside a frame.
func (m SendMessage) Validate() error {
	if err := validate.Struct(m); err != nil {
		return &ValidationError{Kind: SchemaViolation, Err: err}
	}
	return nil
}

// PresenceUpdate is accepted and acknowledged but has no effect.
type PresenceUpdate struct {
	Status string `json:"status" validate:"required"`
}

func (PresenceUpdate) frameType() string { return TypePresence }

type ValidationKind int

const (
	Malformed ValidationKind = iota + 1
	SchemaViolation
)

func (k ValidationKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case SchemaViolation:
		return "schema_violation"
	default:
		return "unknown"
	}
}

type ValidationError struct {
	Kind ValidationKind
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid frame (%s): %v", e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses and validates one raw frame. It is pure.
func Decode(raw []byte) (Inbound, error) {
	if !isObject(raw) {
		return nil, &ValidationError{Kind: Malformed, Err: errors.New("frame is not a JSON object")}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ValidationError{Kind: Malformed, Err: err}
	}

	var in Inbound
	switch env.Type {
	case TypeSend:
		in = &SendMessage{}
	case TypePresence:
		in = &PresenceUpdate{}
	default:
		return nil, &ValidationError{Kind: SchemaViolation, Err: fmt.Errorf("unknown frame type %q", env.Type)}
	}

	if len(env.Payload) == 0 || bytes.Equal(bytes.TrimSpace(env.Payload), []byte("null")) {
		return nil, &ValidationError{Kind: SchemaViolation, Err: errors.New("missing payload")}
	}
	if !isObject(env.Payload) {
		return nil, &ValidationError{Kind: Malformed, Err: errors.New("payload is not a JSON object")}
	}
	if err := json.Unmarshal(env.Payload, in); err != nil {
		return nil, &ValidationError{Kind: Malformed, Err: err}
	}
	if err := validate.Struct(in); err != nil {
		return nil, &ValidationError{Kind: SchemaViolation, Err: err}
	}

	switch v := in.(type) {
	case *SendMessage:
		return *v, nil
	case *PresenceUpdate:
		return *v, nil
	}
	return in, nil
}

func isObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// Notification is an outbound frame.
type Notification struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorFrame(code, message string) []byte {
	data, _ := json.Marshal(Notification{Type: TypeError, Payload: ErrorPayload{Code: code, Message: message}})
	return data
}
