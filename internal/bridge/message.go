// ABOUTME: Bridge wire schema: message types, payload shapes, and the admission guard.
// ABOUTME: Inbound payloads are untrusted until IsBridgeMessage accepts them.

package bridge

import (
	"encoding/json"

	"github.com/trycortexai/ui-kit/internal/options"
)

// MessageType identifies a bridge message variant.
type MessageType string

// The closed set of recognized message types.
const (
	TypeRequestOptions       MessageType = "REQUEST_OPTIONS"
	TypeResponseOptions      MessageType = "RESPONSE_OPTIONS"
	TypeRequestClientSecret  MessageType = "REQUEST_CLIENT_SECRET"
	TypeResponseClientSecret MessageType = "RESPONSE_CLIENT_SECRET"
	TypeError                MessageType = "ERROR"
)

var knownTypes = map[MessageType]bool{
	TypeRequestOptions:       true,
	TypeResponseOptions:      true,
	TypeRequestClientSecret:  true,
	TypeResponseClientSecret: true,
	TypeError:                true,
}

// Message is the bridge wire shape. ID is the correlation key pairing a
// request with its eventual response or error.
type Message struct {
	ID      string          `json:"id"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OptionsPayload is the payload of a RESPONSE_OPTIONS message.
type OptionsPayload struct {
	UIOptions options.UIOptions `json:"uiOptions"`
}

// ClientSecretPayload is the payload of a RESPONSE_CLIENT_SECRET message.
type ClientSecretPayload struct {
	ClientSecret string `json:"clientSecret"`
}

// ErrorPayload is the payload of an ERROR message.
type ErrorPayload struct {
	Error string `json:"error"`
}

// IsBridgeMessage reports whether v is a bridge message: an object with a
// string id and a type drawn from the recognized set. It is the sole
// admission filter for inbound payloads; everything else is dropped.
func IsBridgeMessage(v any) bool {
	switch m := v.(type) {
	case Message:
		return m.ID != "" && knownTypes[m.Type]
	case *Message:
		return m != nil && m.ID != "" && knownTypes[m.Type]
	case map[string]any:
		id, ok := m["id"].(string)
		if !ok {
			return false
		}
		typ, ok := m["type"].(string)
		return ok && id != "" && knownTypes[MessageType(typ)]
	default:
		return false
	}
}

// AsBridgeMessage converts an untrusted inbound payload into a Message.
// It returns false for anything IsBridgeMessage rejects.
func AsBridgeMessage(v any) (Message, bool) {
	if !IsBridgeMessage(v) {
		return Message{}, false
	}

	switch m := v.(type) {
	case Message:
		return m, true
	case *Message:
		return *m, true
	case map[string]any:
		msg := Message{
			ID:   m["id"].(string),
			Type: MessageType(m["type"].(string)),
		}
		if payload, ok := m["payload"]; ok {
			raw, err := json.Marshal(payload)
			if err != nil {
				return Message{}, false
			}
			msg.Payload = raw
		}
		return msg, true
	default:
		return Message{}, false
	}
}

func newResponse(id string, typ MessageType, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{ID: id, Type: typ, Payload: raw}, nil
}
