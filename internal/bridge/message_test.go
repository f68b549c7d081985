// ABOUTME: Tests for the bridge wire schema and admission guard.
// ABOUTME: Exercises near-miss payloads that must be rejected, not just the happy path.

package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trycortexai/ui-kit/internal/options"
)

func TestIsBridgeMessage_Accepts(t *testing.T) {
	cases := []struct {
		name string
		in   any
	}{
		{"typed message", Message{ID: "abc", Type: TypeRequestOptions}},
		{"typed pointer", &Message{ID: "abc", Type: TypeError}},
		{"decoded map", map[string]any{"id": "abc", "type": "REQUEST_CLIENT_SECRET"}},
		{"decoded map with payload", map[string]any{
			"id":      "abc",
			"type":    "RESPONSE_CLIENT_SECRET",
			"payload": map[string]any{"clientSecret": "sk_test"},
		}},
		{"extra fields ignored", map[string]any{"id": "abc", "type": "ERROR", "extra": 42}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, IsBridgeMessage(tc.in))
		})
	}
}

func TestIsBridgeMessage_Rejects(t *testing.T) {
	cases := []struct {
		name string
		in   any
	}{
		{"nil", nil},
		{"string", "REQUEST_OPTIONS"},
		{"number", 42},
		{"empty map", map[string]any{}},
		{"numeric id", map[string]any{"id": 123, "type": "REQUEST_OPTIONS"}},
		{"missing type", map[string]any{"id": "abc"}},
		{"missing id", map[string]any{"type": "REQUEST_OPTIONS"}},
		{"empty id", map[string]any{"id": "", "type": "REQUEST_OPTIONS"}},
		{"unknown type", map[string]any{"id": "abc", "type": "REQUEST_COOKIES"}},
		{"type wrong kind", map[string]any{"id": "abc", "type": true}},
		{"typed message unknown type", Message{ID: "abc", Type: "NOPE"}},
		{"typed message empty id", Message{Type: TypeError}},
		{"nil pointer", (*Message)(nil)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, IsBridgeMessage(tc.in))
		})
	}
}

func TestAsBridgeMessage_ConvertsDecodedMap(t *testing.T) {
	msg, ok := AsBridgeMessage(map[string]any{
		"id":      "req-1",
		"type":    "RESPONSE_OPTIONS",
		"payload": map[string]any{"uiOptions": map[string]any{"greeting": "hi", "workflowId": "wf-1"}},
	})
	require.True(t, ok)
	assert.Equal(t, "req-1", msg.ID)
	assert.Equal(t, TypeResponseOptions, msg.Type)

	var payload OptionsPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, options.UIOptions{Greeting: "hi", WorkflowID: "wf-1"}, payload.UIOptions)
}

func TestAsBridgeMessage_RejectsNearMiss(t *testing.T) {
	_, ok := AsBridgeMessage(map[string]any{"id": 123, "type": "ERROR"})
	assert.False(t, ok)
}

func TestMessage_WireShape(t *testing.T) {
	msg, err := newResponse("req-9", TypeError, ErrorPayload{Error: "boom"})
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"req-9","type":"ERROR","payload":{"error":"boom"}}`, string(data))

	// A request carries no payload key at all.
	data, err = json.Marshal(Message{ID: "req-10", Type: TypeRequestClientSecret})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"req-10","type":"REQUEST_CLIENT_SECRET"}`, string(data))
}
