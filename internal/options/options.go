// ABOUTME: Widget configuration types and the URL-fragment codec.
// ABOUTME: Hosts encode config as base64(JSON) and append it to the widget URL fragment.

package options

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// UIOptions is the widget appearance and behavior configuration negotiated
// over the bridge (or passed via the URL fragment in the legacy channel).
type UIOptions struct {
	WorkflowID        string   `json:"workflowId,omitempty"`
	Greeting          string   `json:"greeting,omitempty"`
	SuggestedMessages []string `json:"suggestedMessages,omitempty"`
	Placeholder       string   `json:"placeholder,omitempty"`
	Theme             string   `json:"theme,omitempty"`
}

// ChatConfig is the legacy fragment-channel configuration: the host encodes
// it into the widget URL fragment instead of (or alongside) the bridge.
type ChatConfig struct {
	ClientSecret string `json:"clientSecret,omitempty"`
	AgentID      string `json:"agentId,omitempty"`
	RelayURL     string `json:"relayUrl,omitempty"`
}

// EncodeObject serializes v to JSON and base64-encodes the result.
func EncodeObject(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeObject reverses EncodeObject into out.
func DecodeObject(s string, out any) error {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// ParseOptionsFromFragment decodes a ChatConfig from a URL fragment.
// Decode failures mean "no configuration", never an error: the fragment is
// an optional channel and anything unparseable is treated as absent.
func ParseOptionsFromFragment(fragment string) (*ChatConfig, bool) {
	fragment = strings.TrimPrefix(fragment, "#")
	if fragment == "" {
		return nil, false
	}

	var cfg ChatConfig
	if err := DecodeObject(fragment, &cfg); err != nil {
		return nil, false
	}
	return &cfg, true
}
