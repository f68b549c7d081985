// ABOUTME: Credential sources for the chat session.
// ABOUTME: Either the bridge (host answers requests) or a static fragment-decoded config.

package chat

import (
	"context"
	"errors"

	"github.com/trycortexai/ui-kit/internal/bridge"
	"github.com/trycortexai/ui-kit/internal/options"
)

// ErrMissingConfiguration is returned before any network I/O when no client
// secret or workflow id is available.
var ErrMissingConfiguration = errors.New("chat: configuration missing: clientSecret and workflowId are required")

// Credentials supplies the secret and workflow id a session needs to call
// the relay. Implementations cache; a session asks on every send.
type Credentials interface {
	ClientSecret(ctx context.Context) (string, error)
	WorkflowID(ctx context.Context) (string, error)
}

// BridgeCredentials resolves credentials over the bridge: the secret via a
// REQUEST_CLIENT_SECRET round trip, the workflow id from the negotiated UI
// options. The bridge client caches both after the first ask.
type BridgeCredentials struct {
	Client *bridge.Client
}

func (b *BridgeCredentials) ClientSecret(ctx context.Context) (string, error) {
	return b.Client.GetClientSecret(ctx)
}

func (b *BridgeCredentials) WorkflowID(ctx context.Context) (string, error) {
	opts, err := b.Client.GetOptions(ctx)
	if err != nil {
		return "", err
	}
	return opts.WorkflowID, nil
}

// StaticCredentials holds values decoded from the URL fragment channel.
type StaticCredentials struct {
	Secret   string
	Workflow string
}

// FromChatConfig builds StaticCredentials from a fragment-decoded config.
func FromChatConfig(cfg *options.ChatConfig) *StaticCredentials {
	if cfg == nil {
		return &StaticCredentials{}
	}
	return &StaticCredentials{Secret: cfg.ClientSecret, Workflow: cfg.AgentID}
}

func (s *StaticCredentials) ClientSecret(context.Context) (string, error) {
	return s.Secret, nil
}

func (s *StaticCredentials) WorkflowID(context.Context) (string, error) {
	return s.Workflow, nil
}
