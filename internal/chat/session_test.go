// ABOUTME: Tests for the chat streaming session.
// ABOUTME: End-to-end send/stream/persist flow against a local relay and workflow fixture.

package chat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trycortexai/ui-kit/internal/bridge"
	"github.com/trycortexai/ui-kit/internal/options"
	"github.com/trycortexai/ui-kit/internal/relay"
	"github.com/trycortexai/ui-kit/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// setupRelay runs a relay backed by a workflow fixture that streams the
// given step events for every run.
func setupRelay(t *testing.T, events string) string {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, events)
	}))
	t.Cleanup(upstream.Close)

	relaySrv := httptest.NewServer(relay.New(relay.Config{CortexBaseURL: upstream.URL}, nil))
	t.Cleanup(relaySrv.Close)
	return relaySrv.URL
}

const replyEvents = "data: {\"step\":\"start\"}\n" +
	"data: {\"output\":{\"MODEL\":{\"output\":{\"message\":\"Hi\"}}}}\n" +
	"data: {\"output\":{\"MODEL\":{\"output\":{\"message\":\"Hi there\"}}}}\n"

func TestSession_SendMessage_EndToEnd(t *testing.T) {
	st := setupTestStore(t)
	relayURL := setupRelay(t, replyEvents)

	session := New(st, &StaticCredentials{Secret: "sk_test", Workflow: "wf-1"}, relayURL, nil)
	ctx := context.Background()

	reply, err := session.SendMessage(ctx, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)

	// Store contains one conversation titled from the first user message.
	conversations, err := st.GetAllConversations(ctx)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	conv := conversations[0]
	assert.Equal(t, "Hello", conv.Title)
	assert.True(t, conv.UpdatedAt.After(conv.CreatedAt),
		"updatedAt must be strictly greater than createdAt after a reply")

	// Both sides of the exchange were persisted, in order.
	messages, err := st.GetMessagesForConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, store.RoleUser, messages[0].Role)
	assert.Equal(t, "Hello", messages[0].Content)
	assert.Equal(t, store.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Hi there", messages[1].Content)

	// In-memory state mirrors the store.
	assert.Equal(t, conv.ID, session.CurrentConversationID())
	current := session.CurrentMessages()
	require.Len(t, current, 2)
	assert.Equal(t, "Hi there", current[1].Content)
}

func TestSession_StreamedDeltasReRender(t *testing.T) {
	st := setupTestStore(t)
	relayURL := setupRelay(t, replyEvents)

	session := New(st, &StaticCredentials{Secret: "sk", Workflow: "wf"}, relayURL, nil)

	var mu sync.Mutex
	var assistantSoFar []string
	session.OnUpdate = func(_ string, messages []Message) {
		mu.Lock()
		defer mu.Unlock()
		if n := len(messages); n > 0 && messages[n-1].Role == store.RoleAssistant {
			assistantSoFar = append(assistantSoFar, messages[n-1].Content)
		}
	}

	_, err := session.SendMessage(context.Background(), "Hello")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	// The running assistant message was re-rendered per recognized event.
	assert.Contains(t, assistantSoFar, "Hi")
	assert.Equal(t, "Hi there", assistantSoFar[len(assistantSoFar)-1])
}

func TestSession_MissingConfigurationFailsFast(t *testing.T) {
	st := setupTestStore(t)

	// Unroutable relay URL proves no network I/O happens.
	session := New(st, &StaticCredentials{}, "http://127.0.0.1:1", nil)

	_, err := session.SendMessage(context.Background(), "Hello")
	require.ErrorIs(t, err, ErrMissingConfiguration)
}

func TestSession_EmptyStreamFallsBack(t *testing.T) {
	st := setupTestStore(t)
	relayURL := setupRelay(t, "data: {\"step\":\"start\"}\n")

	session := New(st, &StaticCredentials{Secret: "sk", Workflow: "wf"}, relayURL, nil)

	reply, err := session.SendMessage(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I couldn't generate a response.", reply)
}

func TestSession_RelayErrorSurfaces(t *testing.T) {
	st := setupTestStore(t)
	relaySrv := httptest.NewServer(relay.New(relay.Config{CortexBaseURL: "http://127.0.0.1:1"}, nil))
	t.Cleanup(relaySrv.Close)

	session := New(st, &StaticCredentials{Secret: "sk", Workflow: "wf"}, relaySrv.URL, nil)

	_, err := session.SendMessage(context.Background(), "Hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay error")
}

func TestSession_MultiTurnSameConversation(t *testing.T) {
	st := setupTestStore(t)
	relayURL := setupRelay(t, replyEvents)

	session := New(st, &StaticCredentials{Secret: "sk", Workflow: "wf"}, relayURL, nil)
	ctx := context.Background()

	_, err := session.SendMessage(ctx, "Hello")
	require.NoError(t, err)
	_, err = session.SendMessage(ctx, "And again")
	require.NoError(t, err)

	conversations, err := st.GetAllConversations(ctx)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	// Title still derives from the first message, never recomputed.
	assert.Equal(t, "Hello", conversations[0].Title)

	messages, err := st.GetMessagesForConversation(ctx, conversations[0].ID)
	require.NoError(t, err)
	assert.Len(t, messages, 4)
}

func TestSession_NewChatStartsFreshConversation(t *testing.T) {
	st := setupTestStore(t)
	relayURL := setupRelay(t, replyEvents)

	session := New(st, &StaticCredentials{Secret: "sk", Workflow: "wf"}, relayURL, nil)
	ctx := context.Background()

	_, err := session.SendMessage(ctx, "First")
	require.NoError(t, err)
	firstID := session.CurrentConversationID()

	session.NewChat()
	assert.Empty(t, session.CurrentConversationID())

	// Conversation ids derive from the creation timestamp.
	time.Sleep(2 * time.Millisecond)
	_, err = session.SendMessage(ctx, "Second")
	require.NoError(t, err)
	assert.NotEqual(t, firstID, session.CurrentConversationID())

	conversations, err := st.GetAllConversations(ctx)
	require.NoError(t, err)
	assert.Len(t, conversations, 2)
}

func TestSession_LoadRebuildsFromStore(t *testing.T) {
	st := setupTestStore(t)
	relayURL := setupRelay(t, replyEvents)
	ctx := context.Background()

	first := New(st, &StaticCredentials{Secret: "sk", Workflow: "wf"}, relayURL, nil)
	_, err := first.SendMessage(ctx, "Hello")
	require.NoError(t, err)

	// A fresh session over the same store sees the persisted state.
	second := New(st, &StaticCredentials{Secret: "sk", Workflow: "wf"}, relayURL, nil)
	require.NoError(t, second.Load(ctx))

	conversations := second.Conversations()
	require.Len(t, conversations, 1)
	assert.Equal(t, "Hello", conversations[0].Title)
	require.Len(t, conversations[0].Messages, 2)

	require.NoError(t, second.SelectConversation(conversations[0].ID))
	assert.Len(t, second.CurrentMessages(), 2)
}

func TestSession_DeleteConversation(t *testing.T) {
	st := setupTestStore(t)
	relayURL := setupRelay(t, replyEvents)
	ctx := context.Background()

	session := New(st, &StaticCredentials{Secret: "sk", Workflow: "wf"}, relayURL, nil)
	_, err := session.SendMessage(ctx, "Hello")
	require.NoError(t, err)
	id := session.CurrentConversationID()

	require.NoError(t, session.DeleteConversation(ctx, id))
	assert.Empty(t, session.CurrentConversationID())
	assert.Empty(t, session.Conversations())

	messages, err := st.GetMessagesForConversation(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestSession_BridgeCredentials(t *testing.T) {
	st := setupTestStore(t)
	relayURL := setupRelay(t, replyEvents)

	hostEnd, widgetEnd := bridge.Pipe()
	host := bridge.NewHost(hostEnd, nil)
	defer host.Destroy()
	host.Initialize(options.UIOptions{WorkflowID: "wf-bridge"}, bridge.HostOptions{
		GetClientSecret: func(context.Context) (string, error) {
			return "sk_from_host", nil
		},
	})

	client := bridge.NewClient(widgetEnd, nil)
	defer client.Destroy()

	session := New(st, &BridgeCredentials{Client: client}, relayURL, nil)
	reply, err := session.SendMessage(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)
}
