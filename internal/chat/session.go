// ABOUTME: Chat streaming session: persists messages, streams workflow output via the relay,
// ABOUTME: and keeps the in-memory conversation state in sync with the store.

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/trycortexai/ui-kit/internal/cortex"
	"github.com/trycortexai/ui-kit/internal/relay"
	"github.com/trycortexai/ui-kit/internal/store"
)

// fallbackReply is shown when a stream completes without yielding any
// assistant text.
const fallbackReply = "Sorry, I couldn't generate a response."

// Message is the in-memory view of one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is the in-memory view of one thread: a read-through cache of
// the store, rebuilt by Load and kept in sync by explicit writes.
type Conversation struct {
	ID        string
	Title     string
	Messages  []Message
	CreatedAt time.Time
}

// Session drives the chat loop for one widget instance.
type Session struct {
	store    *store.Store
	creds    Credentials
	relayURL string
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time

	// OnUpdate, when set, is invoked with a snapshot of the conversation's
	// messages after every state change, including streamed deltas.
	OnUpdate func(conversationID string, messages []Message)

	mu            sync.Mutex
	conversations []*Conversation
	currentID     string
}

// New creates a session over the given store and credential source,
// targeting the relay at relayURL.
func New(st *store.Store, creds Credentials, relayURL string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		store:    st,
		creds:    creds,
		relayURL: relayURL,
		client:   http.DefaultClient,
		logger:   logger.With("component", "chat"),
		now:      time.Now,
	}
}

// Load rebuilds the in-memory conversation list from the store.
func (s *Session) Load(ctx context.Context) error {
	conversations, err := s.store.GetAllConversations(ctx)
	if err != nil {
		return fmt.Errorf("loading conversations: %w", err)
	}

	loaded := make([]*Conversation, 0, len(conversations))
	for _, conv := range conversations {
		records, err := s.store.GetMessagesForConversation(ctx, conv.ID)
		if err != nil {
			return fmt.Errorf("loading messages for %s: %w", conv.ID, err)
		}
		messages := make([]Message, 0, len(records))
		for _, rec := range records {
			messages = append(messages, Message{Role: rec.Role, Content: rec.Content})
		}
		loaded = append(loaded, &Conversation{
			ID:        conv.ID,
			Title:     conv.Title,
			Messages:  messages,
			CreatedAt: conv.CreatedAt,
		})
	}

	s.mu.Lock()
	s.conversations = loaded
	s.mu.Unlock()
	return nil
}

// SendMessage persists the user message, streams the assistant reply
// through the relay, and persists the final assistant message. It returns
// the final assistant text.
func (s *Session) SendMessage(ctx context.Context, content string) (string, error) {
	conversationID, err := s.ensureConversation(ctx, content)
	if err != nil {
		return "", err
	}

	userMsg := store.NewMessage(conversationID, store.RoleUser, content, s.now())
	if err := s.store.SaveMessage(ctx, userMsg); err != nil {
		return "", fmt.Errorf("saving user message: %w", err)
	}

	history := s.appendMessage(conversationID, Message{Role: store.RoleUser, Content: content})
	s.notify(conversationID)

	assistantText, err := s.streamResponse(ctx, conversationID, history)
	if err != nil {
		return "", err
	}
	if assistantText == "" {
		assistantText = fallbackReply
	}

	assistantMsg := store.NewMessage(conversationID, store.RoleAssistant, assistantText, s.now())
	if err := s.store.SaveMessage(ctx, assistantMsg); err != nil {
		return "", fmt.Errorf("saving assistant message: %w", err)
	}
	if err := s.bumpUpdatedAt(ctx, conversationID, assistantMsg.Timestamp); err != nil {
		return "", err
	}

	s.setProvisionalAssistant(conversationID, assistantText)
	s.notify(conversationID)
	return assistantText, nil
}

// ensureConversation returns the active conversation id, creating and
// persisting a new conversation titled from the first message when none is
// active.
func (s *Session) ensureConversation(ctx context.Context, firstMessage string) (string, error) {
	s.mu.Lock()
	current := s.currentID
	s.mu.Unlock()
	if current != "" {
		return current, nil
	}

	conv := store.NewConversation(firstMessage, s.now())
	if err := s.store.SaveConversation(ctx, conv); err != nil {
		return "", fmt.Errorf("creating conversation: %w", err)
	}

	s.mu.Lock()
	s.conversations = append([]*Conversation{{
		ID:        conv.ID,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
	}}, s.conversations...)
	s.currentID = conv.ID
	s.mu.Unlock()
	return conv.ID, nil
}

// streamResponse calls the relay and tracks the assistant message so far,
// re-rendering on every recognized step event. It fails fast with a
// configuration error before any network I/O when credentials are missing.
func (s *Session) streamResponse(ctx context.Context, conversationID string, history []Message) (string, error) {
	secret, err := s.creds.ClientSecret(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving client secret: %w", err)
	}
	workflowID, err := s.creds.WorkflowID(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving workflow id: %w", err)
	}
	if secret == "" || workflowID == "" {
		return "", ErrMissingConfiguration
	}

	reqBody := relay.ChatRequest{
		ClientSecret: secret,
		WorkflowID:   workflowID,
		Messages:     make([]relay.ChatMessage, 0, len(history)),
	}
	for _, msg := range history {
		reqBody.Messages = append(reqBody.Messages, relay.ChatMessage{Role: msg.Role, Content: msg.Content})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.relayURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var relayErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&relayErr); decodeErr == nil && relayErr.Error != "" {
			return "", fmt.Errorf("relay error: %s", relayErr.Error)
		}
		return "", fmt.Errorf("relay returned %d", resp.StatusCode)
	}

	var assistantText string
	err = cortex.ScanStream(resp.Body, func(event map[string]any) {
		if text, ok := cortex.AssistantText(event); ok {
			assistantText = text
			s.setProvisionalAssistant(conversationID, text)
			s.notify(conversationID)
		}
	})
	if err != nil {
		return "", fmt.Errorf("reading stream: %w", err)
	}
	return assistantText, nil
}

// bumpUpdatedAt re-reads the conversation and writes it back with a later
// UpdatedAt, keeping the bump read-after-write consistent.
func (s *Session) bumpUpdatedAt(ctx context.Context, conversationID string, at time.Time) error {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("rereading conversation: %w", err)
	}
	if !at.After(conv.CreatedAt) {
		at = conv.CreatedAt.Add(time.Millisecond)
	}
	conv.UpdatedAt = at
	if err := s.store.SaveConversation(ctx, *conv); err != nil {
		return fmt.Errorf("bumping conversation: %w", err)
	}
	return nil
}

// NewChat detaches from the active conversation; the next SendMessage
// starts a fresh one.
func (s *Session) NewChat() {
	s.mu.Lock()
	s.currentID = ""
	s.mu.Unlock()
}

// SelectConversation makes an existing conversation active.
func (s *Session) SelectConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		if conv.ID == id {
			s.currentID = id
			return nil
		}
	}
	return fmt.Errorf("chat: unknown conversation %q", id)
}

// DeleteConversation removes a conversation and its messages from the
// store and the in-memory cache.
func (s *Session) DeleteConversation(ctx context.Context, id string) error {
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	kept := s.conversations[:0]
	for _, conv := range s.conversations {
		if conv.ID != id {
			kept = append(kept, conv)
		}
	}
	s.conversations = kept
	if s.currentID == id {
		s.currentID = ""
	}
	s.mu.Unlock()
	return nil
}

// Conversations returns a snapshot of the conversation list, newest first.
func (s *Session) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, s.snapshotLocked(conv))
	}
	return out
}

// CurrentConversationID returns the active conversation id, or "".
func (s *Session) CurrentConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// CurrentMessages returns a snapshot of the active conversation's messages.
func (s *Session) CurrentMessages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.findLocked(s.currentID)
	if conv == nil {
		return nil
	}
	return append([]Message(nil), conv.Messages...)
}

func (s *Session) findLocked(id string) *Conversation {
	for _, conv := range s.conversations {
		if conv.ID == id {
			return conv
		}
	}
	return nil
}

func (s *Session) snapshotLocked(conv *Conversation) Conversation {
	return Conversation{
		ID:        conv.ID,
		Title:     conv.Title,
		Messages:  append([]Message(nil), conv.Messages...),
		CreatedAt: conv.CreatedAt,
	}
}

// appendMessage adds a message to the in-memory conversation and returns a
// snapshot of the resulting history.
func (s *Session) appendMessage(conversationID string, msg Message) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.findLocked(conversationID)
	if conv == nil {
		return nil
	}
	conv.Messages = append(conv.Messages, msg)
	return append([]Message(nil), conv.Messages...)
}

// setProvisionalAssistant creates or rewrites the trailing assistant
// message of a conversation with the assistant text so far.
func (s *Session) setProvisionalAssistant(conversationID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.findLocked(conversationID)
	if conv == nil {
		return
	}
	if n := len(conv.Messages); n > 0 && conv.Messages[n-1].Role == store.RoleAssistant {
		conv.Messages[n-1].Content = text
		return
	}
	conv.Messages = append(conv.Messages, Message{Role: store.RoleAssistant, Content: text})
}

func (s *Session) notify(conversationID string) {
	update := s.OnUpdate
	if update == nil {
		return
	}
	s.mu.Lock()
	conv := s.findLocked(conversationID)
	var messages []Message
	if conv != nil {
		messages = append([]Message(nil), conv.Messages...)
	}
	s.mu.Unlock()
	update(conversationID, messages)
}
