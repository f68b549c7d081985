// ABOUTME: Data types and constructors for the local conversation cache.
// ABOUTME: Defines Conversation and Message records and their id derivation rules.

package store

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Role constants for message senders.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// maxTitleLen bounds conversation titles derived from the first message.
const maxTitleLen = 50

// Conversation is one chat thread. The id is derived from the creation
// timestamp and never changes; the title is derived from the first user
// message and never recomputed.
type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one persisted chat message, owned exclusively by its
// conversation and cascade-deleted with it.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Timestamp      time.Time
}

// NewConversation builds a conversation from its first user message.
func NewConversation(firstMessage string, now time.Time) Conversation {
	now = now.UTC().Truncate(time.Millisecond)
	title := firstMessage
	if runes := []rune(title); len(runes) > maxTitleLen {
		title = string(runes[:maxTitleLen])
	}
	if title == "" {
		title = "New Chat"
	}
	return Conversation{
		ID:        strconv.FormatInt(now.UnixMilli(), 10),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewMessage builds a message with the composite id that keeps
// per-conversation ordering stable under the timestamp index. Assistant
// messages get a suffix so a user/assistant pair written in the same
// millisecond cannot collide.
func NewMessage(conversationID, role, content string, now time.Time) Message {
	now = now.UTC().Truncate(time.Millisecond)
	id := fmt.Sprintf("%s-%d", conversationID, now.UnixMilli())
	if role == RoleAssistant {
		id += "-assistant"
	}
	return Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      now,
	}
}
