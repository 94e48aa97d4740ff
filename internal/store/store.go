// ABOUTME: Store interface and record types for transcript persistence
// ABOUTME: Conversations own their messages and usage rows

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ConversationRecord is a stored chat thread.
type ConversationRecord struct {
	ID        string
	Title     string
	Model     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageRecord is one stored transcript entry.
type MessageRecord struct {
	ID             string
	ConversationID string
	Role           string // "user", "assistant", "system"
	Content        string
	Tokens         int
	Interrupted    bool
	CreatedAt      time.Time
}

// TokenUsage is the usage reported by one completed turn.
type TokenUsage struct {
	ID               string
	ConversationID   string
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
}

// UsageTotals sums the usage of a conversation.
type UsageTotals struct {
	PromptTokens     int
	CompletionTokens int
	Turns            int
}

// Total returns prompt plus completion tokens.
func (u UsageTotals) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Note is a key-value note kept for one user.
type Note struct {
	ID        string
	OwnerID   string
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NoteStore keeps per-user notes.
type NoteStore interface {
	// SetNote creates or replaces the note at (OwnerID, Key).
	SetNote(ctx context.Context, note *Note) error
	GetNote(ctx context.Context, ownerID, key string) (*Note, error)
	// ListNotes returns an owner's notes sorted by key.
	ListNotes(ctx context.Context, ownerID string) ([]*Note, error)
	DeleteNote(ctx context.Context, ownerID, key string) error
}

// Store persists conversations, their messages, token usage and notes.
type Store interface {
	NoteStore

	// SaveConversation inserts or updates a conversation.
	SaveConversation(ctx context.Context, conv *ConversationRecord) error
	GetConversation(ctx context.Context, id string) (*ConversationRecord, error)
	// ListConversations returns the most recently updated conversations first.
	ListConversations(ctx context.Context, limit int) ([]*ConversationRecord, error)
	// DeleteConversation removes a conversation with its messages and usage.
	DeleteConversation(ctx context.Context, id string) error

	// AppendMessage stores a message and bumps the conversation's updated time.
	AppendMessage(ctx context.Context, msg *MessageRecord) error
	// GetMessages returns a conversation's messages, oldest first.
	GetMessages(ctx context.Context, conversationID string) ([]*MessageRecord, error)

	SaveUsage(ctx context.Context, usage *TokenUsage) error
	GetConversationUsage(ctx context.Context, conversationID string) (*UsageTotals, error)

	Close() error
}
