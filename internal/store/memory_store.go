// ABOUTME: In-memory Store implementation for tests and database-less runs
// ABOUTME: Mirrors SQLiteStore semantics including ordering and cascading deletes

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*ConversationRecord // keyed by conversation ID
	messages      map[string][]*MessageRecord    // keyed by conversation ID
	usage         map[string][]*TokenUsage       // keyed by conversation ID
	notes         map[string]map[string]*Note    // owner ID -> key -> note
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*ConversationRecord),
		messages:      make(map[string][]*MessageRecord),
		usage:         make(map[string][]*TokenUsage),
		notes:         make(map[string]map[string]*Note),
	}
}

// SaveConversation inserts or updates a conversation.
func (m *MemoryStore) SaveConversation(_ context.Context, conv *ConversationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = now
	}

	// Make a copy to avoid external modification
	c := *conv
	if existing, ok := m.conversations[c.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	m.conversations[c.ID] = &c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MemoryStore) GetConversation(_ context.Context, id string) (*ConversationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

// ListConversations returns conversations, most recently updated first.
func (m *MemoryStore) ListConversations(_ context.Context, limit int) ([]*ConversationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ConversationRecord, 0, len(m.conversations))
	for _, conv := range m.conversations {
		c := *conv
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteConversation removes a conversation with its messages and usage.
func (m *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	delete(m.messages, id)
	delete(m.usage, id)
	return nil
}

// AppendMessage stores a message. The conversation must exist.
func (m *MemoryStore) AppendMessage(_ context.Context, msg *MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	cp := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &cp)
	conv.UpdatedAt = msg.CreatedAt
	return nil
}

// GetMessages returns a conversation's messages, oldest first.
func (m *MemoryStore) GetMessages(_ context.Context, conversationID string) ([]*MessageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	out := make([]*MessageRecord, 0, len(msgs))
	for _, msg := range msgs {
		cp := *msg
		out = append(out, &cp)
	}
	// Stable keeps insertion order for equal timestamps, like rowid in SQLite.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SaveUsage stores a token usage record.
func (m *MemoryStore) SaveUsage(_ context.Context, usage *TokenUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[usage.ConversationID]; !ok {
		return fmt.Errorf("conversation %s: %w", usage.ConversationID, ErrNotFound)
	}
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	cp := *usage
	m.usage[usage.ConversationID] = append(m.usage[usage.ConversationID], &cp)
	return nil
}

// GetConversationUsage sums the usage recorded for a conversation.
func (m *MemoryStore) GetConversationUsage(_ context.Context, conversationID string) (*UsageTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var totals UsageTotals
	for _, u := range m.usage[conversationID] {
		totals.PromptTokens += u.PromptTokens
		totals.CompletionTokens += u.CompletionTokens
		totals.Turns++
	}
	return &totals, nil
}

// SetNote creates or updates a note.
func (m *MemoryStore) SetNote(_ context.Context, note *Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	owned := m.notes[note.OwnerID]
	if owned == nil {
		owned = make(map[string]*Note)
		m.notes[note.OwnerID] = owned
	}

	now := time.Now().UTC()
	if existing, ok := owned[note.Key]; ok {
		note.ID = existing.ID
		note.CreatedAt = existing.CreatedAt
	}
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	cp := *note
	owned[note.Key] = &cp
	return nil
}

// GetNote retrieves a note by owner and key.
func (m *MemoryStore) GetNote(_ context.Context, ownerID, key string) (*Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.notes[ownerID][key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

// ListNotes returns an owner's notes sorted by key.
func (m *MemoryStore) ListNotes(_ context.Context, ownerID string) ([]*Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Note
	for _, n := range m.notes[ownerID] {
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DeleteNote deletes a note by owner and key.
func (m *MemoryStore) DeleteNote(_ context.Context, ownerID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.notes[ownerID][key]; !ok {
		return ErrNotFound
	}
	delete(m.notes[ownerID], key)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
