// ABOUTME: SQLite implementation for per-turn token usage
// ABOUTME: Records what chat_turn_complete reports and sums it per conversation

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveUsage stores a token usage record. A missing ID is generated.
func (s *SQLiteStore) SaveUsage(ctx context.Context, usage *TokenUsage) error {
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO turn_usage (id, conversation_id, prompt_tokens, completion_tokens, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		usage.ID,
		usage.ConversationID,
		usage.PromptTokens,
		usage.CompletionTokens,
		usage.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved token usage",
		"id", usage.ID,
		"conversation_id", usage.ConversationID,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
	)
	return nil
}

// GetConversationUsage sums the usage recorded for a conversation.
func (s *SQLiteStore) GetConversationUsage(ctx context.Context, conversationID string) (*UsageTotals, error) {
	query := `
		SELECT
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COUNT(*)
		FROM turn_usage
		WHERE conversation_id = ?
	`

	var totals UsageTotals
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&totals.PromptTokens,
		&totals.CompletionTokens,
		&totals.Turns,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	return &totals, nil
}
