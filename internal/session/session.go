// ABOUTME: Session owns the current conversation and drives chat turns through the client
// ABOUTME: Persists user and assistant messages plus per-turn token usage to the store

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/2389/seneschal/internal/chat"
	"github.com/2389/seneschal/internal/conversation"
	"github.com/2389/seneschal/internal/protocol"
	"github.com/2389/seneschal/internal/store"
)

// Errors returned by Session.
var (
	ErrBusy                 = errors.New("a turn is already in progress")
	ErrConversationNotFound = errors.New("conversation not found")
)

const (
	titleLength    = 60
	persistTimeout = 5 * time.Second
)

// Config configures a Session.
type Config struct {
	Client *chat.Client
	Store  store.Store

	Model        string
	EnabledTools []string

	// Handler receives every frame of every turn after the session has
	// applied it. May be nil.
	Handler chat.Handler
	Logger  *slog.Logger
}

// Session is one user's chat: the current conversation, its pending
// assistant text, and the store it is persisted to.
type Session struct {
	client *chat.Client
	store  store.Store
	model  string
	tools  []string
	ui     chat.Handler
	logger *slog.Logger

	mu      sync.Mutex
	conv    *conversation.Conversation
	pending strings.Builder
	// turn increments whenever frames of the previous turn must be ignored.
	turn  int
	saved bool
}

// New creates a session with an empty conversation.
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		client: cfg.Client,
		store:  cfg.Store,
		model:  cfg.Model,
		tools:  cfg.EnabledTools,
		ui:     cfg.Handler,
		logger: logger.With("component", "session"),
		conv:   conversation.New(),
	}
}

// ID returns the current conversation id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.ID
}

// State returns the turn state of the current conversation.
func (s *Session) State() conversation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.State
}

// TokenEstimate returns the estimated token total of the transcript.
func (s *Session) TokenEstimate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.TokenEstimate()
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]conversation.Message, len(s.conv.Messages))
	copy(out, s.conv.Messages)
	return out
}

// Send appends text as a user message, persists it and starts a turn.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return chat.ErrEmptyMessage
	}

	s.mu.Lock()
	if s.conv.State != conversation.StateIdle || s.client.State(s.conv.ID).Active() {
		s.mu.Unlock()
		return ErrBusy
	}
	msg := s.conv.Append(conversation.RoleUser, text)
	s.conv.State = conversation.StateProcessing
	s.pending.Reset()
	s.turn++
	turn := s.turn
	convID := s.conv.ID
	firstSave := !s.saved
	s.saved = true
	s.mu.Unlock()

	if firstSave {
		s.saveConversation(ctx, convID, text)
	}
	s.persistMessage(ctx, convID, msg)

	_, err := s.client.StartChat(chat.ChatRequest{
		ConversationID: convID,
		Message:        text,
		Model:          s.model,
		EnabledTools:   s.tools,
	}, chat.HandlerFunc(func(frame protocol.ChatFrame) {
		s.handle(turn, frame)
	}))
	if err != nil {
		return fmt.Errorf("starting chat: %w", err)
	}
	return nil
}

// handle applies frame to the conversation, then forwards it to the UI.
func (s *Session) handle(turn int, frame protocol.ChatFrame) {
	s.mu.Lock()
	if turn != s.turn || frame.Conversation() != s.conv.ID {
		s.mu.Unlock()
		s.logger.Debug("dropping frame from stale turn",
			"conversation_id", frame.Conversation(),
			"type", frame.FrameType())
		return
	}

	convID := s.conv.ID
	var toPersist []conversation.Message
	var usage *store.TokenUsage

	switch f := frame.(type) {
	case *protocol.ChatContent:
		s.pending.WriteString(f.Text)
		s.conv.State = conversation.StateProcessing
	case *protocol.ChatPaused:
		s.conv.State = conversation.StatePaused
	case *protocol.ChatTurnComplete:
		if m, ok := s.flushPendingLocked(false, f.CompletionTokens); ok {
			toPersist = append(toPersist, m)
		}
		s.conv.State = conversation.StateIdle
		usage = &store.TokenUsage{
			ConversationID:   convID,
			PromptTokens:     f.PromptTokens,
			CompletionTokens: f.CompletionTokens,
			CreatedAt:        time.Now(),
		}
	case *protocol.ChatError:
		if !f.Recoverable {
			if m, ok := s.flushPendingLocked(true, 0); ok {
				toPersist = append(toPersist, m)
			}
			toPersist = append(toPersist, s.conv.Append(conversation.RoleSystem, "Error: "+f.Message))
			s.conv.State = conversation.StateIdle
		}
	}
	s.mu.Unlock()

	if len(toPersist) > 0 || usage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		for _, m := range toPersist {
			s.persistMessage(ctx, convID, m)
		}
		if usage != nil {
			if err := s.store.SaveUsage(ctx, usage); err != nil {
				s.logger.Warn("failed to save usage", "conversation_id", convID, "error", err)
			}
		}
		cancel()
	}

	if s.ui != nil {
		s.ui.HandleChat(frame)
	}
}

// flushPendingLocked turns accumulated content into an assistant message.
func (s *Session) flushPendingLocked(interrupted bool, tokens int) (conversation.Message, bool) {
	if s.pending.Len() == 0 {
		return conversation.Message{}, false
	}
	m := s.conv.AppendMessage(conversation.Message{
		Role:        conversation.RoleAssistant,
		Content:     s.pending.String(),
		Tokens:      tokens,
		Interrupted: interrupted,
	})
	s.pending.Reset()
	return m, true
}

// Continue resumes a paused turn. The lock is not held across the socket
// write so frames keep flowing to handle.
func (s *Session) Continue() error {
	convID := s.ID()
	if err := s.client.ContinueChat(convID); err != nil {
		return err
	}

	s.mu.Lock()
	if s.conv.ID == convID && s.conv.State == conversation.StatePaused {
		s.conv.State = conversation.StateProcessing
	}
	s.mu.Unlock()
	return nil
}

// Cancel abandons the active turn. Partial assistant text is kept as an
// interrupted message.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	convID := s.conv.ID
	if err := s.client.CancelChat(convID); err != nil {
		s.mu.Unlock()
		return err
	}
	s.turn++
	m, ok := s.flushPendingLocked(true, 0)
	s.conv.State = conversation.StateIdle
	s.mu.Unlock()

	if ok {
		s.persistMessage(ctx, convID, m)
	}
	s.logger.Info("turn cancelled", "conversation_id", convID, "kept_partial", ok)
	return nil
}

// NewConversation cancels any active turn and starts an empty conversation.
func (s *Session) NewConversation(ctx context.Context) {
	s.leave(ctx)

	s.mu.Lock()
	s.conv.Reset()
	s.saved = false
	id := s.conv.ID
	s.mu.Unlock()

	s.logger.Debug("new conversation", "conversation_id", id)
}

// Resume cancels any active turn and loads a stored conversation.
func (s *Session) Resume(ctx context.Context, id string) error {
	conv, err := Load(ctx, s.store, id)
	if err != nil {
		return err
	}

	s.leave(ctx)

	s.mu.Lock()
	s.conv = conv
	s.saved = true
	s.mu.Unlock()

	s.logger.Info("resumed conversation", "conversation_id", id, "messages", conv.Len())
	return nil
}

// leave cancels the current turn and forgets the current conversation.
func (s *Session) leave(ctx context.Context) {
	if err := s.Cancel(ctx); err != nil && !errors.Is(err, chat.ErrNoActiveTurn) {
		s.logger.Warn("cancel failed", "error", err)
	}

	s.mu.Lock()
	s.turn++
	s.pending.Reset()
	old := s.conv.ID
	s.mu.Unlock()

	s.client.Forget(old)
}

// Transcript returns the conversation as markdown.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.RenderMarkdown()
}

// ExportHTML writes the conversation as an HTML page.
func (s *Session) ExportHTML(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.RenderHTML(w)
}

// Usage returns the stored token usage of the current conversation.
func (s *Session) Usage(ctx context.Context) (*store.UsageTotals, error) {
	return s.store.GetConversationUsage(ctx, s.ID())
}

// Load reads a stored conversation with its messages.
func Load(ctx context.Context, st store.Store, id string) (*conversation.Conversation, error) {
	if _, err := st.GetConversation(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
		}
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	records, err := st.GetMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	msgs := make([]conversation.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, conversation.Message{
			ID:          r.ID,
			Role:        conversation.Role(r.Role),
			Content:     r.Content,
			Timestamp:   r.CreatedAt,
			Tokens:      r.Tokens,
			Interrupted: r.Interrupted,
		})
	}
	return conversation.Restore(id, msgs), nil
}

func (s *Session) saveConversation(ctx context.Context, id, firstMessage string) {
	now := time.Now()
	rec := &store.ConversationRecord{
		ID:        id,
		Title:     title(firstMessage),
		Model:     s.model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveConversation(ctx, rec); err != nil {
		s.logger.Warn("failed to save conversation", "conversation_id", id, "error", err)
	}
}

func (s *Session) persistMessage(ctx context.Context, convID string, m conversation.Message) {
	rec := &store.MessageRecord{
		ID:             m.ID,
		ConversationID: convID,
		Role:           string(m.Role),
		Content:        m.Content,
		Tokens:         m.Tokens,
		Interrupted:    m.Interrupted,
		CreatedAt:      m.Timestamp,
	}
	if err := s.store.AppendMessage(ctx, rec); err != nil {
		s.logger.Warn("failed to persist message",
			"conversation_id", convID,
			"role", m.Role,
			"error", err)
	}
}

// title shortens the first message of a conversation to a list label.
func title(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= titleLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:titleLength-1]) + "…"
}
