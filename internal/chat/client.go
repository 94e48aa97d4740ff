// ABOUTME: Outbound command API and per-conversation turn state machine
// ABOUTME: Registers a tracking handler before chat_message so no frame can race ahead of it

package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/seneschal/internal/protocol"
)

// Errors returned by Client commands.
var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrNotPaused    = errors.New("turn is not paused")
	ErrNoActiveTurn = errors.New("no active turn")
)

// TurnState is the client-side state of a conversation turn.
type TurnState int

const (
	StateIdle TurnState = iota
	StateThinking
	StateStreaming
	StatePaused
	StateCompleted
	StateErrored
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateThinking:
		return "thinking"
	case StateStreaming:
		return "streaming"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Processing reports whether the turn is waiting on the server.
func (s TurnState) Processing() bool {
	return s == StateThinking || s == StateStreaming
}

// Active reports whether the turn can still be cancelled.
func (s TurnState) Active() bool {
	return s.Processing() || s == StatePaused
}

// finishedLimit bounds how many Completed or Errored outcomes are kept.
// Older outcomes read as idle.
const finishedLimit = 64

// ChatRequest starts a turn. An empty ConversationID starts a new
// conversation with a generated id.
type ChatRequest struct {
	ConversationID string
	Message        string
	Model          string
	EnabledTools   []string
}

// Client sends commands and tracks turn state.
type Client struct {
	sender   Sender
	registry *Registry
	logger   *slog.Logger

	mu         sync.Mutex
	states     map[string]TurnState
	finished   []string
	subscribed bool
}

// NewClient creates a client that sends through sender and registers
// handlers in registry.
func NewClient(sender Sender, registry *Registry, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		sender:   sender,
		registry: registry,
		logger:   logger.With("component", "chat"),
		states:   make(map[string]TurnState),
	}
}

// StartChat registers h for the conversation and sends chat_message. It
// returns the conversation id used. Any handler already registered for the
// id is replaced.
func (c *Client) StartChat(req ChatRequest, h Handler) (string, error) {
	if req.Message == "" {
		return "", ErrEmptyMessage
	}
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	c.setState(conversationID, StateThinking)
	c.registry.Register(conversationID, c.track(conversationID, h))
	c.sender.Send(protocol.NewChatMessage(conversationID, req.Message, req.Model, req.EnabledTools))

	c.logger.Debug("chat started",
		"conversation_id", conversationID,
		"model", req.Model,
		"tools", len(req.EnabledTools))
	return conversationID, nil
}

// track wraps h with the turn state machine.
func (c *Client) track(conversationID string, h Handler) Handler {
	return HandlerFunc(func(frame protocol.ChatFrame) {
		if !c.advance(conversationID, frame) {
			c.logger.Debug("turn paused, dropping content",
				"conversation_id", conversationID)
			return
		}
		if h != nil {
			h.HandleChat(frame)
		}
	})
}

// advance applies frame to the turn state and reports whether the frame
// should reach the caller's handler.
func (c *Client) advance(conversationID string, frame protocol.ChatFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.states[conversationID]
	switch f := frame.(type) {
	case *protocol.ChatContent:
		switch state {
		case StatePaused:
			return false
		case StateThinking:
			c.states[conversationID] = StateStreaming
		}
	case *protocol.ChatPaused:
		c.states[conversationID] = StatePaused
	case *protocol.ChatTurnComplete:
		c.finishLocked(conversationID, StateCompleted)
	case *protocol.ChatError:
		if !f.Recoverable {
			c.finishLocked(conversationID, StateErrored)
		}
	}
	return true
}

// finishLocked records a terminal outcome and drops the oldest outcomes
// beyond finishedLimit. Must be called with mu held.
func (c *Client) finishLocked(conversationID string, state TurnState) {
	c.states[conversationID] = state
	c.finished = append(c.finished, conversationID)
	for len(c.finished) > finishedLimit {
		oldest := c.finished[0]
		c.finished = c.finished[1:]
		if st := c.states[oldest]; st == StateCompleted || st == StateErrored {
			delete(c.states, oldest)
		}
	}
}

// ContinueChat resumes a paused turn. The handler stays registered.
func (c *Client) ContinueChat(conversationID string) error {
	c.mu.Lock()
	if c.states[conversationID] != StatePaused {
		c.mu.Unlock()
		return ErrNotPaused
	}
	c.states[conversationID] = StateThinking
	c.mu.Unlock()

	c.sender.Send(protocol.NewContinueChat(conversationID))
	return nil
}

// CancelChat abandons an active turn. The handler is removed at once and
// the turn is idle without waiting for the server.
func (c *Client) CancelChat(conversationID string) error {
	c.mu.Lock()
	if !c.states[conversationID].Active() {
		c.mu.Unlock()
		return ErrNoActiveTurn
	}
	delete(c.states, conversationID)
	c.mu.Unlock()

	c.registry.Unregister(conversationID)
	c.sender.Send(protocol.NewCancelChat(conversationID))
	return nil
}

// SendToolResult answers a tool call directly.
func (c *Client) SendToolResult(conversationID, toolCallID string, result json.RawMessage) {
	c.sender.Send(protocol.NewToolResult(conversationID, toolCallID, result))
}

// SubscribeDocuments asks the server to push document_progress frames.
func (c *Client) SubscribeDocuments() {
	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
	c.sender.Send(protocol.NewSubscribeDocuments())
}

// UnsubscribeDocuments stops document_progress pushes.
func (c *Client) UnsubscribeDocuments() {
	c.mu.Lock()
	c.subscribed = false
	c.mu.Unlock()
	c.sender.Send(protocol.NewUnsubscribeDocuments())
}

// Resubscribe repeats subscribe_documents if the client is subscribed.
// Subscriptions do not survive a reconnect; call this from the reconnect hook.
func (c *Client) Resubscribe() bool {
	c.mu.Lock()
	subscribed := c.subscribed
	c.mu.Unlock()
	if subscribed {
		c.sender.Send(protocol.NewSubscribeDocuments())
	}
	return subscribed
}

// Subscribed reports whether document pushes were requested.
func (c *Client) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// Ping sends a heartbeat ping.
func (c *Client) Ping() {
	c.sender.Send(protocol.NewPing())
}

// State returns the turn state of conversationID. Unknown ids are idle.
func (c *Client) State(conversationID string) TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[conversationID]
}

// Forget drops the turn state of conversationID and its handler.
func (c *Client) Forget(conversationID string) {
	c.mu.Lock()
	delete(c.states, conversationID)
	c.mu.Unlock()
	c.registry.Unregister(conversationID)
}

func (c *Client) setState(conversationID string, state TurnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[conversationID] = state
}
