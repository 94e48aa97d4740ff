// ABOUTME: Conversation transcript: ordered messages with token estimates and a turn state
// ABOUTME: Reset replaces the id so the server starts a fresh thread

package conversation

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// State describes whether a turn is running.
type State int

const (
	StateIdle State = iota
	StateProcessing
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateProcessing:
		return "processing"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}

// Message is one entry of the transcript.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
	Tokens    int
	// Interrupted marks assistant text cut short by a cancel.
	Interrupted bool
}

// Conversation is an ordered transcript identified by an opaque id.
type Conversation struct {
	ID       string
	Messages []Message
	State    State

	tokens int
	now    func() time.Time
}

// New creates an empty conversation with a fresh id.
func New() *Conversation {
	return &Conversation{ID: uuid.New().String(), now: time.Now}
}

// Restore rebuilds a conversation from stored messages. Missing token
// counts are estimated.
func Restore(id string, messages []Message) *Conversation {
	c := &Conversation{ID: id, now: time.Now}
	for _, m := range messages {
		c.AppendMessage(m)
	}
	return c
}

// EstimateTokens approximates the token count of text as one token per
// four characters, rounded up.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// Append adds a message authored by role and returns it.
func (c *Conversation) Append(role Role, content string) Message {
	m := Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: c.clock(),
	}
	return c.AppendMessage(m)
}

// AppendMessage adds m, estimating its tokens when unset.
func (c *Conversation) AppendMessage(m Message) Message {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = c.clock()
	}
	if m.Tokens == 0 {
		m.Tokens = EstimateTokens(m.Content)
	}
	c.Messages = append(c.Messages, m)
	c.tokens += m.Tokens
	return m
}

// TokenEstimate returns the running token total.
func (c *Conversation) TokenEstimate() int {
	return c.tokens
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.Messages)
}

// Last returns the most recent message.
func (c *Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// Reset discards the id and messages and starts over with a fresh id.
func (c *Conversation) Reset() {
	c.ID = uuid.New().String()
	c.Messages = nil
	c.State = StateIdle
	c.tokens = 0
}

func (c *Conversation) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}
