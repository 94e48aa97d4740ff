// ABOUTME: Outbound and inbound frame definitions for the seneschal chat protocol
// ABOUTME: Inbound frames are decoded by their "type" tag into concrete structs

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownFrame indicates a frame whose type tag this client does not know.
var ErrUnknownFrame = errors.New("unknown frame type")

// ErrMissingType indicates a JSON object without a "type" field.
var ErrMissingType = errors.New("frame has no type")

// Outbound frame types (client -> server).
const (
	TypeAuth                 = "auth"
	TypePing                 = "ping"
	TypeSubscribeDocuments   = "subscribe_documents"
	TypeUnsubscribeDocuments = "unsubscribe_documents"
	TypeChatMessage          = "chat_message"
	TypeToolResult           = "tool_result"
	TypeContinueChat         = "continue_chat"
	TypeCancelChat           = "cancel_chat"
)

// Inbound frame types (server -> client).
const (
	TypeAuthResponse     = "auth_response"
	TypePong             = "pong"
	TypeDocumentProgress = "document_progress"
	TypeError            = "error"
	TypeChatStarted      = "chat_started"
	TypeChatContent      = "chat_content"
	TypeChatToolCall     = "chat_tool_call"
	TypeChatToolStatus   = "chat_tool_status"
	TypeChatToolResult   = "chat_tool_result"
	TypeChatPaused       = "chat_paused"
	TypeChatTurnComplete = "chat_turn_complete"
	TypeChatError        = "chat_error"
)

// =============================================================================
// Outbound
// =============================================================================

// Auth identifies the client right after the socket opens.
type Auth struct {
	Type      string  `json:"type"`
	UserID    string  `json:"user_id"`
	UserName  string  `json:"user_name"`
	Role      Role    `json:"role"`
	SessionID *string `json:"session_id"`
}

// NewAuth builds an auth frame. An empty sessionID is sent as null.
func NewAuth(caller Caller, sessionID string) Auth {
	return Auth{
		Type:      TypeAuth,
		UserID:    caller.ID,
		UserName:  caller.Name,
		Role:      caller.Role,
		SessionID: nullable(sessionID),
	}
}

// Bare is a frame that carries nothing but its type.
type Bare struct {
	Type string `json:"type"`
}

// NewPing builds a heartbeat ping.
func NewPing() Bare { return Bare{Type: TypePing} }

// NewSubscribeDocuments asks the server to push document_progress frames.
func NewSubscribeDocuments() Bare { return Bare{Type: TypeSubscribeDocuments} }

// NewUnsubscribeDocuments stops document_progress pushes.
func NewUnsubscribeDocuments() Bare { return Bare{Type: TypeUnsubscribeDocuments} }

// ChatMessage starts a turn.
type ChatMessage struct {
	Type           string   `json:"type"`
	ConversationID *string  `json:"conversation_id"`
	Message        string   `json:"message"`
	Model          *string  `json:"model"`
	EnabledTools   []string `json:"enabled_tools"`
}

// NewChatMessage builds a chat_message frame. Empty conversationID and model
// are sent as null; a nil tool list is sent as an empty array.
func NewChatMessage(conversationID, message, model string, enabledTools []string) ChatMessage {
	if enabledTools == nil {
		enabledTools = []string{}
	}
	return ChatMessage{
		Type:           TypeChatMessage,
		ConversationID: nullable(conversationID),
		Message:        message,
		Model:          nullable(model),
		EnabledTools:   enabledTools,
	}
}

// ToolResult answers a chat_tool_call.
type ToolResult struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id"`
	ToolCallID     string          `json:"tool_call_id"`
	Result         json.RawMessage `json:"result"`
}

// NewToolResult builds a tool_result frame. A nil result is sent as null.
func NewToolResult(conversationID, toolCallID string, result json.RawMessage) ToolResult {
	if result == nil {
		result = json.RawMessage("null")
	}
	return ToolResult{
		Type:           TypeToolResult,
		ConversationID: conversationID,
		ToolCallID:     toolCallID,
		Result:         result,
	}
}

// ConversationCommand carries only a conversation id.
type ConversationCommand struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// NewContinueChat resumes a paused turn.
func NewContinueChat(conversationID string) ConversationCommand {
	return ConversationCommand{Type: TypeContinueChat, ConversationID: conversationID}
}

// NewCancelChat abandons a turn.
func NewCancelChat(conversationID string) ConversationCommand {
	return ConversationCommand{Type: TypeCancelChat, ConversationID: conversationID}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// =============================================================================
// Inbound
// =============================================================================

// Frame is any decoded inbound frame.
type Frame interface {
	FrameType() string
}

// ChatFrame is an inbound frame that belongs to one conversation.
type ChatFrame interface {
	Frame
	Conversation() string
	// Terminal reports whether the frame ends the turn for good.
	Terminal() bool
}

// AuthResponse acknowledges (or rejects) the auth frame.
type AuthResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Pong answers a ping.
type Pong struct{}

// DocumentProgress reports ingestion progress for one document.
type DocumentProgress struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Phase      string `json:"phase"`
	Progress   int    `json:"progress"`
	Total      int    `json:"total"`
	Error      string `json:"error"`
	ChunkCount int    `json:"chunk_count"`
	ImageCount int    `json:"image_count"`
}

// ServerError is a generic error not tied to a conversation.
type ServerError struct {
	Message string `json:"message"`
}

// ChatStarted confirms the server accepted a chat_message.
type ChatStarted struct {
	ConversationID string `json:"conversation_id"`
}

// ChatContent is a streamed text delta.
type ChatContent struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// ChatToolCall asks the client to execute a tool.
type ChatToolCall struct {
	ConversationID string          `json:"conversation_id"`
	ID             string          `json:"id"`
	Tool           string          `json:"tool"`
	Args           json.RawMessage `json:"args"`
}

// ChatToolStatus is a human-readable progress note.
type ChatToolStatus struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// ChatToolResult echoes a summary of a completed tool call.
type ChatToolResult struct {
	ConversationID string `json:"conversation_id"`
	Tool           string `json:"tool"`
	Summary        string `json:"summary"`
}

// ChatPaused suspends a turn until the client continues or cancels.
type ChatPaused struct {
	ConversationID string  `json:"conversation_id"`
	Reason         string  `json:"reason"`
	ToolCallsMade  int     `json:"tool_calls_made"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Message        string  `json:"message"`
}

// ChatTurnComplete ends a turn and reports token usage.
type ChatTurnComplete struct {
	ConversationID   string `json:"conversation_id"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// ChatError reports a turn failure. Recoverable errors leave the turn open.
type ChatError struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	Recoverable    bool   `json:"recoverable"`
}

func (*AuthResponse) FrameType() string     { return TypeAuthResponse }
func (*Pong) FrameType() string             { return TypePong }
func (*DocumentProgress) FrameType() string { return TypeDocumentProgress }
func (*ServerError) FrameType() string      { return TypeError }
func (*ChatStarted) FrameType() string      { return TypeChatStarted }
func (*ChatContent) FrameType() string      { return TypeChatContent }
func (*ChatToolCall) FrameType() string     { return TypeChatToolCall }
func (*ChatToolStatus) FrameType() string   { return TypeChatToolStatus }
func (*ChatToolResult) FrameType() string   { return TypeChatToolResult }
func (*ChatPaused) FrameType() string       { return TypeChatPaused }
func (*ChatTurnComplete) FrameType() string { return TypeChatTurnComplete }
func (*ChatError) FrameType() string        { return TypeChatError }

func (f *ChatStarted) Conversation() string      { return f.ConversationID }
func (f *ChatContent) Conversation() string      { return f.ConversationID }
func (f *ChatToolCall) Conversation() string     { return f.ConversationID }
func (f *ChatToolStatus) Conversation() string   { return f.ConversationID }
func (f *ChatToolResult) Conversation() string   { return f.ConversationID }
func (f *ChatPaused) Conversation() string       { return f.ConversationID }
func (f *ChatTurnComplete) Conversation() string { return f.ConversationID }
func (f *ChatError) Conversation() string        { return f.ConversationID }

func (*ChatStarted) Terminal() bool      { return false }
func (*ChatContent) Terminal() bool      { return false }
func (*ChatToolCall) Terminal() bool     { return false }
func (*ChatToolStatus) Terminal() bool   { return false }
func (*ChatToolResult) Terminal() bool   { return false }
func (*ChatPaused) Terminal() bool       { return false }
func (*ChatTurnComplete) Terminal() bool { return true }
func (f *ChatError) Terminal() bool      { return !f.Recoverable }

type envelope struct {
	Type string `json:"type"`
}

// PeekType returns the type tag of a raw frame without decoding the payload.
func PeekType(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("parsing frame: %w", err)
	}
	if env.Type == "" {
		return "", ErrMissingType
	}
	return env.Type, nil
}

// Decode parses a raw inbound frame into its concrete type.
func Decode(data []byte) (Frame, error) {
	typ, err := PeekType(data)
	if err != nil {
		return nil, err
	}

	var frame Frame
	switch typ {
	case TypeAuthResponse:
		frame = &AuthResponse{}
	case TypePong:
		return &Pong{}, nil
	case TypeDocumentProgress:
		frame = &DocumentProgress{}
	case TypeError:
		frame = &ServerError{}
	case TypeChatStarted:
		frame = &ChatStarted{}
	case TypeChatContent:
		frame = &ChatContent{}
	case TypeChatToolCall:
		frame = &ChatToolCall{}
	case TypeChatToolStatus:
		frame = &ChatToolStatus{}
	case TypeChatToolResult:
		frame = &ChatToolResult{}
	case TypeChatPaused:
		frame = &ChatPaused{}
	case TypeChatTurnComplete:
		frame = &ChatTurnComplete{}
	case TypeChatError:
		frame = &ChatError{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, typ)
	}

	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("decoding %s frame: %w", typ, err)
	}
	return frame, nil
}
