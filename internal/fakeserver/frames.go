// ABOUTME: Builders for server-to-client frames used by scripts and tests
// ABOUTME: Each builder returns a JSON-ready map with the type tag filled in

package fakeserver

import (
	"encoding/json"

	"github.com/2389/seneschal/internal/protocol"
)

// withType marshals v and adds the type discriminant.
func withType(typ string, v any) map[string]any {
	out := map[string]any{}
	if data, err := json.Marshal(v); err == nil {
		_ = json.Unmarshal(data, &out)
	}
	out["type"] = typ
	return out
}

// Started builds chat_started.
func Started(conversationID string) map[string]any {
	return withType(protocol.TypeChatStarted, protocol.ChatStarted{ConversationID: conversationID})
}

// Content builds chat_content.
func Content(conversationID, text string) map[string]any {
	return withType(protocol.TypeChatContent, protocol.ChatContent{ConversationID: conversationID, Text: text})
}

// ToolCall builds chat_tool_call.
func ToolCall(conversationID, id, tool string, args any) map[string]any {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("{}")
	}
	return withType(protocol.TypeChatToolCall, protocol.ChatToolCall{
		ConversationID: conversationID,
		ID:             id,
		Tool:           tool,
		Args:           raw,
	})
}

// ToolStatus builds chat_tool_status.
func ToolStatus(conversationID, message string) map[string]any {
	return withType(protocol.TypeChatToolStatus, protocol.ChatToolStatus{ConversationID: conversationID, Message: message})
}

// ToolResultEcho builds chat_tool_result.
func ToolResultEcho(conversationID, tool, summary string) map[string]any {
	return withType(protocol.TypeChatToolResult, protocol.ChatToolResult{ConversationID: conversationID, Tool: tool, Summary: summary})
}

// Paused builds chat_paused.
func Paused(conversationID, reason string, toolCalls int, elapsed float64, message string) map[string]any {
	return withType(protocol.TypeChatPaused, protocol.ChatPaused{
		ConversationID: conversationID,
		Reason:         reason,
		ToolCallsMade:  toolCalls,
		ElapsedSeconds: elapsed,
		Message:        message,
	})
}

// Complete builds chat_turn_complete.
func Complete(conversationID string, promptTokens, completionTokens int) map[string]any {
	return withType(protocol.TypeChatTurnComplete, protocol.ChatTurnComplete{
		ConversationID:   conversationID,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	})
}

// Error builds chat_error.
func Error(conversationID, message string, recoverable bool) map[string]any {
	return withType(protocol.TypeChatError, protocol.ChatError{
		ConversationID: conversationID,
		Message:        message,
		Recoverable:    recoverable,
	})
}

// DocumentProgressFrame builds document_progress.
func DocumentProgressFrame(p protocol.DocumentProgress) map[string]any {
	return withType(protocol.TypeDocumentProgress, p)
}

// ServerErrorFrame builds a generic error frame.
func ServerErrorFrame(message string) map[string]any {
	return withType(protocol.TypeError, protocol.ServerError{Message: message})
}
