// ABOUTME: Canned chat scripts for the fake server
// ABOUTME: DiceScript exercises the tool-call round trip, EchoScript just streams text

package fakeserver

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/2389/seneschal/internal/protocol"
)

// ToolResultTimeout bounds how long DiceScript waits for a tool_result.
const ToolResultTimeout = 10 * time.Second

var formulaPattern = regexp.MustCompile(`\b\d*d\d+(?:k[hl]\d+)?(?:[+-]\d+)?\b`)

// EchoScript streams the message back in two chunks and completes.
func EchoScript(c *Conn, conversationID string, msg protocol.ChatMessage) {
	_ = c.Send(Started(conversationID))
	_ = c.Send(Content(conversationID, "Echo: "))
	_ = c.Send(Content(conversationID, msg.Message))
	_ = c.Send(Complete(conversationID, len(strings.Fields(msg.Message)), 2))
}

// DiceScript asks the client to roll dice when the message mentions "roll",
// and echoes otherwise.
func DiceScript(c *Conn, conversationID string, msg protocol.ChatMessage) {
	if !strings.Contains(strings.ToLower(msg.Message), "roll") {
		EchoScript(c, conversationID, msg)
		return
	}

	formula := formulaPattern.FindString(strings.ToLower(msg.Message))
	if formula == "" {
		formula = "1d20"
	}

	_ = c.Send(Started(conversationID))
	_ = c.Send(Content(conversationID, "Rolling "+formula+"... "))

	callID := fmt.Sprintf("call-%d", time.Now().UnixNano())
	_ = c.Send(ToolCall(conversationID, callID, "dice_roll", map[string]string{"formula": formula}))
	_ = c.Send(ToolStatus(conversationID, "Waiting for dice_roll"))

	raw, ok := c.AwaitToolResult(callID, ToolResultTimeout)
	if !ok {
		_ = c.Send(Error(conversationID, "tool call timed out", false))
		return
	}

	var result struct {
		Total   *int   `json:"total"`
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &result)

	switch {
	case result.Error != nil && result.Error != false:
		reason := result.Message
		if reason == "" {
			reason = fmt.Sprint(result.Error)
		}
		_ = c.Send(ToolResultEcho(conversationID, "dice_roll", "failed: "+reason))
		_ = c.Send(Content(conversationID, "The dice tool failed: "+reason))
	case result.Total != nil:
		_ = c.Send(ToolResultEcho(conversationID, "dice_roll", fmt.Sprintf("total %d", *result.Total)))
		_ = c.Send(Content(conversationID, fmt.Sprintf("You rolled **%d**.", *result.Total)))
	default:
		_ = c.Send(Content(conversationID, "The dice tool returned nothing useful."))
	}

	_ = c.Send(Complete(conversationID, 42, 12))
}
