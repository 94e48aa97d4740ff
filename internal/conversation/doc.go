// Package conversation holds the client-side transcript of one chat thread.
//
// # Overview
//
// A Conversation is an opaque id plus the ordered messages exchanged in it.
// Each message carries an estimated token count (one token per four
// characters, rounded up) and the conversation keeps a running total:
//
//	conv := conversation.New()
//	conv.Append(conversation.RoleUser, "roll 2d6 for the goblin")
//	conv.TokenEstimate() // 6
//
// "New conversation" is Reset: the id is discarded and replaced, and the
// messages are cleared.
//
// # State
//
// State mirrors whether a turn is running (StateProcessing), waiting on the
// user after a server pause (StatePaused), or idle.
//
// # Export
//
// RenderMarkdown produces a markdown transcript. RenderHTML converts each
// message through goldmark and renders a standalone HTML page.
//
// A Conversation is not safe for concurrent use; the owner serialises access.
package conversation
