// Package protocol defines the JSON frames exchanged with the seneschal server.
//
// # Overview
//
// All traffic travels over one duplex websocket. Each frame is a JSON object
// with a "type" discriminant; conversations and broadcast topics share the
// same channel.
//
// # Outbound Frames
//
// Constructed with the New* helpers so the type tag is always set:
//
//   - auth: identity and last known session id
//   - ping
//   - subscribe_documents / unsubscribe_documents
//   - chat_message: start a turn
//   - tool_result: reply to a chat_tool_call
//   - continue_chat / cancel_chat: leave a paused turn
//
// # Inbound Frames
//
// Decode returns one concrete struct per type. Frames tied to a conversation
// implement ChatFrame:
//
//	frame, err := protocol.Decode(data)
//	switch f := frame.(type) {
//	case *protocol.ChatContent:
//	    fmt.Print(f.Text)
//	case *protocol.ChatTurnComplete:
//	    // terminal
//	}
//
// Unknown types decode to ErrUnknownFrame so callers can log and move on.
package protocol
