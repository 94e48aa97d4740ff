// Package chat routes inbound seneschal frames and drives conversation turns.
//
// # Architecture
//
// The socket read loop hands every raw frame to a Router, one at a time:
//
//   - Broadcast frames (auth_response, pong, document_progress, error) are
//     published on a topic of the Broadcaster to every Listener.
//   - Chat frames are delivered to the single Handler registered in the
//     Registry for the frame's conversation id. Frames for unknown ids are
//     dropped.
//   - chat_tool_call frames are additionally passed to the Dispatcher, which
//     runs the ToolExecutor on its own goroutine and answers with a
//     tool_result frame.
//
// Terminal frames (chat_turn_complete, non-recoverable chat_error) remove
// the handler after it has seen the frame.
//
// # Turns
//
// Client is the outbound command API. It tracks the state of each turn
// (Idle, Thinking, Streaming, Paused, Completed, Errored) and enforces that
// a paused turn only resumes through ContinueChat or ends through
// CancelChat. Every send is fire-and-forget.
package chat
