// Package session ties one user's chat together: the current conversation,
// the chat client that runs its turns, and the store that keeps it.
//
// Frames of a turn are applied to the transcript before they reach the UI
// handler, so a UI that sees chat_turn_complete can read the final
// assistant message from the session. Frames that arrive for a turn the
// session has since cancelled or left are dropped.
package session
