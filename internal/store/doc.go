// Package store persists conversation transcripts, token usage and notes.
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite (pure Go), WAL mode, schema created
//     and migrated on open.
//   - MemoryStore: maps guarded by a mutex, for tests and for running
//     without a database file.
//
// # Data Models
//
//   - ConversationRecord: one chat thread (id, title, model, timestamps)
//   - MessageRecord: one transcript entry, ordered by creation time
//   - TokenUsage: prompt/completion tokens reported by one completed turn
//   - Note: key-value note owned by one user, unique per (owner, key)
//
// Deleting a conversation removes its messages and usage.
package store
