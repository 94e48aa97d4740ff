// Package dedupe remembers recent tool-call results so a tool call the
// server replays (for example after a session resumes on a new socket) is
// answered from memory instead of running the tool a second time.
//
// Keys are opaque strings. The chat dispatcher scopes them by conversation
// and clears a conversation's keys whenever its turn starts or ends, since
// tool call ids are only unique within one turn. A result whose claim was
// forgotten while the tool ran is not stored.
//
// Entries expire after a TTL and the cache is bounded in size; the oldest
// entry is evicted first.
package dedupe
