// Package tools executes the tools this process serves to the assistant.
//
// A Registry holds tools grouped in packs and implements chat.ToolExecutor.
// Every tool declares the minimum caller role allowed to run it. Lookup and
// permission failures are returned as data ({"error": "..."}) so the agent
// can react to them; only a failing handler returns a Go error.
//
// The dice pack provides dice_roll, which understands formulas such as
// "2d6", "d20+5" and "4d6kh3". The notes pack (note_set, note_get,
// note_list, note_delete) keeps key-value notes per calling user in a
// store.NoteStore.
package tools
