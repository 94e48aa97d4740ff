// ABOUTME: Notes pack: per-user key-value notes the assistant can keep between sessions.
// ABOUTME: Notes are owned by the calling user; one user never sees another's notes.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/seneschal/internal/protocol"
	"github.com/2389/seneschal/internal/store"
)

// ErrEmptyKey indicates a note tool was called without a key.
var ErrEmptyKey = errors.New("key is required")

// NotesPack creates the notes pack backed by s.
func NotesPack(s store.NoteStore) *Pack {
	n := &notesHandlers{store: s}
	return &Pack{
		ID: "builtin:notes",
		Tools: []*Tool{
			{
				Definition: Definition{
					Name:        "note_set",
					Description: "Store a note under a key, replacing any previous value",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"},"value":{"type":"string"}},"required":["key","value"]}`),
					MinRole:     protocol.RolePlayer,
				},
				Handler: n.Set,
			},
			{
				Definition: Definition{
					Name:        "note_get",
					Description: "Retrieve a note",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
					MinRole:     protocol.RolePlayer,
				},
				Handler: n.Get,
			},
			{
				Definition: Definition{
					Name:        "note_list",
					Description: "List all note keys",
					InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
					MinRole:     protocol.RolePlayer,
				},
				Handler: n.List,
			},
			{
				Definition: Definition{
					Name:        "note_delete",
					Description: "Delete a note",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
					MinRole:     protocol.RolePlayer,
				},
				Handler: n.Delete,
			},
		},
	}
}

type notesHandlers struct {
	store store.NoteStore
}

type noteInput struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func decodeNoteInput(args json.RawMessage) (noteInput, error) {
	var in noteInput
	if err := json.Unmarshal(args, &in); err != nil {
		return in, fmt.Errorf("invalid input: %w", err)
	}
	if in.Key == "" {
		return in, ErrEmptyKey
	}
	return in, nil
}

func (n *notesHandlers) Set(ctx context.Context, caller protocol.Caller, args json.RawMessage) (json.RawMessage, error) {
	in, err := decodeNoteInput(args)
	if err != nil {
		return nil, err
	}

	note := &store.Note{
		OwnerID: caller.ID,
		Key:     in.Key,
		Value:   in.Value,
	}
	if err := n.store.SetNote(ctx, note); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{"key": in.Key, "status": "saved"})
}

func (n *notesHandlers) Get(ctx context.Context, caller protocol.Caller, args json.RawMessage) (json.RawMessage, error) {
	in, err := decodeNoteInput(args)
	if err != nil {
		return nil, err
	}

	note, err := n.store.GetNote(ctx, caller.ID, in.Key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no note named %q", in.Key)
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{"key": note.Key, "value": note.Value})
}

func (n *notesHandlers) List(ctx context.Context, caller protocol.Caller, _ json.RawMessage) (json.RawMessage, error) {
	notes, err := n.store.ListNotes(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(notes))
	for i, note := range notes {
		keys[i] = note.Key
	}

	return json.Marshal(map[string]any{"keys": keys, "count": len(keys)})
}

func (n *notesHandlers) Delete(ctx context.Context, caller protocol.Caller, args json.RawMessage) (json.RawMessage, error) {
	in, err := decodeNoteInput(args)
	if err != nil {
		return nil, err
	}

	if err := n.store.DeleteNote(ctx, caller.ID, in.Key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("no note named %q", in.Key)
		}
		return nil, err
	}

	return json.Marshal(map[string]string{"key": in.Key, "status": "deleted"})
}
