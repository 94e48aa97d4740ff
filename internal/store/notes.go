// ABOUTME: SQLite implementation of per-user notes
// ABOUTME: Notes are unique per (owner, key); SetNote upserts

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SetNote creates or updates a note.
func (s *SQLiteStore) SetNote(ctx context.Context, note *Note) error {
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, owner_id, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, note.ID, note.OwnerID, note.Key, note.Value,
		note.CreatedAt.UTC().Format(timeFormat), note.UpdatedAt.Format(timeFormat))
	if err != nil {
		return fmt.Errorf("saving note: %w", err)
	}
	return nil
}

// GetNote retrieves a note by owner and key.
func (s *SQLiteStore) GetNote(ctx context.Context, ownerID, key string) (*Note, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, key, value, created_at, updated_at
		FROM notes WHERE owner_id = ? AND key = ?
	`, ownerID, key)

	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying note: %w", err)
	}
	return n, nil
}

// ListNotes lists all notes of an owner.
func (s *SQLiteStore) ListNotes(ctx context.Context, ownerID string) ([]*Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, key, value, created_at, updated_at
		FROM notes WHERE owner_id = ?
		ORDER BY key ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying notes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notes []*Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// DeleteNote deletes a note by owner and key.
func (s *SQLiteStore) DeleteNote(ctx context.Context, ownerID, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE owner_id = ? AND key = ?`, ownerID, key)
	if err != nil {
		return fmt.Errorf("deleting note: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanNote(row rowScanner) (*Note, error) {
	var n Note
	var createdAt, updatedAt string
	if err := row.Scan(&n.ID, &n.OwnerID, &n.Key, &n.Value, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	n.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	n.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &n, nil
}
