package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/michaelbrown/notemind/internal/notes"
	"github.com/michaelbrown/notemind/internal/storage"
)

const noteColumns = `id, title, content, summary, tags, source_url, created_at, updated_at`

func (s *SQLiteStore) CreateNote(ctx context.Context, n *notes.Note) error {
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	tags, err := encodeList(n.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (`+noteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Title, n.Content, n.Summary, tags, n.SourceURL,
		n.CreatedAt.Format(time.RFC3339), n.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting note: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetNote(ctx context.Context, id string) (*notes.Note, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("note %s: %w", id, storage.ErrNotFound)
	}
	return n, err
}

func (s *SQLiteStore) ListNotes(ctx context.Context) ([]notes.Note, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+noteColumns+` FROM notes ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer rows.Close()

	var out []notes.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateNote(ctx context.Context, n *notes.Note) error {
	n.UpdatedAt = time.Now().UTC()
	tags, err := encodeList(n.Tags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE notes SET title = ?, content = ?, summary = ?, tags = ?, updated_at = ? WHERE id = ?`,
		n.Title, n.Content, n.Summary, tags, n.UpdatedAt.Format(time.RFC3339), n.ID,
	)
	if err != nil {
		return fmt.Errorf("updating note: %w", err)
	}
	return requireRow(res, "note", n.ID)
}

func (s *SQLiteStore) DeleteNote(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting note: %w", err)
	}
	return requireRow(res, "note", id)
}

func scanNote(s scanner) (*notes.Note, error) {
	var n notes.Note
	var tags, createdAt, updatedAt string
	err := s.Scan(&n.ID, &n.Title, &n.Content, &n.Summary, &tags, &n.SourceURL, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of note %s: %w", n.ID, err)
	}
	if len(n.Tags) == 0 {
		n.Tags = nil
	}
	n.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	n.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &n, nil
}
