package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/michaelbrown/notemind/internal/persona"
)

func (s *SQLiteStore) SaveAgent(ctx context.Context, a *persona.Agent) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, description, system_instruction, icon, color, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description,
			system_instruction = excluded.system_instruction, icon = excluded.icon, color = excluded.color`,
		a.ID, a.Name, a.Description, a.SystemInstruction, a.Icon, a.Color, a.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving agent %q: %w", a.Name, err)
	}
	return nil
}

func (s *SQLiteStore) ListAgents(ctx context.Context) ([]persona.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, system_instruction, icon, color, created_at
		FROM agents ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var out []persona.Agent
	for rows.Next() {
		var a persona.Agent
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.SystemInstruction, &a.Icon, &a.Color, &createdAt); err != nil {
			return nil, err
		}
		a.IsCustom = true
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	return requireRow(res, "agent", id)
}
