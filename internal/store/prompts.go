// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/review-engine/pkg/types"
)

// ErrInvalidPrompt is returned for a prompt with a blank name or content.
var ErrInvalidPrompt = errors.New("prompt name and content are required")

// SavePrompt creates or overwrites the prompt with p.Name. UpdatedAt is
// set by the store.
func (s *Store) SavePrompt(ctx context.Context, p types.SavedPrompt) (types.SavedPrompt, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" || strings.TrimSpace(p.Content) == "" {
		return types.SavedPrompt{}, ErrInvalidPrompt
	}
	p.UpdatedAt = s.now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prompts (name, content, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET content=excluded.content, updated_at=excluded.updated_at`,
		p.Name, p.Content, p.UpdatedAt,
	)
	if err != nil {
		return types.SavedPrompt{}, fmt.Errorf("saving prompt %q: %w", p.Name, err)
	}
	return p, nil
}

// LoadPrompt returns the prompt called name.
func (s *Store) LoadPrompt(ctx context.Context, name string) (types.SavedPrompt, error) {
	var p types.SavedPrompt
	err := s.db.QueryRowContext(ctx,
		`SELECT name, content, updated_at FROM prompts WHERE name = ?`, name,
	).Scan(&p.Name, &p.Content, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.SavedPrompt{}, fmt.Errorf("prompt %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return types.SavedPrompt{}, fmt.Errorf("loading prompt %q: %w", name, err)
	}
	return p, nil
}

// ListPrompts returns every saved prompt, most recently updated first.
func (s *Store) ListPrompts(ctx context.Context) ([]types.SavedPrompt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, content, updated_at FROM prompts ORDER BY updated_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("listing prompts: %w", err)
	}
	defer rows.Close()

	prompts := []types.SavedPrompt{}
	for rows.Next() {
		var p types.SavedPrompt
		if err := rows.Scan(&p.Name, &p.Content, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// DeletePrompt removes the prompt called name.
func (s *Store) DeletePrompt(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM prompts WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting prompt %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting prompt %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("prompt %q: %w", name, ErrNotFound)
	}
	return nil
}
