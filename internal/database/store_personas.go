package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const personaColumns = `id, name, system_prompt, telegram_token, ai_provider, ai_token, ai_model, is_active, created_at, updated_at`

func (s *sqlxStore) GetActivePersona(ctx context.Context) (*Persona, error) {
	var p Persona
	query := s.db.Rebind(`SELECT ` + personaColumns + ` FROM personas WHERE is_active = ? LIMIT 1`)
	err := s.db.GetContext(ctx, &p, query, true)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No active persona")
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting active persona", "error", err)
		return nil, fmt.Errorf("failed to get active persona: %w", err)
	}
	return &p, nil
}

func (s *sqlxStore) GetPersona(ctx context.Context, id int64) (*Persona, error) {
	var p Persona
	query := s.db.Rebind(`SELECT ` + personaColumns + ` FROM personas WHERE id = ?`)
	if err := s.db.GetContext(ctx, &p, query, id); err != nil {
		return nil, fmt.Errorf("failed to get persona %d: %w", id, notFound(err))
	}
	return &p, nil
}

func (s *sqlxStore) ListPersonas(ctx context.Context) ([]Persona, error) {
	personas := []Persona{}
	if err := s.db.SelectContext(ctx, &personas, `SELECT `+personaColumns+` FROM personas ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}
	return personas, nil
}

// CreatePersona inserts p as inactive; activation goes through ActivatePersona.
func (s *sqlxStore) CreatePersona(ctx context.Context, p *Persona) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("persona must have a name")
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt, p.IsActive = now, now, false

	id, err := s.insertReturningID(ctx, s.db, `
		INSERT INTO personas (name, system_prompt, telegram_token, ai_provider, ai_token, ai_model, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		p.Name, p.SystemPrompt, p.TelegramToken, p.AIProvider, p.AIToken, p.AIModel, false, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error creating persona", "name", p.Name, "error", err)
		return fmt.Errorf("failed to create persona: %w", err)
	}
	p.ID = id
	s.logger.InfoContext(ctx, "Persona created", "persona_id", id, "name", p.Name)
	return nil
}

// UpdatePersona rewrites the editable fields. The active flag is not touched.
func (s *sqlxStore) UpdatePersona(ctx context.Context, p *Persona) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("persona must have a name")
	}
	p.UpdatedAt = time.Now().UTC()
	err := s.execAffectingOne(ctx, `
		UPDATE personas SET name = ?, system_prompt = ?, telegram_token = ?, ai_provider = ?, ai_token = ?, ai_model = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.SystemPrompt, p.TelegramToken, p.AIProvider, p.AIToken, p.AIModel, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update persona %d: %w", p.ID, err)
	}
	return nil
}

func (s *sqlxStore) DeletePersona(ctx context.Context, id int64) error {
	p, err := s.GetPersona(ctx, id)
	if err != nil {
		return err
	}
	if p.IsActive {
		return ErrPersonaActive
	}
	// The is_active guard closes the window between the read above and the delete.
	if err := s.execAffectingOne(ctx, `DELETE FROM personas WHERE id = ? AND is_active = ?`, id, false); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrPersonaActive
		}
		return fmt.Errorf("failed to delete persona %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "Persona deleted", "persona_id", id)
	return nil
}

func (s *sqlxStore) ActivatePersona(ctx context.Context, id int64) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE personas SET is_active = ?, updated_at = ? WHERE is_active = ?`), false, now, true); err != nil {
			return fmt.Errorf("failed to deactivate personas: %w", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE personas SET is_active = ?, updated_at = ? WHERE id = ?`), true, now, id)
		if err != nil {
			return fmt.Errorf("failed to activate persona %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("failed to activate persona %d: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Persona activation failed", "persona_id", id, "error", err)
		return err
	}
	s.logger.InfoContext(ctx, "Persona marked active", "persona_id", id)
	return nil
}

func (s *sqlxStore) DeactivatePersonas(ctx context.Context) error {
	query := s.db.Rebind(`UPDATE personas SET is_active = ?, updated_at = ? WHERE is_active = ?`)
	if _, err := s.db.ExecContext(ctx, query, false, time.Now().UTC(), true); err != nil {
		return fmt.Errorf("failed to deactivate personas: %w", err)
	}
	s.logger.InfoContext(ctx, "All personas deactivated")
	return nil
}
