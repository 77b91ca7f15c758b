package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SaveMessage inserts a new message record.
func (s *sqlxStore) SaveMessage(ctx context.Context, m *Message) error {
	if m == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if m.UserID == 0 {
		return fmt.Errorf("message must have a non-zero user_id")
	}
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return fmt.Errorf("message has invalid role %q", m.Role)
	}
	if m.Content == "" {
		return fmt.Errorf("message must have non-empty content")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	id, err := s.insertReturningID(ctx, s.db, `
		INSERT INTO messages (user_id, role, content, model, prompt_tokens, completion_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		m.UserID, m.Role, m.Content, m.Model, m.PromptTokens, m.CompletionTokens, m.CreatedAt)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message", "user_id", m.UserID, "role", m.Role, "error", err)
		return fmt.Errorf("failed to save message (user %d): %w", m.UserID, err)
	}
	m.ID = id

	s.logger.DebugContext(ctx, "Message saved successfully", "user_id", m.UserID, "role", m.Role, "message_id", m.ID)
	return nil
}

// CountUserMessages counts the user-role turns a user has sent.
func (s *sqlxStore) CountUserMessages(ctx context.Context, userID int64) (int, error) {
	var n int
	query := s.db.Rebind(`SELECT COUNT(*) FROM messages WHERE user_id = ? AND role = ?`)
	if err := s.db.GetContext(ctx, &n, query, userID, RoleUser); err != nil {
		return 0, fmt.Errorf("failed to count messages for user %d: %w", userID, err)
	}
	return n, nil
}

func (s *sqlxStore) GetRecentMessages(ctx context.Context, userID int64, limit int) ([]Message, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user_id cannot be zero")
	}
	if limit <= 0 {
		limit = 20
	} else if limit > 500 {
		limit = 500
	}

	messages := []Message{}
	query := s.db.Rebind(`
		SELECT id, user_id, role, content, model, prompt_tokens, completion_tokens, created_at
		FROM messages
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?`)
	err := s.db.SelectContext(ctx, &messages, query, userID, limit)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching messages", "user_id", userID, "error", err)
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent messages", "user_id", userID, "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get recent messages for user %d: %w", userID, err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
