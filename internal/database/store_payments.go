package database

import (
	"context"
	"fmt"
	"time"
)

func (s *sqlxStore) RecordTransaction(ctx context.Context, t *Transaction) (bool, error) {
	if t == nil || t.ID == "" || t.UserID == 0 {
		return false, fmt.Errorf("transaction must have a charge id and a user")
	}
	if t.Status == "" {
		t.Status = TransactionPending
	}
	t.CreatedAt = time.Now().UTC()

	query := s.db.Rebind(`
		INSERT INTO transactions (id, user_id, payload, amount, currency, provider, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	res, err := s.db.ExecContext(ctx, query, t.ID, t.UserID, t.Payload, t.Amount, t.Currency, t.Provider, t.Status, t.CreatedAt)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error recording transaction", "charge_id", t.ID, "user_id", t.UserID, "error", err)
		return false, fmt.Errorf("failed to record transaction %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows for transaction %s: %w", t.ID, err)
	}
	if n == 0 {
		s.logger.WarnContext(ctx, "Duplicate payment ignored", "charge_id", t.ID, "user_id", t.UserID)
		return false, nil
	}
	return true, nil
}

func (s *sqlxStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	var t Transaction
	query := s.db.Rebind(`SELECT id, user_id, payload, amount, currency, provider, status, created_at FROM transactions WHERE id = ?`)
	if err := s.db.GetContext(ctx, &t, query, id); err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, notFound(err))
	}
	return &t, nil
}

// CompleteTransaction marks a charge as fully applied.
func (s *sqlxStore) CompleteTransaction(ctx context.Context, id string) error {
	if err := s.execAffectingOne(ctx, `UPDATE transactions SET status = ? WHERE id = ?`, TransactionCompleted, id); err != nil {
		return fmt.Errorf("failed to complete transaction %s: %w", id, err)
	}
	return nil
}
