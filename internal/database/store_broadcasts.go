package database

import (
	"context"
	"fmt"
	"time"
)

const broadcastColumns = `id, text, media_id, target_count, sent_count, fail_count, status, created_at, completed_at`

func (s *sqlxStore) CreateBroadcast(ctx context.Context, b *Broadcast) error {
	if b == nil {
		return fmt.Errorf("cannot create nil broadcast")
	}
	b.Status, b.CreatedAt = BroadcastProcessing, time.Now().UTC()
	b.SentCount, b.FailCount = 0, 0

	id, err := s.insertReturningID(ctx, s.db, `
		INSERT INTO broadcasts (text, media_id, target_count, sent_count, fail_count, status, created_at)
		VALUES (?, ?, ?, 0, 0, ?, ?) RETURNING id`,
		b.Text, b.MediaID, b.TargetCount, b.Status, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create broadcast: %w", err)
	}
	b.ID = id
	return nil
}

func (s *sqlxStore) GetBroadcast(ctx context.Context, id int64) (*Broadcast, error) {
	var b Broadcast
	query := s.db.Rebind(`SELECT ` + broadcastColumns + ` FROM broadcasts WHERE id = ?`)
	if err := s.db.GetContext(ctx, &b, query, id); err != nil {
		return nil, fmt.Errorf("failed to get broadcast %d: %w", id, notFound(err))
	}
	return &b, nil
}

func (s *sqlxStore) SaveBroadcastLog(ctx context.Context, l *BroadcastLog) error {
	if l == nil || l.BroadcastID == 0 || l.UserID == 0 {
		return fmt.Errorf("broadcast log must reference a broadcast and a user")
	}
	if l.Status != DeliverySent && l.Status != DeliveryFailed {
		return fmt.Errorf("broadcast log has invalid status %q", l.Status)
	}
	l.CreatedAt = time.Now().UTC()

	id, err := s.insertReturningID(ctx, s.db, `
		INSERT INTO broadcast_logs (broadcast_id, user_id, status, error, created_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`,
		l.BroadcastID, l.UserID, l.Status, l.Error, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save broadcast log (broadcast %d, user %d): %w", l.BroadcastID, l.UserID, err)
	}
	l.ID = id
	return nil
}

func (s *sqlxStore) ListBroadcastLogs(ctx context.Context, broadcastID int64) ([]BroadcastLog, error) {
	logs := []BroadcastLog{}
	query := s.db.Rebind(`SELECT id, broadcast_id, user_id, status, error, created_at FROM broadcast_logs WHERE broadcast_id = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &logs, query, broadcastID); err != nil {
		return nil, fmt.Errorf("failed to list broadcast logs for %d: %w", broadcastID, err)
	}
	return logs, nil
}

// CompleteBroadcast writes the final counters and status in one statement.
func (s *sqlxStore) CompleteBroadcast(ctx context.Context, id int64, sent, failed int) error {
	err := s.execAffectingOne(ctx, `
		UPDATE broadcasts SET status = ?, sent_count = ?, fail_count = ?, completed_at = ?
		WHERE id = ?`,
		BroadcastCompleted, sent, failed, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete broadcast %d: %w", id, err)
	}
	return nil
}
