package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const userColumns = `telegram_id, username, full_name, memory, is_vip, vip_until, credits, created_at`

func (s *sqlxStore) GetOrCreateUser(ctx context.Context, u *User) (*User, error) {
	if u == nil || u.TelegramID == 0 {
		return nil, fmt.Errorf("user must have a non-zero telegram_id")
	}
	if u.Memory == nil {
		u.Memory = Facts{}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	query := s.db.Rebind(`
		INSERT INTO users (telegram_id, username, full_name, memory, is_vip, credits, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (telegram_id) DO NOTHING`)
	res, err := s.db.ExecContext(ctx, query, u.TelegramID, u.Username, u.FullName, u.Memory, u.IsVIP, u.Credits, u.CreatedAt)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error creating user", "user_id", u.TelegramID, "error", err)
		return nil, fmt.Errorf("failed to create user %d: %w", u.TelegramID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		s.logger.InfoContext(ctx, "New user registered", "user_id", u.TelegramID, "full_name", u.FullName)
	}

	return s.GetUser(ctx, u.TelegramID)
}

func (s *sqlxStore) GetUser(ctx context.Context, telegramID int64) (*User, error) {
	var u User
	query := s.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE telegram_id = ?`)
	if err := s.db.GetContext(ctx, &u, query, telegramID); err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", telegramID, notFound(err))
	}
	return &u, nil
}

func (s *sqlxStore) UpdateUserMemory(ctx context.Context, telegramID int64, facts Facts) error {
	if err := s.execAffectingOne(ctx, `UPDATE users SET memory = ? WHERE telegram_id = ?`, facts, telegramID); err != nil {
		s.logger.ErrorContext(ctx, "Error updating user memory", "user_id", telegramID, "error", err)
		return fmt.Errorf("failed to update memory for user %d: %w", telegramID, err)
	}
	s.logger.DebugContext(ctx, "User memory updated", "user_id", telegramID, "fact_count", len(facts))
	return nil
}

func (s *sqlxStore) AddCredits(ctx context.Context, telegramID int64, amount int) (*User, error) {
	if err := s.execAffectingOne(ctx, `UPDATE users SET credits = credits + ? WHERE telegram_id = ?`, amount, telegramID); err != nil {
		return nil, fmt.Errorf("failed to add credits for user %d: %w", telegramID, err)
	}
	s.logger.InfoContext(ctx, "Credits adjusted", "user_id", telegramID, "amount", amount)
	return s.GetUser(ctx, telegramID)
}

func (s *sqlxStore) GrantVIP(ctx context.Context, telegramID int64, extend time.Duration) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var u User
		if err := tx.GetContext(ctx, &u, tx.Rebind(`SELECT `+userColumns+` FROM users WHERE telegram_id = ?`), telegramID); err != nil {
			return fmt.Errorf("failed to load user %d: %w", telegramID, notFound(err))
		}

		until := u.VIPUntil
		if extend > 0 {
			base := time.Now().UTC()
			if until.Valid && until.Time.After(base) {
				base = until.Time.UTC()
			}
			until.Time, until.Valid = base.Add(extend), true
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE users SET is_vip = ?, vip_until = ? WHERE telegram_id = ?`), true, until, telegramID); err != nil {
			return fmt.Errorf("failed to grant vip to user %d: %w", telegramID, err)
		}
		s.logger.InfoContext(ctx, "VIP granted", "user_id", telegramID, "vip_until", until.Time)
		return nil
	})
}

// ExpireVIP only touches users with a vip_until; VIP granted without an expiry is permanent.
func (s *sqlxStore) ExpireVIP(ctx context.Context, now time.Time) (int64, error) {
	query := s.db.Rebind(`UPDATE users SET is_vip = ? WHERE is_vip = ? AND vip_until IS NOT NULL AND vip_until < ?`)
	res, err := s.db.ExecContext(ctx, query, false, true, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire vip users: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *sqlxStore) ListUserIDs(ctx context.Context, audience string) ([]int64, error) {
	var (
		query string
		args  []any
	)
	switch audience {
	case AudienceAll, "":
		query = `SELECT telegram_id FROM users ORDER BY telegram_id`
	case AudienceVIP:
		query, args = `SELECT telegram_id FROM users WHERE is_vip = ? ORDER BY telegram_id`, []any{true}
	case AudienceNonVIP:
		query, args = `SELECT telegram_id FROM users WHERE is_vip = ? ORDER BY telegram_id`, []any{false}
	default:
		return nil, fmt.Errorf("unknown audience %q", audience)
	}

	ids := []int64{}
	if err := s.db.SelectContext(ctx, &ids, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list user ids: %w", err)
	}
	return ids, nil
}

func (s *sqlxStore) CountUsers(ctx context.Context) (total, vip int, err error) {
	if err = s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, 0, fmt.Errorf("failed to count users: %w", err)
	}
	if err = s.db.GetContext(ctx, &vip, s.db.Rebind(`SELECT COUNT(*) FROM users WHERE is_vip = ?`), true); err != nil {
		return 0, 0, fmt.Errorf("failed to count vip users: %w", err)
	}
	return total, vip, nil
}

func (s *sqlxStore) RecentUsers(ctx context.Context, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 10
	}
	users := []User{}
	query := s.db.Rebind(`SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, telegram_id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &users, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list recent users: %w", err)
	}
	return users, nil
}
