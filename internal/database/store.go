package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// RunSQLMaintenance performs driver specific maintenance (VACUUM / ANALYZE).
	RunSQLMaintenance(ctx context.Context) error

	// GetActivePersona returns the active persona, or nil, nil when none is active.
	GetActivePersona(ctx context.Context) (*Persona, error)
	GetPersona(ctx context.Context, id int64) (*Persona, error)
	ListPersonas(ctx context.Context) ([]Persona, error)
	CreatePersona(ctx context.Context, p *Persona) error
	UpdatePersona(ctx context.Context, p *Persona) error
	// DeletePersona fails with ErrPersonaActive if the persona is active.
	DeletePersona(ctx context.Context, id int64) error
	// ActivatePersona deactivates every persona and activates id in one transaction.
	ActivatePersona(ctx context.Context, id int64) error
	DeactivatePersonas(ctx context.Context) error

	// GetOrCreateUser returns the stored user for u.TelegramID, inserting u first if absent.
	GetOrCreateUser(ctx context.Context, u *User) (*User, error)
	GetUser(ctx context.Context, telegramID int64) (*User, error)
	UpdateUserMemory(ctx context.Context, telegramID int64, facts Facts) error
	AddCredits(ctx context.Context, telegramID int64, amount int) (*User, error)
	// GrantVIP sets the VIP flag. A non-zero extend pushes vip_until forward
	// from max(now, current vip_until).
	GrantVIP(ctx context.Context, telegramID int64, extend time.Duration) error
	// ExpireVIP clears the VIP flag for users whose vip_until has passed.
	ExpireVIP(ctx context.Context, now time.Time) (int64, error)
	ListUserIDs(ctx context.Context, audience string) ([]int64, error)
	CountUsers(ctx context.Context) (total, vip int, err error)
	RecentUsers(ctx context.Context, limit int) ([]User, error)

	SaveMessage(ctx context.Context, m *Message) error
	CountUserMessages(ctx context.Context, userID int64) (int, error)
	// GetRecentMessages returns up to limit latest messages of a user, oldest first.
	GetRecentMessages(ctx context.Context, userID int64, limit int) ([]Message, error)

	GetMediaByTag(ctx context.Context, tag string) (*MediaContent, error)
	GetMedia(ctx context.Context, id int64) (*MediaContent, error)
	ListMedia(ctx context.Context) ([]MediaContent, error)
	CreateMedia(ctx context.Context, m *MediaContent) error
	DeleteMedia(ctx context.Context, id int64) error

	CreateCustomRequest(ctx context.Context, r *CustomRequest) error
	GetCustomRequest(ctx context.Context, id int64) (*CustomRequest, error)
	ListCustomRequests(ctx context.Context, status string) ([]CustomRequest, error)
	QuoteCustomRequest(ctx context.Context, id int64, contentRef, kind string, price int) error
	SetCustomRequestStatus(ctx context.Context, id int64, status string) error

	CreateBroadcast(ctx context.Context, b *Broadcast) error
	GetBroadcast(ctx context.Context, id int64) (*Broadcast, error)
	SaveBroadcastLog(ctx context.Context, l *BroadcastLog) error
	ListBroadcastLogs(ctx context.Context, broadcastID int64) ([]BroadcastLog, error)
	CompleteBroadcast(ctx context.Context, id int64, sent, failed int) error

	// RecordTransaction inserts t unless its id is already stored. It reports
	// whether a new row was written. An empty status is stored as pending.
	RecordTransaction(ctx context.Context, t *Transaction) (bool, error)
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	CompleteTransaction(ctx context.Context, id string) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, committing on success.
func (s *sqlxStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil
	return nil
}

// insertReturningID executes an INSERT ... RETURNING id statement.
func (s *sqlxStore) insertReturningID(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (int64, error) {
	var id int64
	if err := sqlx.GetContext(ctx, q, &id, s.db.Rebind(query), args...); err != nil {
		return 0, err
	}
	return id, nil
}

// execAffectingOne runs an UPDATE/DELETE and maps zero affected rows to ErrNotFound.
func (s *sqlxStore) execAffectingOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RunSQLMaintenance executes VACUUM on SQLite and ANALYZE on Postgres.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting maintenance", "error", ctx.Err())
		return ctx.Err()
	}

	stmt := "VACUUM;"
	if s.db.DriverName() == DriverPostgres {
		stmt = "ANALYZE;"
	}
	s.logger.InfoContext(ctx, "Starting database maintenance", "statement", stmt)

	_, err := s.db.ExecContext(ctx, stmt)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Database maintenance timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance failed", "error", err)
		return fmt.Errorf("failed to execute %s: %w", stmt, err)
	}

	s.logger.InfoContext(ctx, "Database maintenance completed successfully")
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
