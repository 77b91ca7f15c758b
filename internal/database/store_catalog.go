package database

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const mediaColumns = `id, tag, name, content_ref, kind, price, created_at`

// GetMediaByTag matches tags case-insensitively.
func (s *sqlxStore) GetMediaByTag(ctx context.Context, tag string) (*MediaContent, error) {
	var m MediaContent
	query := s.db.Rebind(`SELECT ` + mediaColumns + ` FROM media_contents WHERE LOWER(tag) = ? LIMIT 1`)
	if err := s.db.GetContext(ctx, &m, query, strings.ToLower(strings.TrimSpace(tag))); err != nil {
		return nil, fmt.Errorf("failed to get media by tag %q: %w", tag, notFound(err))
	}
	return &m, nil
}

func (s *sqlxStore) GetMedia(ctx context.Context, id int64) (*MediaContent, error) {
	var m MediaContent
	query := s.db.Rebind(`SELECT ` + mediaColumns + ` FROM media_contents WHERE id = ?`)
	if err := s.db.GetContext(ctx, &m, query, id); err != nil {
		return nil, fmt.Errorf("failed to get media %d: %w", id, notFound(err))
	}
	return &m, nil
}

func (s *sqlxStore) ListMedia(ctx context.Context) ([]MediaContent, error) {
	items := []MediaContent{}
	if err := s.db.SelectContext(ctx, &items, `SELECT `+mediaColumns+` FROM media_contents ORDER BY tag`); err != nil {
		return nil, fmt.Errorf("failed to list media: %w", err)
	}
	return items, nil
}

func (s *sqlxStore) CreateMedia(ctx context.Context, m *MediaContent) error {
	if m == nil || m.Tag == "" || m.ContentRef == "" {
		return fmt.Errorf("media must have a tag and a content reference")
	}
	if m.Kind != MediaPhoto && m.Kind != MediaVideo {
		return fmt.Errorf("media has invalid kind %q", m.Kind)
	}
	if m.Price <= 0 {
		return fmt.Errorf("media price must be positive")
	}
	m.Tag = strings.ToLower(strings.TrimSpace(m.Tag))
	m.CreatedAt = time.Now().UTC()

	id, err := s.insertReturningID(ctx, s.db, `
		INSERT INTO media_contents (tag, name, content_ref, kind, price, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		m.Tag, m.Name, m.ContentRef, m.Kind, m.Price, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create media %q: %w", m.Tag, err)
	}
	m.ID = id
	return nil
}

func (s *sqlxStore) DeleteMedia(ctx context.Context, id int64) error {
	if err := s.execAffectingOne(ctx, `DELETE FROM media_contents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete media %d: %w", id, err)
	}
	return nil
}

const customRequestColumns = `id, user_id, description, status, content_ref, kind, price, created_at, updated_at`

func (s *sqlxStore) CreateCustomRequest(ctx context.Context, r *CustomRequest) error {
	if r == nil || r.UserID == 0 || r.Description == "" {
		return fmt.Errorf("custom request must have a user and a description")
	}
	now := time.Now().UTC()
	r.Status, r.CreatedAt, r.UpdatedAt = RequestPending, now, now

	id, err := s.insertReturningID(ctx, s.db, `
		INSERT INTO custom_requests (user_id, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`,
		r.UserID, r.Description, r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error creating custom request", "user_id", r.UserID, "error", err)
		return fmt.Errorf("failed to create custom request: %w", err)
	}
	r.ID = id
	s.logger.InfoContext(ctx, "Custom request captured", "user_id", r.UserID, "request_id", id)
	return nil
}

func (s *sqlxStore) GetCustomRequest(ctx context.Context, id int64) (*CustomRequest, error) {
	var r CustomRequest
	query := s.db.Rebind(`SELECT ` + customRequestColumns + ` FROM custom_requests WHERE id = ?`)
	if err := s.db.GetContext(ctx, &r, query, id); err != nil {
		return nil, fmt.Errorf("failed to get custom request %d: %w", id, notFound(err))
	}
	return &r, nil
}

func (s *sqlxStore) ListCustomRequests(ctx context.Context, status string) ([]CustomRequest, error) {
	requests := []CustomRequest{}
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &requests, `SELECT `+customRequestColumns+` FROM custom_requests ORDER BY id DESC`)
	} else {
		query := s.db.Rebind(`SELECT ` + customRequestColumns + ` FROM custom_requests WHERE status = ? ORDER BY id DESC`)
		err = s.db.SelectContext(ctx, &requests, query, status)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list custom requests: %w", err)
	}
	return requests, nil
}

// QuoteCustomRequest attaches the fulfillment content and price to a pending request.
func (s *sqlxStore) QuoteCustomRequest(ctx context.Context, id int64, contentRef, kind string, price int) error {
	if kind != MediaPhoto && kind != MediaVideo {
		return fmt.Errorf("invalid content kind %q", kind)
	}
	err := s.execAffectingOne(ctx, `
		UPDATE custom_requests SET content_ref = ?, kind = ?, price = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		contentRef, kind, price, time.Now().UTC(), id, RequestPending)
	if err != nil {
		return fmt.Errorf("failed to quote custom request %d: %w", id, err)
	}
	return nil
}

// SetCustomRequestStatus moves a pending request to a terminal status.
func (s *sqlxStore) SetCustomRequestStatus(ctx context.Context, id int64, status string) error {
	if status != RequestFulfilled && status != RequestRejected {
		return fmt.Errorf("invalid terminal status %q", status)
	}
	err := s.execAffectingOne(ctx, `UPDATE custom_requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, time.Now().UTC(), id, RequestPending)
	if err != nil {
		return fmt.Errorf("failed to set custom request %d to %s: %w", id, status, err)
	}
	s.logger.InfoContext(ctx, "Custom request status changed", "request_id", id, "status", status)
	return nil
}
