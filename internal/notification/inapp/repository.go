// Package inapp stores the in-app notification rows shown in the
// dashboard's notification center.
package inapp

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/platform/apperr"
)

const (
	opCreate      = "notification.inapp.Create"
	opList        = "notification.inapp.List"
	opMarkRead    = "notification.inapp.MarkRead"
	opMarkAllRead = "notification.inapp.MarkAllRead"
)

// Notification is one notification center row
type Notification struct {
	ID        uuid.UUID  `json:"id"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	LeadID    *uuid.UUID `json:"lead_id,omitempty"`
	Read      bool       `json:"read"`
	CreatedAt time.Time  `json:"created_at"`
}

// Repository stores notifications in PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates the notification repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, n Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, kind, title, body, lead_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.Kind, n.Title, n.Body, n.LeadID, n.Read, n.CreatedAt,
	)
	if err != nil {
		return apperr.Internal("failed to create notification", err).WithOp(opCreate)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, kind, title, body, lead_id, read, created_at
		FROM notifications`
	if unreadOnly {
		query += ` WHERE read = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, apperr.Internal("failed to list notifications", err).WithOp(opList)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Kind, &n.Title, &n.Body, &n.LeadID, &n.Read, &n.CreatedAt); err != nil {
			return nil, apperr.Internal("failed to scan notification", err).WithOp(opList)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) MarkRead(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return apperr.Internal("failed to mark notification read", err).WithOp(opMarkRead)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("notification not found").WithOp(opMarkRead)
	}
	return nil
}

func (r *Repository) MarkAllRead(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE read = FALSE`)
	if err != nil {
		return apperr.Internal("failed to mark notifications read", err).WithOp(opMarkAllRead)
	}
	return nil
}
