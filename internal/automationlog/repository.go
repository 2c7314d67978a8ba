package automationlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/platform/apperr"
)

const (
	opRecord = "automationlog.Repository.Record"
	opList   = "automationlog.Repository.List"
)

// Repository stores automation log entries in PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates the log repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Record(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO automation_logs (id, lead_id, campaign_id, action, stage, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.LeadID, entry.CampaignID, entry.Action, entry.Stage, entry.Detail, entry.CreatedAt,
	)
	if err != nil {
		return apperr.Internal("failed to record automation log entry", err).WithOp(opRecord)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, lead_id, campaign_id, action, stage, detail, created_at
		FROM automation_logs WHERE 1=1`
	args := []any{}
	idx := 1

	if filter.LeadID != nil {
		query += fmt.Sprintf(" AND lead_id = $%d", idx)
		args = append(args, *filter.LeadID)
		idx++
	}
	if filter.CampaignID != nil {
		query += fmt.Sprintf(" AND campaign_id = $%d", idx)
		args = append(args, *filter.CampaignID)
		idx++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", idx)
		args = append(args, filter.Action)
		idx++
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal("failed to list automation logs", err).WithOp(opList)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.LeadID, &e.CampaignID, &e.Action, &e.Stage, &e.Detail, &e.CreatedAt); err != nil {
			return nil, apperr.Internal("failed to scan automation log entry", err).WithOp(opList)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
