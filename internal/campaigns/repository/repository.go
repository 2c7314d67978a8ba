// Package repository persists campaigns in PostgreSQL.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/internal/campaigns"
	"leadflow_backend/platform/apperr"
)

const (
	opGetByID   = "campaigns.repository.GetByID"
	opList      = "campaigns.repository.List"
	opSetStatus = "campaigns.repository.SetStatus"
)

const campaignColumns = `
	id, account_id, name, status,
	bump_1_delay_hours, bump_2_delay_hours, bump_3_delay_hours,
	max_bumps, stop_on_response, daily_lead_limit,
	active_hours_start, active_hours_end, message_interval_minutes, timezone,
	first_message_template, bump_1_template, bump_2_template, bump_3_template,
	created_at, updated_at`

// Repository stores campaigns in PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a campaign repository
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*campaigns.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	campaign, err := scanCampaign(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("campaign not found").WithOp(opGetByID)
		}
		return nil, apperr.Internal("failed to load campaign", err).WithOp(opGetByID)
	}
	return campaign, nil
}

func (r *Repository) List(ctx context.Context) ([]*campaigns.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, apperr.Internal("failed to list campaigns", err).WithOp(opList)
	}
	defer rows.Close()

	var out []*campaigns.Campaign
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, apperr.Internal("failed to scan campaign", err).WithOp(opList)
		}
		out = append(out, campaign)
	}
	return out, rows.Err()
}

// SetStatus pauses or resumes a campaign. The dispatch loop observes
// the change on its next poll.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status campaigns.Status, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE campaigns SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), now)
	if err != nil {
		return apperr.Internal("failed to update campaign status", err).WithOp(opSetStatus)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("campaign not found").WithOp(opSetStatus)
	}
	return nil
}

func scanCampaign(row pgx.Row) (*campaigns.Campaign, error) {
	var c campaigns.Campaign
	var status string

	err := row.Scan(
		&c.ID, &c.AccountID, &c.Name, &status,
		&c.BumpDelay1Hours, &c.BumpDelay2Hours, &c.BumpDelay3Hours,
		&c.MaxBumps, &c.StopOnResponse, &c.DailyLeadLimit,
		&c.ActiveHoursStart, &c.ActiveHoursEnd, &c.MessageIntervalMinutes, &c.Timezone,
		&c.FirstMessageTemplate, &c.Bump1Template, &c.Bump2Template, &c.Bump3Template,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = campaigns.Status(status)
	return &c, nil
}
