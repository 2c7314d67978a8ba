// Package repository persists leads in PostgreSQL.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/apperr"
)

const (
	opCreate       = "leads.repository.Create"
	opGetByID      = "leads.repository.GetByID"
	opList         = "leads.repository.List"
	opUpdate       = "leads.repository.Update"
	opMutate       = "leads.repository.Mutate"
	opListDue      = "leads.repository.ListDue"
	opListQueued   = "leads.repository.ListQueued"
	opClaim        = "leads.repository.ClaimForSend"
	opReleaseLease = "leads.repository.ReleaseLease"
)

const leadColumns = `
	id, account_id, campaign_id, first_name, last_name, phone, email,
	conversion_status, automation_status, current_bump_stage,
	first_message_sent_at, bump_1_sent_at, bump_2_sent_at, bump_3_sent_at,
	next_action_at, message_count_sent, message_count_received,
	last_message_sent_at, last_message_received_at, last_interaction_at,
	opted_out, dnc_reason, manual_takeover, priority, lead_score, timezone,
	dispatch_leased_until, created_at, updated_at`

// ListFilter narrows List results
type ListFilter struct {
	CampaignID       *uuid.UUID
	ConversionStatus *domain.ConversionStatus
	AutomationStatus *domain.AutomationStatus
	Limit            int
	Offset           int
}

// Repository stores leads in PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a lead repository
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, lead *domain.Lead) error {
	query := `
		INSERT INTO leads (` + leadColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,
		        $18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29)`

	_, err := r.pool.Exec(ctx, query, args(lead)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Conflict("a lead with this phone already exists in the campaign").WithOp(opCreate)
		}
		return apperr.Internal("failed to create lead", err).WithOp(opCreate)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	lead, err := scanLead(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("lead not found").WithOp(opGetByID)
		}
		return nil, apperr.Internal("failed to load lead", err).WithOp(opGetByID)
	}
	return lead, nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*domain.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	queryArgs := []any{}
	idx := 1

	if filter.CampaignID != nil {
		query += fmt.Sprintf(" AND campaign_id = $%d", idx)
		queryArgs = append(queryArgs, *filter.CampaignID)
		idx++
	}
	if filter.ConversionStatus != nil {
		query += fmt.Sprintf(" AND conversion_status = $%d", idx)
		queryArgs = append(queryArgs, string(*filter.ConversionStatus))
		idx++
	}
	if filter.AutomationStatus != nil {
		query += fmt.Sprintf(" AND automation_status = $%d", idx)
		queryArgs = append(queryArgs, string(*filter.AutomationStatus))
		idx++
	}

	query += " ORDER BY last_interaction_at DESC NULLS LAST, created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", idx, idx+1)
	queryArgs = append(queryArgs, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, apperr.Internal("failed to list leads", err).WithOp(opList)
	}
	defer rows.Close()

	return collectLeads(rows, opList)
}

func (r *Repository) Update(ctx context.Context, lead *domain.Lead) error {
	query := `
		UPDATE leads SET
			first_name = $2, last_name = $3, phone = $4, email = $5,
			conversion_status = $6, automation_status = $7,
			current_bump_stage = $8, first_message_sent_at = $9,
			bump_1_sent_at = $10, bump_2_sent_at = $11, bump_3_sent_at = $12,
			next_action_at = $13, message_count_sent = $14,
			message_count_received = $15, last_message_sent_at = $16,
			last_message_received_at = $17, last_interaction_at = $18,
			opted_out = $19, dnc_reason = $20, manual_takeover = $21,
			priority = $22, lead_score = $23, timezone = $24,
			dispatch_leased_until = $25, updated_at = $26
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query,
		lead.ID, lead.FirstName, lead.LastName, lead.Phone, lead.Email,
		string(lead.ConversionStatus), string(lead.AutomationStatus),
		lead.CurrentBumpStage, lead.FirstMessageSentAt,
		lead.Bump1SentAt, lead.Bump2SentAt, lead.Bump3SentAt,
		lead.NextActionAt, lead.MessageCountSent,
		lead.MessageCountReceived, lead.LastMessageSentAt,
		lead.LastMessageReceivedAt, lead.LastInteractionAt,
		lead.OptedOut, lead.DNCReason, lead.ManualTakeover,
		string(lead.Priority), lead.LeadScore, lead.Timezone,
		lead.DispatchLeasedUntil, lead.UpdatedAt,
	)
	if err != nil {
		return apperr.Internal("failed to update lead", err).WithOp(opUpdate)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lead not found").WithOp(opUpdate)
	}
	return nil
}

// Mutate loads the lead under a row lock, applies fn, and saves the
// result in the same transaction. Inbound-message handling and the
// dispatch loop both go through this lock, so a reply can never race
// an outbound mutation on the same lead.
func (r *Repository) Mutate(ctx context.Context, id uuid.UUID, fn func(*domain.Lead) error) (*domain.Lead, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal("failed to begin transaction", err).WithOp(opMutate)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1 FOR UPDATE`
	lead, err := scanLead(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("lead not found").WithOp(opMutate)
		}
		return nil, apperr.Internal("failed to load lead", err).WithOp(opMutate)
	}

	if err := fn(lead); err != nil {
		return nil, err
	}

	updateQuery := `
		UPDATE leads SET
			first_name = $2, last_name = $3, phone = $4, email = $5,
			conversion_status = $6, automation_status = $7,
			current_bump_stage = $8, first_message_sent_at = $9,
			bump_1_sent_at = $10, bump_2_sent_at = $11, bump_3_sent_at = $12,
			next_action_at = $13, message_count_sent = $14,
			message_count_received = $15, last_message_sent_at = $16,
			last_message_received_at = $17, last_interaction_at = $18,
			opted_out = $19, dnc_reason = $20, manual_takeover = $21,
			priority = $22, lead_score = $23, timezone = $24,
			dispatch_leased_until = $25, updated_at = $26
		WHERE id = $1`

	_, err = tx.Exec(ctx, updateQuery,
		lead.ID, lead.FirstName, lead.LastName, lead.Phone, lead.Email,
		string(lead.ConversionStatus), string(lead.AutomationStatus),
		lead.CurrentBumpStage, lead.FirstMessageSentAt,
		lead.Bump1SentAt, lead.Bump2SentAt, lead.Bump3SentAt,
		lead.NextActionAt, lead.MessageCountSent,
		lead.MessageCountReceived, lead.LastMessageSentAt,
		lead.LastMessageReceivedAt, lead.LastInteractionAt,
		lead.OptedOut, lead.DNCReason, lead.ManualTakeover,
		string(lead.Priority), lead.LeadScore, lead.Timezone,
		lead.DispatchLeasedUntil, lead.UpdatedAt,
	)
	if err != nil {
		return nil, apperr.Internal("failed to save lead", err).WithOp(opMutate)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal("failed to commit transaction", err).WithOp(opMutate)
	}
	return lead, nil
}

// ListDue returns active leads whose next action is due
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Lead, error) {
	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE automation_status = 'active'
		  AND next_action_at IS NOT NULL
		  AND next_action_at <= $1
		ORDER BY next_action_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, apperr.Internal("failed to list due leads", err).WithOp(opListDue)
	}
	defer rows.Close()

	return collectLeads(rows, opListDue)
}

// ListQueued returns queued leads of a campaign awaiting admission
func (r *Repository) ListQueued(ctx context.Context, campaignID uuid.UUID, limit int) ([]*domain.Lead, error) {
	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE automation_status = 'queued'
		  AND campaign_id = $1
		  AND manual_takeover = FALSE
		  AND opted_out = FALSE
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, campaignID, limit)
	if err != nil {
		return nil, apperr.Internal("failed to list queued leads", err).WithOp(opListQueued)
	}
	defer rows.Close()

	return collectLeads(rows, opListQueued)
}

// CampaignsWithQueuedLeads returns the campaign ids that currently
// have leads awaiting admission.
func (r *Repository) CampaignsWithQueuedLeads(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT campaign_id FROM leads WHERE automation_status = 'queued'`)
	if err != nil {
		return nil, apperr.Internal("failed to list campaigns with queued leads", err).WithOp(opListQueued)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Internal("failed to scan campaign id", err).WithOp(opListQueued)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimForSend atomically leases the lead for sending the given
// stage. The claim succeeds only when the lead is still active, due,
// unleased, compliant, and at the stage the task was enqueued for; a
// false result means another worker won or the lead moved on.
func (r *Repository) ClaimForSend(ctx context.Context, leadID uuid.UUID, stage int, now, leaseUntil time.Time) (*domain.Lead, bool, error) {
	stageCond := "current_bump_stage = $5 - 1 AND first_message_sent_at IS NOT NULL"
	if stage == 0 {
		stageCond = "current_bump_stage = 0 AND first_message_sent_at IS NULL"
	}

	query := `
		UPDATE leads SET dispatch_leased_until = $2
		WHERE id = $1
		  AND automation_status = 'active'
		  AND next_action_at IS NOT NULL
		  AND next_action_at <= $3
		  AND opted_out = FALSE
		  AND manual_takeover = FALSE
		  AND (dispatch_leased_until IS NULL OR dispatch_leased_until < $4)
		  AND ` + stageCond + `
		RETURNING ` + leadColumns

	queryArgs := []any{leadID, leaseUntil, now, now}
	if stage != 0 {
		queryArgs = append(queryArgs, stage)
	}

	lead, err := scanLead(r.pool.QueryRow(ctx, query, queryArgs...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, apperr.Internal("failed to claim lead for send", err).WithOp(opClaim)
	}
	return lead, true, nil
}

// ReleaseLease clears the dispatch lease without touching other state
func (r *Repository) ReleaseLease(ctx context.Context, leadID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE leads SET dispatch_leased_until = NULL WHERE id = $1`, leadID)
	if err != nil {
		return apperr.Internal("failed to release lease", err).WithOp(opReleaseLease)
	}
	return nil
}

func args(l *domain.Lead) []any {
	return []any{
		l.ID, l.AccountID, l.CampaignID, l.FirstName, l.LastName, l.Phone, l.Email,
		string(l.ConversionStatus), string(l.AutomationStatus), l.CurrentBumpStage,
		l.FirstMessageSentAt, l.Bump1SentAt, l.Bump2SentAt, l.Bump3SentAt,
		l.NextActionAt, l.MessageCountSent, l.MessageCountReceived,
		l.LastMessageSentAt, l.LastMessageReceivedAt, l.LastInteractionAt,
		l.OptedOut, l.DNCReason, l.ManualTakeover, string(l.Priority), l.LeadScore,
		l.Timezone, l.DispatchLeasedUntil, l.CreatedAt, l.UpdatedAt,
	}
}

func scanLead(row pgx.Row) (*domain.Lead, error) {
	var l domain.Lead
	var conversion, automation, priority string

	err := row.Scan(
		&l.ID, &l.AccountID, &l.CampaignID, &l.FirstName, &l.LastName, &l.Phone, &l.Email,
		&conversion, &automation, &l.CurrentBumpStage,
		&l.FirstMessageSentAt, &l.Bump1SentAt, &l.Bump2SentAt, &l.Bump3SentAt,
		&l.NextActionAt, &l.MessageCountSent, &l.MessageCountReceived,
		&l.LastMessageSentAt, &l.LastMessageReceivedAt, &l.LastInteractionAt,
		&l.OptedOut, &l.DNCReason, &l.ManualTakeover, &priority, &l.LeadScore,
		&l.Timezone, &l.DispatchLeasedUntil, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.ConversionStatus = domain.ConversionStatus(conversion)
	l.AutomationStatus = domain.AutomationStatus(automation)
	l.Priority = domain.Priority(priority)
	return &l, nil
}

func collectLeads(rows pgx.Rows, op string) ([]*domain.Lead, error) {
	var leads []*domain.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, apperr.Internal("failed to scan lead", err).WithOp(op)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("failed to read leads", err).WithOp(op)
	}
	return leads, nil
}
