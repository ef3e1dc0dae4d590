package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/thogmi/comms-backend/internal/models"
)

// CampaignRepository defines the interface for campaign data access
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id int64) (*models.Campaign, error)
	GetWithStats(ctx context.Context, id int64) (*models.CampaignWithStats, error)
	List(ctx context.Context, filter models.CampaignFilter) ([]*models.Campaign, int64, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	// TransitionStatus moves the campaign to status only if it is
	// currently in one of from. Returns false when the guard did not
	// match, which is how concurrent launches and sweep re-runs stay
	// idempotent.
	TransitionStatus(ctx context.Context, id int64, status string, from ...string) (bool, error)
	// ListDueScheduled returns campaigns whose scheduled time has elapsed
	// and are still awaiting launch.
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error)
	// RearmRecurring resets a recurring campaign for its next occurrence.
	RearmRecurring(ctx context.Context, id int64, nextRun time.Time) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

const campaignColumns = `id, name, description, template_id, audience_filter,
	schedule_kind, scheduled_for, recur_every, status, created_by, created_at, updated_at`

// campaignRepository implements CampaignRepository using PostgreSQL
type campaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

// Create inserts a new campaign
func (r *campaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	filter, err := json.Marshal(campaign.AudienceFilter)
	if err != nil {
		return fmt.Errorf("failed to marshal audience filter: %w", err)
	}

	query := `
		INSERT INTO campaigns (name, description, template_id, audience_filter, schedule_kind, scheduled_for, recur_every, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err = r.db.QueryRowContext(ctx, query,
		campaign.Name,
		campaign.Description,
		campaign.TemplateID,
		filter,
		campaign.ScheduleKind,
		campaign.ScheduledFor,
		campaign.RecurEvery,
		campaign.Status,
		campaign.CreatedBy,
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID retrieves a campaign by ID
func (r *campaignRepository) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	query := fmt.Sprintf("SELECT %s FROM campaigns WHERE id = $1", campaignColumns)

	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("campaign with ID %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return campaign, nil
}

// GetWithStats retrieves a campaign with message statistics
func (r *campaignRepository) GetWithStats(ctx context.Context, id int64) (*models.CampaignWithStats, error) {
	campaign, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	statsQuery := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status IN ('queued', 'sending')) AS queued,
			COUNT(*) FILTER (WHERE status IN ('sent', 'delivered', 'read')) AS sent,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS opted_out
		FROM messages
		WHERE campaign_id = $1`

	var stats models.CampaignStats
	err = r.db.QueryRowContext(ctx, statsQuery, id).Scan(
		&stats.Total, &stats.Queued, &stats.Sent, &stats.Failed, &stats.OptedOut,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	return &models.CampaignWithStats{
		Campaign: *campaign,
		Stats:    stats,
	}, nil
}

// List retrieves campaigns with pagination and filtering
func (r *campaignRepository) List(ctx context.Context, filter models.CampaignFilter) ([]*models.Campaign, int64, error) {
	models.NormalizePagination(&filter.Page, &filter.PageSize)

	query := fmt.Sprintf("SELECT %s FROM campaigns WHERE 1=1", campaignColumns)
	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if filter.Status != "" {
		clause := fmt.Sprintf(" AND status = $%d", argPos)
		query += clause
		countQuery += clause
		args = append(args, filter.Status)
		argPos++
	}
	if filter.TemplateID > 0 {
		clause := fmt.Sprintf(" AND template_id = $%d", argPos)
		query += clause
		countQuery += clause
		args = append(args, filter.TemplateID)
		argPos++
	}

	var totalCount int64
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
	}

	offset := models.CalculateOffset(filter.Page, filter.PageSize)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, filter.PageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating campaigns: %w", err)
	}
	return campaigns, totalCount, nil
}

// UpdateStatus updates only the status of a campaign
func (r *campaignRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrNotFoundWithMsg(fmt.Sprintf("campaign with ID %d not found", id))
	}
	return nil
}

// TransitionStatus performs a guarded status update.
func (r *campaignRepository) TransitionStatus(ctx context.Context, id int64, status string, from ...string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition requires at least one source status")
	}

	query := `UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3)`
	result, err := r.db.ExecContext(ctx, query, status, id, pq.Array(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition campaign status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// ListDueScheduled returns scheduled/recurring campaigns whose time has come.
func (r *campaignRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM campaigns
		WHERE status = 'scheduled' AND scheduled_for IS NOT NULL AND scheduled_for <= $1
		ORDER BY scheduled_for
		LIMIT $2`, campaignColumns)

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating due campaigns: %w", err)
	}
	return campaigns, nil
}

// RearmRecurring moves a recurring campaign back to scheduled for its next run.
func (r *campaignRepository) RearmRecurring(ctx context.Context, id int64, nextRun time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'scheduled', scheduled_for = $1, updated_at = NOW()
		WHERE id = $2 AND schedule_kind = 'recurring'`,
		nextRun, id,
	)
	if err != nil {
		return fmt.Errorf("failed to rearm recurring campaign: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrNotFoundWithMsg(fmt.Sprintf("recurring campaign with ID %d not found", id))
	}
	return nil
}

// DeleteOlderThan removes terminal campaigns older than the cutoff.
func (r *campaignRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM campaigns
		WHERE status IN ('sent', 'cancelled', 'failed') AND updated_at < $1
		AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.campaign_id = campaigns.id)`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old campaigns: %w", err)
	}
	return result.RowsAffected()
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	campaign := &models.Campaign{}
	var (
		filter       []byte
		description  sql.NullString
		scheduledFor sql.NullTime
		recurEvery   sql.NullInt64
	)

	err := row.Scan(
		&campaign.ID,
		&campaign.Name,
		&description,
		&campaign.TemplateID,
		&filter,
		&campaign.ScheduleKind,
		&scheduledFor,
		&recurEvery,
		&campaign.Status,
		&campaign.CreatedBy,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	campaign.Description = description.String
	if scheduledFor.Valid {
		campaign.ScheduledFor = &scheduledFor.Time
	}
	if recurEvery.Valid {
		campaign.RecurEvery = &recurEvery.Int64
	}
	if err := json.Unmarshal(filter, &campaign.AudienceFilter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audience filter: %w", err)
	}
	return campaign, nil
}
