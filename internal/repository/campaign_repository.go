package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
)

// CampaignRepository defines the interface for campaign data access
type CampaignRepository interface {
	CreateWithMessages(ctx context.Context, campaign *models.Campaign, messages []*models.CampaignMessage) error
	GetByID(ctx context.Context, id int64) (*models.Campaign, error)
	GetWithStats(ctx context.Context, id int64) (*models.CampaignWithStats, error)
	List(ctx context.Context, filter models.CampaignFilter) ([]*models.Campaign, int64, error)
	UpdateStatus(ctx context.Context, id int64, from, to string, update models.StatusUpdate) error
	SetStartedAt(ctx context.Context, id int64, startedAt time.Time) error
	SetActive(ctx context.Context, id int64, active bool) error
	UpdateActiveHours(ctx context.Context, id int64, respect bool, start, end *string) error
	FindBusyCampaign(ctx context.Context, deviceID, excludeCampaignID int64) (*models.BusyCampaign, error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error)
	RefreshSentCount(ctx context.Context, id int64) error
	RefreshFailedCount(ctx context.Context, id int64) error
}

// campaignRepository implements CampaignRepository using PostgreSQL
type campaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

const campaignColumns = `
	id, user_id, name, connection_id, message_template, media_url, media_type, poll,
	status, scheduled_at, started_at, completed_at, paused_at, pause_reason, failure_reason,
	is_active, total_count, sent_count, failed_count, delay_min, delay_max,
	pause_after_messages, pause_seconds, respect_active_hours, active_hours_start, active_hours_end,
	multi_device, device_ids, message_variations, estimated_duration, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	c := &models.Campaign{}
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Name,
		&c.ConnectionID,
		&c.MessageTemplate,
		&c.MediaURL,
		&c.MediaType,
		&c.Poll,
		&c.Status,
		&c.ScheduledAt,
		&c.StartedAt,
		&c.CompletedAt,
		&c.PausedAt,
		&c.PauseReason,
		&c.FailureReason,
		&c.IsActive,
		&c.TotalCount,
		&c.SentCount,
		&c.FailedCount,
		&c.DelayMin,
		&c.DelayMax,
		&c.PauseAfterMessages,
		&c.PauseSeconds,
		&c.RespectActiveHours,
		&c.ActiveHoursStart,
		&c.ActiveHoursEnd,
		&c.MultiDevice,
		pq.Array(&c.DeviceIDs),
		pq.Array(&c.MessageVariations),
		&c.EstimatedDuration,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateWithMessages inserts a campaign and its recipients in a single transaction
func (r *campaignRepository) CreateWithMessages(ctx context.Context, campaign *models.Campaign, messages []*models.CampaignMessage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO campaigns (
			user_id, name, connection_id, message_template, media_url, media_type, poll,
			status, scheduled_at, is_active, total_count, delay_min, delay_max,
			pause_after_messages, pause_seconds, respect_active_hours, active_hours_start, active_hours_end,
			multi_device, device_ids, message_variations, estimated_duration
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowContext(
		ctx,
		query,
		campaign.UserID,
		campaign.Name,
		campaign.ConnectionID,
		campaign.MessageTemplate,
		campaign.MediaURL,
		campaign.MediaType,
		campaign.Poll,
		campaign.Status,
		campaign.ScheduledAt,
		campaign.IsActive,
		campaign.TotalCount,
		campaign.DelayMin,
		campaign.DelayMax,
		campaign.PauseAfterMessages,
		campaign.PauseSeconds,
		campaign.RespectActiveHours,
		campaign.ActiveHoursStart,
		campaign.ActiveHoursEnd,
		campaign.MultiDevice,
		pq.Array(campaign.DeviceIDs),
		pq.Array(campaign.MessageVariations),
		campaign.EstimatedDuration,
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	if len(messages) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO campaign_messages (campaign_id, phone, name, variables, content, status, scheduled_delay_seconds)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, message := range messages {
			message.CampaignID = campaign.ID
			err := stmt.QueryRowContext(
				ctx,
				message.CampaignID,
				message.Phone,
				message.Name,
				message.Variables,
				message.Content,
				message.Status,
				message.ScheduledDelaySeconds,
			).Scan(&message.ID, &message.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert campaign message: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a campaign by ID
func (r *campaignRepository) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("campaign with ID %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// GetWithStats retrieves a campaign together with per-status message counts
func (r *campaignRepository) GetWithStats(ctx context.Context, id int64) (*models.CampaignWithStats, error) {
	campaign, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'blacklisted')
		FROM campaign_messages
		WHERE campaign_id = $1`

	result := &models.CampaignWithStats{Campaign: *campaign}
	err = r.db.QueryRowContext(ctx, query, id).Scan(
		&result.Stats.Total,
		&result.Stats.Pending,
		&result.Stats.Sent,
		&result.Stats.Failed,
		&result.Stats.Blacklisted,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	return result, nil
}

// List retrieves campaigns with pagination and filtering
func (r *campaignRepository) List(ctx context.Context, filter models.CampaignFilter) ([]*models.Campaign, int64, error) {
	models.NormalizePage(&filter.Page, &filter.PageSize)

	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if filter.UserID > 0 {
		query += fmt.Sprintf(" AND user_id = $%d", argPos)
		countQuery += fmt.Sprintf(" AND user_id = $%d", argPos)
		args = append(args, filter.UserID)
		argPos++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		countQuery += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, filter.Status)
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

// UpdateStatus moves a campaign from one status to another. The update only
// applies when the row still has the expected status, so concurrent writers
// cannot both win.
func (r *campaignRepository) UpdateStatus(ctx context.Context, id int64, from, to string, update models.StatusUpdate) error {
	if !models.CanTransition(from, to) {
		return &models.AppError{
			Code:    "CONFLICT",
			Message: fmt.Sprintf("campaign cannot move from %s to %s", from, to),
			Err:     models.ErrInvalidTransition,
		}
	}

	query := `
		UPDATE campaigns
		SET status = $1,
			started_at = COALESCE($2, started_at),
			completed_at = COALESCE($3, completed_at),
			paused_at = CASE WHEN $7 THEN NULL ELSE COALESCE($4, paused_at) END,
			pause_reason = CASE WHEN $7 THEN NULL ELSE COALESCE($5, pause_reason) END,
			failure_reason = COALESCE($6, failure_reason),
			updated_at = NOW()
		WHERE id = $8 AND status = $9`

	result, err := r.db.ExecContext(
		ctx,
		query,
		to,
		update.StartedAt,
		update.CompletedAt,
		update.PausedAt,
		update.PauseReason,
		update.FailureReason,
		update.ClearPause,
		id,
		from,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return models.ErrConflictWithMsg(fmt.Sprintf("campaign %d is no longer %s", id, from))
	}

	return nil
}

// SetStartedAt re-anchors the campaign timeline
func (r *campaignRepository) SetStartedAt(ctx context.Context, id int64, startedAt time.Time) error {
	return r.execOne(ctx, id, "set started_at",
		`UPDATE campaigns SET started_at = $1, updated_at = NOW() WHERE id = $2`, startedAt, id)
}

// SetActive toggles the is_active flag
func (r *campaignRepository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.execOne(ctx, id, "set is_active",
		`UPDATE campaigns SET is_active = $1, updated_at = NOW() WHERE id = $2`, active, id)
}

// UpdateActiveHours replaces the active-hours window
func (r *campaignRepository) UpdateActiveHours(ctx context.Context, id int64, respect bool, start, end *string) error {
	return r.execOne(ctx, id, "update active hours", `
		UPDATE campaigns
		SET respect_active_hours = $1, active_hours_start = $2, active_hours_end = $3, updated_at = NOW()
		WHERE id = $4`, respect, start, end, id)
}

// FindBusyCampaign returns the running campaign using the device, if any
func (r *campaignRepository) FindBusyCampaign(ctx context.Context, deviceID, excludeCampaignID int64) (*models.BusyCampaign, error) {
	query := `
		SELECT id, name
		FROM campaigns
		WHERE status = 'running'
			AND id <> $2
			AND (connection_id = $1 OR (multi_device AND $1 = ANY(device_ids)))
		ORDER BY started_at ASC NULLS LAST
		LIMIT 1`

	busy := &models.BusyCampaign{DeviceID: deviceID}
	err := r.db.QueryRowContext(ctx, query, deviceID, excludeCampaignID).Scan(&busy.CampaignID, &busy.CampaignName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check device usage: %w", err)
	}

	return busy, nil
}

// ListDueScheduled returns active scheduled campaigns whose start time has passed
func (r *campaignRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE status = 'scheduled' AND is_active AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2`

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

// RefreshSentCount recomputes sent_count from the message rows
func (r *campaignRepository) RefreshSentCount(ctx context.Context, id int64) error {
	return r.refreshCount(ctx, id, "sent_count", models.MessageStatusSent)
}

// RefreshFailedCount recomputes failed_count from the message rows
func (r *campaignRepository) RefreshFailedCount(ctx context.Context, id int64) error {
	return r.refreshCount(ctx, id, "failed_count", models.MessageStatusFailed)
}

func (r *campaignRepository) refreshCount(ctx context.Context, id int64, column, status string) error {
	query := fmt.Sprintf(`
		UPDATE campaigns
		SET %s = (SELECT COUNT(*) FROM campaign_messages WHERE campaign_id = $1 AND status = $2),
			updated_at = NOW()
		WHERE id = $1`, column)

	return r.execOne(ctx, id, "refresh "+column, query, id, status)
}

func (r *campaignRepository) execOne(ctx context.Context, id int64, op, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
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
