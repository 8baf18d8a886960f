package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
)

// CampaignMessageRepository defines the interface for campaign message data access
type CampaignMessageRepository interface {
	GetByID(ctx context.Context, id int64) (*models.CampaignMessage, error)
	List(ctx context.Context, filter models.CampaignMessageFilter) ([]*models.CampaignMessage, int64, error)
	ListPending(ctx context.Context, campaignID int64, limit int) ([]*models.CampaignMessage, error)
	NextPending(ctx context.Context, campaignID int64) (*models.CampaignMessage, error)
	CountPending(ctx context.Context, campaignID int64) (int, error)
	ClaimForDispatch(ctx context.Context, id int64, staleAfter time.Duration) (bool, error)
	MarkSent(ctx context.Context, id int64, sent models.SentMessage) (bool, error)
	MarkFailed(ctx context.Context, id int64, reason string, failedAt time.Time) (bool, error)
	RebaseOffsets(ctx context.Context, campaignID int64) (int64, error)
	CountSentByDeviceSince(ctx context.Context, deviceIDs []int64, since time.Time) (map[int64]int, error)
}

// campaignMessageRepository implements CampaignMessageRepository using PostgreSQL
type campaignMessageRepository struct {
	db *sql.DB
}

// NewCampaignMessageRepository creates a new campaign message repository
func NewCampaignMessageRepository(db *sql.DB) CampaignMessageRepository {
	return &campaignMessageRepository{db: db}
}

const messageColumns = `
	id, campaign_id, phone, name, variables, content, status, scheduled_delay_seconds,
	sent_at, failed_at, error_message, sender_device_id, sender_phone, provider_message_id, created_at`

func scanMessage(row rowScanner) (*models.CampaignMessage, error) {
	m := &models.CampaignMessage{}
	err := row.Scan(
		&m.ID,
		&m.CampaignID,
		&m.Phone,
		&m.Name,
		&m.Variables,
		&m.Content,
		&m.Status,
		&m.ScheduledDelaySeconds,
		&m.SentAt,
		&m.FailedAt,
		&m.ErrorMessage,
		&m.SenderDeviceID,
		&m.SenderPhone,
		&m.ProviderMessageID,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *campaignMessageRepository) queryMessages(ctx context.Context, op, query string, args ...interface{}) ([]*models.CampaignMessage, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	messages := []*models.CampaignMessage{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign message: %w", err)
		}
		messages = append(messages, message)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaign messages: %w", err)
	}

	return messages, nil
}

// GetByID retrieves a campaign message by ID
func (r *campaignMessageRepository) GetByID(ctx context.Context, id int64) (*models.CampaignMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM campaign_messages WHERE id = $1`

	message, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("campaign message with ID %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign message: %w", err)
	}

	return message, nil
}

// List retrieves campaign messages with pagination and filtering
func (r *campaignMessageRepository) List(ctx context.Context, filter models.CampaignMessageFilter) ([]*models.CampaignMessage, int64, error) {
	models.NormalizePage(&filter.Page, &filter.PageSize)

	query := `SELECT ` + messageColumns + ` FROM campaign_messages WHERE campaign_id = $1`
	countQuery := `SELECT COUNT(*) FROM campaign_messages WHERE campaign_id = $1`
	args := []interface{}{filter.CampaignID}
	argPos := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		countQuery += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, filter.Status)
		argPos++
	}

	var totalCount int64
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count campaign messages: %w", err)
	}

	offset := models.CalculateOffset(filter.Page, filter.PageSize)
	query += fmt.Sprintf(" ORDER BY scheduled_delay_seconds ASC, id ASC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, filter.PageSize, offset)

	messages, err := r.queryMessages(ctx, "list campaign messages", query, args...)
	if err != nil {
		return nil, 0, err
	}

	return messages, totalCount, nil
}

// ListPending returns pending messages, oldest created first
func (r *campaignMessageRepository) ListPending(ctx context.Context, campaignID int64, limit int) ([]*models.CampaignMessage, error) {
	query := `SELECT ` + messageColumns + `
		FROM campaign_messages
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $2`

	return r.queryMessages(ctx, "get pending messages", query, campaignID, limit)
}

// NextPending returns the pending message with the smallest offset, or nil
func (r *campaignMessageRepository) NextPending(ctx context.Context, campaignID int64) (*models.CampaignMessage, error) {
	query := `SELECT ` + messageColumns + `
		FROM campaign_messages
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY scheduled_delay_seconds ASC, id ASC
		LIMIT 1`

	message, err := scanMessage(r.db.QueryRowContext(ctx, query, campaignID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get next pending message: %w", err)
	}

	return message, nil
}

// CountPending returns how many messages still await dispatch
func (r *campaignMessageRepository) CountPending(ctx context.Context, campaignID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_messages WHERE campaign_id = $1 AND status = 'pending'`,
		campaignID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending messages: %w", err)
	}
	return count, nil
}

// ClaimForDispatch marks a pending message as being sent. It returns false
// when another dispatch claimed it within staleAfter.
func (r *campaignMessageRepository) ClaimForDispatch(ctx context.Context, id int64, staleAfter time.Duration) (bool, error) {
	query := `
		UPDATE campaign_messages
		SET dispatch_started_at = NOW()
		WHERE id = $1 AND status = 'pending'
			AND (dispatch_started_at IS NULL OR dispatch_started_at < NOW() - $2 * INTERVAL '1 millisecond')`

	return r.execGuarded(ctx, "claim message", query, id, staleAfter.Milliseconds())
}

// MarkSent records a successful send. It returns false when the message was
// no longer pending.
func (r *campaignMessageRepository) MarkSent(ctx context.Context, id int64, sent models.SentMessage) (bool, error) {
	query := `
		UPDATE campaign_messages
		SET status = 'sent', sent_at = $1, content = $2, sender_device_id = $3,
			sender_phone = $4, provider_message_id = NULLIF($5, ''), error_message = NULL
		WHERE id = $6 AND status = 'pending'`

	return r.execGuarded(ctx, "mark message sent", query,
		sent.SentAt, sent.Content, sent.SenderDeviceID, sent.SenderPhone, sent.ProviderMessageID, id)
}

// MarkFailed records a failed send. It returns false when the message was
// no longer pending.
func (r *campaignMessageRepository) MarkFailed(ctx context.Context, id int64, reason string, failedAt time.Time) (bool, error) {
	query := `
		UPDATE campaign_messages
		SET status = 'failed', failed_at = $1, error_message = $2
		WHERE id = $3 AND status = 'pending'`

	return r.execGuarded(ctx, "mark message failed", query, failedAt, reason, id)
}

func (r *campaignMessageRepository) execGuarded(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// RebaseOffsets shifts pending offsets so the earliest pending message is due
// immediately, preserving the gaps between messages.
func (r *campaignMessageRepository) RebaseOffsets(ctx context.Context, campaignID int64) (int64, error) {
	query := `
		UPDATE campaign_messages m
		SET scheduled_delay_seconds = m.scheduled_delay_seconds - base.min_offset
		FROM (
			SELECT MIN(scheduled_delay_seconds) AS min_offset
			FROM campaign_messages
			WHERE campaign_id = $1 AND status = 'pending'
		) base
		WHERE m.campaign_id = $1 AND m.status = 'pending' AND base.min_offset IS NOT NULL`

	result, err := r.db.ExecContext(ctx, query, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to rebase message offsets: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// CountSentByDeviceSince counts messages sent by each device since the given
// time across all campaigns. Devices with no sends are absent from the map.
func (r *campaignMessageRepository) CountSentByDeviceSince(ctx context.Context, deviceIDs []int64, since time.Time) (map[int64]int, error) {
	counts := make(map[int64]int, len(deviceIDs))
	if len(deviceIDs) == 0 {
		return counts, nil
	}

	query := `
		SELECT sender_device_id, COUNT(*)
		FROM campaign_messages
		WHERE status = 'sent' AND sender_device_id = ANY($1) AND sent_at >= $2
		GROUP BY sender_device_id`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(deviceIDs), since)
	if err != nil {
		return nil, fmt.Errorf("failed to count sent messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var deviceID int64
		var count int
		if err := rows.Scan(&deviceID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan sent count: %w", err)
		}
		counts[deviceID] = count
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sent counts: %w", err)
	}

	return counts, nil
}
