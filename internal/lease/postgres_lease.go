package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresManager stores leases in the device_leases table
type PostgresManager struct {
	db *sql.DB
}

// NewPostgresManager creates a table-backed lease manager
func NewPostgresManager(db *sql.DB) *PostgresManager {
	return &PostgresManager{db: db}
}

const upsertLease = `
	INSERT INTO device_leases (device_id, campaign_id, expires_at)
	VALUES ($1, $2, NOW() + $3 * INTERVAL '1 millisecond')
	ON CONFLICT (device_id) DO UPDATE
	SET campaign_id = EXCLUDED.campaign_id, expires_at = EXCLUDED.expires_at
	WHERE device_leases.expires_at < NOW() OR device_leases.campaign_id = EXCLUDED.campaign_id
	RETURNING campaign_id`

// Acquire leases every device to the campaign
func (m *PostgresManager) Acquire(ctx context.Context, deviceIDs []int64, campaignID int64, ttl time.Duration) error {
	return acquireAll(ctx, m, deviceIDs, campaignID, func(ctx context.Context, deviceID int64) (int64, error) {
		return m.acquireOne(ctx, deviceID, campaignID, ttl)
	})
}

// Extend renews the campaign's leases, re-taking expired ones
func (m *PostgresManager) Extend(ctx context.Context, deviceIDs []int64, campaignID int64, ttl time.Duration) error {
	return extendAll(ctx, deviceIDs, campaignID, func(ctx context.Context, deviceID int64) (int64, error) {
		return m.acquireOne(ctx, deviceID, campaignID, ttl)
	})
}

func (m *PostgresManager) acquireOne(ctx context.Context, deviceID, campaignID int64, ttl time.Duration) (int64, error) {
	var holder int64
	err := m.db.QueryRowContext(ctx, upsertLease, deviceID, campaignID, ttl.Milliseconds()).Scan(&holder)
	if err == nil {
		return holder, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to acquire lease for device %d: %w", deviceID, err)
	}

	err = m.db.QueryRowContext(ctx,
		`SELECT campaign_id FROM device_leases WHERE device_id = $1`, deviceID,
	).Scan(&holder)
	if err != nil {
		return 0, fmt.Errorf("failed to read lease holder for device %d: %w", deviceID, err)
	}
	return holder, nil
}

// Release drops the leases the campaign holds
func (m *PostgresManager) Release(ctx context.Context, deviceIDs []int64, campaignID int64) error {
	_, err := m.db.ExecContext(ctx,
		`DELETE FROM device_leases WHERE device_id = ANY($1) AND campaign_id = $2`,
		pq.Array(deviceIDs), campaignID,
	)
	if err != nil {
		return fmt.Errorf("failed to release device leases: %w", err)
	}
	return nil
}
