package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
)

// DeviceRepository defines the interface for device data access
type DeviceRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Device, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*models.Device, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Device, error)
	UpdateStatus(ctx context.Context, id int64, status, phone string) error
}

// deviceRepository implements DeviceRepository using PostgreSQL
type deviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db *sql.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

const deviceColumns = `id, user_id, session_name, phone, display_name, status, created_at, updated_at`

func scanDevice(row rowScanner) (*models.Device, error) {
	d := &models.Device{}
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.SessionName,
		&d.Phone,
		&d.DisplayName,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// GetByID retrieves a device by ID
func (r *deviceRepository) GetByID(ctx context.Context, id int64) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("device with ID %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return device, nil
}

// GetByIDs retrieves devices preserving the order of ids. Unknown ids are skipped.
func (r *deviceRepository) GetByIDs(ctx context.Context, ids []int64) ([]*models.Device, error) {
	if len(ids) == 0 {
		return []*models.Device{}, nil
	}

	query := `SELECT ` + deviceColumns + `
		FROM devices
		WHERE id = ANY($1)
		ORDER BY array_position($1, id)`

	return r.queryDevices(ctx, "get devices", query, pq.Array(ids))
}

// ListByUser retrieves all devices owned by a user
func (r *deviceRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE user_id = $1 ORDER BY id ASC`

	return r.queryDevices(ctx, "list devices", query, userID)
}

// UpdateStatus stores the gateway-reported status and phone
func (r *deviceRepository) UpdateStatus(ctx context.Context, id int64, status, phone string) error {
	query := `
		UPDATE devices
		SET status = $1, phone = COALESCE(NULLIF($2, ''), phone), updated_at = NOW()
		WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, status, phone, id)
	if err != nil {
		return fmt.Errorf("failed to update device status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return models.ErrNotFoundWithMsg(fmt.Sprintf("device with ID %d not found", id))
	}

	return nil
}

func (r *deviceRepository) queryDevices(ctx context.Context, op, query string, args ...interface{}) ([]*models.Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	devices := []*models.Device{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}

	return devices, nil
}
