package repository

import (
	"context"
	"database/sql/driver"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
)

var deviceColumnNames = []string{"id", "user_id", "session_name", "phone", "display_name", "status", "created_at", "updated_at"}

func deviceRow(id int64, status string) []driver.Value {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return []driver.Value{id, int64(1), fmt.Sprintf("session-%d", id), "972500000000", "Office phone", status, now, now}
}

func TestDeviceRepository_GetByID(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewDeviceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM devices WHERE id = $1")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(deviceColumnNames).AddRow(deviceRow(3, models.DeviceStatusConnected)...))

	device, err := repo.GetByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), device.ID)
	assert.True(t, device.IsConnected())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceRepository_GetByIDNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewDeviceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM devices WHERE id = $1")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(deviceColumnNames))

	_, err := repo.GetByID(context.Background(), 9)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeviceRepository_GetByIDs(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewDeviceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(deviceColumnNames).
			AddRow(deviceRow(4, models.DeviceStatusConnected)...).
			AddRow(deviceRow(2, models.DeviceStatusDisconnected)...))

	devices, err := repo.GetByIDs(context.Background(), []int64{4, 2})
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, int64(4), devices[0].ID)
	assert.Equal(t, int64(2), devices[1].ID)
}

func TestDeviceRepository_UpdateStatus(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewDeviceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE devices")).
		WithArgs(models.DeviceStatusConnected, "972501112222", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateStatus(context.Background(), 3, models.DeviceStatusConnected, "972501112222"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE devices")).
		WithArgs(models.DeviceStatusDisconnected, "", int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateStatus(context.Background(), 8, models.DeviceStatusDisconnected, "")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBlacklistRepository_Add(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewBlacklistRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO blacklist (user_id, phone)")).
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	added, err := repo.Add(context.Background(), 1, []string{"972501234567", "972507654321", "972501234567"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), added)

	added, err = repo.Add(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Zero(t, added)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBlacklistRepository_FilterBlacklisted(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewBlacklistRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT phone FROM blacklist WHERE user_id = $1 AND phone = ANY($2)")).
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"phone"}).AddRow("972507654321"))

	blocked, err := repo.FilterBlacklisted(context.Background(), 1, []string{"972501234567", "972507654321"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"972507654321": true}, blocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}
