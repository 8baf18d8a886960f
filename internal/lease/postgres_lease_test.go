package lease

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresManager_Acquire(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := NewPostgresManager(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO device_leases")).
		WithArgs(int64(1), int64(10), int64(3600000)).
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow(int64(10)))

	assert.NoError(t, m.Acquire(context.Background(), []int64{1}, 10, time.Hour))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresManager_Acquire_Held(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := NewPostgresManager(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO device_leases")).
		WithArgs(int64(1), int64(10), int64(3600000)).
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow(int64(10)))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO device_leases")).
		WithArgs(int64(2), int64(10), int64(3600000)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT campaign_id FROM device_leases")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow(int64(7)))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM device_leases")).
		WithArgs(sqlmock.AnyArg(), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = m.Acquire(context.Background(), []int64{1, 2}, 10, time.Hour)

	var held *HeldError
	require.True(t, errors.As(err, &held))
	assert.Equal(t, int64(7), held.HolderCampaignID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresManager_Extend(t *testing.T) {
	tests := []struct {
		name    string
		holder  int64
		wantErr bool
	}{
		{"renews or re-takes own lease", 10, false},
		{"lease taken by another campaign", 7, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			m := NewPostgresManager(db)

			if tt.holder == 10 {
				mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO device_leases")).
					WithArgs(int64(1), int64(10), int64(3*3600000)).
					WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow(int64(10)))
			} else {
				mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO device_leases")).
					WithArgs(int64(1), int64(10), int64(3*3600000)).
					WillReturnError(sql.ErrNoRows)
				mock.ExpectQuery(regexp.QuoteMeta("SELECT campaign_id FROM device_leases")).
					WithArgs(int64(1)).
					WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow(tt.holder))
			}

			err = m.Extend(context.Background(), []int64{1}, 10, 3*time.Hour)

			if tt.wantErr {
				var held *HeldError
				require.True(t, errors.As(err, &held))
				assert.Equal(t, tt.holder, held.HolderCampaignID)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
