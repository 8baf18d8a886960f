package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// BlacklistRepository defines the interface for blacklist data access
type BlacklistRepository interface {
	Add(ctx context.Context, userID int64, phones []string) (int64, error)
	FilterBlacklisted(ctx context.Context, userID int64, phones []string) (map[string]bool, error)
}

// blacklistRepository implements BlacklistRepository using PostgreSQL
type blacklistRepository struct {
	db *sql.DB
}

// NewBlacklistRepository creates a new blacklist repository
func NewBlacklistRepository(db *sql.DB) BlacklistRepository {
	return &blacklistRepository{db: db}
}

// Add inserts phones into the user's blacklist, ignoring existing entries
func (r *blacklistRepository) Add(ctx context.Context, userID int64, phones []string) (int64, error) {
	if len(phones) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO blacklist (user_id, phone)
		SELECT $1, unnest($2::text[])
		ON CONFLICT (user_id, phone) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query, userID, pq.Array(phones))
	if err != nil {
		return 0, fmt.Errorf("failed to add blacklist entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// FilterBlacklisted returns the subset of phones on the user's blacklist
func (r *blacklistRepository) FilterBlacklisted(ctx context.Context, userID int64, phones []string) (map[string]bool, error) {
	blocked := make(map[string]bool)
	if len(phones) == 0 {
		return blocked, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT phone FROM blacklist WHERE user_id = $1 AND phone = ANY($2)`,
		userID, pq.Array(phones),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query blacklist: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return nil, fmt.Errorf("failed to scan blacklist entry: %w", err)
		}
		blocked[phone] = true
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blacklist: %w", err)
	}

	return blocked, nil
}
