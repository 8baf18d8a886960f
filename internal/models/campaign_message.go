package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Campaign message status constants
const (
	MessageStatusPending     = "pending"
	MessageStatusSent        = "sent"
	MessageStatusFailed      = "failed"
	MessageStatusBlacklisted = "blacklisted"
)

// Variables is the per-recipient substitution bag stored as JSONB
type Variables map[string]string

// Value implements driver.Valuer
func (v Variables) Value() (driver.Value, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner
func (v *Variables) Scan(src interface{}) error {
	return scanJSON(src, v)
}

// CampaignMessage is a single recipient of a campaign
type CampaignMessage struct {
	ID                    int64      `json:"id"`
	CampaignID            int64      `json:"campaign_id"`
	Phone                 string     `json:"phone"`
	Name                  string     `json:"name"`
	Variables             Variables  `json:"variables"`
	Content               string     `json:"content"`
	Status                string     `json:"status"`
	ScheduledDelaySeconds int        `json:"scheduled_delay_seconds"`
	SentAt                *time.Time `json:"sent_at,omitempty"`
	FailedAt              *time.Time `json:"failed_at,omitempty"`
	ErrorMessage          *string    `json:"error_message,omitempty"`
	SenderDeviceID        *int64     `json:"sender_device_id,omitempty"`
	SenderPhone           *string    `json:"sender_phone,omitempty"`
	ProviderMessageID     *string    `json:"provider_message_id,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// CampaignMessageFilter holds filtering options for listing messages
type CampaignMessageFilter struct {
	CampaignID int64
	Status     string
	Page       int
	PageSize   int
}

// SentMessage carries the columns written when a send succeeds
type SentMessage struct {
	Content           string
	SenderDeviceID    *int64
	SenderPhone       string
	ProviderMessageID string
	SentAt            time.Time
}

// IsValidMessageStatus checks if the message status is valid
func IsValidMessageStatus(status string) bool {
	switch status {
	case MessageStatusPending, MessageStatusSent, MessageStatusFailed, MessageStatusBlacklisted:
		return true
	default:
		return false
	}
}

// IsPending reports whether the message still awaits dispatch
func (m *CampaignMessage) IsPending() bool {
	return m.Status == MessageStatusPending
}
