package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Campaign status constants
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusRunning   = "running"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
	CampaignStatusFailed    = "failed"
	CampaignStatusCancelled = "cancelled"
)

// Pause reasons
const (
	PauseReasonDailyLimit  = "daily_limit"
	PauseReasonManual      = "manual"
	PauseReasonActiveHours = "active_hours"
	PauseReasonDeactivated = "deactivated"
)

// Media types accepted by the gateway
const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
	MediaTypeFile  = "file"
	MediaTypeVoice = "voice"
)

var campaignTransitions = map[string][]string{
	CampaignStatusDraft:     {CampaignStatusScheduled, CampaignStatusRunning, CampaignStatusFailed, CampaignStatusCancelled},
	CampaignStatusScheduled: {CampaignStatusDraft, CampaignStatusRunning, CampaignStatusFailed, CampaignStatusCancelled},
	CampaignStatusRunning:   {CampaignStatusPaused, CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled},
	CampaignStatusPaused:    {CampaignStatusRunning, CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled},
}

// Poll is an optional WhatsApp poll sent with each message
type Poll struct {
	Name            string   `json:"name"`
	Options         []string `json:"options"`
	MultipleAnswers bool     `json:"multiple_answers"`
}

// Value implements driver.Valuer for JSONB storage
func (p *Poll) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB storage
func (p *Poll) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// Campaign represents a WhatsApp campaign
type Campaign struct {
	ID                 int64      `json:"id"`
	UserID             int64      `json:"user_id"`
	Name               string     `json:"name"`
	ConnectionID       int64      `json:"connection_id"`
	MessageTemplate    string     `json:"message_template"`
	MediaURL           *string    `json:"media_url,omitempty"`
	MediaType          *string    `json:"media_type,omitempty"`
	Poll               *Poll      `json:"poll,omitempty"`
	Status             string     `json:"status"`
	ScheduledAt        *time.Time `json:"scheduled_at,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	PausedAt           *time.Time `json:"paused_at,omitempty"`
	PauseReason        *string    `json:"pause_reason,omitempty"`
	FailureReason      *string    `json:"failure_reason,omitempty"`
	IsActive           bool       `json:"is_active"`
	TotalCount         int        `json:"total_count"`
	SentCount          int        `json:"sent_count"`
	FailedCount        int        `json:"failed_count"`
	DelayMin           int        `json:"delay_min"`
	DelayMax           int        `json:"delay_max"`
	PauseAfterMessages int        `json:"pause_after_messages"`
	PauseSeconds       int        `json:"pause_seconds"`
	RespectActiveHours bool       `json:"respect_active_hours"`
	ActiveHoursStart   *string    `json:"active_hours_start,omitempty"`
	ActiveHoursEnd     *string    `json:"active_hours_end,omitempty"`
	MultiDevice        bool       `json:"multi_device"`
	DeviceIDs          []int64    `json:"device_ids"`
	MessageVariations  []string   `json:"message_variations"`
	EstimatedDuration  int        `json:"estimated_duration"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// CampaignFilter holds filtering options for listing campaigns
type CampaignFilter struct {
	UserID   int64
	Status   string
	Page     int
	PageSize int
}

// StatusUpdate carries the optional columns written alongside a status change
type StatusUpdate struct {
	StartedAt     *time.Time
	CompletedAt   *time.Time
	PausedAt      *time.Time
	PauseReason   *string
	FailureReason *string
	ClearPause    bool
}

// BusyCampaign identifies the running campaign holding a device
type BusyCampaign struct {
	CampaignID   int64  `json:"campaign_id"`
	CampaignName string `json:"campaign_name"`
	DeviceID     int64  `json:"device_id"`
}

// Validate performs validation on campaign data
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrInvalidInput("name is required")
	}
	if c.ConnectionID <= 0 {
		return ErrInvalidInput("connection_id is required")
	}
	if strings.TrimSpace(c.MessageTemplate) == "" && c.MediaURL == nil && c.Poll == nil {
		return ErrInvalidInput("message_template, media or poll is required")
	}
	if c.MultiDevice && len(c.DeviceIDs) == 0 {
		return ErrInvalidInput("device_ids is required for multi-device campaigns")
	}
	if c.MediaType != nil && !IsValidMediaType(*c.MediaType) {
		return ErrInvalidInput(fmt.Sprintf("invalid media_type: %s", *c.MediaType))
	}
	if c.Poll != nil && (c.Poll.Name == "" || len(c.Poll.Options) < 2) {
		return ErrInvalidInput("poll requires a name and at least two options")
	}
	if c.Status != "" && !IsValidCampaignStatus(c.Status) {
		return ErrInvalidInput(fmt.Sprintf("invalid status: %s", c.Status))
	}
	return nil
}

// IsValidCampaignStatus checks if the campaign status is valid
func IsValidCampaignStatus(status string) bool {
	switch status {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusRunning, CampaignStatusPaused,
		CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidMediaType checks if the media type is supported
func IsValidMediaType(mediaType string) bool {
	switch mediaType {
	case MediaTypeImage, MediaTypeVideo, MediaTypeFile, MediaTypeVoice:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a campaign may move from one status to another
func CanTransition(from, to string) bool {
	for _, next := range campaignTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether no further transitions are possible
func IsTerminalStatus(status string) bool {
	switch status {
	case CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled:
		return true
	default:
		return false
	}
}

// CanBeStarted checks if a campaign can be started or resumed
func (c *Campaign) CanBeStarted() bool {
	return CanTransition(c.Status, CampaignStatusRunning)
}

// AssignedDeviceIDs returns the devices the campaign may send from
func (c *Campaign) AssignedDeviceIDs() []int64 {
	if c.MultiDevice && len(c.DeviceIDs) > 0 {
		return c.DeviceIDs
	}
	return []int64{c.ConnectionID}
}

// NonEmptyVariations returns the message variations that carry text
func (c *Campaign) NonEmptyVariations() []string {
	out := make([]string, 0, len(c.MessageVariations))
	for _, v := range c.MessageVariations {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// ActiveHours returns the configured window when the gate applies
func (c *Campaign) ActiveHours() (start, end string, ok bool) {
	if !c.RespectActiveHours || c.ActiveHoursStart == nil || c.ActiveHoursEnd == nil {
		return "", "", false
	}
	if *c.ActiveHoursStart == "" || *c.ActiveHoursEnd == "" {
		return "", "", false
	}
	return *c.ActiveHoursStart, *c.ActiveHoursEnd, true
}

// IsPausedFor reports whether the campaign is paused with the given reason
func (c *Campaign) IsPausedFor(reason string) bool {
	return c.Status == CampaignStatusPaused && c.PauseReason != nil && *c.PauseReason == reason
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON source type %T", src)
	}
}

// CampaignStats holds per-status message counts for a campaign
type CampaignStats struct {
	Total       int64 `json:"total"`
	Pending     int64 `json:"pending"`
	Sent        int64 `json:"sent"`
	Failed      int64 `json:"failed"`
	Blacklisted int64 `json:"blacklisted"`
}

// CampaignWithStats combines campaign details with statistics
type CampaignWithStats struct {
	Campaign
	Stats CampaignStats `json:"stats"`
}
