package service

import (
	"strings"
	"time"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/schedule"
)

// Recipient is one row of an uploaded recipient list
type Recipient struct {
	Phone     string            `json:"phone"`
	Name      string            `json:"name"`
	Variables map[string]string `json:"variables,omitempty"`
}

// CreateCampaignRequest represents a request to create a campaign
type CreateCampaignRequest struct {
	UserID             int64        `json:"-"`
	Name               string       `json:"name"`
	ConnectionID       int64        `json:"connection_id"`
	MessageTemplate    string       `json:"message_template"`
	MediaURL           *string      `json:"media_url,omitempty"`
	MediaType          *string      `json:"media_type,omitempty"`
	Poll               *models.Poll `json:"poll,omitempty"`
	ScheduledAt        *time.Time   `json:"scheduled_at,omitempty"`
	DelayMin           int          `json:"delay_min"`
	DelayMax           int          `json:"delay_max"`
	PauseAfterMessages int          `json:"pause_after_messages"`
	PauseSeconds       int          `json:"pause_seconds"`
	RespectActiveHours bool         `json:"respect_active_hours"`
	ActiveHoursStart   *string      `json:"active_hours_start,omitempty"`
	ActiveHoursEnd     *string      `json:"active_hours_end,omitempty"`
	MultiDevice        bool         `json:"multi_device"`
	DeviceIDs          []int64      `json:"device_ids,omitempty"`
	MessageVariations  []string     `json:"message_variations,omitempty"`
	Recipients         []Recipient  `json:"recipients"`
	SaveAsDraft        bool         `json:"save_as_draft"`
}

// Validate performs validation on the create campaign request
func (r *CreateCampaignRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return models.ErrInvalidInput("name is required")
	}
	if r.ConnectionID <= 0 {
		return models.ErrInvalidInput("connection_id is required")
	}
	if len(r.Recipients) == 0 {
		return models.ErrInvalidInput("recipients is required and cannot be empty")
	}
	if r.PauseAfterMessages < 0 || r.PauseSeconds < 0 {
		return models.ErrInvalidInput("pause_after_messages and pause_seconds cannot be negative")
	}
	if r.MediaURL != nil && *r.MediaURL != "" && r.MediaType == nil {
		return models.ErrInvalidInput("media_type is required with media_url")
	}
	if r.RespectActiveHours {
		if err := validateActiveHours(r.ActiveHoursStart, r.ActiveHoursEnd); err != nil {
			return err
		}
	}
	return nil
}

// CreateCampaignResult reports what was persisted
type CreateCampaignResult struct {
	Campaign     *models.Campaign `json:"campaign"`
	Recipients   int              `json:"recipients"`
	Blacklisted  int              `json:"blacklisted"`
	InvalidPhone int              `json:"invalid_phone"`
	Duplicates   int              `json:"duplicates"`
}

// StartCampaignResult represents the result of starting a campaign
type StartCampaignResult struct {
	CampaignID int64  `json:"campaign_id"`
	Status     string `json:"status"`
	Outcome    string `json:"outcome"`
	Enqueued   int    `json:"enqueued"`
}

// SetActiveRequest toggles whether a campaign may send
type SetActiveRequest struct {
	IsActive *bool `json:"is_active"`
}

// Validate performs validation on the set active request
func (r *SetActiveRequest) Validate() error {
	if r.IsActive == nil {
		return models.ErrInvalidInput("is_active is required")
	}
	return nil
}

// ActiveHoursRequest updates the sending window
type ActiveHoursRequest struct {
	RespectActiveHours bool    `json:"respect_active_hours"`
	ActiveHoursStart   *string `json:"active_hours_start,omitempty"`
	ActiveHoursEnd     *string `json:"active_hours_end,omitempty"`
}

// Validate performs validation on the active hours request
func (r *ActiveHoursRequest) Validate() error {
	if !r.RespectActiveHours {
		return nil
	}
	return validateActiveHours(r.ActiveHoursStart, r.ActiveHoursEnd)
}

func validateActiveHours(start, end *string) error {
	if start == nil || end == nil {
		return models.ErrInvalidInput("active_hours_start and active_hours_end are required")
	}
	if err := schedule.ParseClock(*start); err != nil {
		return models.ErrInvalidInput(err.Error())
	}
	if err := schedule.ParseClock(*end); err != nil {
		return models.ErrInvalidInput(err.Error())
	}
	if *start > *end {
		return models.ErrInvalidInput("active hours must not cross midnight")
	}
	return nil
}

// PreviewRequest represents a request to preview a personalized message
type PreviewRequest struct {
	Recipient        Recipient `json:"recipient"`
	OverrideTemplate *string   `json:"override_template,omitempty"`
}

// Validate performs validation on the preview request
func (r *PreviewRequest) Validate() error {
	if strings.TrimSpace(r.Recipient.Phone) == "" && strings.TrimSpace(r.Recipient.Name) == "" {
		return models.ErrInvalidInput("recipient name or phone is required")
	}
	return nil
}

// PreviewResult represents the result of a personalized preview
type PreviewResult struct {
	RenderedMessage string    `json:"rendered_message"`
	UsedTemplate    string    `json:"used_template"`
	Recipient       Recipient `json:"recipient"`
}

// SchedulePreviewRequest asks how long a campaign would take
type SchedulePreviewRequest struct {
	RecipientCount     int `json:"recipient_count"`
	DelayMin           int `json:"delay_min"`
	DelayMax           int `json:"delay_max"`
	PauseAfterMessages int `json:"pause_after_messages"`
	PauseSeconds       int `json:"pause_seconds"`
	VariationCount     int `json:"variation_count"`
	DeviceCount        int `json:"device_count"`
}

// Validate performs validation on the schedule preview request
func (r *SchedulePreviewRequest) Validate() error {
	if r.RecipientCount <= 0 {
		return models.ErrInvalidInput("recipient_count must be positive")
	}
	if r.RecipientCount > 100000 {
		return models.ErrInvalidInput("recipient_count cannot exceed 100000")
	}
	return nil
}

// SchedulePreviewResult summarises a computed schedule
type SchedulePreviewResult struct {
	RecipientCount    int `json:"recipient_count"`
	DelayMin          int `json:"delay_min"`
	DelayMax          int `json:"delay_max"`
	EstimatedDuration int `json:"estimated_duration"`
	DailyLimit        int `json:"daily_limit"`
	EstimatedDays     int `json:"estimated_days"`
}

// BlacklistRequest adds phones to the caller's blacklist
type BlacklistRequest struct {
	Phones []string `json:"phones"`
}

// Validate performs validation on the blacklist request
func (r *BlacklistRequest) Validate() error {
	if len(r.Phones) == 0 {
		return models.ErrInvalidInput("phones is required and cannot be empty")
	}
	return nil
}

// BlacklistResult reports how many phones were stored
type BlacklistResult struct {
	Added   int64    `json:"added"`
	Invalid []string `json:"invalid,omitempty"`
}

// CampaignListResult represents paginated campaign list results
type CampaignListResult struct {
	Data       []*models.Campaign      `json:"data"`
	Pagination models.PaginationResult `json:"pagination"`
}

// MessageListResult represents paginated campaign message results
type MessageListResult struct {
	Data       []*models.CampaignMessage `json:"data"`
	Pagination models.PaginationResult   `json:"pagination"`
}
