package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/lease"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/metrics"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/repository"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/schedule"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/worker"
)

// CampaignService handles campaign business logic
type CampaignService interface {
	Create(ctx context.Context, req *CreateCampaignRequest) (*CreateCampaignResult, error)
	GetByID(ctx context.Context, userID, id int64) (*models.CampaignWithStats, error)
	List(ctx context.Context, filter models.CampaignFilter) (*CampaignListResult, error)
	Start(ctx context.Context, userID, id int64) (*StartCampaignResult, error)
	Pause(ctx context.Context, userID, id int64) (*models.Campaign, error)
	Cancel(ctx context.Context, userID, id int64) (*models.Campaign, error)
	SetActive(ctx context.Context, userID, id int64, req *SetActiveRequest) (*models.Campaign, error)
	UpdateActiveHours(ctx context.Context, userID, id int64, req *ActiveHoursRequest) (*models.Campaign, error)
	PreviewPersonalized(ctx context.Context, userID, id int64, req *PreviewRequest) (*PreviewResult, error)
	SchedulePreview(ctx context.Context, req *SchedulePreviewRequest) (*SchedulePreviewResult, error)
	StartDue(ctx context.Context) (int, error)
}

// CampaignConfig holds the tunables of the campaign lifecycle
type CampaignConfig struct {
	DefaultCountryCode string
	LeaseTTL           time.Duration
	DueBatchSize       int
}

type campaignService struct {
	campaignRepo  repository.CampaignRepository
	messageRepo   repository.CampaignMessageRepository
	deviceRepo    repository.DeviceRepository
	blacklistRepo repository.BlacklistRepository
	templateSvc   TemplateService
	arbiter       *worker.DeviceArbiter
	advancer      *worker.Advancer
	leases        lease.Manager
	calculator    *schedule.Calculator
	cfg           CampaignConfig
	now           func() time.Time
	logger        *slog.Logger
}

// NewCampaignService creates a new campaign service
func NewCampaignService(
	campaignRepo repository.CampaignRepository,
	messageRepo repository.CampaignMessageRepository,
	deviceRepo repository.DeviceRepository,
	blacklistRepo repository.BlacklistRepository,
	templateSvc TemplateService,
	arbiter *worker.DeviceArbiter,
	advancer *worker.Advancer,
	leases lease.Manager,
	calculator *schedule.Calculator,
	cfg CampaignConfig,
	now func() time.Time,
	logger *slog.Logger,
) CampaignService {
	if cfg.DueBatchSize <= 0 {
		cfg.DueBatchSize = 50
	}
	return &campaignService{
		campaignRepo:  campaignRepo,
		messageRepo:   messageRepo,
		deviceRepo:    deviceRepo,
		blacklistRepo: blacklistRepo,
		templateSvc:   templateSvc,
		arbiter:       arbiter,
		advancer:      advancer,
		leases:        leases,
		calculator:    calculator,
		cfg:           cfg,
		now:           now,
		logger:        logger,
	}
}

// Create validates the request, normalises recipients, precomputes every
// send offset and persists the campaign with its messages.
func (s *campaignService) Create(ctx context.Context, req *CreateCampaignRequest) (*CreateCampaignResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if err := s.templateSvc.ValidateTemplate(req.MessageTemplate); err != nil {
		return nil, err
	}
	for _, variation := range req.MessageVariations {
		if err := s.templateSvc.ValidateTemplate(variation); err != nil {
			return nil, err
		}
	}

	delayMin, delayMax := schedule.ClampDelays(req.DelayMin, req.DelayMax)

	campaign := &models.Campaign{
		UserID:             req.UserID,
		Name:               req.Name,
		ConnectionID:       req.ConnectionID,
		MessageTemplate:    req.MessageTemplate,
		MediaURL:           req.MediaURL,
		MediaType:          req.MediaType,
		Poll:               req.Poll,
		ScheduledAt:        req.ScheduledAt,
		IsActive:           true,
		DelayMin:           delayMin,
		DelayMax:           delayMax,
		PauseAfterMessages: req.PauseAfterMessages,
		PauseSeconds:       req.PauseSeconds,
		RespectActiveHours: req.RespectActiveHours,
		ActiveHoursStart:   req.ActiveHoursStart,
		ActiveHoursEnd:     req.ActiveHoursEnd,
		MultiDevice:        req.MultiDevice,
		DeviceIDs:          req.DeviceIDs,
		MessageVariations:  req.MessageVariations,
	}
	// Extra devices only count for multi-device campaigns
	if campaign.DeviceIDs == nil || !campaign.MultiDevice {
		campaign.DeviceIDs = []int64{}
	}
	if campaign.MessageVariations == nil {
		campaign.MessageVariations = []string{}
	}

	if err := campaign.Validate(); err != nil {
		return nil, err
	}

	if err := s.checkDeviceOwnership(ctx, campaign); err != nil {
		return nil, err
	}

	if !req.SaveAsDraft {
		busy, err := s.arbiter.FirstBusyDevice(ctx, campaign)
		if err != nil {
			return nil, err
		}
		if busy != nil {
			return nil, models.ErrDeviceBusyWithMsg(s.busyMessage(ctx, busy), busy, true)
		}
	}

	campaign.Status = models.CampaignStatusDraft
	if !req.SaveAsDraft && req.ScheduledAt != nil && req.ScheduledAt.After(s.now()) {
		campaign.Status = models.CampaignStatusScheduled
	}

	result := &CreateCampaignResult{Campaign: campaign}
	recipients := s.normalizeRecipients(req.Recipients, result)
	if len(recipients) == 0 {
		return nil, models.ErrInvalidInput("no valid recipient phone numbers")
	}

	phones := make([]string, len(recipients))
	for i, r := range recipients {
		phones[i] = r.Phone
	}
	blacklisted, err := s.blacklistRepo.FilterBlacklisted(ctx, req.UserID, phones)
	if err != nil {
		return nil, err
	}

	messages := s.buildMessages(campaign, recipients, blacklisted, delayMin, delayMax)
	result.Recipients = len(messages)
	result.Blacklisted = len(messages) - campaign.TotalCount

	if err := s.campaignRepo.CreateWithMessages(ctx, campaign, messages); err != nil {
		s.logger.Error("failed to create campaign",
			slog.String("error", err.Error()),
			slog.String("name", req.Name),
		)
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.logger.Info("campaign created",
		slog.Int64("campaign_id", campaign.ID),
		slog.String("name", campaign.Name),
		slog.String("status", campaign.Status),
		slog.Int("recipients", campaign.TotalCount),
		slog.Int("estimated_duration", campaign.EstimatedDuration),
	)

	return result, nil
}

func (s *campaignService) checkDeviceOwnership(ctx context.Context, campaign *models.Campaign) error {
	ids := campaign.AssignedDeviceIDs()
	devices, err := s.deviceRepo.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}

	owned := make(map[int64]bool, len(devices))
	for _, d := range devices {
		if d.UserID == campaign.UserID {
			owned[d.ID] = true
		}
	}
	for _, id := range ids {
		if !owned[id] {
			return models.ErrInvalidInput(fmt.Sprintf("device %d not found", id))
		}
	}
	return nil
}

// normalizeRecipients keeps the first occurrence of every valid phone
func (s *campaignService) normalizeRecipients(in []Recipient, result *CreateCampaignResult) []Recipient {
	seen := make(map[string]bool, len(in))
	out := make([]Recipient, 0, len(in))

	for _, r := range in {
		phone, ok := models.NormalizePhone(r.Phone, s.cfg.DefaultCountryCode)
		if !ok {
			result.InvalidPhone++
			continue
		}
		if seen[phone] {
			result.Duplicates++
			continue
		}
		seen[phone] = true
		r.Phone = phone
		out = append(out, r)
	}

	return out
}

// buildMessages renders content and assigns offsets. Blacklisted recipients
// are stored for reporting and share the offset of the previous sendable one.
func (s *campaignService) buildMessages(
	campaign *models.Campaign,
	recipients []Recipient,
	blacklisted map[string]bool,
	delayMin, delayMax int,
) []*models.CampaignMessage {
	sendable := 0
	for _, r := range recipients {
		if !blacklisted[r.Phone] {
			sendable++
		}
	}

	plan := s.calculator.Compute(sendable, schedule.Options{
		DelayMin:     delayMin,
		DelayMax:     delayMax,
		PauseAfter:   campaign.PauseAfterMessages,
		PauseSeconds: campaign.PauseSeconds,
	})

	messages := make([]*models.CampaignMessage, 0, len(recipients))
	next, offset := 0, 0
	for _, r := range recipients {
		status := models.MessageStatusBlacklisted
		if !blacklisted[r.Phone] {
			status = models.MessageStatusPending
			offset = plan.Offsets[next]
			next++
		}

		messages = append(messages, &models.CampaignMessage{
			Phone:                 r.Phone,
			Name:                  r.Name,
			Variables:             models.Variables(r.Variables),
			Content:               s.templateSvc.Render(campaign.MessageTemplate, RecipientVars(r.Name, r.Phone, r.Variables)),
			Status:                status,
			ScheduledDelaySeconds: offset,
		})
	}

	campaign.TotalCount = sendable
	campaign.EstimatedDuration = plan.EstimatedDuration
	return messages
}

// GetByID retrieves a campaign with statistics
func (s *campaignService) GetByID(ctx context.Context, userID, id int64) (*models.CampaignWithStats, error) {
	campaign, err := s.campaignRepo.GetWithStats(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.UserID != userID {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("campaign %d not found", id))
	}

	return campaign, nil
}

// List retrieves campaigns with pagination
func (s *campaignService) List(ctx context.Context, filter models.CampaignFilter) (*CampaignListResult, error) {
	if filter.Status != "" && !models.IsValidCampaignStatus(filter.Status) {
		return nil, models.ErrInvalidInput(fmt.Sprintf("invalid status: %s", filter.Status))
	}

	campaigns, totalCount, err := s.campaignRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	models.NormalizePage(&filter.Page, &filter.PageSize)

	return &CampaignListResult{
		Data:       campaigns,
		Pagination: models.NewPaginationResult(filter.Page, filter.PageSize, totalCount),
	}, nil
}

// Start begins or resumes sending
func (s *campaignService) Start(ctx context.Context, userID, id int64) (*StartCampaignResult, error) {
	campaign, err := ownedCampaign(ctx, s.campaignRepo, userID, id)
	if err != nil {
		return nil, err
	}

	return s.start(ctx, campaign)
}

func (s *campaignService) start(ctx context.Context, campaign *models.Campaign) (result *StartCampaignResult, err error) {
	if !campaign.CanBeStarted() {
		return nil, models.ErrConflictWithMsg(
			fmt.Sprintf("campaign with status '%s' cannot be started", campaign.Status),
		)
	}

	busy, err := s.arbiter.FirstBusyDevice(ctx, campaign)
	if err != nil {
		return nil, err
	}
	if busy != nil {
		message := s.busyMessage(ctx, busy)
		s.markFailed(ctx, campaign, message)
		return nil, models.ErrDeviceBusyWithMsg(message, busy, false)
	}

	connected, err := s.hasConnectedDevice(ctx, campaign)
	if err != nil {
		return nil, err
	}
	if !connected {
		s.markFailed(ctx, campaign, models.NoDeviceMessage)
		return nil, models.ErrNoDeviceWithMsg(models.NoDeviceMessage)
	}

	deviceIDs := campaign.AssignedDeviceIDs()
	if err := s.leases.Acquire(ctx, deviceIDs, campaign.ID, s.cfg.LeaseTTL); err != nil {
		var held *lease.HeldError
		if errors.As(err, &held) {
			return nil, models.ErrDeviceBusyWithMsg(
				fmt.Sprintf("device %d is still reserved by campaign %d", held.DeviceID, held.HolderCampaignID),
				&models.BusyCampaign{CampaignID: held.HolderCampaignID, DeviceID: held.DeviceID}, false)
		}
		return nil, err
	}

	// Anything unexpected past this point leaves the campaign failed rather
	// than half started.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while starting campaign",
				slog.Int64("campaign_id", campaign.ID),
				slog.Any("panic", r),
			)
			result, err = nil, fmt.Errorf("failed to start campaign %d", campaign.ID)
		}
		if err != nil && !errors.Is(err, models.ErrConflict) {
			s.markFailed(context.WithoutCancel(ctx), campaign, "failed to start: "+err.Error())
			_ = s.leases.Release(context.WithoutCancel(ctx), deviceIDs, campaign.ID)
		}
	}()

	job := models.BatchJob{CampaignID: campaign.ID}
	if campaign.Status == models.CampaignStatusPaused {
		now := s.now()
		err := s.campaignRepo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusPaused, models.CampaignStatusRunning,
			models.StatusUpdate{StartedAt: &now, ClearPause: true})
		if err != nil {
			return nil, err
		}
		metrics.CampaignTransitionsTotal.WithLabelValues(models.CampaignStatusRunning).Inc()
		job.Resume = true
	}

	advanced, err := s.advancer.Advance(ctx, job)
	if err != nil {
		return nil, err
	}

	s.logger.Info("campaign started",
		slog.Int64("campaign_id", campaign.ID),
		slog.String("outcome", advanced.Outcome),
		slog.Int("enqueued", advanced.Enqueued),
	)

	return &StartCampaignResult{
		CampaignID: campaign.ID,
		Status:     advanced.Status,
		Outcome:    advanced.Outcome,
		Enqueued:   advanced.Enqueued,
	}, nil
}

func (s *campaignService) hasConnectedDevice(ctx context.Context, campaign *models.Campaign) (bool, error) {
	devices, err := s.deviceRepo.GetByIDs(ctx, campaign.AssignedDeviceIDs())
	if err != nil {
		return false, err
	}
	for _, d := range devices {
		if d.IsConnected() {
			return true, nil
		}
	}
	return false, nil
}

func (s *campaignService) busyMessage(ctx context.Context, busy *models.BusyCampaign) string {
	label := strconv.FormatInt(busy.DeviceID, 10)
	if device, err := s.deviceRepo.GetByID(ctx, busy.DeviceID); err == nil {
		label = device.Label()
	}
	return models.DeviceBusyMessage(label, busy.CampaignName)
}

func (s *campaignService) markFailed(ctx context.Context, campaign *models.Campaign, reason string) {
	current, err := s.campaignRepo.GetByID(ctx, campaign.ID)
	if err != nil {
		s.logger.Error("failed to load campaign for failure",
			slog.Int64("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	err = s.campaignRepo.UpdateStatus(ctx, campaign.ID, current.Status, models.CampaignStatusFailed,
		models.StatusUpdate{FailureReason: &reason})
	if err != nil {
		s.logger.Error("failed to mark campaign failed",
			slog.Int64("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.CampaignTransitionsTotal.WithLabelValues(models.CampaignStatusFailed).Inc()

	s.logger.Warn("campaign failed",
		slog.Int64("campaign_id", campaign.ID),
		slog.String("reason", reason),
	)
}

// Pause stops a running campaign until it is started again
func (s *campaignService) Pause(ctx context.Context, userID, id int64) (*models.Campaign, error) {
	return s.pause(ctx, userID, id, models.PauseReasonManual)
}

func (s *campaignService) pause(ctx context.Context, userID, id int64, reason string) (*models.Campaign, error) {
	campaign, err := ownedCampaign(ctx, s.campaignRepo, userID, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.campaignRepo.UpdateStatus(ctx, id, campaign.Status, models.CampaignStatusPaused,
		models.StatusUpdate{PausedAt: &now, PauseReason: &reason})
	if err != nil {
		return nil, err
	}
	metrics.CampaignTransitionsTotal.WithLabelValues(models.CampaignStatusPaused).Inc()

	s.release(ctx, campaign)

	s.logger.Info("campaign paused",
		slog.Int64("campaign_id", id),
		slog.String("reason", reason),
	)

	return s.campaignRepo.GetByID(ctx, id)
}

// Cancel ends a campaign for good
func (s *campaignService) Cancel(ctx context.Context, userID, id int64) (*models.Campaign, error) {
	campaign, err := ownedCampaign(ctx, s.campaignRepo, userID, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.campaignRepo.UpdateStatus(ctx, id, campaign.Status, models.CampaignStatusCancelled,
		models.StatusUpdate{CompletedAt: &now})
	if err != nil {
		return nil, err
	}
	metrics.CampaignTransitionsTotal.WithLabelValues(models.CampaignStatusCancelled).Inc()

	s.release(ctx, campaign)

	s.logger.Info("campaign cancelled", slog.Int64("campaign_id", id))

	return s.campaignRepo.GetByID(ctx, id)
}

func (s *campaignService) release(ctx context.Context, campaign *models.Campaign) {
	if err := s.leases.Release(ctx, campaign.AssignedDeviceIDs(), campaign.ID); err != nil {
		s.logger.Warn("failed to release device leases",
			slog.Int64("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
	}
}

// SetActive toggles sending. Deactivating a running campaign pauses it and
// reactivating resumes it.
func (s *campaignService) SetActive(ctx context.Context, userID, id int64, req *SetActiveRequest) (*models.Campaign, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	campaign, err := ownedCampaign(ctx, s.campaignRepo, userID, id)
	if err != nil {
		return nil, err
	}

	active := *req.IsActive
	if err := s.campaignRepo.SetActive(ctx, id, active); err != nil {
		return nil, err
	}

	switch {
	case !active && campaign.Status == models.CampaignStatusRunning:
		return s.pause(ctx, userID, id, models.PauseReasonDeactivated)
	case active && campaign.IsPausedFor(models.PauseReasonDeactivated):
		campaign.IsActive = true
		if _, err := s.start(ctx, campaign); err != nil {
			return nil, err
		}
	}

	return s.campaignRepo.GetByID(ctx, id)
}

// UpdateActiveHours changes the sending window
func (s *campaignService) UpdateActiveHours(ctx context.Context, userID, id int64, req *ActiveHoursRequest) (*models.Campaign, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	campaign, err := ownedCampaign(ctx, s.campaignRepo, userID, id)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalStatus(campaign.Status) {
		return nil, models.ErrConflictWithMsg(
			fmt.Sprintf("campaign with status '%s' cannot be changed", campaign.Status),
		)
	}

	if err := s.campaignRepo.UpdateActiveHours(ctx, id, req.RespectActiveHours, req.ActiveHoursStart, req.ActiveHoursEnd); err != nil {
		return nil, err
	}

	return s.campaignRepo.GetByID(ctx, id)
}

// PreviewPersonalized renders the campaign text for one recipient
func (s *campaignService) PreviewPersonalized(ctx context.Context, userID, id int64, req *PreviewRequest) (*PreviewResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	campaign, err := ownedCampaign(ctx, s.campaignRepo, userID, id)
	if err != nil {
		return nil, err
	}

	templateToUse := campaign.MessageTemplate
	if req.OverrideTemplate != nil && *req.OverrideTemplate != "" {
		templateToUse = *req.OverrideTemplate

		if err := s.templateSvc.ValidateTemplate(templateToUse); err != nil {
			return nil, err
		}
	}

	recipient := req.Recipient
	if phone, ok := models.NormalizePhone(recipient.Phone, s.cfg.DefaultCountryCode); ok {
		recipient.Phone = phone
	}

	rendered := s.templateSvc.Render(templateToUse, RecipientVars(recipient.Name, recipient.Phone, recipient.Variables))

	return &PreviewResult{
		RenderedMessage: s.templateSvc.Spin(rendered),
		UsedTemplate:    templateToUse,
		Recipient:       recipient,
	}, nil
}

// SchedulePreview computes the pacing of a hypothetical campaign
func (s *campaignService) SchedulePreview(ctx context.Context, req *SchedulePreviewRequest) (*SchedulePreviewResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	delayMin, delayMax := schedule.ClampDelays(req.DelayMin, req.DelayMax)
	plan := s.calculator.Compute(req.RecipientCount, schedule.Options{
		DelayMin:     delayMin,
		DelayMax:     delayMax,
		PauseAfter:   req.PauseAfterMessages,
		PauseSeconds: req.PauseSeconds,
	})

	dailyLimit := schedule.CampaignDailyLimit(req.VariationCount, req.DeviceCount)
	days := (req.RecipientCount + dailyLimit - 1) / dailyLimit

	return &SchedulePreviewResult{
		RecipientCount:    req.RecipientCount,
		DelayMin:          delayMin,
		DelayMax:          delayMax,
		EstimatedDuration: plan.EstimatedDuration,
		DailyLimit:        dailyLimit,
		EstimatedDays:     days,
	}, nil
}

// StartDue starts scheduled campaigns whose time has passed
func (s *campaignService) StartDue(ctx context.Context) (int, error) {
	due, err := s.campaignRepo.ListDueScheduled(ctx, s.now(), s.cfg.DueBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due campaigns: %w", err)
	}

	started := 0
	for _, campaign := range due {
		if _, err := s.start(ctx, campaign); err != nil {
			s.logger.Warn("failed to start scheduled campaign",
				slog.Int64("campaign_id", campaign.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		started++
	}

	return started, nil
}
