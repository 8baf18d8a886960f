package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/gateway"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/lease"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/metrics"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/repository"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/schedule"
)

// Dispatch outcomes
const (
	DispatchSent         = "sent"
	DispatchFailed       = "failed"
	DispatchSkipped      = "skipped"
	DispatchRescheduled  = "rescheduled"
	DispatchPaused       = "paused"
	DispatchNoDevice     = "no_device"
	DispatchAlreadyClaim = "already_claimed"
)

// DispatchResult describes what happened to one message job
type DispatchResult struct {
	MessageID  int64  `json:"message_id"`
	CampaignID int64  `json:"campaign_id"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	DeviceID   int64  `json:"device_id,omitempty"`
}

// MessageProcessor sends exactly one campaign message per job
type MessageProcessor struct {
	messageRepo  repository.CampaignMessageRepository
	campaignRepo repository.CampaignRepository
	arbiter      *DeviceArbiter
	leases       lease.Manager
	enqueuer     *Enqueuer
	sender       MessageSender
	renderer     Renderer
	cfg          Config
	rng          schedule.Rand
	now          func() time.Time
	logger       *slog.Logger
}

// NewMessageProcessor creates a new message processor
func NewMessageProcessor(
	messageRepo repository.CampaignMessageRepository,
	campaignRepo repository.CampaignRepository,
	arbiter *DeviceArbiter,
	leases lease.Manager,
	enqueuer *Enqueuer,
	sender MessageSender,
	renderer Renderer,
	cfg Config,
	rng schedule.Rand,
	now func() time.Time,
	logger *slog.Logger,
) *MessageProcessor {
	return &MessageProcessor{
		messageRepo:  messageRepo,
		campaignRepo: campaignRepo,
		arbiter:      arbiter,
		leases:       leases,
		enqueuer:     enqueuer,
		sender:       sender,
		renderer:     renderer,
		cfg:          cfg,
		rng:          rng,
		now:          now,
		logger:       logger,
	}
}

// Process handles a single message job. Redelivered jobs for messages that
// are no longer pending are acknowledged without sending.
func (p *MessageProcessor) Process(ctx context.Context, job models.MessageJob) (*DispatchResult, error) {
	result, err := p.process(ctx, job)
	if result != nil {
		metrics.MessagesDispatchedTotal.WithLabelValues(result.Outcome).Inc()
	} else if err != nil {
		metrics.MessagesDispatchedTotal.WithLabelValues("error").Inc()
	}
	return result, err
}

func (p *MessageProcessor) process(ctx context.Context, job models.MessageJob) (*DispatchResult, error) {
	message, err := p.messageRepo.GetByID(ctx, job.MessageID)
	if err != nil {
		p.logger.Error("failed to fetch message",
			slog.Int64("message_id", job.MessageID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}

	result := &DispatchResult{MessageID: message.ID, CampaignID: message.CampaignID}

	if !message.IsPending() {
		return skip(result, "message already "+message.Status), nil
	}

	campaign, err := p.campaignRepo.GetByID(ctx, message.CampaignID)
	if err != nil {
		p.logger.Error("failed to fetch campaign",
			slog.Int64("campaign_id", message.CampaignID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to fetch campaign: %w", err)
	}

	if campaign.Status != models.CampaignStatusRunning {
		return skip(result, "campaign "+campaign.Status), nil
	}
	if !campaign.IsActive {
		return skip(result, "campaign deactivated"), nil
	}

	now := p.now()
	if start, end, ok := campaign.ActiveHours(); ok && !schedule.IsWithinActiveHours(now, start, end) {
		return p.outsideActiveHours(ctx, campaign, message, now, start, end, result)
	}

	claimed, err := p.messageRepo.ClaimForDispatch(ctx, message.ID, p.cfg.ClaimStaleAfter)
	if err != nil {
		return nil, err
	}
	if !claimed {
		result.Outcome = DispatchAlreadyClaim
		return result, nil
	}

	device, err := p.arbiter.FindAvailableDevice(ctx, campaign)
	if err != nil {
		if errors.Is(err, models.ErrNoDeviceAvailable) {
			return p.handleNoDevice(ctx, campaign, message, now, result)
		}
		return nil, err
	}
	result.DeviceID = device.ID

	out := p.buildOutgoing(campaign, message)

	p.logger.Info("dispatching message",
		slog.Int64("message_id", message.ID),
		slog.Int64("campaign_id", campaign.ID),
		slog.Int64("device_id", device.ID),
		slog.String("phone", message.Phone),
	)

	outcome, sendErr := p.sender.Send(ctx, device, message.Phone, out)
	if sendErr != nil {
		p.logger.Warn("message send failed",
			slog.Int64("message_id", message.ID),
			slog.Int64("device_id", device.ID),
			slog.String("error", sendErr.Error()),
		)
		return p.handleFailure(ctx, campaign, message, sendErr.Error(), result)
	}

	return p.handleSuccess(ctx, campaign, message, device, out.Text, outcome, result)
}

func skip(result *DispatchResult, reason string) *DispatchResult {
	result.Outcome = DispatchSkipped
	result.Reason = reason
	return result
}

// outsideActiveHours reschedules the job to the next window when the queue
// keeps delayed jobs across restarts. Otherwise the campaign is paused.
func (p *MessageProcessor) outsideActiveHours(
	ctx context.Context,
	campaign *models.Campaign,
	message *models.CampaignMessage,
	now time.Time,
	start, end string,
	result *DispatchResult,
) (*DispatchResult, error) {
	if p.enqueuer.Durable() {
		delay := schedule.NextWindowStart(now, start, end).Sub(now)
		if p.cfg.MaxStartJitter > 0 {
			delay += time.Duration(p.rng.Intn(p.cfg.MaxStartJitter+1)) * time.Second
		}
		_, err := p.enqueuer.EnqueueMessage(ctx, models.MessageJob{CampaignID: campaign.ID, MessageID: message.ID}, delay)
		if err != nil {
			return nil, err
		}
		result.Outcome = DispatchRescheduled
		result.Reason = "outside active hours"
		return result, nil
	}

	reason := models.PauseReasonActiveHours
	err := p.campaignRepo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusRunning, models.CampaignStatusPaused,
		models.StatusUpdate{PausedAt: &now, PauseReason: &reason})
	if err != nil && !errors.Is(err, models.ErrConflict) {
		return nil, err
	}
	if err == nil {
		metrics.CampaignTransitionsTotal.WithLabelValues(models.CampaignStatusPaused).Inc()
		p.releaseLeases(ctx, campaign)
	}

	result.Outcome = DispatchPaused
	result.Reason = "outside active hours"
	return result, nil
}

func (p *MessageProcessor) handleNoDevice(
	ctx context.Context,
	campaign *models.Campaign,
	message *models.CampaignMessage,
	now time.Time,
	result *DispatchResult,
) (*DispatchResult, error) {
	if _, err := p.messageRepo.MarkFailed(ctx, message.ID, models.NoDeviceMessage, now); err != nil {
		return nil, err
	}
	if err := p.campaignRepo.RefreshFailedCount(ctx, campaign.ID); err != nil {
		return nil, err
	}

	p.logger.Warn("no device available, message failed",
		slog.Int64("message_id", message.ID),
		slog.Int64("campaign_id", campaign.ID),
	)

	p.requeueNext(ctx, campaign.ID)

	result.Outcome = DispatchNoDevice
	result.Reason = models.NoDeviceMessage
	return result, models.ErrNoDeviceAvailable
}

func (p *MessageProcessor) handleSuccess(
	ctx context.Context,
	campaign *models.Campaign,
	message *models.CampaignMessage,
	device *models.Device,
	content string,
	outcome *SendOutcome,
	result *DispatchResult,
) (*DispatchResult, error) {
	deviceID := device.ID
	sent := models.SentMessage{
		Content:           content,
		SenderDeviceID:    &deviceID,
		SenderPhone:       device.Phone,
		ProviderMessageID: outcome.ProviderMessageID,
		SentAt:            p.now(),
	}

	updated, err := p.messageRepo.MarkSent(ctx, message.ID, sent)
	if err != nil {
		p.logger.Error("failed to update message status to sent",
			slog.Int64("message_id", message.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to update message status: %w", err)
	}
	if !updated {
		return skip(result, "message no longer pending"), nil
	}

	if err := p.campaignRepo.RefreshSentCount(ctx, campaign.ID); err != nil {
		return nil, err
	}

	if err := p.leases.Extend(ctx, campaign.AssignedDeviceIDs(), campaign.ID, p.cfg.LeaseTTL); err != nil {
		p.logger.Warn("failed to extend device leases",
			slog.Int64("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
	}

	if len(outcome.PartErrors) > 0 {
		p.logger.Warn("message partially sent",
			slog.Int64("message_id", message.ID),
			slog.Any("part_errors", outcome.PartErrors),
		)
	}

	p.logger.Info("message sent successfully",
		slog.Int64("message_id", message.ID),
		slog.Int64("device_id", device.ID),
	)

	result.Outcome = DispatchSent
	return result, nil
}

func (p *MessageProcessor) handleFailure(
	ctx context.Context,
	campaign *models.Campaign,
	message *models.CampaignMessage,
	reason string,
	result *DispatchResult,
) (*DispatchResult, error) {
	if _, err := p.messageRepo.MarkFailed(ctx, message.ID, reason, p.now()); err != nil {
		p.logger.Error("failed to update message status to failed",
			slog.Int64("message_id", message.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if err := p.campaignRepo.RefreshFailedCount(ctx, campaign.ID); err != nil {
		return nil, err
	}

	p.requeueNext(ctx, campaign.ID)

	result.Outcome = DispatchFailed
	result.Reason = reason
	return result, nil
}

// requeueNext keeps the campaign moving after a failure by dispatching the
// next pending message shortly.
func (p *MessageProcessor) requeueNext(ctx context.Context, campaignID int64) {
	next, err := p.messageRepo.NextPending(ctx, campaignID)
	if err != nil {
		p.logger.Error("failed to find next pending message",
			slog.Int64("campaign_id", campaignID),
			slog.String("error", err.Error()),
		)
		return
	}
	if next == nil {
		return
	}

	job := models.MessageJob{CampaignID: campaignID, MessageID: next.ID}
	if _, err := p.enqueuer.EnqueueMessage(ctx, job, p.cfg.FailureRequeueDelay); err != nil {
		p.logger.Error("failed to requeue next message",
			slog.Int64("campaign_id", campaignID),
			slog.Int64("message_id", next.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *MessageProcessor) releaseLeases(ctx context.Context, campaign *models.Campaign) {
	if err := p.leases.Release(ctx, campaign.AssignedDeviceIDs(), campaign.ID); err != nil {
		p.logger.Warn("failed to release device leases",
			slog.Int64("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
	}
}

// buildOutgoing renders the text for one recipient. A random non-empty
// variation wins over the content stored at creation time.
func (p *MessageProcessor) buildOutgoing(campaign *models.Campaign, message *models.CampaignMessage) Outgoing {
	text := message.Content
	if variations := campaign.NonEmptyVariations(); len(variations) > 0 {
		vars := map[string]string{
			"name":  message.Name,
			"phone": message.Phone,
		}
		for k, v := range message.Variables {
			vars[k] = v
		}
		text = p.renderer.Render(variations[p.rng.Intn(len(variations))], vars)
	}
	text = p.renderer.Spin(text)

	out := Outgoing{Text: text}

	if campaign.MediaURL != nil && *campaign.MediaURL != "" {
		mediaType := models.MediaTypeFile
		if campaign.MediaType != nil {
			mediaType = *campaign.MediaType
		}
		out.MediaType = mediaType
		out.Media = &gateway.Media{
			URL:      *campaign.MediaURL,
			Filename: path.Base(*campaign.MediaURL),
		}
	}

	if campaign.Poll != nil && campaign.Poll.Name != "" && len(campaign.Poll.Options) > 0 {
		out.Poll = &gateway.PollRequest{
			Name:            campaign.Poll.Name,
			Options:         campaign.Poll.Options,
			MultipleAnswers: campaign.Poll.MultipleAnswers,
		}
	}

	return out
}
