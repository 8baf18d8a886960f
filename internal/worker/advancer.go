package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/lease"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/metrics"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/repository"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/schedule"
)

// Advancer outcomes
const (
	AdvanceEnqueued     = "enqueued"
	AdvanceCompleted    = "completed"
	AdvanceDailyLimit   = "daily_limit"
	AdvanceOutsideHours = "outside_active_hours"
	AdvanceLeaseHeld    = "lease_held"
	AdvanceSkipped      = "skipped"
)

// AdvanceResult describes what one advancer run did
type AdvanceResult struct {
	CampaignID int64         `json:"campaign_id"`
	Outcome    string        `json:"outcome"`
	Status     string        `json:"status"`
	Enqueued   int           `json:"enqueued"`
	NextRunIn  time.Duration `json:"next_run_in"`
}

// Advancer moves a running campaign forward one small batch at a time
type Advancer struct {
	campaignRepo repository.CampaignRepository
	messageRepo  repository.CampaignMessageRepository
	leases       lease.Manager
	enqueuer     *Enqueuer
	cfg          Config
	rng          schedule.Rand
	now          func() time.Time
	logger       *slog.Logger
}

// NewAdvancer creates a batch advancer
func NewAdvancer(
	campaignRepo repository.CampaignRepository,
	messageRepo repository.CampaignMessageRepository,
	leases lease.Manager,
	enqueuer *Enqueuer,
	cfg Config,
	rng schedule.Rand,
	now func() time.Time,
	logger *slog.Logger,
) *Advancer {
	return &Advancer{
		campaignRepo: campaignRepo,
		messageRepo:  messageRepo,
		leases:       leases,
		enqueuer:     enqueuer,
		cfg:          cfg,
		rng:          rng,
		now:          now,
		logger:       logger,
	}
}

// accepts reports whether the advancer may act on the campaign. Paused
// campaigns are only picked up again after a daily-limit rollover.
func (a *Advancer) accepts(c *models.Campaign) bool {
	switch c.Status {
	case models.CampaignStatusRunning, models.CampaignStatusDraft, models.CampaignStatusScheduled:
		return true
	case models.CampaignStatusPaused:
		return c.IsPausedFor(models.PauseReasonDailyLimit)
	default:
		return false
	}
}

// Advance handles one batch job
func (a *Advancer) Advance(ctx context.Context, job models.BatchJob) (*AdvanceResult, error) {
	result, err := a.advance(ctx, job)
	if err != nil {
		metrics.AdvancerRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.AdvancerRunsTotal.WithLabelValues(result.Outcome).Inc()
	return result, nil
}

func (a *Advancer) advance(ctx context.Context, job models.BatchJob) (*AdvanceResult, error) {
	campaign, err := a.campaignRepo.GetByID(ctx, job.CampaignID)
	if err != nil {
		return nil, err
	}

	result := &AdvanceResult{CampaignID: campaign.ID, Status: campaign.Status}

	if !a.accepts(campaign) {
		a.logger.Info("advancer skipping campaign",
			slog.Int64("campaign_id", campaign.ID),
			slog.String("status", campaign.Status),
		)
		result.Outcome = AdvanceSkipped
		return result, nil
	}

	now := a.now()
	deviceIDs := campaign.AssignedDeviceIDs()

	// Offsets are anchored on the original start unless this run resumes.
	startedAt := now
	if campaign.StartedAt != nil && !job.Resume && campaign.Status == models.CampaignStatusRunning {
		startedAt = *campaign.StartedAt
	}

	switch campaign.Status {
	case models.CampaignStatusDraft, models.CampaignStatusScheduled:
		if err := a.campaignRepo.UpdateStatus(ctx, campaign.ID, campaign.Status, models.CampaignStatusRunning,
			models.StatusUpdate{StartedAt: &now}); err != nil {
			return a.skipOnConflict(result, err)
		}
		metrics.CampaignTransitionsTotal.WithLabelValues(models.CampaignStatusRunning).Inc()

	case models.CampaignStatusPaused:
		if err := a.leases.Acquire(ctx, deviceIDs, campaign.ID, a.cfg.LeaseTTL); err != nil {
			if errors.Is(err, lease.ErrHeld) {
				return a.deferForLease(ctx, result, err)
			}
			return nil, err
		}
		if _, err := a.messageRepo.RebaseOffsets(ctx, campaign.ID); err != nil {
			return nil, err
		}
		if err := a.campaignRepo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusPaused, models.CampaignStatusRunning,
			models.StatusUpdate{StartedAt: &now, ClearPause: true}); err != nil {
			_ = a.leases.Release(ctx, deviceIDs, campaign.ID)
			return a.skipOnConflict(result, err)
		}
		metrics.CampaignTransitionsTotal.WithLabelValues(models.CampaignStatusRunning).Inc()
		a.logger.Info("campaign resumed",
			slog.Int64("campaign_id", campaign.ID),
			slog.String("previous_reason", models.PauseReasonDailyLimit),
		)

	case models.CampaignStatusRunning:
		if job.Resume {
			if _, err := a.messageRepo.RebaseOffsets(ctx, campaign.ID); err != nil {
				return nil, err
			}
			if err := a.campaignRepo.SetStartedAt(ctx, campaign.ID, now); err != nil {
				return nil, err
			}
		}
	}

	campaign.Status = models.CampaignStatusRunning
	result.Status = campaign.Status

	limited, err := a.checkDailyLimit(ctx, campaign, deviceIDs, now)
	if err != nil {
		return nil, err
	}
	if limited {
		result.Outcome = AdvanceDailyLimit
		result.Status = models.CampaignStatusPaused
		result.NextRunIn = schedule.NextMidnight(now).Sub(now)
		return result, nil
	}

	if start, end, ok := campaign.ActiveHours(); ok && !schedule.IsWithinActiveHours(now, start, end) {
		delay := schedule.NextWindowStart(now, start, end).Sub(now)
		// The devices stay leased across the gap; offsets are re-anchored
		// when the window opens.
		if err := a.leases.Extend(ctx, deviceIDs, campaign.ID, delay+a.cfg.LeaseTTL); err != nil {
			a.logger.Warn("failed to extend device leases",
				slog.Int64("campaign_id", campaign.ID),
				slog.String("error", err.Error()),
			)
		}
		if _, err := a.enqueuer.EnqueueBatch(ctx, models.BatchJob{CampaignID: campaign.ID, Resume: true}, delay); err != nil {
			return nil, err
		}
		result.Outcome = AdvanceOutsideHours
		result.NextRunIn = delay
		return result, nil
	}

	if err := a.leases.Extend(ctx, deviceIDs, campaign.ID, a.cfg.LeaseTTL); err != nil {
		if errors.Is(err, lease.ErrHeld) {
			return a.deferForLease(ctx, result, err)
		}
		a.logger.Warn("failed to extend device leases",
			slog.Int64("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
	}

	pending, err := a.messageRepo.ListPending(ctx, campaign.ID, a.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	if len(pending) == 0 {
		return a.complete(ctx, campaign, deviceIDs, now, result)
	}

	maxDelay := 0
	for _, message := range pending {
		target := startedAt.Add(time.Duration(message.ScheduledDelaySeconds) * time.Second)
		delay := schedule.SecondsUntil(now, target)
		if a.cfg.MaxStartJitter > 0 {
			delay += a.rng.Intn(a.cfg.MaxStartJitter + 1)
		}

		_, err := a.enqueuer.EnqueueMessage(ctx, models.MessageJob{CampaignID: campaign.ID, MessageID: message.ID},
			time.Duration(delay)*time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue message %d: %w", message.ID, err)
		}

		result.Enqueued++
		if delay > maxDelay {
			maxDelay = delay
		}
	}

	remaining, err := a.messageRepo.CountPending(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}

	if remaining > 0 {
		next := time.Duration(maxDelay)*time.Second + a.cfg.LookAheadPadding
		if _, err := a.enqueuer.EnqueueBatch(ctx, models.BatchJob{CampaignID: campaign.ID}, next); err != nil {
			return nil, err
		}
		result.NextRunIn = next
	}

	a.logger.Info("batch enqueued",
		slog.Int64("campaign_id", campaign.ID),
		slog.Int("messages", result.Enqueued),
		slog.Int("remaining", remaining),
		slog.Duration("next_run_in", result.NextRunIn),
	)

	result.Outcome = AdvanceEnqueued
	return result, nil
}

// checkDailyLimit pauses the campaign until local midnight when its devices
// already sent the campaign's daily allowance.
func (a *Advancer) checkDailyLimit(ctx context.Context, campaign *models.Campaign, deviceIDs []int64, now time.Time) (bool, error) {
	counts, err := a.messageRepo.CountSentByDeviceSince(ctx, deviceIDs, schedule.StartOfDay(now))
	if err != nil {
		return false, err
	}

	sent := 0
	for _, n := range counts {
		sent += n
	}

	limit := schedule.CampaignDailyLimit(len(campaign.NonEmptyVariations()), len(deviceIDs))
	if sent < limit {
		return false, nil
	}

	resumeIn := schedule.NextMidnight(now).Sub(now)
	if _, err := a.enqueuer.EnqueueBatch(ctx, models.BatchJob{CampaignID: campaign.ID, Resume: true}, resumeIn); err != nil {
		return false, err
	}

	reason := models.PauseReasonDailyLimit
	err = a.campaignRepo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusRunning, models.CampaignStatusPaused,
		models.StatusUpdate{PausedAt: &now, PauseReason: &reason})
	if err != nil {
		return false, err
	}
	metrics.CampaignTransitionsTotal.WithLabelValues(models.CampaignStatusPaused).Inc()

	if err := a.leases.Release(ctx, deviceIDs, campaign.ID); err != nil {
		a.logger.Warn("failed to release device leases",
			slog.Int64("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
	}

	a.logger.Info("daily limit reached, campaign paused until midnight",
		slog.Int64("campaign_id", campaign.ID),
		slog.Int("sent_today", sent),
		slog.Int("limit", limit),
	)
	return true, nil
}

func (a *Advancer) complete(ctx context.Context, campaign *models.Campaign, deviceIDs []int64, now time.Time, result *AdvanceResult) (*AdvanceResult, error) {
	err := a.campaignRepo.UpdateStatus(ctx, campaign.ID, models.CampaignStatusRunning, models.CampaignStatusCompleted,
		models.StatusUpdate{CompletedAt: &now})
	if err != nil {
		return a.skipOnConflict(result, err)
	}
	metrics.CampaignTransitionsTotal.WithLabelValues(models.CampaignStatusCompleted).Inc()

	if err := a.leases.Release(ctx, deviceIDs, campaign.ID); err != nil {
		a.logger.Warn("failed to release device leases",
			slog.Int64("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
	}

	a.logger.Info("campaign completed", slog.Int64("campaign_id", campaign.ID))

	result.Outcome = AdvanceCompleted
	result.Status = models.CampaignStatusCompleted
	return result, nil
}

func (a *Advancer) deferForLease(ctx context.Context, result *AdvanceResult, leaseErr error) (*AdvanceResult, error) {
	a.logger.Warn("device leased to another campaign, deferring batch",
		slog.Int64("campaign_id", result.CampaignID),
		slog.String("status", result.Status),
		slog.String("error", leaseErr.Error()),
	)
	if _, err := a.enqueuer.EnqueueBatch(ctx, models.BatchJob{CampaignID: result.CampaignID, Resume: true}, a.cfg.LeaseRetryDelay); err != nil {
		return nil, err
	}
	result.Outcome = AdvanceLeaseHeld
	result.NextRunIn = a.cfg.LeaseRetryDelay
	return result, nil
}

func (a *Advancer) skipOnConflict(result *AdvanceResult, err error) (*AdvanceResult, error) {
	if errors.Is(err, models.ErrConflict) {
		a.logger.Info("campaign changed concurrently, skipping",
			slog.Int64("campaign_id", result.CampaignID),
		)
		result.Outcome = AdvanceSkipped
		return result, nil
	}
	return nil, err
}
