package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
)

func TestAdvancer_StartsDraftAndEnqueuesFirstBatch(t *testing.T) {
	campaign := runningCampaign(1)
	campaign.Status = models.CampaignStatusDraft
	campaign.StartedAt = nil

	h := newHarness([]*models.Campaign{campaign}, pendingMessages(1, 0, 20, 40, 60, 80, 100, 120), connectedDevice(1))

	result, err := h.advancer().Advance(context.Background(), models.BatchJob{CampaignID: 1})
	require.NoError(t, err)

	assert.Equal(t, AdvanceEnqueued, result.Outcome)
	assert.Equal(t, 5, result.Enqueued)

	stored := h.campaigns.get(1)
	assert.Equal(t, models.CampaignStatusRunning, stored.Status)
	require.NotNil(t, stored.StartedAt)
	assert.True(t, stored.StartedAt.Equal(testNow))

	messageJobs := h.queue.byURL(testCallbacks.MessageURL)
	require.Len(t, messageJobs, 5)
	wantDelays := []time.Duration{1 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second, 80 * time.Second}
	for i, job := range messageJobs {
		assert.Equal(t, wantDelays[i], job.Delay)
	}

	batchJobs := h.queue.byURL(testCallbacks.BatchURL)
	require.Len(t, batchJobs, 1)
	assert.Equal(t, 90*time.Second, batchJobs[0].Delay)
	assert.Equal(t, 90*time.Second, result.NextRunIn)
}

func TestAdvancer_AnchorsOnOriginalStart(t *testing.T) {
	campaign := runningCampaign(1)
	campaign.StartedAt = timePtr(testNow.Add(-60 * time.Second))

	h := newHarness([]*models.Campaign{campaign}, pendingMessages(1, 100, 150), connectedDevice(1))

	_, err := h.advancer().Advance(context.Background(), models.BatchJob{CampaignID: 1})
	require.NoError(t, err)

	jobs := h.queue.byURL(testCallbacks.MessageURL)
	require.Len(t, jobs, 2)
	assert.Equal(t, 40*time.Second, jobs[0].Delay)
	assert.Equal(t, 90*time.Second, jobs[1].Delay)

	batchJobs := h.queue.byURL(testCallbacks.BatchURL)
	require.Len(t, batchJobs, 1)
	assert.Equal(t, 100*time.Second, batchJobs[0].Delay)
}

func TestAdvancer_ResumeRebasesOffsets(t *testing.T) {
	campaign := runningCampaign(1)
	campaign.StartedAt = timePtr(testNow.Add(-24 * time.Hour))

	messages := pendingMessages(1, 100, 150, 500)
	h := newHarness([]*models.Campaign{campaign}, messages, connectedDevice(1))

	_, err := h.advancer().Advance(context.Background(), models.BatchJob{CampaignID: 1, Resume: true})
	require.NoError(t, err)

	assert.Equal(t, 0, h.messages.get(101).ScheduledDelaySeconds)
	assert.Equal(t, 50, h.messages.get(102).ScheduledDelaySeconds)
	assert.Equal(t, 400, h.messages.get(103).ScheduledDelaySeconds)

	stored := h.campaigns.get(1)
	require.NotNil(t, stored.StartedAt)
	assert.True(t, stored.StartedAt.Equal(testNow))

	jobs := h.queue.byURL(testCallbacks.MessageURL)
	require.Len(t, jobs, 3)
	assert.Equal(t, 1*time.Second, jobs[0].Delay)
	assert.Equal(t, 50*time.Second, jobs[1].Delay)
	assert.Equal(t, 400*time.Second, jobs[2].Delay)
}

func TestAdvancer_DailyLimitPausesUntilMidnight(t *testing.T) {
	campaign := runningCampaign(1)
	messages := append(pendingMessages(1, 0, 20), sentToday(2, 1, 90, testNow.Add(-time.Hour))...)

	h := newHarness([]*models.Campaign{campaign}, messages, connectedDevice(1))
	require.NoError(t, h.leases.Acquire(context.Background(), []int64{1}, 1, time.Hour))

	result, err := h.advancer().Advance(context.Background(), models.BatchJob{CampaignID: 1})
	require.NoError(t, err)

	assert.Equal(t, AdvanceDailyLimit, result.Outcome)

	stored := h.campaigns.get(1)
	assert.Equal(t, models.CampaignStatusPaused, stored.Status)
	require.NotNil(t, stored.PauseReason)
	assert.Equal(t, models.PauseReasonDailyLimit, *stored.PauseReason)

	assert.Empty(t, h.queue.byURL(testCallbacks.MessageURL))

	batchJobs := h.queue.byURL(testCallbacks.BatchURL)
	require.Len(t, batchJobs, 1)
	assert.Equal(t, 12*time.Hour, batchJobs[0].Delay)
	assert.True(t, h.queue.batchJobs()[0].Resume)

	assert.NotContains(t, h.leases.holders, int64(1))
}

func TestAdvancer_SentYesterdayDoesNotCount(t *testing.T) {
	campaign := runningCampaign(1)
	messages := append(pendingMessages(1, 0), sentToday(2, 1, 90, testNow.Add(-13*time.Hour))...)

	h := newHarness([]*models.Campaign{campaign}, messages, connectedDevice(1))

	result, err := h.advancer().Advance(context.Background(), models.BatchJob{CampaignID: 1})
	require.NoError(t, err)
	assert.Equal(t, AdvanceEnqueued, result.Outcome)
}

func TestAdvancer_VariationsRaiseTheCap(t *testing.T) {
	campaign := runningCampaign(1)
	campaign.MessageVariations = []string{"Hi {name}", "Hey {name}", "  "}
	messages := append(pendingMessages(1, 0), sentToday(2, 1, 90, testNow.Add(-time.Hour))...)

	h := newHarness([]*models.Campaign{campaign}, messages, connectedDevice(1))

	result, err := h.advancer().Advance(context.Background(), models.BatchJob{CampaignID: 1})
	require.NoError(t, err)
	assert.Equal(t, AdvanceEnqueued, result.Outcome, "two variations allow 100 per day")
}

func TestAdvancer_CompletesWhenNothingPending(t *testing.T) {
	campaign := runningCampaign(1)
	h := newHarness([]*models.Campaign{campaign}, nil, connectedDevice(1))
	require.NoError(t, h.leases.Acquire(context.Background(), []int64{1}, 1, time.Hour))

	result, err := h.advancer().Advance(context.Background(), models.BatchJob{CampaignID: 1})
	require.NoError(t, err)

	assert.Equal(t, AdvanceCompleted, result.Outcome)
	stored := h.campaigns.get(1)
	assert.Equal(t, models.CampaignStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.Empty(t, h.leases.holders)
	assert.Empty(t, h.queue.jobs)
}

func TestAdvancer_ResumesDailyLimitPause(t *testing.T) {
	campaign := runningCampaign(1)
	campaign.Status = models.CampaignStatusPaused
	campaign.PauseReason = strPtr(models.PauseReasonDailyLimit)
	campaign.PausedAt = timePtr(testNow.Add(-12 * time.Hour))
	campaign.StartedAt = timePtr(testNow.Add(-36 * time.Hour))

	h := newHarness([]*models.Campaign{campaign}, pendingMessages(1, 3000, 3020), connectedDevice(1))

	result, err := h.advancer().Advance(context.Background(), models.BatchJob{CampaignID: 1, Resume: true})
	require.NoError(t, err)
	assert.Equal(t, AdvanceEnqueued, result.Outcome)

	stored := h.campaigns.get(1)
	assert.Equal(t, models.CampaignStatusRunning, stored.Status)
	assert.Nil(t, stored.PauseReason)
	assert.Nil(t, stored.PausedAt)
	assert.True(t, stored.StartedAt.Equal(testNow))

	assert.Equal(t, int64(1), h.leases.holders[1])

	jobs := h.queue.byURL(testCallbacks.MessageURL)
	require.Len(t, jobs, 2)
	assert.Equal(t, 1*time.Second, jobs[0].Delay)
	assert.Equal(t, 20*time.Second, jobs[1].Delay)
}

func TestAdvancer_ResumeWaitsForLeasedDevice(t *testing.T) {
	campaign := runningCampaign(1)
	campaign.Status = models.CampaignStatusPaused
	campaign.PauseReason = strPtr(models.PauseReasonDailyLimit)

	h := newHarness([]*models.Campaign{campaign}, pendingMessages(1, 0), connectedDevice(1))
	require.NoError(t, h.leases.Acquire(context.Background(), []int64{1}, 9, time.Hour))

	result, err := h.advancer().Advance(context.Background(), models.BatchJob{CampaignID: 1, Resume: true})
	require.NoError(t, err)

	assert.Equal(t, AdvanceLeaseHeld, result.Outcome)
	assert.Equal(t, models.CampaignStatusPaused, h.campaigns.get(1).Status)

	batchJobs := h.queue.byURL(testCallbacks.BatchURL)
	require.Len(t, batchJobs, 1)
	assert.Equal(t, h.cfg.LeaseRetryDelay, batchJobs[0].Delay)
	assert.Empty(t, h.queue.byURL(testCallbacks.MessageURL))
}

func TestAdvancer_SkipsCampaignsItMustNotTouch(t *testing.T) {
	tests := []struct {
		name   string
		status string
		reason *string
	}{
		{name: "manually paused", status: models.CampaignStatusPaused, reason: strPtr(models.PauseReasonManual)},
		{name: "paused for active hours", status: models.CampaignStatusPaused, reason: strPtr(models.PauseReasonActiveHours)},
		{name: "cancelled", status: models.CampaignStatusCancelled},
		{name: "completed", status: models.CampaignStatusCompleted},
		{name: "failed", status: models.CampaignStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			campaign := runningCampaign(1)
			campaign.Status = tt.status
			campaign.PauseReason = tt.reason

			h := newHarness([]*models.Campaign{campaign}, pendingMessages(1, 0), connectedDevice(1))

			result, err := h.advancer().Advance(context.Background(), models.BatchJob{CampaignID: 1})
			require.NoError(t, err)

			assert.Equal(t, AdvanceSkipped, result.Outcome)
			assert.Equal(t, tt.status, h.campaigns.get(1).Status)
			assert.Empty(t, h.queue.jobs)
		})
	}
}

func TestAdvancer_OutsideActiveHoursWaitsForWindow(t *testing.T) {
	campaign := runningCampaign(1)
	campaign.RespectActiveHours = true
	campaign.ActiveHoursStart = strPtr("14:00")
	campaign.ActiveHoursEnd = strPtr("18:00")

	h := newHarness([]*models.Campaign{campaign}, pendingMessages(1, 0), connectedDevice(1))

	result, err := h.advancer().Advance(context.Background(), models.BatchJob{CampaignID: 1})
	require.NoError(t, err)

	assert.Equal(t, AdvanceOutsideHours, result.Outcome)
	batchJobs := h.queue.byURL(testCallbacks.BatchURL)
	require.Len(t, batchJobs, 1)
	assert.Equal(t, 2*time.Hour, batchJobs[0].Delay)
	assert.Empty(t, h.queue.byURL(testCallbacks.MessageURL))
}

func TestAdvancer_OutsideActiveHoursReanchorsWhenWindowOpens(t *testing.T) {
	evening := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)

	campaign := runningCampaign(1)
	campaign.StartedAt = timePtr(time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC))
	campaign.RespectActiveHours = true
	campaign.ActiveHoursStart = strPtr("09:00")
	campaign.ActiveHoursEnd = strPtr("17:00")

	h := newHarness([]*models.Campaign{campaign}, pendingMessages(1, 3600, 3660, 3720, 3780, 3840), connectedDevice(1))
	h.now = evening

	result, err := h.advancer().Advance(context.Background(), models.BatchJob{CampaignID: 1})
	require.NoError(t, err)

	assert.Equal(t, AdvanceOutsideHours, result.Outcome)
	batchJobs := h.queue.batchJobs()
	require.Len(t, batchJobs, 1)
	assert.True(t, batchJobs[0].Resume)
	assert.Equal(t, 13*time.Hour, h.queue.byURL(testCallbacks.BatchURL)[0].Delay)

	// the overnight gap is covered by the lease
	assert.Equal(t, 13*time.Hour+h.cfg.LeaseTTL, h.leases.lastTTL)
	assert.Equal(t, int64(1), h.leases.holders[1])

	h.now = time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	result, err = h.advancer().Advance(context.Background(), batchJobs[0])
	require.NoError(t, err)

	assert.Equal(t, AdvanceEnqueued, result.Outcome)
	jobs := h.queue.byURL(testCallbacks.MessageURL)
	require.Len(t, jobs, 5)
	wantDelays := []time.Duration{1 * time.Second, 60 * time.Second, 120 * time.Second, 180 * time.Second, 240 * time.Second}
	for i, job := range jobs {
		assert.Equal(t, wantDelays[i], job.Delay)
	}
}

func TestAdvancer_LostLeaseDefersBatch(t *testing.T) {
	h := newHarness([]*models.Campaign{runningCampaign(1)}, pendingMessages(1, 0, 20), connectedDevice(1))
	require.NoError(t, h.leases.Acquire(context.Background(), []int64{1}, 9, time.Hour))

	result, err := h.advancer().Advance(context.Background(), models.BatchJob{CampaignID: 1})
	require.NoError(t, err)

	assert.Equal(t, AdvanceLeaseHeld, result.Outcome)
	assert.Empty(t, h.queue.byURL(testCallbacks.MessageURL))

	batchJobs := h.queue.batchJobs()
	require.Len(t, batchJobs, 1)
	assert.True(t, batchJobs[0].Resume)
	assert.Equal(t, h.cfg.LeaseRetryDelay, h.queue.byURL(testCallbacks.BatchURL)[0].Delay)
	assert.Equal(t, int64(9), h.leases.holders[1])
}

func TestAdvancer_UnknownCampaign(t *testing.T) {
	h := newHarness(nil, nil)

	_, err := h.advancer().Advance(context.Background(), models.BatchJob{CampaignID: 42})
	assert.ErrorIs(t, err, models.ErrNotFound)
}
