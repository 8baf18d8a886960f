package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/repository"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/schedule"
)

// DeviceArbiter picks the device that sends a campaign's next message
type DeviceArbiter struct {
	campaignRepo repository.CampaignRepository
	deviceRepo   repository.DeviceRepository
	messageRepo  repository.CampaignMessageRepository
	rng          schedule.Rand
	now          func() time.Time
	logger       *slog.Logger
}

// NewDeviceArbiter creates a device arbiter
func NewDeviceArbiter(
	campaignRepo repository.CampaignRepository,
	deviceRepo repository.DeviceRepository,
	messageRepo repository.CampaignMessageRepository,
	rng schedule.Rand,
	now func() time.Time,
	logger *slog.Logger,
) *DeviceArbiter {
	return &DeviceArbiter{
		campaignRepo: campaignRepo,
		deviceRepo:   deviceRepo,
		messageRepo:  messageRepo,
		rng:          rng,
		now:          now,
		logger:       logger,
	}
}

// IsDeviceBusy returns the running campaign other than excludeCampaignID
// that uses the device, or nil.
func (a *DeviceArbiter) IsDeviceBusy(ctx context.Context, deviceID, excludeCampaignID int64) (*models.BusyCampaign, error) {
	return a.campaignRepo.FindBusyCampaign(ctx, deviceID, excludeCampaignID)
}

// FirstBusyDevice checks every device of the campaign and returns the first
// conflict, or nil.
func (a *DeviceArbiter) FirstBusyDevice(ctx context.Context, campaign *models.Campaign) (*models.BusyCampaign, error) {
	for _, deviceID := range campaign.AssignedDeviceIDs() {
		busy, err := a.IsDeviceBusy(ctx, deviceID, campaign.ID)
		if err != nil {
			return nil, err
		}
		if busy != nil {
			return busy, nil
		}
	}
	return nil, nil
}

// FindAvailableDevice selects uniformly at random among the campaign's
// connected devices that no other running campaign holds. Multi-device
// campaigns also skip devices that reached today's cap.
func (a *DeviceArbiter) FindAvailableDevice(ctx context.Context, campaign *models.Campaign) (*models.Device, error) {
	devices, err := a.deviceRepo.GetByIDs(ctx, campaign.AssignedDeviceIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign devices: %w", err)
	}

	var sentToday map[int64]int
	limit := 0
	if campaign.MultiDevice {
		ids := make([]int64, 0, len(devices))
		for _, d := range devices {
			ids = append(ids, d.ID)
		}
		sentToday, err = a.messageRepo.CountSentByDeviceSince(ctx, ids, schedule.StartOfDay(a.now()))
		if err != nil {
			return nil, err
		}
		limit = schedule.DeviceDailyLimit(len(campaign.NonEmptyVariations()))
	}

	candidates := make([]*models.Device, 0, len(devices))
	for _, device := range devices {
		if !device.IsConnected() {
			continue
		}

		busy, err := a.IsDeviceBusy(ctx, device.ID, campaign.ID)
		if err != nil {
			return nil, err
		}
		if busy != nil {
			a.logger.Info("device busy, skipping",
				slog.Int64("campaign_id", campaign.ID),
				slog.Int64("device_id", device.ID),
				slog.Int64("busy_campaign_id", busy.CampaignID),
			)
			continue
		}

		if campaign.MultiDevice && sentToday[device.ID] >= limit {
			continue
		}

		candidates = append(candidates, device)
	}

	if len(candidates) == 0 {
		return nil, models.ErrNoDeviceAvailable
	}

	return candidates[a.rng.Intn(len(candidates))], nil
}
