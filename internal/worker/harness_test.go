package worker

import (
	"fmt"
	"time"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type harness struct {
	campaigns *fakeCampaignRepo
	messages  *fakeMessageRepo
	devices   *fakeDeviceRepo
	queue     *fakeQueue
	leases    *fakeLeases
	sender    *fakeSender
	cfg       Config
	now       time.Time
	rng       fixedRand
}

func newHarness(campaigns []*models.Campaign, messages []*models.CampaignMessage, devices ...*models.Device) *harness {
	return &harness{
		campaigns: newFakeCampaignRepo(campaigns...),
		messages:  newFakeMessageRepo(messages...),
		devices:   newFakeDeviceRepo(devices...),
		queue:     &fakeQueue{durable: true},
		leases:    newFakeLeases(),
		sender:    &fakeSender{},
		cfg:       DefaultConfig(),
		now:       testNow,
	}
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) enqueuer() *Enqueuer {
	return NewEnqueuer(h.queue, testCallbacks, 3)
}

func (h *harness) arbiter() *DeviceArbiter {
	return NewDeviceArbiter(h.campaigns, h.devices, h.messages, h.rng, h.clock, testLogger())
}

func (h *harness) advancer() *Advancer {
	return NewAdvancer(h.campaigns, h.messages, h.leases, h.enqueuer(), h.cfg, h.rng, h.clock, testLogger())
}

func (h *harness) processor() *MessageProcessor {
	return NewMessageProcessor(h.messages, h.campaigns, h.arbiter(), h.leases, h.enqueuer(),
		h.sender, plainRenderer{}, h.cfg, h.rng, h.clock, testLogger())
}

func runningCampaign(id int64) *models.Campaign {
	return &models.Campaign{
		ID:              id,
		UserID:          1,
		Name:            "Spring sale",
		ConnectionID:    1,
		MessageTemplate: "Hello {name}",
		Status:          models.CampaignStatusRunning,
		StartedAt:       timePtr(testNow),
		IsActive:        true,
		DelayMin:        10,
		DelayMax:        20,
	}
}

func connectedDevice(id int64) *models.Device {
	return &models.Device{
		ID:          id,
		UserID:      1,
		SessionName: fmt.Sprintf("session-%d", id),
		Phone:       fmt.Sprintf("97250000000%d", id),
		Status:      models.DeviceStatusConnected,
	}
}

func pendingMessages(campaignID int64, offsets ...int) []*models.CampaignMessage {
	out := make([]*models.CampaignMessage, 0, len(offsets))
	for i, offset := range offsets {
		out = append(out, &models.CampaignMessage{
			ID:                    campaignID*100 + int64(i+1),
			CampaignID:            campaignID,
			Phone:                 fmt.Sprintf("97250123456%d", i%10),
			Name:                  "Dana",
			Content:               "Hello Dana",
			Status:                models.MessageStatusPending,
			ScheduledDelaySeconds: offset,
		})
	}
	return out
}

// sentToday builds messages another campaign already sent from deviceID
func sentToday(campaignID, deviceID int64, count int, at time.Time) []*models.CampaignMessage {
	out := make([]*models.CampaignMessage, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, &models.CampaignMessage{
			ID:             campaignID*1000 + int64(i+1),
			CampaignID:     campaignID,
			Phone:          "972509999999",
			Status:         models.MessageStatusSent,
			SenderDeviceID: int64Ptr(deviceID),
			SentAt:         timePtr(at),
		})
	}
	return out
}
