package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/lease"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type zeroRand struct{}

func (zeroRand) Intn(n int) int { return 0 }

// mockCampaignRepository keeps campaigns and their messages in memory
type mockCampaignRepository struct {
	mu        sync.Mutex
	campaigns map[int64]*models.Campaign
	messages  *mockMessageRepository
	nextID    int64
}

func newMockCampaignRepository(messages *mockMessageRepository) *mockCampaignRepository {
	return &mockCampaignRepository{campaigns: map[int64]*models.Campaign{}, messages: messages}
}

func (m *mockCampaignRepository) add(c *models.Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[c.ID] = c
	if c.ID > m.nextID {
		m.nextID = c.ID
	}
}

func (m *mockCampaignRepository) get(id int64) *models.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *m.campaigns[id]
	return &c
}

func (m *mockCampaignRepository) CreateWithMessages(ctx context.Context, campaign *models.Campaign, messages []*models.CampaignMessage) error {
	m.mu.Lock()
	m.nextID++
	campaign.ID = m.nextID
	campaign.CreatedAt = time.Now()
	stored := *campaign
	m.campaigns[campaign.ID] = &stored
	m.mu.Unlock()

	for _, msg := range messages {
		msg.CampaignID = campaign.ID
		m.messages.add(msg)
	}
	return nil
}

func (m *mockCampaignRepository) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("campaign not found")
	}
	cp := *c
	return &cp, nil
}

func (m *mockCampaignRepository) GetWithStats(ctx context.Context, id int64) (*models.CampaignWithStats, error) {
	c, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.CampaignWithStats{Campaign: *c, Stats: m.messages.stats(id)}, nil
}

func (m *mockCampaignRepository) List(ctx context.Context, filter models.CampaignFilter) ([]*models.Campaign, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.campaigns))
	for id := range m.campaigns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	filtered := []*models.Campaign{}
	for _, id := range ids {
		c := m.campaigns[id]
		if filter.UserID > 0 && c.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		filtered = append(filtered, c)
	}

	totalCount := int64(len(filtered))

	models.NormalizePage(&filter.Page, &filter.PageSize)
	offset := models.CalculateOffset(filter.Page, filter.PageSize)

	start := offset
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + filter.PageSize
	if end > len(filtered) {
		end = len(filtered)
	}

	return filtered[start:end], totalCount, nil
}

func (m *mockCampaignRepository) UpdateStatus(ctx context.Context, id int64, from, to string, u models.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return models.ErrNotFoundWithMsg("campaign not found")
	}
	if !models.CanTransition(from, to) || c.Status != from {
		return models.ErrConflictWithMsg("campaign status changed")
	}
	c.Status = to
	if u.StartedAt != nil {
		c.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		c.CompletedAt = u.CompletedAt
	}
	if u.PausedAt != nil {
		c.PausedAt = u.PausedAt
	}
	if u.PauseReason != nil {
		c.PauseReason = u.PauseReason
	}
	if u.FailureReason != nil {
		c.FailureReason = u.FailureReason
	}
	if u.ClearPause {
		c.PausedAt = nil
		c.PauseReason = nil
	}
	return nil
}

func (m *mockCampaignRepository) SetStartedAt(ctx context.Context, id int64, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[id].StartedAt = &startedAt
	return nil
}

func (m *mockCampaignRepository) SetActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[id].IsActive = active
	return nil
}

func (m *mockCampaignRepository) UpdateActiveHours(ctx context.Context, id int64, respect bool, start, end *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.campaigns[id]
	c.RespectActiveHours = respect
	c.ActiveHoursStart = start
	c.ActiveHoursEnd = end
	return nil
}

func (m *mockCampaignRepository) FindBusyCampaign(ctx context.Context, deviceID, excludeCampaignID int64) (*models.BusyCampaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.campaigns {
		if c.ID == excludeCampaignID || c.Status != models.CampaignStatusRunning {
			continue
		}
		for _, d := range c.AssignedDeviceIDs() {
			if d == deviceID {
				return &models.BusyCampaign{CampaignID: c.ID, CampaignName: c.Name, DeviceID: deviceID}, nil
			}
		}
	}
	return nil, nil
}

func (m *mockCampaignRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*models.Campaign
	for _, c := range m.campaigns {
		if c.Status == models.CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			cp := *c
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (m *mockCampaignRepository) RefreshSentCount(ctx context.Context, id int64) error   { return nil }
func (m *mockCampaignRepository) RefreshFailedCount(ctx context.Context, id int64) error { return nil }

type mockMessageRepository struct {
	mu       sync.Mutex
	messages map[int64]*models.CampaignMessage
	nextID   int64
}

func newMockMessageRepository() *mockMessageRepository {
	return &mockMessageRepository{messages: map[int64]*models.CampaignMessage{}}
}

func (m *mockMessageRepository) add(msg *models.CampaignMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == 0 {
		m.nextID++
		msg.ID = m.nextID
	}
	m.messages[msg.ID] = msg
}

func (m *mockMessageRepository) byCampaign(campaignID int64) []*models.CampaignMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CampaignMessage
	for _, msg := range m.messages {
		if msg.CampaignID == campaignID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *mockMessageRepository) stats(campaignID int64) models.CampaignStats {
	var s models.CampaignStats
	for _, msg := range m.byCampaign(campaignID) {
		s.Total++
		switch msg.Status {
		case models.MessageStatusPending:
			s.Pending++
		case models.MessageStatusSent:
			s.Sent++
		case models.MessageStatusFailed:
			s.Failed++
		case models.MessageStatusBlacklisted:
			s.Blacklisted++
		}
	}
	return s
}

func (m *mockMessageRepository) pending(campaignID int64) []*models.CampaignMessage {
	var out []*models.CampaignMessage
	for _, msg := range m.byCampaign(campaignID) {
		if msg.Status == models.MessageStatusPending {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockMessageRepository) GetByID(ctx context.Context, id int64) (*models.CampaignMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("message not found")
	}
	cp := *msg
	return &cp, nil
}

func (m *mockMessageRepository) List(ctx context.Context, filter models.CampaignMessageFilter) ([]*models.CampaignMessage, int64, error) {
	var out []*models.CampaignMessage
	for _, msg := range m.byCampaign(filter.CampaignID) {
		if filter.Status == "" || msg.Status == filter.Status {
			out = append(out, msg)
		}
	}
	total := int64(len(out))
	offset := models.CalculateOffset(filter.Page, filter.PageSize)
	if offset > len(out) {
		offset = len(out)
	}
	end := offset + filter.PageSize
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (m *mockMessageRepository) ListPending(ctx context.Context, campaignID int64, limit int) ([]*models.CampaignMessage, error) {
	out := m.pending(campaignID)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockMessageRepository) NextPending(ctx context.Context, campaignID int64) (*models.CampaignMessage, error) {
	var next *models.CampaignMessage
	for _, msg := range m.pending(campaignID) {
		if next == nil || msg.ScheduledDelaySeconds < next.ScheduledDelaySeconds {
			next = msg
		}
	}
	return next, nil
}

func (m *mockMessageRepository) CountPending(ctx context.Context, campaignID int64) (int, error) {
	return len(m.pending(campaignID)), nil
}

func (m *mockMessageRepository) ClaimForDispatch(ctx context.Context, id int64, staleAfter time.Duration) (bool, error) {
	return true, nil
}

func (m *mockMessageRepository) MarkSent(ctx context.Context, id int64, sent models.SentMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.messages[id]
	if msg.Status != models.MessageStatusPending {
		return false, nil
	}
	msg.Status = models.MessageStatusSent
	msg.SentAt = &sent.SentAt
	msg.SenderDeviceID = sent.SenderDeviceID
	return true, nil
}

func (m *mockMessageRepository) MarkFailed(ctx context.Context, id int64, reason string, failedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.messages[id]
	if msg.Status != models.MessageStatusPending {
		return false, nil
	}
	msg.Status = models.MessageStatusFailed
	msg.ErrorMessage = &reason
	return true, nil
}

func (m *mockMessageRepository) RebaseOffsets(ctx context.Context, campaignID int64) (int64, error) {
	pending := m.pending(campaignID)
	if len(pending) == 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	min := pending[0].ScheduledDelaySeconds
	for _, msg := range pending {
		if msg.ScheduledDelaySeconds < min {
			min = msg.ScheduledDelaySeconds
		}
	}
	for _, msg := range pending {
		msg.ScheduledDelaySeconds -= min
	}
	return int64(len(pending)), nil
}

func (m *mockMessageRepository) CountSentByDeviceSince(ctx context.Context, deviceIDs []int64, since time.Time) (map[int64]int, error) {
	return map[int64]int{}, nil
}

type mockDeviceRepository struct {
	mu      sync.Mutex
	devices map[int64]*models.Device
}

func newMockDeviceRepository(devices ...*models.Device) *mockDeviceRepository {
	r := &mockDeviceRepository{devices: map[int64]*models.Device{}}
	for _, d := range devices {
		r.devices[d.ID] = d
	}
	return r
}

func (m *mockDeviceRepository) GetByID(ctx context.Context, id int64) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("device not found")
	}
	cp := *d
	return &cp, nil
}

func (m *mockDeviceRepository) GetByIDs(ctx context.Context, ids []int64) ([]*models.Device, error) {
	var out []*models.Device
	for _, id := range ids {
		if d, err := m.GetByID(ctx, id); err == nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockDeviceRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Device
	for _, d := range m.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockDeviceRepository) UpdateStatus(ctx context.Context, id int64, status, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return models.ErrNotFoundWithMsg("device not found")
	}
	d.Status = status
	d.Phone = phone
	return nil
}

type mockBlacklistRepository struct {
	phones map[int64]map[string]bool
}

func newMockBlacklistRepository() *mockBlacklistRepository {
	return &mockBlacklistRepository{phones: map[int64]map[string]bool{}}
}

func (m *mockBlacklistRepository) Add(ctx context.Context, userID int64, phones []string) (int64, error) {
	if m.phones[userID] == nil {
		m.phones[userID] = map[string]bool{}
	}
	var added int64
	for _, p := range phones {
		if !m.phones[userID][p] {
			m.phones[userID][p] = true
			added++
		}
	}
	return added, nil
}

func (m *mockBlacklistRepository) FilterBlacklisted(ctx context.Context, userID int64, phones []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, p := range phones {
		if m.phones[userID][p] {
			out[p] = true
		}
	}
	return out, nil
}

type publishedJob struct {
	URL   string
	Body  []byte
	Delay time.Duration
}

type mockQueue struct {
	mu   sync.Mutex
	jobs []publishedJob
}

func (q *mockQueue) Publish(ctx context.Context, url string, body []byte, delay time.Duration, retries int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, publishedJob{URL: url, Body: body, Delay: delay})
	return "job", nil
}

func (q *mockQueue) Durable() bool                    { return true }
func (q *mockQueue) Close() error                     { return nil }
func (q *mockQueue) Health(ctx context.Context) error { return nil }

func (q *mockQueue) byURL(url string) []publishedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []publishedJob
	for _, j := range q.jobs {
		if j.URL == url {
			out = append(out, j)
		}
	}
	return out
}

type mockLeases struct {
	mu      sync.Mutex
	holders map[int64]int64
}

func newMockLeases() *mockLeases {
	return &mockLeases{holders: map[int64]int64{}}
}

func (l *mockLeases) Acquire(ctx context.Context, deviceIDs []int64, campaignID int64, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range deviceIDs {
		if holder, ok := l.holders[id]; ok && holder != campaignID {
			return &lease.HeldError{DeviceID: id, HolderCampaignID: holder}
		}
	}
	for _, id := range deviceIDs {
		l.holders[id] = campaignID
	}
	return nil
}

func (l *mockLeases) Extend(ctx context.Context, deviceIDs []int64, campaignID int64, ttl time.Duration) error {
	return nil
}

func (l *mockLeases) Release(ctx context.Context, deviceIDs []int64, campaignID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range deviceIDs {
		if l.holders[id] == campaignID {
			delete(l.holders, id)
		}
	}
	return nil
}
