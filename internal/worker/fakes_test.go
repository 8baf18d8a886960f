package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/lease"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fixedRand always returns the same index, clamped to n
type fixedRand struct{ v int }

func (r fixedRand) Intn(n int) int {
	if r.v >= n {
		return n - 1
	}
	return r.v
}

type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[int64]*models.Campaign
}

func newFakeCampaignRepo(campaigns ...*models.Campaign) *fakeCampaignRepo {
	r := &fakeCampaignRepo{campaigns: map[int64]*models.Campaign{}}
	for _, c := range campaigns {
		r.campaigns[c.ID] = c
	}
	return r
}

func (r *fakeCampaignRepo) get(id int64) *models.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *r.campaigns[id]
	return &c
}

func (r *fakeCampaignRepo) CreateWithMessages(ctx context.Context, c *models.Campaign, _ []*models.CampaignMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
	return nil
}

func (r *fakeCampaignRepo) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("campaign not found")
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCampaignRepo) GetWithStats(ctx context.Context, id int64) (*models.CampaignWithStats, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.CampaignWithStats{Campaign: *c}, nil
}

func (r *fakeCampaignRepo) List(ctx context.Context, filter models.CampaignFilter) ([]*models.Campaign, int64, error) {
	return nil, 0, nil
}

func (r *fakeCampaignRepo) UpdateStatus(ctx context.Context, id int64, from, to string, u models.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
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

func (r *fakeCampaignRepo) SetStartedAt(ctx context.Context, id int64, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[id].StartedAt = &startedAt
	return nil
}

func (r *fakeCampaignRepo) SetActive(ctx context.Context, id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[id].IsActive = active
	return nil
}

func (r *fakeCampaignRepo) UpdateActiveHours(ctx context.Context, id int64, respect bool, start, end *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.campaigns[id]
	c.RespectActiveHours = respect
	c.ActiveHoursStart = start
	c.ActiveHoursEnd = end
	return nil
}

func (r *fakeCampaignRepo) FindBusyCampaign(ctx context.Context, deviceID, excludeCampaignID int64) (*models.BusyCampaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.campaigns))
	for id := range r.campaigns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		c := r.campaigns[id]
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

func (r *fakeCampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	return nil, nil
}

func (r *fakeCampaignRepo) RefreshSentCount(ctx context.Context, id int64) error { return nil }

func (r *fakeCampaignRepo) RefreshFailedCount(ctx context.Context, id int64) error { return nil }

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[int64]*models.CampaignMessage
	claimed  map[int64]bool
}

func newFakeMessageRepo(messages ...*models.CampaignMessage) *fakeMessageRepo {
	r := &fakeMessageRepo{messages: map[int64]*models.CampaignMessage{}, claimed: map[int64]bool{}}
	for _, m := range messages {
		if m.Status == "" {
			m.Status = models.MessageStatusPending
		}
		r.messages[m.ID] = m
	}
	return r
}

func (r *fakeMessageRepo) get(id int64) *models.CampaignMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := *r.messages[id]
	return &m
}

func (r *fakeMessageRepo) pending(campaignID int64) []*models.CampaignMessage {
	var out []*models.CampaignMessage
	for _, m := range r.messages {
		if m.CampaignID == campaignID && m.Status == models.MessageStatusPending {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeMessageRepo) GetByID(ctx context.Context, id int64) (*models.CampaignMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("message not found")
	}
	cp := *m
	return &cp, nil
}

func (r *fakeMessageRepo) List(ctx context.Context, filter models.CampaignMessageFilter) ([]*models.CampaignMessage, int64, error) {
	return nil, 0, nil
}

func (r *fakeMessageRepo) ListPending(ctx context.Context, campaignID int64, limit int) ([]*models.CampaignMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending(campaignID)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeMessageRepo) NextPending(ctx context.Context, campaignID int64) (*models.CampaignMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var next *models.CampaignMessage
	for _, m := range r.pending(campaignID) {
		if next == nil || m.ScheduledDelaySeconds < next.ScheduledDelaySeconds {
			next = m
		}
	}
	return next, nil
}

func (r *fakeMessageRepo) CountPending(ctx context.Context, campaignID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending(campaignID)), nil
}

func (r *fakeMessageRepo) ClaimForDispatch(ctx context.Context, id int64, staleAfter time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed[id] || r.messages[id].Status != models.MessageStatusPending {
		return false, nil
	}
	r.claimed[id] = true
	return true, nil
}

func (r *fakeMessageRepo) MarkSent(ctx context.Context, id int64, sent models.SentMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.messages[id]
	if m.Status != models.MessageStatusPending {
		return false, nil
	}
	m.Status = models.MessageStatusSent
	m.Content = sent.Content
	m.SenderDeviceID = sent.SenderDeviceID
	m.SenderPhone = &sent.SenderPhone
	m.SentAt = &sent.SentAt
	return true, nil
}

func (r *fakeMessageRepo) MarkFailed(ctx context.Context, id int64, reason string, failedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.messages[id]
	if m.Status != models.MessageStatusPending {
		return false, nil
	}
	m.Status = models.MessageStatusFailed
	m.ErrorMessage = &reason
	m.FailedAt = &failedAt
	return true, nil
}

func (r *fakeMessageRepo) RebaseOffsets(ctx context.Context, campaignID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.pending(campaignID)
	if len(pending) == 0 {
		return 0, nil
	}
	min := pending[0].ScheduledDelaySeconds
	for _, m := range pending {
		if m.ScheduledDelaySeconds < min {
			min = m.ScheduledDelaySeconds
		}
	}
	for _, m := range pending {
		m.ScheduledDelaySeconds -= min
	}
	return int64(len(pending)), nil
}

func (r *fakeMessageRepo) CountSentByDeviceSince(ctx context.Context, deviceIDs []int64, since time.Time) (map[int64]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := map[int64]bool{}
	for _, id := range deviceIDs {
		wanted[id] = true
	}
	counts := map[int64]int{}
	for _, m := range r.messages {
		if m.Status != models.MessageStatusSent || m.SenderDeviceID == nil || m.SentAt == nil {
			continue
		}
		if wanted[*m.SenderDeviceID] && !m.SentAt.Before(since) {
			counts[*m.SenderDeviceID]++
		}
	}
	return counts, nil
}

type fakeDeviceRepo struct {
	devices map[int64]*models.Device
}

func newFakeDeviceRepo(devices ...*models.Device) *fakeDeviceRepo {
	r := &fakeDeviceRepo{devices: map[int64]*models.Device{}}
	for _, d := range devices {
		r.devices[d.ID] = d
	}
	return r
}

func (r *fakeDeviceRepo) GetByID(ctx context.Context, id int64) (*models.Device, error) {
	d, ok := r.devices[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("device not found")
	}
	return d, nil
}

func (r *fakeDeviceRepo) GetByIDs(ctx context.Context, ids []int64) ([]*models.Device, error) {
	var out []*models.Device
	for _, id := range ids {
		if d, ok := r.devices[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeDeviceRepo) ListByUser(ctx context.Context, userID int64) ([]*models.Device, error) {
	var out []*models.Device
	for _, d := range r.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeDeviceRepo) UpdateStatus(ctx context.Context, id int64, status, phone string) error {
	r.devices[id].Status = status
	return nil
}

type published struct {
	URL   string
	Body  []byte
	Delay time.Duration
}

type fakeQueue struct {
	mu      sync.Mutex
	durable bool
	jobs    []published
}

func (q *fakeQueue) Publish(ctx context.Context, url string, body []byte, delay time.Duration, retries int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, published{URL: url, Body: body, Delay: delay})
	return "job", nil
}

func (q *fakeQueue) Durable() bool                    { return q.durable }
func (q *fakeQueue) Close() error                     { return nil }
func (q *fakeQueue) Health(ctx context.Context) error { return nil }

func (q *fakeQueue) byURL(url string) []published {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []published
	for _, j := range q.jobs {
		if j.URL == url {
			out = append(out, j)
		}
	}
	return out
}

func (q *fakeQueue) batchJobs() []models.BatchJob {
	var out []models.BatchJob
	for _, p := range q.byURL(testCallbacks.BatchURL) {
		var job models.BatchJob
		_ = json.Unmarshal(p.Body, &job)
		out = append(out, job)
	}
	return out
}

func (q *fakeQueue) messageJobs() []models.MessageJob {
	var out []models.MessageJob
	for _, p := range q.byURL(testCallbacks.MessageURL) {
		var job models.MessageJob
		_ = json.Unmarshal(p.Body, &job)
		out = append(out, job)
	}
	return out
}

var testCallbacks = Callbacks{
	BatchURL:   "http://dispatcher/internal/queue/process-batch",
	MessageURL: "http://dispatcher/internal/queue/send-message",
}

type fakeLeases struct {
	mu       sync.Mutex
	holders  map[int64]int64
	extended int
	lastTTL  time.Duration
}

func newFakeLeases() *fakeLeases {
	return &fakeLeases{holders: map[int64]int64{}}
}

func (l *fakeLeases) Acquire(ctx context.Context, deviceIDs []int64, campaignID int64, ttl time.Duration) error {
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

func (l *fakeLeases) Extend(ctx context.Context, deviceIDs []int64, campaignID int64, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extended++
	l.lastTTL = ttl
	var lost error
	for _, id := range deviceIDs {
		holder, ok := l.holders[id]
		if !ok {
			l.holders[id] = campaignID
			continue
		}
		if holder != campaignID && lost == nil {
			lost = &lease.HeldError{DeviceID: id, HolderCampaignID: holder}
		}
	}
	return lost
}

func (l *fakeLeases) Release(ctx context.Context, deviceIDs []int64, campaignID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range deviceIDs {
		if l.holders[id] == campaignID {
			delete(l.holders, id)
		}
	}
	return nil
}

type sendCall struct {
	DeviceID int64
	Phone    string
	Out      Outgoing
}

type fakeSender struct {
	mu    sync.Mutex
	err   error
	calls []sendCall
}

func (s *fakeSender) Send(ctx context.Context, device *models.Device, phone string, out Outgoing) (*SendOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sendCall{DeviceID: device.ID, Phone: phone, Out: out})
	if s.err != nil {
		return nil, s.err
	}
	return &SendOutcome{ProviderMessageID: "wamid-1", PartsSent: []string{"text"}}, nil
}

// plainRenderer substitutes {key} and leaves spintax alone
type plainRenderer struct{}

func (plainRenderer) Render(template string, vars map[string]string) string {
	for k, v := range vars {
		template = strings.ReplaceAll(template, "{"+k+"}", v)
	}
	return template
}

func (plainRenderer) Spin(text string) string { return text }

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func timePtr(t time.Time) *time.Time { return &t }
