package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/thogmi/comms-backend/internal/models"
	"github.com/thogmi/comms-backend/internal/preference"
	"github.com/thogmi/comms-backend/internal/queue"
	"github.com/thogmi/comms-backend/internal/segment"
)

// Mock repositories for testing

type mockCampaignRepo struct {
	campaigns map[int64]*models.Campaign
	nextID    int64
}

func (m *mockCampaignRepo) Create(ctx context.Context, campaign *models.Campaign) error {
	m.nextID++
	campaign.ID = m.nextID
	campaign.CreatedAt = time.Now()
	campaign.UpdatedAt = campaign.CreatedAt
	m.campaigns[campaign.ID] = campaign
	return nil
}

func (m *mockCampaignRepo) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	c, ok := m.campaigns[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("campaign not found")
	}
	return c, nil
}

func (m *mockCampaignRepo) GetWithStats(ctx context.Context, id int64) (*models.CampaignWithStats, error) {
	c, ok := m.campaigns[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("campaign not found")
	}
	return &models.CampaignWithStats{Campaign: *c}, nil
}

func (m *mockCampaignRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	c, ok := m.campaigns[id]
	if !ok {
		return models.ErrNotFoundWithMsg("campaign not found")
	}
	c.Status = status
	return nil
}

func (m *mockCampaignRepo) TransitionStatus(ctx context.Context, id int64, status string, from ...string) (bool, error) {
	c, ok := m.campaigns[id]
	if !ok {
		return false, models.ErrNotFoundWithMsg("campaign not found")
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = status
			return true, nil
		}
	}
	return false, nil
}

func (m *mockCampaignRepo) List(ctx context.Context, filter models.CampaignFilter) ([]*models.Campaign, int64, error) {
	return nil, 0, nil
}
func (m *mockCampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.Campaign, error) {
	return nil, nil
}
func (m *mockCampaignRepo) RearmRecurring(ctx context.Context, id int64, nextRun time.Time) error {
	return nil
}
func (m *mockCampaignRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type mockTemplateRepo struct {
	templates map[int64]*models.Template
}

func (m *mockTemplateRepo) GetByID(ctx context.Context, id int64) (*models.Template, error) {
	t, ok := m.templates[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("template not found")
	}
	return t, nil
}

func (m *mockTemplateRepo) Create(ctx context.Context, tmpl *models.Template) error { return nil }
func (m *mockTemplateRepo) List(ctx context.Context, filter models.TemplateFilter) ([]*models.Template, int64, error) {
	return nil, 0, nil
}
func (m *mockTemplateRepo) SetActive(ctx context.Context, id int64, active bool) error { return nil }

type mockChannelRepo struct {
	channels map[int64]*models.Channel
}

func (m *mockChannelRepo) GetByID(ctx context.Context, id int64) (*models.Channel, error) {
	c, ok := m.channels[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("channel not found")
	}
	return c, nil
}

func (m *mockChannelRepo) Create(ctx context.Context, channel *models.Channel) error { return nil }
func (m *mockChannelRepo) GetActiveByKind(ctx context.Context, kind string) (*models.Channel, error) {
	return nil, models.ErrNotFoundWithMsg("channel not found")
}
func (m *mockChannelRepo) List(ctx context.Context, activeOnly bool) ([]*models.Channel, error) {
	return nil, nil
}
func (m *mockChannelRepo) SetActive(ctx context.Context, id int64, active bool) error { return nil }

// mockMessageRepo simulates the (campaign_id, to_user_id) unique index:
// duplicate pairs come back from CreateBatch with ID zero.
type mockMessageRepo struct {
	messages map[int64]*models.Message
	pairs    map[string]bool
	nextID   int64
}

func (m *mockMessageRepo) pairKey(campaignID *int64, toUserID int64) string {
	if campaignID == nil {
		return ""
	}
	return fmt.Sprintf("%d:%d", *campaignID, toUserID)
}

func (m *mockMessageRepo) Create(ctx context.Context, message *models.Message) error {
	m.nextID++
	message.ID = m.nextID
	message.QueuedAt = time.Now()
	m.messages[message.ID] = message
	return nil
}

func (m *mockMessageRepo) CreateBatch(ctx context.Context, messages []*models.Message) error {
	for _, message := range messages {
		key := m.pairKey(message.CampaignID, message.ToUserID)
		if key != "" && m.pairs[key] {
			message.ID = 0
			continue
		}
		if key != "" {
			m.pairs[key] = true
		}
		m.nextID++
		message.ID = m.nextID
		message.QueuedAt = time.Now()
		m.messages[message.ID] = message
	}
	return nil
}

func (m *mockMessageRepo) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	msg, ok := m.messages[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("message not found")
	}
	return msg, nil
}

func (m *mockMessageRepo) List(ctx context.Context, filter models.MessageFilter) ([]*models.Message, int64, error) {
	var out []*models.Message
	for _, msg := range m.messages {
		if filter.CampaignID > 0 && (msg.CampaignID == nil || *msg.CampaignID != filter.CampaignID) {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (m *mockMessageRepo) Claim(ctx context.Context, id int64) (*models.Message, bool, error) {
	return nil, false, nil
}
func (m *mockMessageRepo) MarkSent(ctx context.Context, id int64, providerRef string, at time.Time) error {
	return nil
}
func (m *mockMessageRepo) MarkFailed(ctx context.Context, id int64, attemptCount int, lastError string) error {
	return nil
}
func (m *mockMessageRepo) MarkCancelled(ctx context.Context, id int64, reason string) error {
	return nil
}
func (m *mockMessageRepo) Requeue(ctx context.Context, id int64, attemptCount int, lastError string) error {
	return nil
}
func (m *mockMessageRepo) ListStuckQueued(ctx context.Context, olderThan time.Time, limit int) ([]int64, error) {
	return nil, nil
}
func (m *mockMessageRepo) ResetStaleSending(ctx context.Context, olderThan time.Time, limit int) ([]int64, error) {
	return nil, nil
}
func (m *mockMessageRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// mockUserRepo evaluates branch and role criteria in memory so the
// segment engine's paging can run against it.
type mockUserRepo struct {
	users []*models.User
}

func (m *mockUserRepo) matches(u *models.User, f models.AudienceFilter) bool {
	if !u.IsActive {
		return false
	}
	if f.BranchID > 0 && u.BranchID != f.BranchID {
		return false
	}
	if len(f.Roles) > 0 {
		any := false
		for _, role := range f.Roles {
			if u.HasRole(role) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	return true
}

func (m *mockUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, models.ErrNotFoundWithMsg("user not found")
}

func (m *mockUserRepo) CountSegment(ctx context.Context, filter models.AudienceFilter) (int64, error) {
	var n int64
	for _, u := range m.users {
		if m.matches(u, filter) {
			n++
		}
	}
	return n, nil
}

func (m *mockUserRepo) ListSegment(ctx context.Context, filter models.AudienceFilter, afterID int64, limit int) ([]*models.User, error) {
	var out []*models.User
	for _, u := range m.users {
		if u.ID > afterID && m.matches(u, filter) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type mockPreferenceRepo struct {
	globalOptOut map[int64]bool
	disabled     map[string]bool
}

func (m *mockPreferenceRepo) Get(ctx context.Context, userID int64, channelKind string) (*models.ChannelPreference, error) {
	key := fmt.Sprintf("%d:%s", userID, channelKind)
	if enabled, ok := m.disabled[key]; ok {
		return &models.ChannelPreference{UserID: userID, ChannelKind: channelKind, IsEnabled: !enabled}, nil
	}
	return nil, models.ErrNotFound
}

func (m *mockPreferenceRepo) GetGlobalOptOut(ctx context.Context, userID int64) (bool, error) {
	return m.globalOptOut[userID], nil
}

func (m *mockPreferenceRepo) ListForUser(ctx context.Context, userID int64) ([]*models.ChannelPreference, error) {
	return nil, nil
}
func (m *mockPreferenceRepo) Upsert(ctx context.Context, userID int64, channelKind string, enabled bool) error {
	return nil
}
func (m *mockPreferenceRepo) SetGlobalOptOut(ctx context.Context, userID int64, optOut bool) error {
	return nil
}

type mockQueue struct {
	published []int64
	delays    []time.Duration
}

func (m *mockQueue) Publish(ctx context.Context, job *models.DeliveryJob, delay time.Duration) error {
	m.published = append(m.published, job.MessageID)
	m.delays = append(m.delays, delay)
	return nil
}
func (m *mockQueue) Consume(ctx context.Context, handler queue.JobHandler, concurrency int) error {
	return nil
}
func (m *mockQueue) Close() error                     { return nil }
func (m *mockQueue) Health(ctx context.Context) error { return nil }

type serviceFixture struct {
	svc       CampaignService
	campaigns *mockCampaignRepo
	messages  *mockMessageRepo
	prefs     *mockPreferenceRepo
	queue     *mockQueue
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	campaigns := &mockCampaignRepo{campaigns: map[int64]*models.Campaign{}}
	templates := &mockTemplateRepo{templates: map[int64]*models.Template{
		1: {
			ID:        1,
			Name:      "Volunteer Welcome",
			Kind:      models.TemplateWelcome,
			Subject:   "Welcome {first_name}",
			Body:      "<p>Hello {first_name}, welcome aboard!</p>",
			Variables: []string{"first_name"},
			ChannelID: 1,
			IsActive:  true,
		},
	}}
	channels := &mockChannelRepo{channels: map[int64]*models.Channel{
		1: {ID: 1, Name: "Primary Email", Kind: models.ChannelEmail, IsActive: true},
	}}
	messages := &mockMessageRepo{messages: map[int64]*models.Message{}, pairs: map[string]bool{}}
	users := &mockUserRepo{users: []*models.User{
		{ID: 1, Email: "a@example.com", FirstName: "Ada", BranchID: 3, Roles: []string{"volunteer"}, IsActive: true},
		{ID: 2, Email: "b@example.com", FirstName: "Ben", BranchID: 3, Roles: []string{"member"}, IsActive: true},
		{ID: 3, Email: "c@example.com", FirstName: "Cleo", BranchID: 3, Roles: []string{"volunteer", "leader"}, IsActive: true},
		{ID: 4, Email: "d@example.com", FirstName: "Dan", BranchID: 5, Roles: []string{"volunteer"}, IsActive: true},
		{ID: 5, Email: "e@example.com", FirstName: "Eve", BranchID: 3, Roles: []string{"volunteer"}, IsActive: true},
	}}
	prefs := &mockPreferenceRepo{globalOptOut: map[int64]bool{}, disabled: map[string]bool{}}
	q := &mockQueue{}

	svc := NewCampaignService(
		campaigns, templates, channels, messages, users,
		segment.NewEngine(users, logger),
		preference.NewEnforcer(prefs, logger),
		q, logger,
	)

	return &serviceFixture{svc: svc, campaigns: campaigns, messages: messages, prefs: prefs, queue: q}
}

func createDraft(t *testing.T, f *serviceFixture, filter models.AudienceFilter) *models.Campaign {
	t.Helper()
	campaign, err := f.svc.Create(context.Background(), &CreateCampaignRequest{
		Name:           "Branch 3 volunteers",
		TemplateID:     1,
		AudienceFilter: filter,
		ScheduleKind:   models.ScheduleImmediate,
		CreatedBy:      99,
	})
	if err != nil {
		t.Fatalf("failed to create campaign: %v", err)
	}
	return campaign
}

func TestLaunch_SegmentedAudience(t *testing.T) {
	f := newServiceFixture(t)
	campaign := createDraft(t, f, models.AudienceFilter{BranchID: 3, Roles: []string{"volunteer"}})

	result, err := f.svc.Launch(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}

	// Users 1, 3 and 5 are branch-3 volunteers
	if result.Queued != 3 {
		t.Errorf("expected 3 queued, got %d", result.Queued)
	}
	if len(f.queue.published) != 3 {
		t.Errorf("expected 3 jobs published, got %d", len(f.queue.published))
	}
	if f.campaigns.campaigns[campaign.ID].Status != models.CampaignStatusSent {
		t.Errorf("campaign should be sent after dispatch, got %s", f.campaigns.campaigns[campaign.ID].Status)
	}

	recipients := map[int64]bool{}
	for _, msg := range f.messages.messages {
		recipients[msg.ToUserID] = true
		if msg.Subject == "" || msg.Body == "" {
			t.Errorf("message %d not rendered", msg.ID)
		}
		if msg.Status != models.MessageStatusQueued {
			t.Errorf("message %d: expected queued, got %s", msg.ID, msg.Status)
		}
	}
	for _, want := range []int64{1, 3, 5} {
		if !recipients[want] {
			t.Errorf("expected a message for user %d", want)
		}
	}
}

func TestLaunch_PersonalizesPerRecipient(t *testing.T) {
	f := newServiceFixture(t)
	campaign := createDraft(t, f, models.AudienceFilter{BranchID: 3, Roles: []string{"volunteer"}})

	if _, err := f.svc.Launch(context.Background(), campaign.ID); err != nil {
		t.Fatalf("launch failed: %v", err)
	}

	subjects := map[string]bool{}
	for _, msg := range f.messages.messages {
		subjects[msg.Subject] = true
	}
	for _, want := range []string{"Welcome Ada", "Welcome Cleo", "Welcome Eve"} {
		if !subjects[want] {
			t.Errorf("expected rendered subject %q", want)
		}
	}
}

func TestLaunch_SkipsOptedOutRecipients(t *testing.T) {
	f := newServiceFixture(t)
	// Cleo opted out globally, Eve disabled email
	f.prefs.globalOptOut[3] = true
	f.prefs.disabled["5:email"] = true

	campaign := createDraft(t, f, models.AudienceFilter{BranchID: 3, Roles: []string{"volunteer"}})

	result, err := f.svc.Launch(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}

	if result.Queued != 1 {
		t.Errorf("expected 1 queued, got %d", result.Queued)
	}
	if result.OptedOut != 2 {
		t.Errorf("expected 2 opted out, got %d", result.OptedOut)
	}

	// Opted-out recipients get cancelled rows, not silence
	cancelled := 0
	for _, msg := range f.messages.messages {
		if msg.Status == models.MessageStatusCancelled {
			cancelled++
			if msg.LastError == nil || *msg.LastError != "user_opt_out" {
				t.Error("cancelled message should carry the opt-out reason")
			}
		}
	}
	if cancelled != 2 {
		t.Errorf("expected 2 cancelled messages, got %d", cancelled)
	}
	if len(f.queue.published) != 1 {
		t.Errorf("only the allowed recipient should be enqueued, got %d jobs", len(f.queue.published))
	}
}

func TestLaunch_SecondLaunchConflicts(t *testing.T) {
	f := newServiceFixture(t)
	campaign := createDraft(t, f, models.AudienceFilter{BranchID: 3})

	if _, err := f.svc.Launch(context.Background(), campaign.ID); err != nil {
		t.Fatalf("first launch failed: %v", err)
	}

	_, err := f.svc.Launch(context.Background(), campaign.ID)
	if err == nil {
		t.Fatal("second launch should conflict")
	}
	if !errors.Is(err, models.ErrConflict) {
		t.Errorf("expected conflict error, got %v", err)
	}
}

func TestLaunch_EmptySegment(t *testing.T) {
	f := newServiceFixture(t)
	campaign := createDraft(t, f, models.AudienceFilter{BranchID: 42})

	result, err := f.svc.Launch(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	if result.Queued != 0 {
		t.Errorf("expected 0 queued, got %d", result.Queued)
	}
	if f.campaigns.campaigns[campaign.ID].Status != models.CampaignStatusSent {
		t.Error("an empty segment still completes the campaign")
	}
}

func TestCancel(t *testing.T) {
	f := newServiceFixture(t)
	campaign := createDraft(t, f, models.AudienceFilter{BranchID: 3})

	cancelled, err := f.svc.Cancel(context.Background(), campaign.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != models.CampaignStatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}

	// Launch after cancel must conflict
	if _, err := f.svc.Launch(context.Background(), campaign.ID); err == nil {
		t.Error("launching a cancelled campaign should conflict")
	}
}

func TestCancel_AfterLaunchConflicts(t *testing.T) {
	f := newServiceFixture(t)
	campaign := createDraft(t, f, models.AudienceFilter{BranchID: 3})

	if _, err := f.svc.Launch(context.Background(), campaign.ID); err != nil {
		t.Fatalf("launch failed: %v", err)
	}

	if _, err := f.svc.Cancel(context.Background(), campaign.ID); err == nil {
		t.Error("cancelling a dispatched campaign should conflict")
	}
}

func TestPreviewSegment(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.PreviewSegment(context.Background(), models.AudienceFilter{
		BranchID: 3,
		Roles:    []string{"volunteer"},
	})
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if result.Count != 3 {
		t.Errorf("expected count 3, got %d", result.Count)
	}
	if len(result.Sample) != 3 {
		t.Errorf("expected 3 sample users, got %d", len(result.Sample))
	}

	// Preview must not create anything
	if len(f.messages.messages) != 0 {
		t.Error("preview must not create messages")
	}
}

func TestBulkSend_DeduplicatesRecipients(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.BulkSend(context.Background(), &BulkSendRequest{
		TemplateID: 1,
		ToUserIDs:  []int64{1, 2, 1, 2, 1},
		FromUserID: 99,
	})
	if err != nil {
		t.Fatalf("bulk send failed: %v", err)
	}
	if result.Queued != 2 {
		t.Errorf("expected 2 queued after dedup, got %d", result.Queued)
	}
	if len(f.messages.messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(f.messages.messages))
	}
}

func TestBulkSend_ReportsUnknownUsers(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.BulkSend(context.Background(), &BulkSendRequest{
		TemplateID: 1,
		ToUserIDs:  []int64{1, 999},
		FromUserID: 99,
	})
	if err != nil {
		t.Fatalf("bulk send failed: %v", err)
	}
	if result.Queued != 1 {
		t.Errorf("expected 1 queued, got %d", result.Queued)
	}
	if len(result.Failed) != 1 || result.Failed[0].UserID != 999 {
		t.Errorf("expected user 999 reported as failed, got %+v", result.Failed)
	}
}

func TestBulkSend_SegmentedAudience(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.BulkSend(context.Background(), &BulkSendRequest{
		TemplateID:     1,
		AudienceFilter: &models.AudienceFilter{BranchID: 3, Roles: []string{"volunteer"}},
		FromUserID:     99,
	})
	if err != nil {
		t.Fatalf("bulk send failed: %v", err)
	}

	// Branch-3 volunteers are Ada, Cleo and Eve.
	if result.Queued != 3 {
		t.Errorf("expected 3 queued from the segment, got %d", result.Queued)
	}
	if len(f.queue.published) != 3 {
		t.Errorf("expected 3 delivery jobs, got %d", len(f.queue.published))
	}
	for _, msg := range result.Messages {
		if msg.CampaignID != nil {
			t.Errorf("ad hoc message %d must not belong to a campaign", msg.ID)
		}
	}
}

func TestBulkSend_FilterAndExplicitListDeduplicate(t *testing.T) {
	f := newServiceFixture(t)

	// The segment already covers users 1, 3 and 5; the explicit list
	// adds Ben (2) and repeats Cleo (3).
	result, err := f.svc.BulkSend(context.Background(), &BulkSendRequest{
		TemplateID:     1,
		AudienceFilter: &models.AudienceFilter{BranchID: 3, Roles: []string{"volunteer"}},
		ToUserIDs:      []int64{2, 3},
		FromUserID:     99,
	})
	if err != nil {
		t.Fatalf("bulk send failed: %v", err)
	}
	if result.Queued != 4 {
		t.Errorf("expected 4 queued (segment plus one new explicit), got %d", result.Queued)
	}
	if len(f.messages.messages) != 4 {
		t.Errorf("expected 4 messages, got %d", len(f.messages.messages))
	}
}

func TestBulkSend_RequiresAudience(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.BulkSend(context.Background(), &BulkSendRequest{
		TemplateID: 1,
		FromUserID: 99,
	})
	if err == nil {
		t.Fatal("expected a validation error without filter or recipient list")
	}
}

func TestBulkSend_VariableOverrides(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.BulkSend(context.Background(), &BulkSendRequest{
		TemplateID: 1,
		ToUserIDs:  []int64{1},
		Variables:  map[string]string{"first_name": "Friend"},
		FromUserID: 99,
	})
	if err != nil {
		t.Fatalf("bulk send failed: %v", err)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(result.Messages))
	}
	if result.Messages[0].Subject != "Welcome Friend" {
		t.Errorf("caller-supplied variables should override directory values, got %q", result.Messages[0].Subject)
	}
}
