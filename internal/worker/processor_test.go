package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/thogmi/comms-backend/internal/delivery"
	"github.com/thogmi/comms-backend/internal/models"
	"github.com/thogmi/comms-backend/internal/preference"
	"github.com/thogmi/comms-backend/internal/queue"
)

// Mock repositories for testing

type mockMessageRepo struct {
	messages     map[int64]*models.Message
	staleSending []int64
	stuckQueued  []int64
}

func (m *mockMessageRepo) Claim(ctx context.Context, id int64) (*models.Message, bool, error) {
	msg, ok := m.messages[id]
	if !ok {
		return nil, false, models.ErrNotFoundWithMsg("message not found")
	}
	if msg.Status != models.MessageStatusQueued {
		return msg, false, nil
	}
	msg.Status = models.MessageStatusSending
	return msg, true, nil
}

func (m *mockMessageRepo) MarkSent(ctx context.Context, id int64, providerRef string, at time.Time) error {
	msg := m.messages[id]
	msg.Status = models.MessageStatusSent
	msg.ProviderRef = &providerRef
	msg.SentAt = &at
	return nil
}

func (m *mockMessageRepo) MarkFailed(ctx context.Context, id int64, attemptCount int, lastError string) error {
	msg := m.messages[id]
	msg.Status = models.MessageStatusFailed
	msg.AttemptCount = attemptCount
	msg.LastError = &lastError
	return nil
}

func (m *mockMessageRepo) MarkCancelled(ctx context.Context, id int64, reason string) error {
	msg := m.messages[id]
	msg.Status = models.MessageStatusCancelled
	msg.LastError = &reason
	return nil
}

func (m *mockMessageRepo) Requeue(ctx context.Context, id int64, attemptCount int, lastError string) error {
	msg := m.messages[id]
	msg.Status = models.MessageStatusQueued
	msg.AttemptCount = attemptCount
	msg.LastError = &lastError
	return nil
}

func (m *mockMessageRepo) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	msg, ok := m.messages[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("message not found")
	}
	return msg, nil
}

// Unused methods for interface compliance
func (m *mockMessageRepo) Create(ctx context.Context, message *models.Message) error { return nil }
func (m *mockMessageRepo) CreateBatch(ctx context.Context, messages []*models.Message) error {
	return nil
}
func (m *mockMessageRepo) List(ctx context.Context, filter models.MessageFilter) ([]*models.Message, int64, error) {
	return nil, 0, nil
}
func (m *mockMessageRepo) ListStuckQueued(ctx context.Context, olderThan time.Time, limit int) ([]int64, error) {
	return m.stuckQueued, nil
}
func (m *mockMessageRepo) ResetStaleSending(ctx context.Context, olderThan time.Time, limit int) ([]int64, error) {
	for _, id := range m.staleSending {
		if msg, ok := m.messages[id]; ok && msg.Status == models.MessageStatusSending {
			msg.Status = models.MessageStatusQueued
		}
	}
	return m.staleSending, nil
}
func (m *mockMessageRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type mockCampaignRepo struct {
	stats map[int64]*models.CampaignWithStats
}

func (m *mockCampaignRepo) GetWithStats(ctx context.Context, id int64) (*models.CampaignWithStats, error) {
	c, ok := m.stats[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("campaign not found")
	}
	return c, nil
}

// Unused methods for interface compliance
func (m *mockCampaignRepo) Create(ctx context.Context, campaign *models.Campaign) error { return nil }
func (m *mockCampaignRepo) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	return nil, models.ErrNotFoundWithMsg("campaign not found")
}
func (m *mockCampaignRepo) List(ctx context.Context, filter models.CampaignFilter) ([]*models.Campaign, int64, error) {
	return nil, 0, nil
}
func (m *mockCampaignRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	return nil
}
func (m *mockCampaignRepo) TransitionStatus(ctx context.Context, id int64, status string, from ...string) (bool, error) {
	return false, nil
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

type mockChannelRepo struct {
	channels map[int64]*models.Channel
	err      error
}

func (m *mockChannelRepo) GetByID(ctx context.Context, id int64) (*models.Channel, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.channels[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("channel not found")
	}
	return c, nil
}

// Unused methods for interface compliance
func (m *mockChannelRepo) Create(ctx context.Context, channel *models.Channel) error { return nil }
func (m *mockChannelRepo) GetActiveByKind(ctx context.Context, kind string) (*models.Channel, error) {
	return nil, models.ErrNotFoundWithMsg("channel not found")
}
func (m *mockChannelRepo) List(ctx context.Context, activeOnly bool) ([]*models.Channel, error) {
	return nil, nil
}
func (m *mockChannelRepo) SetActive(ctx context.Context, id int64, active bool) error { return nil }

type mockUserRepo struct {
	users map[int64]*models.User
}

func (m *mockUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFoundWithMsg("user not found")
	}
	return u, nil
}

func (m *mockUserRepo) CountSegment(ctx context.Context, filter models.AudienceFilter) (int64, error) {
	return 0, nil
}
func (m *mockUserRepo) ListSegment(ctx context.Context, filter models.AudienceFilter, afterID int64, limit int) ([]*models.User, error) {
	return nil, nil
}

type mockPreferenceRepo struct {
	globalOptOut map[int64]bool
	prefs        map[string]*models.ChannelPreference
}

func prefKey(userID int64, kind string) string {
	return kind + ":" + strconv.FormatInt(userID, 10)
}

func (m *mockPreferenceRepo) Get(ctx context.Context, userID int64, channelKind string) (*models.ChannelPreference, error) {
	p, ok := m.prefs[prefKey(userID, channelKind)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return p, nil
}

func (m *mockPreferenceRepo) GetGlobalOptOut(ctx context.Context, userID int64) (bool, error) {
	return m.globalOptOut[userID], nil
}

// Unused methods for interface compliance
func (m *mockPreferenceRepo) ListForUser(ctx context.Context, userID int64) ([]*models.ChannelPreference, error) {
	return nil, nil
}
func (m *mockPreferenceRepo) Upsert(ctx context.Context, userID int64, channelKind string, enabled bool) error {
	return nil
}
func (m *mockPreferenceRepo) SetGlobalOptOut(ctx context.Context, userID int64, optOut bool) error {
	return nil
}

type publishedJob struct {
	messageID int64
	delay     time.Duration
}

type mockQueue struct {
	published []publishedJob
}

func (m *mockQueue) Publish(ctx context.Context, job *models.DeliveryJob, delay time.Duration) error {
	m.published = append(m.published, publishedJob{job.MessageID, delay})
	return nil
}
func (m *mockQueue) Consume(ctx context.Context, handler queue.JobHandler, concurrency int) error {
	return nil
}
func (m *mockQueue) Close() error                     { return nil }
func (m *mockQueue) Health(ctx context.Context) error { return nil }

// scriptedAdapter fails a fixed number of times before succeeding
type scriptedAdapter struct {
	failures int
	calls    int
	err      error
}

func (a *scriptedAdapter) Send(ctx context.Context, req *delivery.SendRequest) (string, error) {
	a.calls++
	if a.calls <= a.failures {
		return "", a.err
	}
	return "ref-123", nil
}

type fixture struct {
	processor *Processor
	messages  *mockMessageRepo
	channels  *mockChannelRepo
	users     *mockUserRepo
	queue     *mockQueue
	adapter   *scriptedAdapter
	prefs     *mockPreferenceRepo
}

func newFixture(t *testing.T, adapter *scriptedAdapter) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	campaignID := int64(1)
	messages := &mockMessageRepo{messages: map[int64]*models.Message{
		10: {
			ID:         10,
			CampaignID: &campaignID,
			TemplateID: 1,
			ChannelID:  1,
			ToUserID:   100,
			Subject:    "Hello Jane",
			Body:       "Welcome Jane",
			Status:     models.MessageStatusQueued,
		},
	}}
	campaigns := &mockCampaignRepo{stats: map[int64]*models.CampaignWithStats{
		1: {Campaign: models.Campaign{ID: 1, Status: models.CampaignStatusSent}},
	}}
	channels := &mockChannelRepo{channels: map[int64]*models.Channel{
		1: {ID: 1, Name: "Primary Email", Kind: models.ChannelEmail, IsActive: true},
	}}
	users := &mockUserRepo{users: map[int64]*models.User{
		100: {ID: 100, Email: "jane@example.com", FirstName: "Jane", IsActive: true},
	}}
	prefs := &mockPreferenceRepo{
		globalOptOut: map[int64]bool{},
		prefs:        map[string]*models.ChannelPreference{},
	}
	q := &mockQueue{}

	router, err := delivery.NewRouter(map[string]delivery.Adapter{
		models.ChannelEmail: adapter,
	}, logger)
	if err != nil {
		t.Fatalf("failed to build router: %v", err)
	}

	enforcer := preference.NewEnforcer(prefs, logger)

	processor := NewProcessor(
		messages, campaigns, channels, users,
		enforcer, router, q,
		3, time.Minute, 30*time.Second, logger,
	)

	return &fixture{
		processor: processor,
		messages:  messages,
		channels:  channels,
		users:     users,
		queue:     q,
		adapter:   adapter,
		prefs:     prefs,
	}
}

func TestProcess_Success(t *testing.T) {
	f := newFixture(t, &scriptedAdapter{})

	err := f.processor.Process(context.Background(), &models.DeliveryJob{MessageID: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := f.messages.messages[10]
	if msg.Status != models.MessageStatusSent {
		t.Errorf("expected status sent, got %s", msg.Status)
	}
	if msg.ProviderRef == nil || *msg.ProviderRef != "ref-123" {
		t.Error("expected provider ref to be recorded")
	}
	if len(f.queue.published) != 0 {
		t.Errorf("no retries should be scheduled on success, got %d", len(f.queue.published))
	}
}

func TestProcess_RetriesThenSucceeds(t *testing.T) {
	adapter := &scriptedAdapter{
		failures: 2,
		err:      &delivery.ProviderError{Kind: delivery.ErrProviderUnavailable, Message: "outage"},
	}
	f := newFixture(t, adapter)

	// Each Process call is one attempt; the queue delay between them is
	// simulated by replaying the published job.
	for attempt := 0; attempt < 3; attempt++ {
		if err := f.processor.Process(context.Background(), &models.DeliveryJob{MessageID: 10}); err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", attempt+1, err)
		}
	}

	msg := f.messages.messages[10]
	if msg.Status != models.MessageStatusSent {
		t.Fatalf("expected status sent after retries, got %s", msg.Status)
	}
	if msg.AttemptCount != 2 {
		t.Errorf("expected 2 recorded failed attempts, got %d", msg.AttemptCount)
	}

	// Backoff doubles: 1m then 2m
	if len(f.queue.published) != 2 {
		t.Fatalf("expected 2 retry jobs, got %d", len(f.queue.published))
	}
	if f.queue.published[0].delay != time.Minute {
		t.Errorf("first retry delay: expected 1m, got %v", f.queue.published[0].delay)
	}
	if f.queue.published[1].delay != 2*time.Minute {
		t.Errorf("second retry delay: expected 2m, got %v", f.queue.published[1].delay)
	}
}

func TestProcess_PermanentFailureAfterMaxAttempts(t *testing.T) {
	adapter := &scriptedAdapter{
		failures: 10,
		err:      &delivery.ProviderError{Kind: delivery.ErrProviderUnavailable, Message: "outage"},
	}
	f := newFixture(t, adapter)

	for attempt := 0; attempt < 3; attempt++ {
		if err := f.processor.Process(context.Background(), &models.DeliveryJob{MessageID: 10}); err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", attempt+1, err)
		}
	}

	msg := f.messages.messages[10]
	if msg.Status != models.MessageStatusFailed {
		t.Fatalf("expected status failed, got %s", msg.Status)
	}
	if msg.AttemptCount != 3 {
		t.Errorf("expected 3 attempts, got %d", msg.AttemptCount)
	}
	if len(f.queue.published) != 2 {
		t.Errorf("expected 2 retry jobs before giving up, got %d", len(f.queue.published))
	}
	if msg.LastError == nil {
		t.Fatal("expected last error to be recorded")
	}

	// A duplicate job after the ceiling must be a no-op: the terminal
	// failed message is not claimable, so no fourth provider call and
	// no status change.
	callsBefore := f.adapter.calls
	if err := f.processor.Process(context.Background(), &models.DeliveryJob{MessageID: 10}); err != nil {
		t.Fatalf("duplicate job: unexpected error: %v", err)
	}
	if msg.Status != models.MessageStatusFailed {
		t.Errorf("terminal message must stay failed, status now %s", msg.Status)
	}
	if f.adapter.calls != callsBefore {
		t.Errorf("terminal message must not reach the provider again, got %d extra calls", f.adapter.calls-callsBefore)
	}
}

func TestProcess_TransientChannelFetchErrorRetries(t *testing.T) {
	f := newFixture(t, &scriptedAdapter{})
	f.channels.err = fmt.Errorf("connection reset")

	if err := f.processor.Process(context.Background(), &models.DeliveryJob{MessageID: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := f.messages.messages[10]
	if msg.Status != models.MessageStatusQueued {
		t.Fatalf("transient read failure must requeue, got status %s", msg.Status)
	}
	if len(f.queue.published) != 1 {
		t.Fatalf("expected 1 retry job, got %d", len(f.queue.published))
	}
	if f.adapter.calls != 0 {
		t.Errorf("no provider call should happen without the channel, got %d", f.adapter.calls)
	}
}

func TestProcess_MissingRecipientFailsTerminally(t *testing.T) {
	f := newFixture(t, &scriptedAdapter{})
	delete(f.users.users, 100)

	if err := f.processor.Process(context.Background(), &models.DeliveryJob{MessageID: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := f.messages.messages[10]
	if msg.Status != models.MessageStatusFailed {
		t.Fatalf("missing recipient must fail terminally, got status %s", msg.Status)
	}
	if len(f.queue.published) != 0 {
		t.Errorf("missing recipient must not be retried, got %d retry jobs", len(f.queue.published))
	}
}

func TestProcess_NonRetryableFailsImmediately(t *testing.T) {
	adapter := &scriptedAdapter{
		failures: 10,
		err:      &delivery.ProviderError{Kind: delivery.ErrInvalidAddress, Message: "bad address"},
	}
	f := newFixture(t, adapter)

	if err := f.processor.Process(context.Background(), &models.DeliveryJob{MessageID: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := f.messages.messages[10]
	if msg.Status != models.MessageStatusFailed {
		t.Fatalf("expected status failed, got %s", msg.Status)
	}
	if len(f.queue.published) != 0 {
		t.Errorf("invalid address must not be retried, got %d retry jobs", len(f.queue.published))
	}
}

func TestProcess_OptOutSinceEnqueueCancels(t *testing.T) {
	f := newFixture(t, &scriptedAdapter{})
	f.prefs.globalOptOut[100] = true

	if err := f.processor.Process(context.Background(), &models.DeliveryJob{MessageID: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := f.messages.messages[10]
	if msg.Status != models.MessageStatusCancelled {
		t.Fatalf("expected status cancelled, got %s", msg.Status)
	}
	if msg.LastError == nil || *msg.LastError != "user_opt_out" {
		t.Error("expected opt-out reason to be recorded")
	}
	if f.adapter.calls != 0 {
		t.Errorf("no provider call should happen for an opted-out recipient, got %d", f.adapter.calls)
	}
}

func TestProcess_DuplicateJobIsNoOp(t *testing.T) {
	f := newFixture(t, &scriptedAdapter{})
	f.messages.messages[10].Status = models.MessageStatusSent

	if err := f.processor.Process(context.Background(), &models.DeliveryJob{MessageID: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.adapter.calls != 0 {
		t.Errorf("already-sent message must not be resent, got %d provider calls", f.adapter.calls)
	}
}
