package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/thogmi/comms-backend/internal/models"
)

func TestSweep_RescuesAbandonedAndStuckMessages(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	campaignID := int64(1)
	messages := &mockMessageRepo{
		messages: map[int64]*models.Message{
			7: {ID: 7, CampaignID: &campaignID, Status: models.MessageStatusSending},
			8: {ID: 8, CampaignID: &campaignID, Status: models.MessageStatusQueued},
			9: {ID: 9, CampaignID: &campaignID, Status: models.MessageStatusQueued},
		},
		staleSending: []int64{7},
		stuckQueued:  []int64{8, 9},
	}
	campaigns := &mockCampaignRepo{stats: map[int64]*models.CampaignWithStats{}}
	q := &mockQueue{}

	s := NewScheduler(campaigns, messages, nil, q, time.Minute, time.Hour, 365, logger)
	s.sweep(context.Background())

	// The abandoned claim goes back to queued so the republished job is
	// claimable again.
	if got := messages.messages[7].Status; got != models.MessageStatusQueued {
		t.Errorf("abandoned claim must be requeued, got status %s", got)
	}

	if len(q.published) != 3 {
		t.Fatalf("expected 3 rescue jobs, got %d", len(q.published))
	}
	want := map[int64]bool{7: true, 8: true, 9: true}
	for _, job := range q.published {
		if !want[job.messageID] {
			t.Errorf("unexpected rescue job for message %d", job.messageID)
		}
		if job.delay != 0 {
			t.Errorf("rescue jobs must publish immediately, got delay %v", job.delay)
		}
		delete(want, job.messageID)
	}
	for id := range want {
		t.Errorf("message %d was never re-enqueued", id)
	}
}
