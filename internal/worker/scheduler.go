package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/thogmi/comms-backend/internal/models"
	"github.com/thogmi/comms-backend/internal/queue"
	"github.com/thogmi/comms-backend/internal/repository"
	"github.com/thogmi/comms-backend/internal/service"
)

const (
	dueCampaignBatch  = 50
	stuckMessageBatch = 200

	// A queued message whose campaign dispatched this long ago with no
	// job pickup is presumed lost and re-enqueued.
	stuckThreshold = 15 * time.Minute

	// A claim normally lives for one send attempt; sending this old
	// means the worker died before recording an outcome.
	abandonedClaimThreshold = 30 * time.Minute
)

// Scheduler runs the periodic background loops: launching due scheduled
// campaigns, re-arming recurring ones, re-enqueueing stuck messages and
// purging expired history.
type Scheduler struct {
	campaignRepo  repository.CampaignRepository
	messageRepo   repository.MessageRepository
	campaigns     service.CampaignService
	queueClient   queue.Client
	sweepInterval time.Duration
	cleanupEvery  time.Duration
	retention     time.Duration
	logger        *slog.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(
	campaignRepo repository.CampaignRepository,
	messageRepo repository.MessageRepository,
	campaigns service.CampaignService,
	queueClient queue.Client,
	sweepInterval time.Duration,
	cleanupEvery time.Duration,
	retentionDays int,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		campaignRepo:  campaignRepo,
		messageRepo:   messageRepo,
		campaigns:     campaigns,
		queueClient:   queueClient,
		sweepInterval: sweepInterval,
		cleanupEvery:  cleanupEvery,
		retention:     time.Duration(retentionDays) * 24 * time.Hour,
		logger:        logger,
	}
}

// Run blocks until ctx is cancelled, executing the sweep and cleanup
// loops on their intervals. One sweep runs immediately at startup so a
// restart never delays overdue campaigns by a full interval.
func (s *Scheduler) Run(ctx context.Context) error {
	sweepTicker := time.NewTicker(s.sweepInterval)
	defer sweepTicker.Stop()
	cleanupTicker := time.NewTicker(s.cleanupEvery)
	defer cleanupTicker.Stop()

	s.logger.Info("scheduler started",
		slog.Duration("sweep_interval", s.sweepInterval),
		slog.Duration("cleanup_interval", s.cleanupEvery),
	)

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-sweepTicker.C:
			s.sweep(ctx)
		case <-cleanupTicker.C:
			s.cleanup(ctx)
		}
	}
}

// sweep launches due campaigns and rescues stuck messages
func (s *Scheduler) sweep(ctx context.Context) {
	s.launchDue(ctx)
	s.rescueStuck(ctx)
}

// launchDue finds scheduled campaigns whose time has elapsed and
// launches them. Launch itself guards against double processing, so a
// sweep overlapping a manual launch is harmless.
func (s *Scheduler) launchDue(ctx context.Context) {
	due, err := s.campaignRepo.ListDueScheduled(ctx, time.Now(), dueCampaignBatch)
	if err != nil {
		s.logger.Error("failed to list due campaigns", slog.String("error", err.Error()))
		return
	}

	for _, campaign := range due {
		result, err := s.campaigns.Launch(ctx, campaign.ID)
		if err != nil {
			// A conflict means someone else launched it first.
			s.logger.Warn("scheduled launch skipped",
				slog.Int64("campaign_id", campaign.ID),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Info("scheduled campaign launched",
				slog.Int64("campaign_id", campaign.ID),
				slog.Int64("queued", result.Queued),
			)
		}

		if campaign.ScheduleKind == models.ScheduleRecurring && campaign.RecurEvery != nil {
			s.rearm(ctx, campaign)
		}
	}
}

// rearm schedules the next occurrence of a recurring campaign. The next
// run is computed from the previous scheduled time, not from now, so
// the cadence never drifts with sweep latency.
func (s *Scheduler) rearm(ctx context.Context, campaign *models.Campaign) {
	interval := time.Duration(*campaign.RecurEvery) * time.Second
	next := campaign.ScheduledFor.Add(interval)
	for !next.After(time.Now()) {
		next = next.Add(interval)
	}

	if err := s.campaignRepo.RearmRecurring(ctx, campaign.ID, next); err != nil {
		s.logger.Error("failed to rearm recurring campaign",
			slog.Int64("campaign_id", campaign.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("recurring campaign rearmed",
		slog.Int64("campaign_id", campaign.ID),
		slog.Time("next_run", next),
	)
}

// rescueStuck re-enqueues messages whose delivery stalled: queued rows
// whose jobs were apparently lost, and sending rows whose claiming
// worker died before recording an outcome. Publishing a duplicate job
// is safe: the worker's claim makes the second delivery a no-op.
func (s *Scheduler) rescueStuck(ctx context.Context) {
	abandoned, err := s.messageRepo.ResetStaleSending(ctx, time.Now().Add(-abandonedClaimThreshold), stuckMessageBatch)
	if err != nil {
		s.logger.Error("failed to reset abandoned claims", slog.String("error", err.Error()))
	} else if n := s.republish(ctx, abandoned); n > 0 {
		s.logger.Info("abandoned claims re-enqueued", slog.Int("count", n))
	}

	ids, err := s.messageRepo.ListStuckQueued(ctx, time.Now().Add(-stuckThreshold), stuckMessageBatch)
	if err != nil {
		s.logger.Error("failed to list stuck messages", slog.String("error", err.Error()))
		return
	}
	if n := s.republish(ctx, ids); n > 0 {
		s.logger.Info("stuck messages re-enqueued", slog.Int("count", n))
	}
}

// republish puts a fresh delivery job on the queue for each id.
func (s *Scheduler) republish(ctx context.Context, ids []int64) int {
	published := 0
	for _, id := range ids {
		if err := s.queueClient.Publish(ctx, &models.DeliveryJob{MessageID: id}, 0); err != nil {
			s.logger.Error("failed to re-enqueue message",
				slog.Int64("message_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		published++
	}
	return published
}

// cleanup purges campaigns and messages past the retention window
func (s *Scheduler) cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)

	messages, err := s.messageRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to purge old messages", slog.String("error", err.Error()))
		return
	}

	campaigns, err := s.campaignRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to purge old campaigns", slog.String("error", err.Error()))
		return
	}

	if messages > 0 || campaigns > 0 {
		s.logger.Info("retention cleanup completed",
			slog.Int64("messages_deleted", messages),
			slog.Int64("campaigns_deleted", campaigns),
			slog.Time("cutoff", cutoff),
		)
	}
}
