package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/thogmi/comms-backend/internal/delivery"
	"github.com/thogmi/comms-backend/internal/models"
	"github.com/thogmi/comms-backend/internal/preference"
	"github.com/thogmi/comms-backend/internal/queue"
	"github.com/thogmi/comms-backend/internal/repository"
)

// Processor consumes delivery jobs and drives each message through one
// delivery attempt: claim, preference re-check, send, then success or
// retry handling.
type Processor struct {
	messageRepo  repository.MessageRepository
	campaignRepo repository.CampaignRepository
	channelRepo  repository.ChannelRepository
	userRepo     repository.UserRepository
	enforcer     *preference.Enforcer
	router       *delivery.Router
	queueClient  queue.Client
	maxAttempts  int
	baseDelay    time.Duration
	sendTimeout  time.Duration
	logger       *slog.Logger
}

// NewProcessor creates a new delivery processor
func NewProcessor(
	messageRepo repository.MessageRepository,
	campaignRepo repository.CampaignRepository,
	channelRepo repository.ChannelRepository,
	userRepo repository.UserRepository,
	enforcer *preference.Enforcer,
	router *delivery.Router,
	queueClient queue.Client,
	maxAttempts int,
	baseDelay time.Duration,
	sendTimeout time.Duration,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		messageRepo:  messageRepo,
		campaignRepo: campaignRepo,
		channelRepo:  channelRepo,
		userRepo:     userRepo,
		enforcer:     enforcer,
		router:       router,
		queueClient:  queueClient,
		maxAttempts:  maxAttempts,
		baseDelay:    baseDelay,
		sendTimeout:  sendTimeout,
		logger:       logger,
	}
}

// Process handles a single delivery job. Jobs may be delivered more than
// once by the queue; the claim makes duplicates a no-op.
func (p *Processor) Process(ctx context.Context, job *models.DeliveryJob) error {
	message, claimed, err := p.messageRepo.Claim(ctx, job.MessageID)
	if err != nil {
		p.logger.Error("failed to claim message",
			slog.Int64("message_id", job.MessageID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to claim message: %w", err)
	}
	if !claimed {
		// Another worker holds it or it already reached a terminal
		// state. Either way there is nothing to do.
		p.logger.Debug("message not claimable, skipping",
			slog.Int64("message_id", job.MessageID),
			slog.String("status", message.Status),
			slog.Bool("terminal", models.IsTerminalMessageStatus(message.Status)),
		)
		return nil
	}

	// A missing channel or recipient row is permanent; any other read
	// failure is presumed transient and worth another attempt.
	channel, err := p.channelRepo.GetByID(ctx, message.ChannelID)
	if err != nil {
		return p.handleFailure(ctx, message,
			fmt.Errorf("failed to fetch channel: %w", err), !errors.Is(err, models.ErrNotFound))
	}

	user, err := p.userRepo.GetByID(ctx, message.ToUserID)
	if err != nil {
		return p.handleFailure(ctx, message,
			fmt.Errorf("failed to fetch recipient: %w", err), !errors.Is(err, models.ErrNotFound))
	}

	// Preferences may have changed between enqueue and send; the check
	// at the send boundary is the one that counts.
	allowed, err := p.enforcer.CanReceive(ctx, message.ToUserID, channel.Kind)
	if err != nil {
		return p.handleFailure(ctx, message, err, true)
	}
	if !allowed {
		p.logger.Info("recipient opted out since enqueue, cancelling",
			slog.Int64("message_id", message.ID),
			slog.Int64("user_id", message.ToUserID),
		)
		if err := p.messageRepo.MarkCancelled(ctx, message.ID, "user_opt_out"); err != nil {
			return err
		}
		p.reconcileCampaign(ctx, message.CampaignID)
		return nil
	}

	p.logger.Info("delivering message",
		slog.Int64("message_id", message.ID),
		slog.String("channel", channel.Kind),
		slog.Int("attempt", message.AttemptCount+1),
	)

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	result := p.router.Deliver(sendCtx, message, channel, user)
	cancel()

	if result.Status == delivery.StatusSent {
		return p.handleSuccess(ctx, message, result.ProviderRef)
	}
	return p.handleFailure(ctx, message, result.Err, delivery.Retryable(result.Err))
}

// handleSuccess marks the message sent and reconciles the campaign
func (p *Processor) handleSuccess(ctx context.Context, message *models.Message, providerRef string) error {
	if err := p.messageRepo.MarkSent(ctx, message.ID, providerRef, time.Now()); err != nil {
		p.logger.Error("failed to mark message sent",
			slog.Int64("message_id", message.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to mark message sent: %w", err)
	}

	p.logger.Info("message sent",
		slog.Int64("message_id", message.ID),
		slog.String("provider_ref", providerRef),
	)

	p.reconcileCampaign(ctx, message.CampaignID)
	return nil
}

// handleFailure records the attempt and either schedules a retry with
// exponential backoff or marks the message permanently failed.
func (p *Processor) handleFailure(ctx context.Context, message *models.Message, sendErr error, retryable bool) error {
	attempts := message.AttemptCount + 1

	if retryable && attempts < p.maxAttempts {
		if err := p.messageRepo.Requeue(ctx, message.ID, attempts, sendErr.Error()); err != nil {
			p.logger.Error("failed to requeue message",
				slog.Int64("message_id", message.ID),
				slog.String("error", err.Error()),
			)
			return err
		}

		// 1 minute, 2 minutes, 4 minutes...
		delay := p.baseDelay * (1 << (attempts - 1))
		if err := p.queueClient.Publish(ctx, &models.DeliveryJob{MessageID: message.ID}, delay); err != nil {
			p.logger.Error("failed to schedule retry",
				slog.Int64("message_id", message.ID),
				slog.String("error", err.Error()),
			)
			return err
		}

		p.logger.Warn("message send failed, retry scheduled",
			slog.Int64("message_id", message.ID),
			slog.Int("attempt", attempts),
			slog.Duration("delay", delay),
			slog.String("error", sendErr.Error()),
		)
		return nil
	}

	errMsg := sendErr.Error()
	if retryable {
		errMsg = fmt.Sprintf("max attempts exceeded: %s", errMsg)
	}
	if err := p.messageRepo.MarkFailed(ctx, message.ID, attempts, errMsg); err != nil {
		p.logger.Error("failed to mark message failed",
			slog.Int64("message_id", message.ID),
			slog.String("error", err.Error()),
		)
		return err
	}

	p.logger.Error("message permanently failed",
		slog.Int64("message_id", message.ID),
		slog.Int("attempts", attempts),
		slog.String("error", sendErr.Error()),
	)

	p.reconcileCampaign(ctx, message.CampaignID)
	return nil
}

// reconcileCampaign is a best-effort check after each terminal message
// outcome; it only logs completion, since the campaign itself already
// reached "sent" at dispatch time.
func (p *Processor) reconcileCampaign(ctx context.Context, campaignID *int64) {
	if campaignID == nil {
		return
	}

	campaign, err := p.campaignRepo.GetWithStats(ctx, *campaignID)
	if err != nil {
		p.logger.Warn("failed to fetch campaign stats",
			slog.Int64("campaign_id", *campaignID),
			slog.String("error", err.Error()),
		)
		return
	}

	if campaign.Stats.Complete() {
		p.logger.Info("campaign delivery complete",
			slog.Int64("campaign_id", campaign.ID),
			slog.Int64("total", campaign.Stats.Total),
			slog.Int64("sent", campaign.Stats.Sent),
			slog.Int64("failed", campaign.Stats.Failed),
			slog.Int64("opted_out", campaign.Stats.OptedOut),
		)
	}
}
