package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/thogmi/comms-backend/internal/models"
	"github.com/thogmi/comms-backend/internal/preference"
	"github.com/thogmi/comms-backend/internal/queue"
	"github.com/thogmi/comms-backend/internal/repository"
	"github.com/thogmi/comms-backend/internal/segment"
	"github.com/thogmi/comms-backend/internal/template"
)

const segmentPreviewSampleSize = 10

// CampaignService handles campaign business logic
type CampaignService interface {
	Create(ctx context.Context, req *CreateCampaignRequest) (*models.Campaign, error)
	GetByID(ctx context.Context, id int64) (*models.CampaignWithStats, error)
	List(ctx context.Context, filter models.CampaignFilter) (*CampaignListResult, error)
	// Launch claims the campaign, expands its audience and enqueues one
	// delivery job per eligible recipient. Exactly one caller wins for a
	// given campaign; later callers get a conflict.
	Launch(ctx context.Context, campaignID int64) (*LaunchResult, error)
	Cancel(ctx context.Context, campaignID int64) (*models.Campaign, error)
	Performance(ctx context.Context, campaignID int64) (*PerformanceResult, error)
	Messages(ctx context.Context, campaignID int64, filter models.MessageFilter) (*MessageListResult, error)
	PreviewSegment(ctx context.Context, filter models.AudienceFilter) (*SegmentPreviewResult, error)
	BulkSend(ctx context.Context, req *BulkSendRequest) (*BulkSendResult, error)
}

type campaignService struct {
	campaignRepo repository.CampaignRepository
	templateRepo repository.TemplateRepository
	channelRepo  repository.ChannelRepository
	messageRepo  repository.MessageRepository
	userRepo     repository.UserRepository
	segments     *segment.Engine
	enforcer     *preference.Enforcer
	queueClient  queue.Client
	logger       *slog.Logger
}

// NewCampaignService creates a new campaign service
func NewCampaignService(
	campaignRepo repository.CampaignRepository,
	templateRepo repository.TemplateRepository,
	channelRepo repository.ChannelRepository,
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	segments *segment.Engine,
	enforcer *preference.Enforcer,
	queueClient queue.Client,
	logger *slog.Logger,
) CampaignService {
	return &campaignService{
		campaignRepo: campaignRepo,
		templateRepo: templateRepo,
		channelRepo:  channelRepo,
		messageRepo:  messageRepo,
		userRepo:     userRepo,
		segments:     segments,
		enforcer:     enforcer,
		queueClient:  queueClient,
		logger:       logger,
	}
}

// Create creates a new campaign in draft or scheduled state
func (s *campaignService) Create(ctx context.Context, req *CreateCampaignRequest) (*models.Campaign, error) {
	status := models.CampaignStatusDraft
	if req.ScheduleKind == models.ScheduleScheduled || req.ScheduleKind == models.ScheduleRecurring {
		status = models.CampaignStatusScheduled
	}

	campaign := &models.Campaign{
		Name:           req.Name,
		Description:    req.Description,
		TemplateID:     req.TemplateID,
		AudienceFilter: req.AudienceFilter,
		ScheduleKind:   req.ScheduleKind,
		ScheduledFor:   req.ScheduledFor,
		RecurEvery:     req.RecurEvery,
		Status:         status,
		CreatedBy:      req.CreatedBy,
	}

	if err := campaign.Validate(); err != nil {
		return nil, err
	}
	if campaign.ScheduledFor != nil && campaign.ScheduleKind != models.ScheduleImmediate &&
		campaign.ScheduledFor.Before(time.Now()) {
		return nil, models.ErrInvalidInput("scheduled_for must be in the future")
	}

	// The template must exist and be active at creation; deactivation
	// afterwards surfaces at launch.
	tmpl, err := s.templateRepo.GetByID(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if !tmpl.IsActive {
		return nil, models.ErrInvalidInput("template is inactive")
	}

	if err := s.campaignRepo.Create(ctx, campaign); err != nil {
		s.logger.Error("failed to create campaign",
			slog.String("error", err.Error()),
			slog.String("name", req.Name),
		)
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.logger.Info("campaign created",
		slog.Int64("campaign_id", campaign.ID),
		slog.String("name", campaign.Name),
		slog.String("status", campaign.Status),
		slog.String("schedule", campaign.ScheduleKind),
	)

	return campaign, nil
}

// GetByID retrieves a campaign with statistics
func (s *campaignService) GetByID(ctx context.Context, id int64) (*models.CampaignWithStats, error) {
	return s.campaignRepo.GetWithStats(ctx, id)
}

// List retrieves campaigns with pagination
func (s *campaignService) List(ctx context.Context, filter models.CampaignFilter) (*CampaignListResult, error) {
	models.NormalizePagination(&filter.Page, &filter.PageSize)

	campaigns, totalCount, err := s.campaignRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	return &CampaignListResult{
		Data:       campaigns,
		Pagination: models.NewPaginationResult(filter.Page, filter.PageSize, totalCount),
	}, nil
}

// Launch expands the campaign audience into messages and enqueues them.
// The audience is streamed page by page so launch memory stays bounded
// regardless of segment size; a render failure for one recipient never
// aborts the rest.
func (s *campaignService) Launch(ctx context.Context, campaignID int64) (*LaunchResult, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	// Claim the launch. The status guard is the exclusivity mechanism:
	// a concurrent launch or a sweep re-run loses the transition and
	// stops here.
	claimed, err := s.campaignRepo.TransitionStatus(ctx, campaignID, models.CampaignStatusProcessing,
		models.CampaignStatusDraft, models.CampaignStatusScheduled)
	if err != nil {
		return nil, fmt.Errorf("failed to claim campaign: %w", err)
	}
	if !claimed {
		return nil, models.ErrConflictWithMsg(
			fmt.Sprintf("campaign %d is not launchable in status %s", campaignID, campaign.Status))
	}

	result, err := s.dispatch(ctx, campaign)
	if err != nil {
		if updErr := s.campaignRepo.UpdateStatus(ctx, campaignID, models.CampaignStatusFailed); updErr != nil {
			s.logger.Error("failed to mark campaign failed",
				slog.Int64("campaign_id", campaignID),
				slog.String("error", updErr.Error()),
			)
		}
		return nil, err
	}

	// "sent" means fully dispatched; delivery completion is tracked per
	// message and surfaced through stats.
	if err := s.campaignRepo.UpdateStatus(ctx, campaignID, models.CampaignStatusSent); err != nil {
		return nil, fmt.Errorf("failed to finalize campaign status: %w", err)
	}

	s.logger.Info("campaign launched",
		slog.Int64("campaign_id", campaignID),
		slog.Int64("queued", result.Queued),
		slog.Int64("opted_out", result.OptedOut),
		slog.Int64("failed", result.Failed),
		slog.Int64("skipped", result.Skipped),
	)

	return result, nil
}

// dispatch walks the audience and creates+enqueues messages per page.
func (s *campaignService) dispatch(ctx context.Context, campaign *models.Campaign) (*LaunchResult, error) {
	tmpl, err := s.templateRepo.GetByID(ctx, campaign.TemplateID)
	if err != nil {
		return nil, err
	}
	if !tmpl.IsActive {
		return nil, models.ErrConflictWithMsg("template was deactivated before launch")
	}

	channel, err := s.channelRepo.GetByID(ctx, tmpl.ChannelID)
	if err != nil {
		return nil, err
	}
	if !channel.IsActive {
		return nil, models.ErrConflictWithMsg("channel was deactivated before launch")
	}

	result := &LaunchResult{CampaignID: campaign.ID}
	seen := make(map[int64]struct{})
	textOnly := models.IsTextOnlyChannel(channel.Kind)

	err = s.segments.ForEachPage(ctx, campaign.AudienceFilter, func(users []*models.User) error {
		batch := make([]*models.Message, 0, len(users))

		for _, user := range users {
			// One message per (campaign, recipient) even if the filter
			// matches a user through several pages. The unique index is
			// the backstop; this avoids wasted renders.
			if _, dup := seen[user.ID]; dup {
				result.Skipped++
				continue
			}
			seen[user.ID] = struct{}{}

			msg := &models.Message{
				CampaignID: &campaign.ID,
				TemplateID: tmpl.ID,
				ChannelID:  channel.ID,
				FromUserID: campaign.CreatedBy,
				ToUserID:   user.ID,
			}

			allowed, err := s.enforcer.CanReceive(ctx, user.ID, channel.Kind)
			if err != nil {
				return err
			}
			if !allowed {
				reason := "user_opt_out"
				msg.Status = models.MessageStatusCancelled
				msg.LastError = &reason
				msg.Subject = tmpl.Subject
				msg.Body = tmpl.Body
				batch = append(batch, msg)
				result.OptedOut++
				continue
			}

			rendered, err := template.Render(tmpl, personalizationContext(user, nil), textOnly)
			if err != nil {
				var missing *models.MissingVariableError
				if !errors.As(err, &missing) {
					return err
				}
				// Per-recipient render failure: record and move on.
				reason := missing.Error()
				msg.Status = models.MessageStatusFailed
				msg.LastError = &reason
				msg.Subject = tmpl.Subject
				msg.Body = tmpl.Body
				batch = append(batch, msg)
				result.Failed++
				continue
			}

			msg.Status = models.MessageStatusQueued
			msg.Subject = rendered.Subject
			msg.Body = rendered.Body
			if textOnly {
				msg.Body = rendered.Text
			}
			msg.VariablesUsed = rendered.Used
			batch = append(batch, msg)
		}

		if err := s.messageRepo.CreateBatch(ctx, batch); err != nil {
			return err
		}

		for _, msg := range batch {
			if msg.ID == 0 {
				// Lost to the unique index: another launch path already
				// created this recipient's message.
				result.Skipped++
				continue
			}
			if msg.Status != models.MessageStatusQueued {
				continue
			}
			if err := s.queueClient.Publish(ctx, &models.DeliveryJob{MessageID: msg.ID}, 0); err != nil {
				return fmt.Errorf("failed to enqueue message %d: %w", msg.ID, err)
			}
			result.Queued++
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Cancel stops a campaign before launch. Processing and later states
// cannot be cancelled; dispatch is not reversible.
func (s *campaignService) Cancel(ctx context.Context, campaignID int64) (*models.Campaign, error) {
	cancelled, err := s.campaignRepo.TransitionStatus(ctx, campaignID, models.CampaignStatusCancelled,
		models.CampaignStatusDraft, models.CampaignStatusScheduled)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		campaign, getErr := s.campaignRepo.GetByID(ctx, campaignID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, models.ErrConflictWithMsg(
			fmt.Sprintf("campaign %d cannot be cancelled in status %s", campaignID, campaign.Status))
	}

	s.logger.Info("campaign cancelled", slog.Int64("campaign_id", campaignID))

	return s.campaignRepo.GetByID(ctx, campaignID)
}

// Performance returns delivery and failure rates for a campaign
func (s *campaignService) Performance(ctx context.Context, campaignID int64) (*PerformanceResult, error) {
	campaign, err := s.campaignRepo.GetWithStats(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	result := &PerformanceResult{
		CampaignID: campaign.ID,
		Status:     campaign.Status,
		Stats:      campaign.Stats,
	}

	attempted := campaign.Stats.Total - campaign.Stats.OptedOut
	if attempted > 0 {
		result.DeliveryRate = float64(campaign.Stats.Sent) / float64(attempted) * 100
		result.FailureRate = float64(campaign.Stats.Failed) / float64(attempted) * 100
	}

	return result, nil
}

// Messages lists the messages generated by a campaign
func (s *campaignService) Messages(ctx context.Context, campaignID int64, filter models.MessageFilter) (*MessageListResult, error) {
	if _, err := s.campaignRepo.GetByID(ctx, campaignID); err != nil {
		return nil, err
	}
	if filter.Status != "" && !models.IsValidMessageStatus(filter.Status) {
		return nil, models.ErrInvalidInput("unknown message status: " + filter.Status)
	}

	filter.CampaignID = campaignID
	models.NormalizePagination(&filter.Page, &filter.PageSize)

	messages, totalCount, err := s.messageRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return &MessageListResult{
		Data:       messages,
		Pagination: models.NewPaginationResult(filter.Page, filter.PageSize, totalCount),
	}, nil
}

// PreviewSegment evaluates an audience filter without creating anything:
// a count plus a small sample of matching users.
func (s *campaignService) PreviewSegment(ctx context.Context, filter models.AudienceFilter) (*SegmentPreviewResult, error) {
	count, err := s.segments.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count segment: %w", err)
	}

	users, err := s.userRepo.ListSegment(ctx, filter, 0, segmentPreviewSampleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to sample segment: %w", err)
	}

	result := &SegmentPreviewResult{
		Count:  count,
		Sample: make([]SegmentSample, 0, len(users)),
	}
	for _, user := range users {
		result.Sample = append(result.Sample, SegmentSample{
			UserID:   user.ID,
			FullName: user.FullName(),
			Email:    user.Email,
		})
	}

	return result, nil
}

// BulkSend delivers one template to an explicit recipient list, outside
// any campaign. Recipients are deduplicated; opted-out and unknown users
// are reported, never silently dropped.
func (s *campaignService) BulkSend(ctx context.Context, req *BulkSendRequest) (*BulkSendResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tmpl, err := s.templateRepo.GetByID(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if !tmpl.IsActive {
		return nil, models.ErrInvalidInput("template is inactive")
	}

	channel, err := s.channelRepo.GetByID(ctx, tmpl.ChannelID)
	if err != nil {
		return nil, err
	}
	if !channel.IsActive {
		return nil, models.ErrConflictWithMsg("channel is inactive")
	}

	textOnly := models.IsTextOnlyChannel(channel.Kind)
	result := &BulkSendResult{}
	seen := make(map[int64]struct{}, len(req.ToUserIDs))

	send := func(user *models.User) error {
		if _, dup := seen[user.ID]; dup {
			return nil
		}
		seen[user.ID] = struct{}{}

		allowed, err := s.enforcer.CanReceive(ctx, user.ID, channel.Kind)
		if err != nil {
			return err
		}
		if !allowed {
			result.OptedOut++
			return nil
		}

		rendered, err := template.Render(tmpl, personalizationContext(user, req.Variables), textOnly)
		if err != nil {
			var missing *models.MissingVariableError
			if !errors.As(err, &missing) {
				return err
			}
			result.Failed = append(result.Failed, BulkSendFailure{
				UserID: user.ID,
				Reason: missing.Error(),
			})
			return nil
		}

		msg := &models.Message{
			TemplateID:    tmpl.ID,
			ChannelID:     channel.ID,
			FromUserID:    req.FromUserID,
			ToUserID:      user.ID,
			Subject:       rendered.Subject,
			Body:          rendered.Body,
			VariablesUsed: rendered.Used,
			Status:        models.MessageStatusQueued,
		}
		if textOnly {
			msg.Body = rendered.Text
		}

		if err := s.messageRepo.Create(ctx, msg); err != nil {
			return err
		}
		if err := s.queueClient.Publish(ctx, &models.DeliveryJob{MessageID: msg.ID}, 0); err != nil {
			return fmt.Errorf("failed to enqueue message %d: %w", msg.ID, err)
		}

		result.Queued++
		result.Messages = append(result.Messages, msg)
		return nil
	}

	// Segmented audience first, streamed page by page like a launch.
	if req.AudienceFilter != nil {
		err := s.segments.ForEachPage(ctx, *req.AudienceFilter, func(users []*models.User) error {
			for _, user := range users {
				if err := send(user); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	// Explicit recipients on top; duplicates against the segment are
	// dropped by the seen set.
	for _, userID := range req.ToUserIDs {
		if _, dup := seen[userID]; dup {
			continue
		}
		user, err := s.userRepo.GetByID(ctx, userID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				result.Failed = append(result.Failed, BulkSendFailure{
					UserID: userID,
					Reason: "user not found",
				})
				continue
			}
			return nil, err
		}
		if err := send(user); err != nil {
			return nil, err
		}
	}

	s.logger.Info("bulk send dispatched",
		slog.Int64("template_id", req.TemplateID),
		slog.Int64("queued", result.Queued),
		slog.Int64("opted_out", result.OptedOut),
		slog.Int("failed", len(result.Failed)),
	)

	return result, nil
}

// personalizationContext builds the variable map for one recipient:
// directory attributes first, then caller-supplied overrides.
func personalizationContext(user *models.User, extra map[string]string) map[string]string {
	ctx := map[string]string{
		"first_name":    user.FirstName,
		"last_name":     user.LastName,
		"full_name":     user.FullName(),
		"name":          user.FullName(),
		"email":         user.Email,
		"phone":         user.Phone,
		"member_status": user.MemberStatus,
		"location":      user.Location,
	}
	if user.BranchID > 0 {
		ctx["branch_id"] = strconv.FormatInt(user.BranchID, 10)
	}
	for k, v := range extra {
		ctx[k] = v
	}
	return ctx
}
