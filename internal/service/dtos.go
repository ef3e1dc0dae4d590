package service

import (
	"encoding/json"
	"time"

	"github.com/thogmi/comms-backend/internal/models"
)

// CreateTemplateRequest is the request body for creating a template
type CreateTemplateRequest struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	ChannelID int64  `json:"channel_id"`
	CreatedBy int64  `json:"created_by"`
}

// PreviewTemplateRequest renders a template against sample variables
type PreviewTemplateRequest struct {
	Variables map[string]string `json:"variables"`
}

// PreviewTemplateResult is a rendered template preview
type PreviewTemplateResult struct {
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Text      string            `json:"text,omitempty"`
	Variables map[string]string `json:"variables_used"`
}

// CreateChannelRequest is the request body for registering a channel
type CreateChannelRequest struct {
	Name   string          `json:"name"`
	Kind   string          `json:"kind"`
	Config json.RawMessage `json:"config,omitempty"`
}

// CreateCampaignRequest is the request body for creating a campaign
type CreateCampaignRequest struct {
	Name           string                `json:"name"`
	Description    string                `json:"description"`
	TemplateID     int64                 `json:"template_id"`
	AudienceFilter models.AudienceFilter `json:"audience_filter"`
	ScheduleKind   string                `json:"schedule_kind"`
	ScheduledFor   *time.Time            `json:"scheduled_for,omitempty"`
	RecurEvery     *int64                `json:"recur_every_seconds,omitempty"`
	CreatedBy      int64                 `json:"created_by"`
}

// LaunchResult summarizes one campaign launch
type LaunchResult struct {
	CampaignID int64 `json:"campaign_id"`
	Queued     int64 `json:"queued"`
	OptedOut   int64 `json:"opted_out"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
}

// BulkSendRequest sends one template outside any campaign, to the
// audience a filter selects, an explicit recipient list, or both.
type BulkSendRequest struct {
	TemplateID     int64                  `json:"template_id"`
	AudienceFilter *models.AudienceFilter `json:"audience_filter,omitempty"`
	ToUserIDs      []int64                `json:"to_user_ids,omitempty"`
	Variables      map[string]string      `json:"variables,omitempty"`
	FromUserID     int64                  `json:"from_user_id"`
}

// Validate performs validation on the bulk send request
func (r *BulkSendRequest) Validate() error {
	if r.TemplateID <= 0 {
		return models.ErrInvalidInput("template_id is required")
	}
	if r.AudienceFilter == nil && len(r.ToUserIDs) == 0 {
		return models.ErrInvalidInput("audience_filter or to_user_ids is required")
	}
	if len(r.ToUserIDs) > 1000 {
		return models.ErrInvalidInput("to_user_ids must not exceed 1000 recipients")
	}
	return nil
}

// BulkSendResult summarizes an ad hoc bulk send
type BulkSendResult struct {
	Queued   int64             `json:"queued"`
	OptedOut int64             `json:"opted_out"`
	Failed   []BulkSendFailure `json:"failed,omitempty"`
	Messages []*models.Message `json:"messages,omitempty"`
}

// BulkSendFailure records a per-recipient failure in a bulk send
type BulkSendFailure struct {
	UserID int64  `json:"user_id"`
	Reason string `json:"reason"`
}

// SegmentPreviewResult is the dry-run view of an audience filter
type SegmentPreviewResult struct {
	Count  int64           `json:"count"`
	Sample []SegmentSample `json:"sample"`
}

// SegmentSample is one representative member of a previewed segment
type SegmentSample struct {
	UserID   int64  `json:"user_id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// PerformanceResult is the engagement and delivery summary for a campaign
type PerformanceResult struct {
	CampaignID   int64                `json:"campaign_id"`
	Status       string               `json:"status"`
	Stats        models.CampaignStats `json:"stats"`
	DeliveryRate float64              `json:"delivery_rate"`
	FailureRate  float64              `json:"failure_rate"`
}

// CampaignListResult wraps a campaign page with pagination metadata
type CampaignListResult struct {
	Data       []*models.Campaign       `json:"data"`
	Pagination models.PaginationResult `json:"pagination"`
}

// TemplateListResult wraps a template page with pagination metadata
type TemplateListResult struct {
	Data       []*models.Template       `json:"data"`
	Pagination models.PaginationResult `json:"pagination"`
}

// MessageListResult wraps a message page with pagination metadata
type MessageListResult struct {
	Data       []*models.Message        `json:"data"`
	Pagination models.PaginationResult `json:"pagination"`
}
