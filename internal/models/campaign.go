package models

import (
	"fmt"
	"time"
)

// Campaign status constants
const (
	CampaignStatusDraft      = "draft"
	CampaignStatusScheduled  = "scheduled"
	CampaignStatusProcessing = "processing"
	CampaignStatusSent       = "sent"
	CampaignStatusCancelled  = "cancelled"
	CampaignStatusFailed     = "failed"
)

// Campaign schedule kind constants
const (
	ScheduleImmediate = "immediate"
	ScheduleScheduled = "scheduled"
	ScheduleRecurring = "recurring"
)

// Campaign is a bulk send definition combining a template, an audience
// filter and a schedule. "sent" means fully dispatched for processing,
// not fully delivered; delivery completion is visible through stats.
type Campaign struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	TemplateID     int64          `json:"template_id"`
	AudienceFilter AudienceFilter `json:"audience_filter"`
	ScheduleKind   string         `json:"schedule_kind"`
	ScheduledFor   *time.Time     `json:"scheduled_for,omitempty"`
	RecurEvery     *int64         `json:"recur_every_seconds,omitempty"`
	Status         string         `json:"status"`
	CreatedBy      int64          `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AudienceFilter holds declarative segmentation criteria. All present
// criteria are conjunctive; absent criteria impose no constraint.
type AudienceFilter struct {
	BranchID       int64      `json:"branch_id,omitempty"`
	Roles          []string   `json:"roles,omitempty"`
	GroupID        int64      `json:"group_id,omitempty"`
	MemberStatus   string     `json:"member_status,omitempty"`
	JoinedAfter    *time.Time `json:"joined_after,omitempty"`
	LastLoginAfter *time.Time `json:"last_login_after,omitempty"`

	// Behavioral criteria
	AttendanceFrequency string `json:"attendance_frequency,omitempty"` // regular | occasional | inactive
	GivingPattern       string `json:"giving_pattern,omitempty"`       // regular_giver | one_time_giver
	EngagementLevel     string `json:"engagement_level,omitempty"`     // high | medium

	// Demographic criteria
	AgeGroups    []string `json:"age_groups,omitempty"` // youth | adults | seniors
	Locations    []string `json:"locations,omitempty"`
	FamilyStatus string   `json:"family_status,omitempty"` // single | married | parents

	// Interaction-history criteria
	MinOpenCount    int `json:"min_open_count,omitempty"`
	MinResponseRate int `json:"min_response_rate,omitempty"` // percentage 0-100
}

// IsEmpty reports whether the filter imposes no constraint at all.
func (f *AudienceFilter) IsEmpty() bool {
	return f.BranchID == 0 && len(f.Roles) == 0 && f.GroupID == 0 &&
		f.MemberStatus == "" && f.JoinedAfter == nil && f.LastLoginAfter == nil &&
		f.AttendanceFrequency == "" && f.GivingPattern == "" && f.EngagementLevel == "" &&
		len(f.AgeGroups) == 0 && len(f.Locations) == 0 && f.FamilyStatus == "" &&
		f.MinOpenCount == 0 && f.MinResponseRate == 0
}

// CampaignFilter holds filtering options for listing campaigns
type CampaignFilter struct {
	Status     string
	TemplateID int64
	Page       int
	PageSize   int
}

// CampaignStats holds per-status message counts for a campaign
type CampaignStats struct {
	Total    int64 `json:"total"`
	Queued   int64 `json:"queued"`
	Sent     int64 `json:"sent"`
	Failed   int64 `json:"failed"`
	OptedOut int64 `json:"opted_out"`
}

// Complete reports whether every generated message reached a terminal
// state or the retry ceiling.
func (s CampaignStats) Complete() bool {
	return s.Queued == 0
}

// CampaignWithStats combines campaign details with statistics
type CampaignWithStats struct {
	Campaign
	Stats CampaignStats `json:"stats"`
}

// IsValidCampaignStatus checks if the campaign status is valid
func IsValidCampaignStatus(status string) bool {
	switch status {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusProcessing,
		CampaignStatusSent, CampaignStatusCancelled, CampaignStatusFailed:
		return true
	default:
		return false
	}
}

// IsValidScheduleKind checks if the schedule kind is valid
func IsValidScheduleKind(kind string) bool {
	switch kind {
	case ScheduleImmediate, ScheduleScheduled, ScheduleRecurring:
		return true
	default:
		return false
	}
}

// CanLaunch reports whether the campaign is in a launchable state.
// Once processing, sent, cancelled or failed, a campaign can never be
// launched again, which keeps the scheduled-campaign sweep idempotent.
func (c *Campaign) CanLaunch() bool {
	return c.Status == CampaignStatusDraft || c.Status == CampaignStatusScheduled
}

// CanCancel reports whether the campaign can still be cancelled.
// Launch is non-reversible once started.
func (c *Campaign) CanCancel() bool {
	return c.Status == CampaignStatusDraft || c.Status == CampaignStatusScheduled
}

// Validate performs validation on campaign data
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return ErrInvalidInput("name is required")
	}
	if c.TemplateID <= 0 {
		return ErrInvalidInput("template_id is required")
	}
	if !IsValidScheduleKind(c.ScheduleKind) {
		return ErrInvalidInput(fmt.Sprintf("invalid schedule kind: %s", c.ScheduleKind))
	}
	if c.ScheduleKind != ScheduleImmediate && c.ScheduledFor == nil {
		return ErrInvalidInput("scheduled_for is required for scheduled and recurring campaigns")
	}
	if c.ScheduleKind == ScheduleRecurring && (c.RecurEvery == nil || *c.RecurEvery <= 0) {
		return ErrInvalidInput("recur_every_seconds must be positive for recurring campaigns")
	}
	if c.Status != "" && !IsValidCampaignStatus(c.Status) {
		return ErrInvalidInput(fmt.Sprintf("invalid status: %s", c.Status))
	}
	return nil
}
