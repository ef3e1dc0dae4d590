package models

import (
	"fmt"
	"time"
)

// Template kind constants (purpose tags)
const (
	TemplateWelcome  = "welcome"
	TemplateFollowUp = "follow_up"
	TemplateEvent    = "event"
	TemplateGiving   = "giving"
	TemplateWelfare  = "welfare"
	TemplateSystem   = "system"
)

// Template holds a subject and body pattern with {token} placeholders.
// Variables is the distinct token set extracted from subject and body at
// creation time; render re-validates against it.
type Template struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Variables []string  `json:"variables"`
	ChannelID int64     `json:"channel_id"`
	IsActive  bool      `json:"is_active"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TemplateFilter holds filtering options for listing templates
type TemplateFilter struct {
	Kind      string
	ChannelID int64
	Page      int
	PageSize  int
}

// IsValidTemplateKind checks if the template kind is valid
func IsValidTemplateKind(kind string) bool {
	switch kind {
	case TemplateWelcome, TemplateFollowUp, TemplateEvent, TemplateGiving, TemplateWelfare, TemplateSystem:
		return true
	default:
		return false
	}
}

// Validate performs validation on template data
func (t *Template) Validate() error {
	if t.Name == "" {
		return ErrInvalidInput("name is required")
	}
	if !IsValidTemplateKind(t.Kind) {
		return ErrInvalidInput(fmt.Sprintf("invalid template kind: %s", t.Kind))
	}
	if t.Body == "" {
		return ErrInvalidInput("body is required")
	}
	if t.ChannelID <= 0 {
		return ErrInvalidInput("channel_id is required")
	}
	return nil
}
