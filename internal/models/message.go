package models

import "time"

// Message status constants. A message only moves forward:
// queued -> sending -> sent -> delivered -> read, or to a terminal
// failed/cancelled. failed -> queued is permitted for retry.
const (
	MessageStatusQueued    = "queued"
	MessageStatusSending   = "sending"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
	MessageStatusCancelled = "cancelled"
)

// Message is one rendered, addressed unit of content bound to exactly one
// recipient and channel. Content is immutable once created; only state
// fields and engagement counters mutate.
type Message struct {
	ID         int64  `json:"id"`
	CampaignID *int64 `json:"campaign_id,omitempty"` // nil for ad hoc sends
	TemplateID int64  `json:"template_id"`
	ChannelID  int64  `json:"channel_id"`
	FromUserID int64  `json:"from_user_id"`
	ToUserID   int64  `json:"to_user_id"`

	Subject       string            `json:"subject"`
	Body          string            `json:"body"`
	VariablesUsed map[string]string `json:"variables_used,omitempty"`

	Status       string     `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	ProviderRef  *string    `json:"provider_ref,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
	QueuedAt     time.Time  `json:"queued_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	ReadAt       *time.Time `json:"read_at,omitempty"`

	OpenCount  int `json:"open_count"`
	ClickCount int `json:"click_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageFilter holds filtering options for listing messages
type MessageFilter struct {
	CampaignID int64
	ToUserID   int64
	Status     string
	Page       int
	PageSize   int
}

// DeliveryJob is the unit placed on the durable queue. The message row is
// the source of truth; the job carries only the id so duplicate delivery
// of a job is harmless.
type DeliveryJob struct {
	MessageID int64 `json:"message_id"`
}

// IsValidMessageStatus checks if the message status is valid
func IsValidMessageStatus(status string) bool {
	switch status {
	case MessageStatusQueued, MessageStatusSending, MessageStatusSent,
		MessageStatusDelivered, MessageStatusRead, MessageStatusFailed, MessageStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminalMessageStatus reports whether no further delivery work applies.
// sent/delivered/read are terminal for the worker even though engagement
// tracking may still advance them.
func IsTerminalMessageStatus(status string) bool {
	switch status {
	case MessageStatusSent, MessageStatusDelivered, MessageStatusRead,
		MessageStatusFailed, MessageStatusCancelled:
		return true
	default:
		return false
	}
}
