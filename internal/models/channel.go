package models

import (
	"encoding/json"
	"time"
)

// Channel kind constants
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelChat  = "chat"
	ChannelPush  = "push"
	ChannelInApp = "in_app"
)

// Channel represents a delivery medium backed by an external provider.
// A channel referenced by sent messages is never deleted; deactivation
// is the is_active flag.
type Channel struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	IsActive  bool            `json:"is_active"`
	Config    json.RawMessage `json:"config,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IsValidChannelKind checks if the channel kind is one of the fixed enumeration
func IsValidChannelKind(kind string) bool {
	switch kind {
	case ChannelEmail, ChannelSMS, ChannelChat, ChannelPush, ChannelInApp:
		return true
	default:
		return false
	}
}

// IsTextOnlyChannel reports whether the kind carries plain text only,
// requiring markup to be stripped from rendered content.
func IsTextOnlyChannel(kind string) bool {
	return kind == ChannelSMS || kind == ChannelChat
}

// Validate performs validation on channel data
func (c *Channel) Validate() error {
	if c.Name == "" {
		return ErrInvalidInput("name is required")
	}
	if !IsValidChannelKind(c.Kind) {
		return ErrInvalidInput("invalid channel kind: " + c.Kind)
	}
	return nil
}
