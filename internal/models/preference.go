package models

import "time"

// ChannelPreference is one (user, channel kind) opt-in record. Absence of
// a record means the channel defaults to allowed.
type ChannelPreference struct {
	UserID      int64     `json:"user_id"`
	ChannelKind string    `json:"channel_kind"`
	IsEnabled   bool      `json:"is_enabled"`
	OptedAt     time.Time `json:"opted_at"`
}

// PreferenceSet is the full preference view for one user.
type PreferenceSet struct {
	UserID       int64                        `json:"user_id"`
	GlobalOptOut bool                         `json:"global_opt_out"`
	Channels     map[string]ChannelPreference `json:"channels"`
}

// PreferenceUpdate is the write shape for updating a user's preferences.
// Channels missing from the map are left untouched.
type PreferenceUpdate struct {
	GlobalOptOut *bool           `json:"global_opt_out,omitempty"`
	Channels     map[string]bool `json:"channels,omitempty"`
}

// Validate rejects unknown channel kinds before any write happens.
func (p *PreferenceUpdate) Validate() error {
	for kind := range p.Channels {
		if !IsValidChannelKind(kind) {
			return ErrInvalidInput("invalid channel kind: " + kind)
		}
	}
	return nil
}
