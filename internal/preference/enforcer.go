// Package preference decides whether a user may receive a message on a
// channel. A global opt-out suppresses every channel unconditionally;
// otherwise an explicit per-channel record governs, and absence of a
// record defaults to eligible.
package preference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/thogmi/comms-backend/internal/models"
	"github.com/thogmi/comms-backend/internal/repository"
)

// Enforcer answers eligibility questions and manages preference records.
type Enforcer struct {
	prefs  repository.PreferenceRepository
	logger *slog.Logger
}

// NewEnforcer creates a preference enforcer
func NewEnforcer(prefs repository.PreferenceRepository, logger *slog.Logger) *Enforcer {
	return &Enforcer{prefs: prefs, logger: logger}
}

// CanReceive reports whether the user is eligible for the channel kind.
func (e *Enforcer) CanReceive(ctx context.Context, userID int64, channelKind string) (bool, error) {
	if !models.IsValidChannelKind(channelKind) {
		return false, models.ErrInvalidInput("invalid channel kind: " + channelKind)
	}

	optOut, err := e.prefs.GetGlobalOptOut(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check global opt-out: %w", err)
	}
	if optOut {
		return false, nil
	}

	pref, err := e.prefs.Get(ctx, userID, channelKind)
	if errors.Is(err, models.ErrNotFound) {
		return true, nil // no record means default allowed
	}
	if err != nil {
		return false, fmt.Errorf("failed to check channel preference: %w", err)
	}
	return pref.IsEnabled, nil
}

// Preferences returns the full preference view for a user, with every
// channel kind present (explicit record or the default).
func (e *Enforcer) Preferences(ctx context.Context, userID int64) (*models.PreferenceSet, error) {
	optOut, err := e.prefs.GetGlobalOptOut(ctx, userID)
	if err != nil {
		return nil, err
	}

	explicit, err := e.prefs.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	byKind := map[string]*models.ChannelPreference{}
	for _, p := range explicit {
		byKind[p.ChannelKind] = p
	}

	set := &models.PreferenceSet{
		UserID:       userID,
		GlobalOptOut: optOut,
		Channels:     map[string]models.ChannelPreference{},
	}
	for _, kind := range []string{models.ChannelEmail, models.ChannelSMS, models.ChannelChat, models.ChannelPush, models.ChannelInApp} {
		if p, ok := byKind[kind]; ok {
			set.Channels[kind] = *p
		} else {
			set.Channels[kind] = models.ChannelPreference{
				UserID:      userID,
				ChannelKind: kind,
				IsEnabled:   true,
			}
		}
	}
	return set, nil
}

// Update applies a preference update for a user. Channels missing from
// the update are left untouched.
func (e *Enforcer) Update(ctx context.Context, userID int64, update models.PreferenceUpdate) (*models.PreferenceSet, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	for kind, enabled := range update.Channels {
		if err := e.prefs.Upsert(ctx, userID, kind, enabled); err != nil {
			return nil, err
		}
	}
	if update.GlobalOptOut != nil {
		if err := e.prefs.SetGlobalOptOut(ctx, userID, *update.GlobalOptOut); err != nil {
			return nil, err
		}
	}

	e.logger.Info("preferences updated",
		slog.Int64("user_id", userID),
		slog.Int("channels", len(update.Channels)),
	)

	return e.Preferences(ctx, userID)
}
