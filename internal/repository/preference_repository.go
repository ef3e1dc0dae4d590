package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thogmi/comms-backend/internal/models"
)

// PreferenceRepository defines the interface for communication preference
// data access. Absence of a row means the channel defaults to allowed.
type PreferenceRepository interface {
	Get(ctx context.Context, userID int64, channelKind string) (*models.ChannelPreference, error)
	ListForUser(ctx context.Context, userID int64) ([]*models.ChannelPreference, error)
	Upsert(ctx context.Context, userID int64, channelKind string, enabled bool) error
	SetGlobalOptOut(ctx context.Context, userID int64, optOut bool) error
	GetGlobalOptOut(ctx context.Context, userID int64) (bool, error)
}

// preferenceRepository implements PreferenceRepository using PostgreSQL
type preferenceRepository struct {
	db *sql.DB
}

// NewPreferenceRepository creates a new preference repository
func NewPreferenceRepository(db *sql.DB) PreferenceRepository {
	return &preferenceRepository{db: db}
}

// Get retrieves the preference record for a (user, channel kind) pair.
// Returns models.ErrNotFound when no explicit record exists.
func (r *preferenceRepository) Get(ctx context.Context, userID int64, channelKind string) (*models.ChannelPreference, error) {
	query := `
		SELECT user_id, channel_kind, is_enabled, opted_at
		FROM user_preferences
		WHERE user_id = $1 AND channel_kind = $2`

	pref := &models.ChannelPreference{}
	err := r.db.QueryRowContext(ctx, query, userID, channelKind).Scan(
		&pref.UserID, &pref.ChannelKind, &pref.IsEnabled, &pref.OptedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preference: %w", err)
	}
	return pref, nil
}

// ListForUser retrieves all explicit preference records for a user
func (r *preferenceRepository) ListForUser(ctx context.Context, userID int64) ([]*models.ChannelPreference, error) {
	query := `
		SELECT user_id, channel_kind, is_enabled, opted_at
		FROM user_preferences
		WHERE user_id = $1
		ORDER BY channel_kind`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	defer rows.Close()

	prefs := []*models.ChannelPreference{}
	for rows.Next() {
		pref := &models.ChannelPreference{}
		if err := rows.Scan(&pref.UserID, &pref.ChannelKind, &pref.IsEnabled, &pref.OptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		prefs = append(prefs, pref)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating preferences: %w", err)
	}
	return prefs, nil
}

// Upsert creates or updates a preference record
func (r *preferenceRepository) Upsert(ctx context.Context, userID int64, channelKind string, enabled bool) error {
	query := `
		INSERT INTO user_preferences (user_id, channel_kind, is_enabled, opted_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, channel_kind)
		DO UPDATE SET is_enabled = EXCLUDED.is_enabled, opted_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, userID, channelKind, enabled); err != nil {
		return fmt.Errorf("failed to upsert preference: %w", err)
	}
	return nil
}

// SetGlobalOptOut flips the user's global opt-out flag
func (r *preferenceRepository) SetGlobalOptOut(ctx context.Context, userID int64, optOut bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET global_opt_out = $1 WHERE id = $2`,
		optOut, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set global opt-out: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrNotFoundWithMsg(fmt.Sprintf("user with ID %d not found", userID))
	}
	return nil
}

// GetGlobalOptOut reads the user's global opt-out flag
func (r *preferenceRepository) GetGlobalOptOut(ctx context.Context, userID int64) (bool, error) {
	var optOut bool
	err := r.db.QueryRowContext(ctx,
		`SELECT global_opt_out FROM users WHERE id = $1`, userID,
	).Scan(&optOut)
	if err == sql.ErrNoRows {
		return false, models.ErrNotFoundWithMsg(fmt.Sprintf("user with ID %d not found", userID))
	}
	if err != nil {
		return false, fmt.Errorf("failed to get global opt-out: %w", err)
	}
	return optOut, nil
}
