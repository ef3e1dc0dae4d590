package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/thogmi/comms-backend/internal/models"
)

// ChannelRepository defines the interface for channel data access.
// Channels are never deleted while message history references them;
// deactivation is a soft flag.
type ChannelRepository interface {
	Create(ctx context.Context, channel *models.Channel) error
	GetByID(ctx context.Context, id int64) (*models.Channel, error)
	GetActiveByKind(ctx context.Context, kind string) (*models.Channel, error)
	List(ctx context.Context, activeOnly bool) ([]*models.Channel, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// channelRepository implements ChannelRepository using PostgreSQL
type channelRepository struct {
	db *sql.DB
}

// NewChannelRepository creates a new channel repository
func NewChannelRepository(db *sql.DB) ChannelRepository {
	return &channelRepository{db: db}
}

// Create inserts a new channel
func (r *channelRepository) Create(ctx context.Context, channel *models.Channel) error {
	query := `
		INSERT INTO channels (name, kind, is_active, config)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	config := channel.Config
	if len(config) == 0 {
		config = []byte(`{}`)
	}

	err := r.db.QueryRowContext(ctx, query,
		channel.Name, channel.Kind, channel.IsActive, config,
	).Scan(&channel.ID, &channel.CreatedAt, &channel.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}
	return nil
}

// GetByID retrieves a channel by ID
func (r *channelRepository) GetByID(ctx context.Context, id int64) (*models.Channel, error) {
	query := `
		SELECT id, name, kind, is_active, config, created_at, updated_at
		FROM channels
		WHERE id = $1`

	channel := &models.Channel{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&channel.ID, &channel.Name, &channel.Kind, &channel.IsActive,
		&channel.Config, &channel.CreatedAt, &channel.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("channel with ID %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return channel, nil
}

// GetActiveByKind retrieves the active channel for a kind
func (r *channelRepository) GetActiveByKind(ctx context.Context, kind string) (*models.Channel, error) {
	query := `
		SELECT id, name, kind, is_active, config, created_at, updated_at
		FROM channels
		WHERE kind = $1 AND is_active = TRUE
		ORDER BY id
		LIMIT 1`

	channel := &models.Channel{}
	err := r.db.QueryRowContext(ctx, query, kind).Scan(
		&channel.ID, &channel.Name, &channel.Kind, &channel.IsActive,
		&channel.Config, &channel.CreatedAt, &channel.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("no active channel for kind %s", kind))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel by kind: %w", err)
	}
	return channel, nil
}

// List retrieves channels, optionally active ones only
func (r *channelRepository) List(ctx context.Context, activeOnly bool) ([]*models.Channel, error) {
	query := `
		SELECT id, name, kind, is_active, config, created_at, updated_at
		FROM channels`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	channels := []*models.Channel{}
	for rows.Next() {
		channel := &models.Channel{}
		err := rows.Scan(
			&channel.ID, &channel.Name, &channel.Kind, &channel.IsActive,
			&channel.Config, &channel.CreatedAt, &channel.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, channel)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channels: %w", err)
	}
	return channels, nil
}

// SetActive toggles a channel's active flag
func (r *channelRepository) SetActive(ctx context.Context, id int64, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE channels SET is_active = $1, updated_at = NOW() WHERE id = $2`,
		active, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update channel: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrNotFoundWithMsg(fmt.Sprintf("channel with ID %d not found", id))
	}
	return nil
}
