package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thogmi/comms-backend/internal/models"
	"github.com/thogmi/comms-backend/internal/repository"
)

// ChannelService handles channel registry logic
type ChannelService interface {
	Create(ctx context.Context, req *CreateChannelRequest) (*models.Channel, error)
	GetByID(ctx context.Context, id int64) (*models.Channel, error)
	List(ctx context.Context, activeOnly bool) ([]*models.Channel, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

type channelService struct {
	channelRepo repository.ChannelRepository
	logger      *slog.Logger
}

// NewChannelService creates a new channel service
func NewChannelService(channelRepo repository.ChannelRepository, logger *slog.Logger) ChannelService {
	return &channelService{channelRepo: channelRepo, logger: logger}
}

func (s *channelService) Create(ctx context.Context, req *CreateChannelRequest) (*models.Channel, error) {
	channel := &models.Channel{
		Name:     req.Name,
		Kind:     req.Kind,
		Config:   req.Config,
		IsActive: true,
	}

	if err := channel.Validate(); err != nil {
		return nil, err
	}

	if err := s.channelRepo.Create(ctx, channel); err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	s.logger.Info("channel registered",
		slog.Int64("channel_id", channel.ID),
		slog.String("kind", channel.Kind),
	)

	return channel, nil
}

func (s *channelService) GetByID(ctx context.Context, id int64) (*models.Channel, error) {
	return s.channelRepo.GetByID(ctx, id)
}

func (s *channelService) List(ctx context.Context, activeOnly bool) ([]*models.Channel, error) {
	return s.channelRepo.List(ctx, activeOnly)
}

// SetActive flips a channel's availability. Deactivation blocks future
// sends through the channel but leaves already-queued messages to fail
// at delivery time.
func (s *channelService) SetActive(ctx context.Context, id int64, active bool) error {
	if err := s.channelRepo.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.logger.Info("channel activation changed",
		slog.Int64("channel_id", id),
		slog.Bool("active", active),
	)
	return nil
}
