package service

import (
	"context"
	"log/slog"

	"github.com/thogmi/comms-backend/internal/models"
	"github.com/thogmi/comms-backend/internal/repository"
)

// StartConversationRequest opens a thread between participants
type StartConversationRequest struct {
	Subject        string  `json:"subject"`
	ParticipantIDs []int64 `json:"participant_ids"`
}

// PostMessageRequest appends one message to a thread
type PostMessageRequest struct {
	SenderID int64  `json:"sender_id"`
	Content  string `json:"content"`
}

// ConversationService handles two-way thread logic. Threads sit outside
// the delivery pipeline: no campaigns, channels or preferences apply.
type ConversationService interface {
	Start(ctx context.Context, req *StartConversationRequest) (*models.Conversation, error)
	GetByID(ctx context.Context, id int64) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID int64) ([]*models.Conversation, error)
	PostMessage(ctx context.Context, conversationID int64, req *PostMessageRequest) (*models.ConversationMessage, error)
	ListMessages(ctx context.Context, conversationID int64) ([]*models.ConversationMessage, error)
	MarkRead(ctx context.Context, userID, messageID int64) error
}

type conversationService struct {
	convRepo repository.ConversationRepository
	userRepo repository.UserRepository
	logger   *slog.Logger
}

// NewConversationService creates a new conversation service
func NewConversationService(
	convRepo repository.ConversationRepository,
	userRepo repository.UserRepository,
	logger *slog.Logger,
) ConversationService {
	return &conversationService{
		convRepo: convRepo,
		userRepo: userRepo,
		logger:   logger,
	}
}

func (s *conversationService) Start(ctx context.Context, req *StartConversationRequest) (*models.Conversation, error) {
	if len(req.ParticipantIDs) < 2 {
		return nil, models.ErrInvalidInput("a conversation needs at least two participants")
	}

	for _, id := range req.ParticipantIDs {
		if _, err := s.userRepo.GetByID(ctx, id); err != nil {
			return nil, err
		}
	}

	conv := &models.Conversation{
		Subject:        req.Subject,
		ParticipantIDs: req.ParticipantIDs,
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, err
	}

	s.logger.Info("conversation started",
		slog.Int64("conversation_id", conv.ID),
		slog.Int("participants", len(conv.ParticipantIDs)),
	)

	return conv, nil
}

func (s *conversationService) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	return s.convRepo.GetByID(ctx, id)
}

func (s *conversationService) ListForUser(ctx context.Context, userID int64) ([]*models.Conversation, error) {
	return s.convRepo.ListForUser(ctx, userID)
}

func (s *conversationService) PostMessage(ctx context.Context, conversationID int64, req *PostMessageRequest) (*models.ConversationMessage, error) {
	if req.Content == "" {
		return nil, models.ErrInvalidInput("content is required")
	}

	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	participant := false
	for _, id := range conv.ParticipantIDs {
		if id == req.SenderID {
			participant = true
			break
		}
	}
	if !participant {
		return nil, models.ErrInvalidInput("sender is not a participant of this conversation")
	}

	msg := &models.ConversationMessage{
		ConversationID: conversationID,
		SenderID:       req.SenderID,
		Content:        req.Content,
	}
	if err := s.convRepo.AddMessage(ctx, msg); err != nil {
		return nil, err
	}

	return msg, nil
}

func (s *conversationService) ListMessages(ctx context.Context, conversationID int64) ([]*models.ConversationMessage, error) {
	if _, err := s.convRepo.GetByID(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.convRepo.ListMessages(ctx, conversationID)
}

func (s *conversationService) MarkRead(ctx context.Context, userID, messageID int64) error {
	return s.convRepo.MarkRead(ctx, userID, messageID)
}
