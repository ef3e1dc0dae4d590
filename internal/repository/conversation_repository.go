package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/thogmi/comms-backend/internal/models"
)

// ConversationRepository holds the simple bidirectional thread model.
// Boundary functionality only; conversations never enter the delivery
// pipeline.
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id int64) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID int64) ([]*models.Conversation, error)
	AddMessage(ctx context.Context, msg *models.ConversationMessage) error
	ListMessages(ctx context.Context, conversationID int64) ([]*models.ConversationMessage, error)
	MarkRead(ctx context.Context, userID, messageID int64) error
}

type conversationRepository struct {
	db *sql.DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *sql.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO conversations (subject) VALUES ($1)
		RETURNING id, last_message_at, created_at`,
		conv.Subject,
	).Scan(&conv.ID, &conv.LastMessageAt, &conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	for _, userID := range conv.ParticipantIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)`,
			conv.ID, userID,
		); err != nil {
			return fmt.Errorf("failed to add participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	query := `
		SELECT c.id, c.subject, c.last_message_at, c.created_at,
			ARRAY(SELECT user_id FROM conversation_participants WHERE conversation_id = c.id ORDER BY user_id)
		FROM conversations c
		WHERE c.id = $1`

	conv := &models.Conversation{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.Subject, &conv.LastMessageAt, &conv.CreatedAt,
		pq.Array(&conv.ParticipantIDs),
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("conversation with ID %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID int64) ([]*models.Conversation, error) {
	query := `
		SELECT c.id, c.subject, c.last_message_at, c.created_at,
			ARRAY(SELECT user_id FROM conversation_participants WHERE conversation_id = c.id ORDER BY user_id)
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1 AND p.is_active = TRUE
		ORDER BY c.last_message_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	convs := []*models.Conversation{}
	for rows.Next() {
		conv := &models.Conversation{}
		err := rows.Scan(
			&conv.ID, &conv.Subject, &conv.LastMessageAt, &conv.CreatedAt,
			pq.Array(&conv.ParticipantIDs),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	return convs, nil
}

func (r *conversationRepository) AddMessage(ctx context.Context, msg *models.ConversationMessage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO conversation_messages (conversation_id, sender_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		msg.ConversationID, msg.SenderID, msg.Content,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add conversation message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = NOW() WHERE id = $1`,
		msg.ConversationID,
	); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *conversationRepository) ListMessages(ctx context.Context, conversationID int64) ([]*models.ConversationMessage, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation messages: %w", err)
	}
	defer rows.Close()

	msgs := []*models.ConversationMessage{}
	for rows.Next() {
		msg := &models.ConversationMessage{}
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation messages: %w", err)
	}
	return msgs, nil
}

func (r *conversationRepository) MarkRead(ctx context.Context, userID, messageID int64) error {
	query := `
		INSERT INTO message_read_receipts (user_id, message_id, read_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, message_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, userID, messageID); err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	return nil
}
