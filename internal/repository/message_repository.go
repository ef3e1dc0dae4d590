package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thogmi/comms-backend/internal/models"
)

// MessageRepository defines the interface for message data access. The
// messages table is the single source of truth for delivery state; the
// Claim/Mark methods are the only state writers and enforce the
// forward-only transition invariant at the SQL level.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	CreateBatch(ctx context.Context, messages []*models.Message) error
	GetByID(ctx context.Context, id int64) (*models.Message, error)
	List(ctx context.Context, filter models.MessageFilter) ([]*models.Message, int64, error)

	// Claim takes exclusive ownership of a message for one delivery
	// attempt by moving queued -> sending atomically. Retries pass
	// through Requeue first, so failed is terminal here. claimed is
	// false when another worker holds it or it already reached a
	// terminal state; the message is returned either way so the caller
	// can distinguish the two.
	Claim(ctx context.Context, id int64) (message *models.Message, claimed bool, err error)
	MarkSent(ctx context.Context, id int64, providerRef string, at time.Time) error
	MarkFailed(ctx context.Context, id int64, attemptCount int, lastError string) error
	MarkCancelled(ctx context.Context, id int64, reason string) error
	// Requeue returns a failed attempt to queued with the error recorded,
	// making it eligible for the next retry.
	Requeue(ctx context.Context, id int64, attemptCount int, lastError string) error

	// ListStuckQueued finds messages still queued whose owning campaign's
	// scheduled time has passed, for sweep recovery of missed triggers.
	ListStuckQueued(ctx context.Context, olderThan time.Time, limit int) ([]int64, error)
	// ResetStaleSending returns claims abandoned by a dead worker to
	// queued and reports the affected ids so the sweep can re-enqueue
	// their jobs.
	ResetStaleSending(ctx context.Context, olderThan time.Time, limit int) ([]int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

const messageColumns = `id, campaign_id, template_id, channel_id, from_user_id, to_user_id,
	subject, body, variables_used, status, attempt_count, provider_ref, last_error,
	queued_at, sent_at, delivered_at, read_at, open_count, click_count, created_at, updated_at`

// messageRepository implements MessageRepository using PostgreSQL
type messageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *sql.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create inserts a new message
func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	variables, err := json.Marshal(message.VariablesUsed)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	query := `
		INSERT INTO messages (campaign_id, template_id, channel_id, from_user_id, to_user_id,
			subject, body, variables_used, status, attempt_count, last_error, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		RETURNING id, queued_at, created_at, updated_at`

	err = r.db.QueryRowContext(ctx, query,
		message.CampaignID, message.TemplateID, message.ChannelID,
		message.FromUserID, message.ToUserID,
		message.Subject, message.Body, variables,
		message.Status, message.AttemptCount, message.LastError,
	).Scan(&message.ID, &message.QueuedAt, &message.CreatedAt, &message.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// CreateBatch inserts messages in a single transaction. Duplicate
// (campaign, recipient) pairs hit the unique index and are skipped, which
// backs the recipient-deduplication invariant; skipped messages come back
// with ID zero.
func (r *messageRepository) CreateBatch(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (campaign_id, template_id, channel_id, from_user_id, to_user_id,
			subject, body, variables_used, status, attempt_count, last_error, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (campaign_id, to_user_id) DO NOTHING
		RETURNING id, queued_at, created_at, updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, message := range messages {
		variables, err := json.Marshal(message.VariablesUsed)
		if err != nil {
			return fmt.Errorf("failed to marshal variables: %w", err)
		}

		err = stmt.QueryRowContext(ctx,
			message.CampaignID, message.TemplateID, message.ChannelID,
			message.FromUserID, message.ToUserID,
			message.Subject, message.Body, variables,
			message.Status, message.AttemptCount, message.LastError,
		).Scan(&message.ID, &message.QueuedAt, &message.CreatedAt, &message.UpdatedAt)
		if err == sql.ErrNoRows {
			continue // duplicate recipient, skipped by the unique index
		}
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a message by ID
func (r *messageRepository) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	query := fmt.Sprintf("SELECT %s FROM messages WHERE id = $1", messageColumns)

	message, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("message with ID %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return message, nil
}

// List retrieves messages with pagination and filtering
func (r *messageRepository) List(ctx context.Context, filter models.MessageFilter) ([]*models.Message, int64, error) {
	models.NormalizePagination(&filter.Page, &filter.PageSize)

	query := fmt.Sprintf("SELECT %s FROM messages WHERE 1=1", messageColumns)
	countQuery := `SELECT COUNT(*) FROM messages WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if filter.CampaignID > 0 {
		clause := fmt.Sprintf(" AND campaign_id = $%d", argPos)
		query += clause
		countQuery += clause
		args = append(args, filter.CampaignID)
		argPos++
	}
	if filter.ToUserID > 0 {
		clause := fmt.Sprintf(" AND to_user_id = $%d", argPos)
		query += clause
		countQuery += clause
		args = append(args, filter.ToUserID)
		argPos++
	}
	if filter.Status != "" {
		clause := fmt.Sprintf(" AND status = $%d", argPos)
		query += clause
		countQuery += clause
		args = append(args, filter.Status)
		argPos++
	}

	var totalCount int64
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	offset := models.CalculateOffset(filter.Page, filter.PageSize)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, filter.PageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, totalCount, nil
}

// Claim moves a queued message into sending. The conditional UPDATE is
// the per-message exclusivity guarantee: of two workers racing on the
// same job, exactly one sees claimed=true. Only queued is claimable;
// a failed message past the retry ceiling is terminal, and the retry
// path re-queues explicitly before its delayed job fires.
func (r *messageRepository) Claim(ctx context.Context, id int64) (*models.Message, bool, error) {
	query := fmt.Sprintf(`
		UPDATE messages
		SET status = 'sending', updated_at = NOW()
		WHERE id = $1 AND status = 'queued'
		RETURNING %s`, messageColumns)

	message, err := scanMessage(r.db.QueryRowContext(ctx, query, id))
	if err == nil {
		return message, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to claim message: %w", err)
	}

	// Not claimable: either terminal, already held by another worker,
	// or gone. Load it so the caller can tell which.
	message, err = r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return message, false, nil
}

// MarkSent records a successful delivery
func (r *messageRepository) MarkSent(ctx context.Context, id int64, providerRef string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'sent', provider_ref = $1, sent_at = $2, last_error = NULL, updated_at = NOW()
		WHERE id = $3 AND status = 'sending'`,
		providerRef, at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
	}
	return requireRow(result, id)
}

// MarkFailed records a terminal failure
func (r *messageRepository) MarkFailed(ctx context.Context, id int64, attemptCount int, lastError string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'failed', attempt_count = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'sending'`,
		attemptCount, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}
	return requireRow(result, id)
}

// MarkCancelled records a send-time suppression outcome
func (r *messageRepository) MarkCancelled(ctx context.Context, id int64, reason string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'cancelled', last_error = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'sending'`,
		reason, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark message cancelled: %w", err)
	}
	return requireRow(result, id)
}

// Requeue makes a failed attempt eligible for retry
func (r *messageRepository) Requeue(ctx context.Context, id int64, attemptCount int, lastError string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'queued', attempt_count = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'sending'`,
		attemptCount, lastError, id,
	)
	if err != nil {
		return fmt.Errorf("failed to requeue message: %w", err)
	}
	return requireRow(result, id)
}

// ListStuckQueued finds message ids left queued past their campaign's
// scheduled time, so the sweep can re-enqueue jobs lost to missed triggers.
func (r *messageRepository) ListStuckQueued(ctx context.Context, olderThan time.Time, limit int) ([]int64, error) {
	query := `
		SELECT m.id
		FROM messages m
		JOIN campaigns c ON c.id = m.campaign_id
		WHERE m.status = 'queued'
		  AND m.updated_at < $1
		  AND (c.scheduled_for IS NULL OR c.scheduled_for <= NOW())
		ORDER BY m.id
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck messages: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan message id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stuck messages: %w", err)
	}
	return ids, nil
}

// ResetStaleSending requeues sending messages whose claim went stale. A
// claim normally lives for seconds; one older than the cutoff belongs
// to a worker that died between Claim and its terminal Mark.
func (r *messageRepository) ResetStaleSending(ctx context.Context, olderThan time.Time, limit int) ([]int64, error) {
	query := `
		UPDATE messages
		SET status = 'queued', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM messages
			WHERE status = 'sending' AND updated_at < $1
			ORDER BY id
			LIMIT $2
		)
		RETURNING id`

	rows, err := r.db.QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to reset stale claims: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan message id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale claims: %w", err)
	}
	return ids, nil
}

// DeleteOlderThan removes terminal messages older than the cutoff
// (retention cleanup).
func (r *messageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE status IN ('sent', 'delivered', 'read', 'failed', 'cancelled')
		  AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old messages: %w", err)
	}
	return result.RowsAffected()
}

func requireRow(result sql.Result, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrConflictWithMsg(fmt.Sprintf("message %d is not in the expected state", id))
	}
	return nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	message := &models.Message{}
	var (
		campaignID  sql.NullInt64
		variables   []byte
		providerRef sql.NullString
		lastError   sql.NullString
		sentAt      sql.NullTime
		deliveredAt sql.NullTime
		readAt      sql.NullTime
	)

	err := row.Scan(
		&message.ID,
		&campaignID,
		&message.TemplateID,
		&message.ChannelID,
		&message.FromUserID,
		&message.ToUserID,
		&message.Subject,
		&message.Body,
		&variables,
		&message.Status,
		&message.AttemptCount,
		&providerRef,
		&lastError,
		&message.QueuedAt,
		&sentAt,
		&deliveredAt,
		&readAt,
		&message.OpenCount,
		&message.ClickCount,
		&message.CreatedAt,
		&message.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if campaignID.Valid {
		message.CampaignID = &campaignID.Int64
	}
	if providerRef.Valid {
		message.ProviderRef = &providerRef.String
	}
	if lastError.Valid {
		message.LastError = &lastError.String
	}
	if sentAt.Valid {
		message.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		message.DeliveredAt = &deliveredAt.Time
	}
	if readAt.Valid {
		message.ReadAt = &readAt.Time
	}
	if len(variables) > 0 {
		if err := json.Unmarshal(variables, &message.VariablesUsed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
		}
	}
	return message, nil
}
