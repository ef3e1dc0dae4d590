package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/thogmi/comms-backend/internal/models"
)

// TemplateRepository defines the interface for template data access
type TemplateRepository interface {
	Create(ctx context.Context, tmpl *models.Template) error
	GetByID(ctx context.Context, id int64) (*models.Template, error)
	List(ctx context.Context, filter models.TemplateFilter) ([]*models.Template, int64, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// templateRepository implements TemplateRepository using PostgreSQL
type templateRepository struct {
	db *sql.DB
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *sql.DB) TemplateRepository {
	return &templateRepository{db: db}
}

// Create inserts a new template
func (r *templateRepository) Create(ctx context.Context, tmpl *models.Template) error {
	variables, err := json.Marshal(tmpl.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	query := `
		INSERT INTO templates (name, kind, subject, body, variables, channel_id, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err = r.db.QueryRowContext(ctx, query,
		tmpl.Name, tmpl.Kind, tmpl.Subject, tmpl.Body, variables,
		tmpl.ChannelID, tmpl.IsActive, tmpl.CreatedBy,
	).Scan(&tmpl.ID, &tmpl.CreatedAt, &tmpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetByID retrieves a template by ID
func (r *templateRepository) GetByID(ctx context.Context, id int64) (*models.Template, error) {
	query := `
		SELECT id, name, kind, subject, body, variables, channel_id, is_active, created_by, created_at, updated_at
		FROM templates
		WHERE id = $1`

	tmpl, err := scanTemplate(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("template with ID %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tmpl, nil
}

// List retrieves templates with pagination and filtering
func (r *templateRepository) List(ctx context.Context, filter models.TemplateFilter) ([]*models.Template, int64, error) {
	models.NormalizePagination(&filter.Page, &filter.PageSize)

	query := `
		SELECT id, name, kind, subject, body, variables, channel_id, is_active, created_by, created_at, updated_at
		FROM templates
		WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM templates WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if filter.Kind != "" {
		clause := fmt.Sprintf(" AND kind = $%d", argPos)
		query += clause
		countQuery += clause
		args = append(args, filter.Kind)
		argPos++
	}
	if filter.ChannelID > 0 {
		clause := fmt.Sprintf(" AND channel_id = $%d", argPos)
		query += clause
		countQuery += clause
		args = append(args, filter.ChannelID)
		argPos++
	}

	var totalCount int64
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count templates: %w", err)
	}

	offset := models.CalculateOffset(filter.Page, filter.PageSize)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, filter.PageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	templates := []*models.Template{}
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, tmpl)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating templates: %w", err)
	}
	return templates, totalCount, nil
}

// SetActive toggles a template's active flag
func (r *templateRepository) SetActive(ctx context.Context, id int64, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE templates SET is_active = $1, updated_at = NOW() WHERE id = $2`,
		active, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrNotFoundWithMsg(fmt.Sprintf("template with ID %d not found", id))
	}
	return nil
}

func scanTemplate(row rowScanner) (*models.Template, error) {
	tmpl := &models.Template{}
	var variables []byte
	err := row.Scan(
		&tmpl.ID, &tmpl.Name, &tmpl.Kind, &tmpl.Subject, &tmpl.Body,
		&variables, &tmpl.ChannelID, &tmpl.IsActive, &tmpl.CreatedBy,
		&tmpl.CreatedAt, &tmpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(variables, &tmpl.Variables); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template variables: %w", err)
	}
	return tmpl, nil
}
