package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thogmi/comms-backend/internal/models"
	"github.com/thogmi/comms-backend/internal/repository"
	"github.com/thogmi/comms-backend/internal/template"
)

// TemplateService handles template business logic
type TemplateService interface {
	Create(ctx context.Context, req *CreateTemplateRequest) (*models.Template, error)
	GetByID(ctx context.Context, id int64) (*models.Template, error)
	List(ctx context.Context, filter models.TemplateFilter) (*TemplateListResult, error)
	SetActive(ctx context.Context, id int64, active bool) error
	Preview(ctx context.Context, id int64, req *PreviewTemplateRequest) (*PreviewTemplateResult, error)
}

type templateService struct {
	templateRepo repository.TemplateRepository
	channelRepo  repository.ChannelRepository
	logger       *slog.Logger
}

// NewTemplateService creates a new template service
func NewTemplateService(
	templateRepo repository.TemplateRepository,
	channelRepo repository.ChannelRepository,
	logger *slog.Logger,
) TemplateService {
	return &templateService{
		templateRepo: templateRepo,
		channelRepo:  channelRepo,
		logger:       logger,
	}
}

// Create validates the template, extracts its placeholder variables and
// stores it bound to a channel.
func (s *templateService) Create(ctx context.Context, req *CreateTemplateRequest) (*models.Template, error) {
	tmpl := &models.Template{
		Name:      req.Name,
		Kind:      req.Kind,
		Subject:   req.Subject,
		Body:      req.Body,
		ChannelID: req.ChannelID,
		IsActive:  true,
		CreatedBy: req.CreatedBy,
	}

	if err := tmpl.Validate(); err != nil {
		return nil, err
	}

	// The channel must exist; an inactive channel is still a valid
	// binding target, the block applies at send time.
	if _, err := s.channelRepo.GetByID(ctx, req.ChannelID); err != nil {
		return nil, err
	}

	// Variables are derived at creation and revalidated at render time.
	tmpl.Variables = template.Extract(tmpl.Subject, tmpl.Body)

	if err := s.templateRepo.Create(ctx, tmpl); err != nil {
		s.logger.Error("failed to create template",
			slog.String("error", err.Error()),
			slog.String("name", req.Name),
		)
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	s.logger.Info("template created",
		slog.Int64("template_id", tmpl.ID),
		slog.String("name", tmpl.Name),
		slog.Int("variables", len(tmpl.Variables)),
	)

	return tmpl, nil
}

// GetByID retrieves a template by ID
func (s *templateService) GetByID(ctx context.Context, id int64) (*models.Template, error) {
	return s.templateRepo.GetByID(ctx, id)
}

// List retrieves templates with pagination
func (s *templateService) List(ctx context.Context, filter models.TemplateFilter) (*TemplateListResult, error) {
	models.NormalizePagination(&filter.Page, &filter.PageSize)

	templates, totalCount, err := s.templateRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	return &TemplateListResult{
		Data:       templates,
		Pagination: models.NewPaginationResult(filter.Page, filter.PageSize, totalCount),
	}, nil
}

// SetActive activates or deactivates a template
func (s *templateService) SetActive(ctx context.Context, id int64, active bool) error {
	if err := s.templateRepo.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.logger.Info("template activation changed",
		slog.Int64("template_id", id),
		slog.Bool("active", active),
	)
	return nil
}

// Preview renders a template against caller-supplied sample variables
// without creating any message. Missing variables surface the same
// error a real send would hit.
func (s *templateService) Preview(ctx context.Context, id int64, req *PreviewTemplateRequest) (*PreviewTemplateResult, error) {
	tmpl, err := s.templateRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	channel, err := s.channelRepo.GetByID(ctx, tmpl.ChannelID)
	if err != nil {
		return nil, err
	}

	rendered, err := template.Render(tmpl, req.Variables, models.IsTextOnlyChannel(channel.Kind))
	if err != nil {
		return nil, err
	}

	return &PreviewTemplateResult{
		Subject:   rendered.Subject,
		Body:      rendered.Body,
		Text:      rendered.Text,
		Variables: rendered.Used,
	}, nil
}
