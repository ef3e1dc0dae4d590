package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/thogmi/comms-backend/internal/models"
	"github.com/thogmi/comms-backend/internal/service"
)

// TemplateHandler handles template HTTP requests
type TemplateHandler struct {
	templateService service.TemplateService
	logger          *slog.Logger
}

// NewTemplateHandler creates a new template handler
func NewTemplateHandler(templateService service.TemplateService, logger *slog.Logger) *TemplateHandler {
	return &TemplateHandler{
		templateService: templateService,
		logger:          logger,
	}
}

// CreateTemplate handles POST /templates
func (h *TemplateHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTemplateRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return
	}

	tmpl, err := h.templateService.Create(r.Context(), &req)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondCreated(w, tmpl)
}

// ListTemplates handles GET /templates
func (h *TemplateHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("page_size"))
	channelID, _ := strconv.ParseInt(query.Get("channel_id"), 10, 64)

	filter := models.TemplateFilter{
		Kind:      query.Get("kind"),
		ChannelID: channelID,
		Page:      page,
		PageSize:  pageSize,
	}

	result, err := h.templateService.List(r.Context(), filter)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, result)
}

// GetTemplate handles GET /templates/{id}
func (h *TemplateHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid template ID")
		return
	}

	tmpl, err := h.templateService.GetByID(r.Context(), id)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, tmpl)
}

// ActivateTemplate handles POST /templates/{id}/activate
func (h *TemplateHandler) ActivateTemplate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DeactivateTemplate handles POST /templates/{id}/deactivate
func (h *TemplateHandler) DeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *TemplateHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := urlParamID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid template ID")
		return
	}

	if err := h.templateService.SetActive(r.Context(), id, active); err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, map[string]interface{}{"id": id, "is_active": active})
}

// PreviewTemplate handles POST /templates/{id}/preview
func (h *TemplateHandler) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid template ID")
		return
	}

	var req service.PreviewTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return
	}

	result, err := h.templateService.Preview(r.Context(), id, &req)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, result)
}
