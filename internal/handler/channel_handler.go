package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/thogmi/comms-backend/internal/service"
)

// ChannelHandler handles channel HTTP requests
type ChannelHandler struct {
	channelService service.ChannelService
	logger         *slog.Logger
}

// NewChannelHandler creates a new channel handler
func NewChannelHandler(channelService service.ChannelService, logger *slog.Logger) *ChannelHandler {
	return &ChannelHandler{
		channelService: channelService,
		logger:         logger,
	}
}

// CreateChannel handles POST /channels
func (h *ChannelHandler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var req service.CreateChannelRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return
	}

	channel, err := h.channelService.Create(r.Context(), &req)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondCreated(w, channel)
}

// ListChannels handles GET /channels
func (h *ChannelHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	channels, err := h.channelService.List(r.Context(), activeOnly)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, channels)
}

// GetChannel handles GET /channels/{id}
func (h *ChannelHandler) GetChannel(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid channel ID")
		return
	}

	channel, err := h.channelService.GetByID(r.Context(), id)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, channel)
}

// ActivateChannel handles POST /channels/{id}/activate
func (h *ChannelHandler) ActivateChannel(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DeactivateChannel handles POST /channels/{id}/deactivate
func (h *ChannelHandler) DeactivateChannel(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *ChannelHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := urlParamID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid channel ID")
		return
	}

	if err := h.channelService.SetActive(r.Context(), id, active); err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, map[string]interface{}{"id": id, "is_active": active})
}
