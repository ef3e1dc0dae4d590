package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/thogmi/comms-backend/internal/models"
	"github.com/thogmi/comms-backend/internal/preference"
)

// PreferenceHandler handles user preference HTTP requests
type PreferenceHandler struct {
	enforcer *preference.Enforcer
	logger   *slog.Logger
}

// NewPreferenceHandler creates a new preference handler
func NewPreferenceHandler(enforcer *preference.Enforcer, logger *slog.Logger) *PreferenceHandler {
	return &PreferenceHandler{
		enforcer: enforcer,
		logger:   logger,
	}
}

// GetPreferences handles GET /users/{id}/preferences
func (h *PreferenceHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, err := urlParamID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	set, err := h.enforcer.Preferences(r.Context(), userID)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, set)
}

// UpdatePreferences handles PUT /users/{id}/preferences
func (h *PreferenceHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, err := urlParamID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	var update models.PreferenceUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return
	}

	set, err := h.enforcer.Update(r.Context(), userID, update)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, set)
}

// CanReceive handles GET /users/{id}/can-receive?channel=email
func (h *PreferenceHandler) CanReceive(w http.ResponseWriter, r *http.Request) {
	userID, err := urlParamID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	kind := r.URL.Query().Get("channel")
	allowed, err := h.enforcer.CanReceive(r.Context(), userID, kind)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, map[string]interface{}{
		"user_id":     userID,
		"channel":     kind,
		"can_receive": allowed,
	})
}
