package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/thogmi/comms-backend/internal/service"
)

// ConversationHandler handles two-way conversation HTTP requests
type ConversationHandler struct {
	conversationService service.ConversationService
	logger              *slog.Logger
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversationService service.ConversationService, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		logger:              logger,
	}
}

// StartConversation handles POST /conversations
func (h *ConversationHandler) StartConversation(w http.ResponseWriter, r *http.Request) {
	var req service.StartConversationRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return
	}

	conv, err := h.conversationService.Start(r.Context(), &req)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondCreated(w, conv)
}

// GetConversation handles GET /conversations/{id}
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid conversation ID")
		return
	}

	conv, err := h.conversationService.GetByID(r.Context(), id)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, conv)
}

// ListConversations handles GET /conversations?user_id=N
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "user_id query parameter is required")
		return
	}

	conversations, err := h.conversationService.ListForUser(r.Context(), userID)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, conversations)
}

// PostMessage handles POST /conversations/{id}/messages
func (h *ConversationHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid conversation ID")
		return
	}

	var req service.PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return
	}

	msg, err := h.conversationService.PostMessage(r.Context(), id, &req)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondCreated(w, msg)
}

// ListMessages handles GET /conversations/{id}/messages
func (h *ConversationHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid conversation ID")
		return
	}

	messages, err := h.conversationService.ListMessages(r.Context(), id)
	if err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, messages)
}

// MarkRead handles POST /conversations/messages/{id}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	messageID, err := urlParamID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "Invalid message ID")
		return
	}

	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "user_id query parameter is required")
		return
	}

	if err := h.conversationService.MarkRead(r.Context(), userID, messageID); err != nil {
		handleError(w, err, h.logger)
		return
	}

	respondSuccess(w, map[string]interface{}{"message_id": messageID, "read": true})
}
