package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"benchchat/internal/api"
	"benchchat/internal/domain"
	"benchchat/internal/executor"
	"benchchat/internal/identity"
	"benchchat/internal/store"
)

// Handler exposes the chat pipeline over HTTP.
type Handler struct {
	pipeline    *Pipeline
	rateLimiter *RateLimiter
}

// NewHandler creates the chat HTTP handler.
func NewHandler(pipeline *Pipeline, rateLimiter *RateLimiter) *Handler {
	return &Handler{pipeline: pipeline, rateLimiter: rateLimiter}
}

// Routes mounts the chat endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/messages", h.handleSend)
	r.Post("/confirm", h.handleConfirm)
	r.Post("/reject", h.handleReject)
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/{sessionID}/messages", h.handleHistory)
	r.Post("/sessions/{sessionID}/clear", h.handleClear)
}

type sendRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type executionPayload struct {
	Status     string `json:"status"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type sendResponse struct {
	Session          *domain.Session         `json:"session"`
	UserMessage      *domain.Message         `json:"user_message"`
	AssistantMessage *domain.Message         `json:"assistant_message"`
	Proposal         *domain.CommandProposal `json:"proposal,omitempty"`
	Decision         string                  `json:"decision,omitempty"`
	GateReason       string                  `json:"gate_reason,omitempty"`
	Execution        *executionPayload       `json:"execution,omitempty"`
	PendingMessageID string                  `json:"pending_message_id,omitempty"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if !identity.GrantsFromContext(r.Context()).CanSendMessages {
		api.Error(w, http.StatusForbidden, "you do not have permission to send messages")
		return
	}
	if !h.rateLimiter.Allow(userID) {
		slog.Warn("rate limit exceeded", "user_id", userID, "ip", identity.IPFromRequest(r))
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded, slow down")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.pipeline.Send(r.Context(), userID, req.SessionID, req.Message)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := sendResponse{
		Session:          result.Session,
		UserMessage:      result.UserMessage,
		AssistantMessage: result.AssistantMessage,
		Proposal:         result.Proposal,
		GateReason:       result.GateReason,
		PendingMessageID: result.PendingMessageID,
	}
	if result.Proposal != nil {
		resp.Decision = result.Decision.String()
	}
	if result.Execution != nil {
		resp.Execution = toExecutionPayload(*result.Execution)
	}
	api.JSON(w, http.StatusOK, resp)
}

type confirmRequest struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if !identity.GrantsFromContext(r.Context()).CanSendMessages {
		api.Error(w, http.StatusForbidden, "you do not have permission to send messages")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		api.Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	result, err := h.pipeline.Confirm(r.Context(), userID, req.SessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, map[string]interface{}{
		"message_id": result.MessageID,
		"command":    result.Command,
		"execution":  toExecutionPayload(result.Outcome),
	})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if !identity.GrantsFromContext(r.Context()).CanSendMessages {
		api.Error(w, http.StatusForbidden, "you do not have permission to send messages")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		api.Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := h.pipeline.RejectPending(r.Context(), userID, req.SessionID); err != nil {
		h.writeError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessions, err := h.pipeline.Sessions(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	api.JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.pipeline.History(r.Context(), userID, sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if messages == nil {
		messages = []*domain.Message{}
	}
	api.JSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if !identity.GrantsFromContext(r.Context()).CanSendMessages {
		api.Error(w, http.StatusForbidden, "you do not have permission to send messages")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	fresh, err := h.pipeline.ClearSession(r.Context(), userID, sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, map[string]interface{}{"session": fresh})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		api.Error(w, http.StatusBadRequest, "message text is empty")
	case errors.Is(err, store.ErrSessionNotFound):
		api.Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, store.ErrSessionClosed):
		api.Error(w, http.StatusConflict, "session is closed")
	case errors.Is(err, ErrSessionBusy):
		api.Error(w, http.StatusTooManyRequests, "session is busy processing another message")
	case errors.Is(err, ErrNoPendingConfirmation):
		api.Error(w, http.StatusConflict, "no pending confirmation for this session")
	default:
		slog.Error("chat request failed", "error", err)
		api.Error(w, http.StatusInternalServerError, "internal error")
	}
}

func toExecutionPayload(outcome executor.Outcome) *executionPayload {
	return &executionPayload{
		Status:     outcome.Status.String(),
		Output:     outcome.Output,
		Error:      outcome.Error,
		DurationMs: outcome.DurationMs,
	}
}
