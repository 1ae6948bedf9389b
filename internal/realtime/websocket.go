package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"benchchat/internal/identity"
	"benchchat/internal/store"
)

// WebSocketHandler upgrades connections and streams a session's events.
type WebSocketHandler struct {
	hub           *Hub
	repo          store.Repository
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a realtime websocket handler.
func NewWebSocketHandler(hub *Hub, repo store.Repository, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		repo:          repo,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade. The client picks
// the session with a session_id query parameter; only the session's owner
// may subscribe.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sess, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load session for websocket", "error", err, "session_id", sessionID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if sess == nil || sess.UserID != userID {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	sub, cancel := h.hub.Subscribe(sessionID)
	defer cancel()

	// We never expect client messages; CloseRead gives us a context that
	// dies when the client goes away.
	ctx := ws.CloseRead(r.Context())

	slog.Info("Realtime subscriber connected", "user_id", userID, "session_id", sessionID)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Realtime subscriber disconnected", "user_id", userID, "session_id", sessionID)
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeEvent(ctx, ws, evt); err != nil {
				slog.Debug("Realtime write failed", "error", err, "user_id", userID)
				return
			}
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func writeEvent(ctx context.Context, ws *websocket.Conn, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
