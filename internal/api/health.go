package api

import (
	"context"
	"net/http"
	"time"

	"benchchat/internal/provider"
	"benchchat/internal/settings"
	"benchchat/internal/store"
)

// HealthHandler reports service, database and model-provider health.
type HealthHandler struct {
	repo     store.Repository
	settings *settings.Store
}

// NewHealthHandler creates a health endpoint handler.
func NewHealthHandler(repo store.Repository, st *settings.Store) *HealthHandler {
	return &HealthHandler{repo: repo, settings: st}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Provider string `json:"provider"`
	Detail   string `json:"detail,omitempty"`
}

// ServeHTTP checks the database and the configured provider. A degraded
// provider does not fail the endpoint; the service can still serve history.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok", Provider: "ok"}

	if err := h.repo.Ping(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "unreachable"
		resp.Detail = err.Error()
		JSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	snapshot := h.settings.Snapshot()
	prov, err := provider.New(snapshot)
	if err != nil {
		resp.Status = "degraded"
		resp.Provider = "misconfigured"
		resp.Detail = err.Error()
	} else if err := prov.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Provider = "unreachable"
		resp.Detail = err.Error()
	}

	JSON(w, http.StatusOK, resp)
}
