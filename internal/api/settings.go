package api

import (
	"encoding/json"
	"net/http"

	"benchchat/internal/domain"
	"benchchat/internal/identity"
	"benchchat/internal/settings"
)

// SettingsHandler exposes the assistant settings over HTTP.
type SettingsHandler struct {
	settings *settings.Store
}

// NewSettingsHandler creates a settings endpoint handler.
func NewSettingsHandler(st *settings.Store) *SettingsHandler {
	return &SettingsHandler{settings: st}
}

// settingsView is the wire shape of the settings. The OpenAI key itself is
// never returned, only whether one is configured.
type settingsView struct {
	Provider           string `json:"provider"`
	OllamaURL          string `json:"ollama_url"`
	OllamaModel        string `json:"ollama_model"`
	OpenAIModel        string `json:"openai_model"`
	HasOpenAIKey       bool   `json:"has_openai_key"`
	SafeMode           bool   `json:"safe_mode"`
	ConfirmDestructive bool   `json:"confirm_destructive"`
	LogCommands        bool   `json:"log_commands"`
}

func toView(s domain.Settings) settingsView {
	return settingsView{
		Provider:           s.Provider,
		OllamaURL:          s.OllamaURL,
		OllamaModel:        s.OllamaModel,
		OpenAIModel:        s.OpenAIModel,
		HasOpenAIKey:       s.HasOpenAIKey(),
		SafeMode:           s.SafeMode,
		ConfirmDestructive: s.ConfirmDestructive,
		LogCommands:        s.LogCommands,
	}
}

// updateRequest is a partial update: absent fields keep their value.
type updateRequest struct {
	Provider           *string `json:"provider"`
	OllamaURL          *string `json:"ollama_url"`
	OllamaModel        *string `json:"ollama_model"`
	OpenAIAPIKey       *string `json:"openai_api_key"`
	OpenAIModel        *string `json:"openai_model"`
	SafeMode           *bool   `json:"safe_mode"`
	ConfirmDestructive *bool   `json:"confirm_destructive"`
	LogCommands        *bool   `json:"log_commands"`
}

// HandleGet returns the current settings.
func (h *SettingsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if !identity.GrantsFromContext(r.Context()).CanManageSettings {
		Error(w, http.StatusForbidden, "you do not have permission to manage settings")
		return
	}
	JSON(w, http.StatusOK, toView(h.settings.Snapshot()))
}

// HandleUpdate applies a partial settings update. The change is persisted
// atomically; in-flight pipeline runs keep their earlier snapshot.
func (h *SettingsHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if !identity.GrantsFromContext(r.Context()).CanManageSettings {
		Error(w, http.StatusForbidden, "you do not have permission to manage settings")
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider != nil && *req.Provider != domain.ProviderOllama && *req.Provider != domain.ProviderOpenAI {
		Error(w, http.StatusBadRequest, "provider must be \"ollama\" or \"openai\"")
		return
	}

	updated, err := h.settings.Update(r.Context(), func(s *domain.Settings) {
		if req.Provider != nil {
			s.Provider = *req.Provider
		}
		if req.OllamaURL != nil {
			s.OllamaURL = *req.OllamaURL
		}
		if req.OllamaModel != nil {
			s.OllamaModel = *req.OllamaModel
		}
		if req.OpenAIAPIKey != nil {
			s.OpenAIAPIKey = *req.OpenAIAPIKey
		}
		if req.OpenAIModel != nil {
			s.OpenAIModel = *req.OpenAIModel
		}
		if req.SafeMode != nil {
			s.SafeMode = *req.SafeMode
		}
		if req.ConfirmDestructive != nil {
			s.ConfirmDestructive = *req.ConfirmDestructive
		}
		if req.LogCommands != nil {
			s.LogCommands = *req.LogCommands
		}
	})
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	JSON(w, http.StatusOK, toView(updated))
}
