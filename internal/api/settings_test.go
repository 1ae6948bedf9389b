package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"benchchat/internal/domain"
	"benchchat/internal/identity"
	"benchchat/internal/settings"
	"benchchat/internal/store"
)

func newSettingsStore(t *testing.T) *settings.Store {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	st, err := settings.NewStore(context.Background(), repo, domain.Settings{
		Provider:           domain.ProviderOllama,
		OllamaURL:          "http://localhost:11434",
		OllamaModel:        "llama3.2",
		SafeMode:           true,
		ConfirmDestructive: true,
		LogCommands:        true,
	})
	if err != nil {
		t.Fatalf("settings.NewStore failed: %v", err)
	}
	return st
}

func withGrants(r *http.Request, grants identity.Grants) *http.Request {
	return r.WithContext(identity.WithIdentity(r.Context(), "user-1", grants))
}

func manageGrants() identity.Grants {
	return identity.Grants{CanSendMessages: true, CanManageSettings: true}
}

func TestSettingsGet(t *testing.T) {
	h := NewSettingsHandler(newSettingsStore(t))

	rec := httptest.NewRecorder()
	req := withGrants(httptest.NewRequest(http.MethodGet, "/api/settings", nil), manageGrants())
	h.HandleGet(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var view settingsView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.Provider != domain.ProviderOllama || !view.SafeMode {
		t.Errorf("Unexpected view: %+v", view)
	}
	if view.HasOpenAIKey {
		t.Error("Expected no key configured")
	}
	if strings.Contains(rec.Body.String(), "sk-") {
		t.Error("Key material must never appear in responses")
	}
}

func TestSettingsGet_PermissionDenied(t *testing.T) {
	h := NewSettingsHandler(newSettingsStore(t))

	rec := httptest.NewRecorder()
	req := withGrants(httptest.NewRequest(http.MethodGet, "/api/settings", nil), identity.Grants{})
	h.HandleGet(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}
}

func TestSettingsUpdate_Partial(t *testing.T) {
	st := newSettingsStore(t)
	h := NewSettingsHandler(st)

	body := `{"safe_mode": false, "openai_api_key": "sk-secret", "provider": "openai"}`
	rec := httptest.NewRecorder()
	req := withGrants(httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewBufferString(body)), manageGrants())
	h.HandleUpdate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var view settingsView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.SafeMode {
		t.Error("Expected safe mode off")
	}
	if view.Provider != domain.ProviderOpenAI {
		t.Errorf("Expected provider switched, got %s", view.Provider)
	}
	if !view.HasOpenAIKey {
		t.Error("Expected key flagged as configured")
	}
	if strings.Contains(rec.Body.String(), "sk-secret") {
		t.Error("Key material must never appear in responses")
	}

	// Untouched fields persist.
	snap := st.Snapshot()
	if !snap.ConfirmDestructive || snap.OllamaModel != "llama3.2" {
		t.Errorf("Partial update clobbered untouched fields: %+v", snap)
	}
	if snap.OpenAIAPIKey != "sk-secret" {
		t.Error("Key must be stored")
	}
}

func TestSettingsUpdate_InvalidProvider(t *testing.T) {
	h := NewSettingsHandler(newSettingsStore(t))

	rec := httptest.NewRecorder()
	req := withGrants(httptest.NewRequest(http.MethodPut, "/api/settings",
		bytes.NewBufferString(`{"provider":"mystery"}`)), manageGrants())
	h.HandleUpdate(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestSettingsUpdate_PermissionDenied(t *testing.T) {
	h := NewSettingsHandler(newSettingsStore(t))

	rec := httptest.NewRecorder()
	req := withGrants(httptest.NewRequest(http.MethodPut, "/api/settings",
		bytes.NewBufferString(`{"safe_mode": false}`)), identity.Grants{CanSendMessages: true})
	h.HandleUpdate(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}
}
