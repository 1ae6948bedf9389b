package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Provider != "ollama" {
		t.Errorf("Expected default provider ollama, got %s", cfg.Provider)
	}
	if cfg.ModelTimeout != 30*time.Second {
		t.Errorf("Expected default model timeout 30s, got %s", cfg.ModelTimeout)
	}
	if cfg.RateLimit.RequestsPerWindow != 10 {
		t.Errorf("Expected default rate limit 10, got %d", cfg.RateLimit.RequestsPerWindow)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("EXEC_TIMEOUT", "5s")
	t.Setenv("TRUST_GRANT_HEADER", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Port)
	}
	if cfg.Provider != "openai" {
		t.Errorf("Expected provider openai, got %s", cfg.Provider)
	}
	if cfg.ExecTimeout != 5*time.Second {
		t.Errorf("Expected exec timeout 5s, got %s", cfg.ExecTimeout)
	}
	if !cfg.TrustGrantHeader {
		t.Error("Expected grant header trusted")
	}
}

func TestLoad_InvalidProvider(t *testing.T) {
	t.Setenv("AI_PROVIDER", "mystery")

	if _, err := Load(); err == nil {
		t.Error("Expected error for unknown provider, got nil")
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("MODEL_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ModelTimeout != 30*time.Second {
		t.Errorf("Expected fallback model timeout 30s, got %s", cfg.ModelTimeout)
	}
}

func TestValidate_EmptyDBPath(t *testing.T) {
	cfg := &Config{Port: "8080", Provider: "ollama", ExecBackendURL: "http://x",
		ModelTimeout: time.Second, ExecTimeout: time.Second,
		RateLimit: RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Second}}

	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for empty DB_PATH, got nil")
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := &Config{FrontendURL: ""}
	if !cfg.IsDevelopment() {
		t.Error("Empty frontend URL should be development mode")
	}

	cfg.FrontendURL = "https://assistant.example.com"
	if cfg.IsDevelopment() {
		t.Error("Production frontend URL should not be development mode")
	}
}
