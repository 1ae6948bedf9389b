// benchchat - AI assistant service for a business management platform.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"benchchat/internal/api"
	"benchchat/internal/chat"
	"benchchat/internal/config"
	"benchchat/internal/domain"
	"benchchat/internal/executor"
	"benchchat/internal/identity"
	"benchchat/internal/middleware"
	"benchchat/internal/realtime"
	"benchchat/internal/settings"
	"benchchat/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	settingsStore, err := settings.NewStore(context.Background(), repo, domain.Settings{
		Provider:           cfg.Provider,
		OllamaURL:          cfg.OllamaURL,
		OllamaModel:        cfg.OllamaModel,
		OpenAIAPIKey:       cfg.OpenAIAPIKey,
		OpenAIModel:        cfg.OpenAIModel,
		SafeMode:           true,
		ConfirmDestructive: true,
		LogCommands:        true,
	})
	if err != nil {
		slog.Error("Failed to initialize settings", "error", err)
		os.Exit(1)
	}
	slog.Info("Settings loaded", "provider", settingsStore.Snapshot().Provider)

	// The execution backend being down at boot is not fatal; commands will
	// fail individually and the health endpoint reports it.
	backend := executor.NewHTTPBackend(executor.BackendConfig{BaseURL: cfg.ExecBackendURL})
	if err := backend.Ping(context.Background()); err != nil {
		slog.Warn("Execution backend not reachable at startup", "error", err, "url", cfg.ExecBackendURL)
	} else {
		slog.Info("Execution backend connected", "url", cfg.ExecBackendURL)
	}

	supervisor := executor.NewSupervisor(backend, repo, cfg.ExecTimeout, logger)
	hub := realtime.NewHub()

	pipeline := chat.NewPipeline(repo, settingsStore, nil, supervisor, hub, cfg.ModelTimeout, logger)
	rateLimiter := chat.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)

	// Initialize handlers.
	chatHandler := chat.NewHandler(pipeline, rateLimiter)
	settingsHandler := api.NewSettingsHandler(settingsStore)
	healthHandler := api.NewHealthHandler(repo, settingsStore)
	wsHandler := realtime.NewWebSocketHandler(hub, repo, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	// When a fronting platform scopes permissions it sets X-Chat-Grants;
	// standalone deployments grant everything.
	var resolver identity.GrantResolver = identity.AllowAll{}
	if cfg.TrustGrantHeader {
		resolver = identity.HeaderResolver{Default: identity.Grants{CanSendMessages: true}}
	}
	r.Use(identity.Middleware(resolver, cfg.IsDevelopment()))

	r.Get("/healthz", healthHandler.ServeHTTP)

	r.Route("/api/chat", chatHandler.Routes)
	r.Route("/api/settings", func(r chi.Router) {
		r.Get("/", settingsHandler.HandleGet)
		r.Put("/", settingsHandler.HandleUpdate)
	})

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Note: websocket connections require long write timeouts.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chat.StartRetentionWorker(ctx, repo, cfg.SessionRetention)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
