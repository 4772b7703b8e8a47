// jarvisd orchestrator server — provides the HTTP API, runs the worker
// dispatcher, and drives supervisor runs.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jarvislabs/jarvisd/pkg/agent"
	"github.com/jarvislabs/jarvisd/pkg/api"
	"github.com/jarvislabs/jarvisd/pkg/app"
	"github.com/jarvislabs/jarvisd/pkg/cleanup"
	"github.com/jarvislabs/jarvisd/pkg/config"
	"github.com/jarvislabs/jarvisd/pkg/database"
	"github.com/jarvislabs/jarvisd/pkg/queue"
	"github.com/jarvislabs/jarvisd/pkg/tenant"
	"github.com/jarvislabs/jarvisd/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// newLLMClient picks the completion backend. LLM_BASE_URL selects an
// OpenAI-compatible endpoint; without it the server still boots with a
// canned echo client so local development does not need a provider.
func newLLMClient() agent.LLMClient {
	baseURL := os.Getenv("LLM_BASE_URL")
	if baseURL == "" {
		slog.Warn("LLM_BASE_URL not set, using scripted echo client; runs will not produce real completions")
		return agent.NewScriptedClient(agent.ScriptedTurn{Content: "No language model is configured."})
	}
	slog.Info("LLM client initialized", "base_url", baseURL)
	return agent.NewOpenAIClient(baseURL, os.Getenv("LLM_API_KEY"))
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting jarvisd", "version", version.Full(), "config_dir", *configDir)

	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Load database config; the tenant router owns the connections
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	// 3. LLM client and tool registry
	llmClient := newLLMClient()
	defer func() {
		if err := llmClient.Close(); err != nil {
			slog.Error("Error closing LLM client", "error", err)
		}
	}()

	toolRegistry := agent.NewRegistry()

	deps := app.Deps{
		LLM:   llmClient,
		Tools: toolRegistry,
		Cfg:   cfg,
	}

	// 4. Tenant router (opens the default workspace and runs migrations)
	router, err := tenant.NewRouter(ctx, dbConfig, deps, cfg.MultiTenantSchemas)
	if err != nil {
		slog.Error("Failed to initialize tenant router", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := router.Close(); err != nil {
			slog.Error("Error closing tenant router", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database", "multi_tenant", cfg.MultiTenantSchemas)

	// 5. Worker dispatcher (before the HTTP server so queued jobs resume)
	runner := queue.NewRunner(llmClient, toolRegistry, cfg.SSEHeartbeat)
	dispatcher := queue.NewDispatcher(router, runner, cfg)
	dispatcher.Start(ctx)

	// 6. Orphan reaper; its first sweep recovers jobs stranded by a crash
	reaper := queue.NewReaper(router, cfg)
	reaper.Start(ctx)

	// 7. Event retention sweeper
	retention := cleanup.NewService(router.Workspaces, cfg.EventRetention, time.Hour)
	retention.Start(ctx)

	// 8. Start HTTP server (non-blocking)
	httpServer := api.NewServer(router, dispatcher, cfg)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.ListenAddr)
		if err := httpServer.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("jarvisd started successfully", "max_concurrency", cfg.MaxConcurrency)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop claiming work, then drain, then close HTTP
	dispatcher.Stop()
	reaper.Stop()
	retention.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
