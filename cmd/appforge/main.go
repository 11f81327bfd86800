// AppForge orchestrator server - turns project ideas into deployed
// applications by driving agent pipelines against an LLM.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gin-gonic/gin"

	"github.com/appforge/appforge/pkg/api"
	"github.com/appforge/appforge/pkg/config"
	"github.com/appforge/appforge/pkg/deploy"
	"github.com/appforge/appforge/pkg/events"
	"github.com/appforge/appforge/pkg/gitrepo"
	"github.com/appforge/appforge/pkg/llm"
	"github.com/appforge/appforge/pkg/orchestrator"
	"github.com/appforge/appforge/pkg/skills"
	"github.com/appforge/appforge/pkg/store"
	"github.com/appforge/appforge/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load env file, continuing with existing environment",
			"path", *envFile, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envFile)
	}

	gin.SetMode(getEnv("GIN_MODE", "release"))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting AppForge",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"workspace_root", cfg.WorkspaceRoot,
		"store_path", cfg.StorePath,
		"repo_enabled", cfg.RepoEnabled(),
		"deploy_enabled", cfg.DeployEnabled())

	if cfg.LLMAPIKey == "" {
		slog.Error("LLM_API_KEY is required")
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		slog.Error("Failed to create workspace root", "path", cfg.WorkspaceRoot, "error", err)
		os.Exit(1)
	}

	st := store.New(cfg.StorePath)
	publisher := events.NewPublisher()
	llmClient := llm.NewAnthropicClient(cfg.LLMAPIKey, cfg.LLMModels,
		llm.WithMaxTokens(cfg.Runner.MaxTokens))
	repoClient := gitrepo.NewClient(cfg.RepoOwner, cfg.RepoToken)
	deployClient := deploy.NewClient(cfg.DeployURL, cfg.DeployToken, cfg.DeployBaseDomain)
	skillsService := skills.NewService(cfg.SkillsURL)

	orch := orchestrator.New(cfg, st, publisher, llmClient, repoClient, deployClient, skillsService)
	if err := orch.LoadFromStore(); err != nil {
		slog.Error("Failed to load pipelines from store", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg, orch)

	go func() {
		slog.Info("HTTP server listening", "addr", ":"+cfg.HTTPPort)
		if err := server.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown: stop accepting requests, cancel running workers,
	// let the final persistence writes land.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	orch.Stop()
	slog.Info("Shutdown complete")
}
