package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/perfbridge/perfbridge/internal/core"
	gh "github.com/perfbridge/perfbridge/internal/github"
	httpsvr "github.com/perfbridge/perfbridge/internal/http"
	"github.com/perfbridge/perfbridge/internal/k6"
	"github.com/perfbridge/perfbridge/internal/llm"
	mcpsvr "github.com/perfbridge/perfbridge/internal/mcp"
	"github.com/perfbridge/perfbridge/internal/script"
)

var (
	version   = ""
	gitCommit = ""
	buildTime = ""
)

func main() {
	// Stdout belongs to the stdio transport; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := loadConfig(logger)

	llmClient := llm.NewClient(llm.Config{
		BaseURL: cfg.OllamaHost,
		Model:   cfg.OllamaModel,
	})
	generator := script.NewGenerator(llmClient, logger)
	runner := k6.NewRunner(k6.Config{Binary: cfg.K6Binary}, logger)

	var ghClient *gh.Client
	if cfg.GitHubRepo != "" && cfg.GitHubAppID != 0 && cfg.GitHubPrivateKeyPath != "" {
		var err error
		ghClient, err = gh.NewClient(gh.Config{
			AppID:          cfg.GitHubAppID,
			InstallationID: cfg.GitHubInstallationID,
			Repo:           cfg.GitHubRepo,
			PrivateKeyPath: cfg.GitHubPrivateKeyPath,
		})
		if err != nil {
			logger.Error("github client init failed", "err", err)
			os.Exit(1)
		}
		logger.Info("report publishing enabled", "repo", ghClient.Repo())
	}

	logger.Info("effective config",
		"ollama_host", cfg.OllamaHost,
		"ollama_model", cfg.OllamaModel,
		"k6_binary", cfg.K6Binary,
		"mcp_listen", orStdio(cfg.MCPListen),
		"http_listen", cfg.HTTPListen,
	)

	mcpServer := mcpsvr.NewServer(cfg.MCPListen, generator, runner, ghClient, logger)

	var httpServer *httpsvr.Server
	if cfg.HTTPListen != "" {
		httpServer = httpsvr.NewServer(cfg.HTTPListen, logger, httpsvr.BuildInfo{
			Version:   version,
			GitCommit: gitCommit,
			BuildTime: buildTime,
		})
	}

	if cfg.MCPListen == "" {
		// Stdio mode: serve until the host closes the pipe.
		if httpServer != nil {
			go func() {
				if err := httpServer.ListenAndServe(); err != nil {
					logger.Error("http server error", "err", err)
				}
			}()
		}
		if err := mcpServer.ServeStdio(); err != nil {
			logger.Error("stdio transport failed", "err", err)
			os.Exit(1)
		}
		shutdown(logger, httpServer, nil)
		return
	}

	errCh := make(chan error, 2)
	go func() { errCh <- mcpServer.ListenAndServe() }()
	if httpServer != nil {
		go func() { errCh <- httpServer.ListenAndServe() }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server error", "err", err)
		shutdown(logger, httpServer, mcpServer)
		os.Exit(1)
	}

	shutdown(logger, httpServer, mcpServer)
	logger.Info("shutdown complete")
}

func shutdown(logger *slog.Logger, httpServer *httpsvr.Server, mcpServer *mcpsvr.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if mcpServer != nil {
		if err := mcpServer.Shutdown(ctx); err != nil {
			logger.Error("mcp shutdown error", "err", err)
		}
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("http shutdown error", "err", err)
		}
	}
}

func loadConfig(logger *slog.Logger) core.Config {
	cfg := core.Config{
		OllamaHost:           envOrDefault("OLLAMA_HOST", core.DefaultOllamaHost),
		OllamaModel:          envOrDefault("OLLAMA_MODEL", core.DefaultOllamaModel),
		K6Binary:             envOrDefault("K6_BIN", core.DefaultK6Binary),
		MCPListen:            strings.TrimSpace(os.Getenv("PERFBRIDGE_MCP_LISTEN")),
		HTTPListen:           strings.TrimSpace(os.Getenv("PERFBRIDGE_HTTP_LISTEN")),
		GitHubRepo:           strings.TrimSpace(os.Getenv("GITHUB_REPO")),
		GitHubPrivateKeyPath: strings.TrimSpace(os.Getenv("GITHUB_PRIVATE_KEY_PATH")),
	}

	if raw := strings.TrimSpace(os.Getenv("GITHUB_APP_ID")); raw != "" {
		appID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			logger.Error("invalid GITHUB_APP_ID", "value", raw, "err", err)
			os.Exit(1)
		}
		cfg.GitHubAppID = appID
	}
	if raw := strings.TrimSpace(os.Getenv("GITHUB_INSTALLATION_ID")); raw != "" {
		installationID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			logger.Error("invalid GITHUB_INSTALLATION_ID", "value", raw, "err", err)
			os.Exit(1)
		}
		cfg.GitHubInstallationID = installationID
	}

	return cfg
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func orStdio(addr string) string {
	if addr == "" {
		return "stdio"
	}
	return addr
}
