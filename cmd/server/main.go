package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/tunelens/tunelens/internal/adapter/ai"
	"github.com/tunelens/tunelens/internal/adapter/cache"
	"github.com/tunelens/tunelens/internal/adapter/store"
	"github.com/tunelens/tunelens/internal/handler"
	"github.com/tunelens/tunelens/internal/mcp"
	"github.com/tunelens/tunelens/internal/middleware"
	"github.com/tunelens/tunelens/internal/port"
	"github.com/tunelens/tunelens/internal/service"
	"github.com/tunelens/tunelens/pkg/config"

	_ "github.com/lib/pq"
)

const version = "1.0.0"

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()

	slog.Info("🚀 Starting TuneLens",
		"port", cfg.Port,
		"ollama_embed", cfg.OllamaEmbedURL,
		"ollama_chat", cfg.OllamaChatURL,
		"mcp_enabled", cfg.MCPEnabled,
	)

	// ── Database ─────────────────────────────────────────────────────────
	pgStore, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	if err := pgStore.EnsureSchema(context.Background(), cfg.EmbeddingDimension); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	synonymStore := store.NewSynonymStore(pgStore)

	// ── Cache ────────────────────────────────────────────────────────────
	// Best-effort dependency: an unreachable Redis disables caching instead
	// of failing startup or retrying per request.
	var searchCache port.Cache
	redisCache, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		slog.Warn("redis unavailable, cache disabled", "addr", cfg.RedisAddr, "error", err)
		searchCache = cache.NewNoop()
	} else {
		defer redisCache.Close()
		searchCache = redisCache
	}

	// ── Adapters ─────────────────────────────────────────────────────────
	ollamaAI := ai.NewOllamaProvider(
		ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaEmbedURL,
			Model:   cfg.OllamaEmbedModel,
			Token:   cfg.OllamaEmbedToken,
		},
		ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaChatURL,
			Model:   cfg.OllamaChatModel,
			Token:   cfg.OllamaChatToken,
		},
	)

	// ── Services ─────────────────────────────────────────────────────────
	synonymService := service.NewSynonymService(synonymStore, ollamaAI, searchCache)
	generatorService := service.NewGeneratorService(ollamaAI, synonymService)

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))

	// Audit middleware (logs all requests)
	app.Use(middleware.AuditMiddleware(pgStore))

	// Health check
	app.Get("/api/v1/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"app":     cfg.AppName,
			"version": version,
		})
	})

	// ── Routes ───────────────────────────────────────────────────────────
	api := app.Group("/api/v1")
	admin := app.Group("/api/v1", middleware.AdminTokenMiddleware(cfg.AdminToken))

	synonymHandler := handler.NewSynonymHandler(synonymService, generatorService)
	synonymHandler.Register(api, admin)

	auditHandler := handler.NewAuditHandler(pgStore)
	auditHandler.Register(admin)

	// ── MCP Server (separate port) ───────────────────────────────────────
	if cfg.MCPEnabled {
		mcpServer := mcp.NewServer(synonymService, cfg.AppName, version)
		go func() {
			slog.Info("MCP server listening", "port", cfg.MCPPort)
			if err := http.ListenAndServe(":"+cfg.MCPPort, mcpServer.Handler()); err != nil {
				slog.Error("MCP server failed", "error", err)
			}
		}()
	}

	// ── Start ────────────────────────────────────────────────────────────
	slog.Info("🌐 Fiber listening", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
