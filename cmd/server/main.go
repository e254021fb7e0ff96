// backend/cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/historyflow/backend/internal/api/handlers"
	"github.com/historyflow/backend/internal/config"
	"github.com/historyflow/backend/internal/database"
	"github.com/historyflow/backend/internal/health"
	"github.com/historyflow/backend/internal/middleware"
	"github.com/historyflow/backend/internal/migration"
	"github.com/historyflow/backend/internal/repository"
	"github.com/historyflow/backend/internal/retry"
	"github.com/historyflow/backend/internal/services"
	"github.com/historyflow/backend/internal/sources/gemini"
	"github.com/historyflow/backend/internal/sources/unsplash"
	"github.com/historyflow/backend/internal/sources/wikipedia"
	"github.com/historyflow/backend/pkg/utils"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	logger := utils.GetLogger()
	logger.Info("Starting HistoryFlow backend...")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if err := cfg.ValidateCollaborators(); err != nil {
		logger.WithError(err).Fatal("Collaborator configuration validation failed")
	}

	dbConfig := &database.Config{
		DatabaseURL: cfg.Database.URL,
		RedisURL:    cfg.Redis.URL,
		LogLevel:    os.Getenv("LOG_LEVEL"),
	}

	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database manager")
	}
	defer dbManager.Close()

	migrationRunner := migration.NewRunner(dbManager, logger)
	if err := migrationRunner.RunMigrations("migrations"); err != nil {
		logger.WithError(err).Fatal("Database migrations failed")
	}

	repoManager := repository.NewRepositoryManager(dbManager.DB, cfg.History.Cap)
	hotCache := database.NewCache(dbManager.Redis, logger)

	retryCfg := retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}

	// Collaborator adapters
	textSource := wikipedia.NewClient(cfg.Wikipedia.BaseURL, cfg.Timeouts.Adapter, logger)
	extractor := gemini.NewClient(cfg.Gemini.BaseURL, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Timeouts.Adapter, logger)
	imageSearcher := unsplash.NewClient(cfg.Unsplash.BaseURL, cfg.Unsplash.AccessKey, cfg.Timeouts.Adapter, logger)

	enrichmentService := services.NewEnrichmentService(
		textSource,
		extractor,
		imageSearcher,
		repoManager.Timelines,
		repoManager.SearchHistory,
		hotCache,
		retryCfg,
		cfg.Timeouts.Adapter,
		cfg.Timeouts.Cache,
		cfg.Cache.TTL,
		logger,
	)
	historyService := services.NewHistoryService(repoManager.SearchHistory, logger)

	timelineHandler := handlers.NewTimelineHandler(enrichmentService, historyService, repoManager.SearchLogs, logger)

	healthChecker := health.NewHealthChecker(dbManager, repoManager.SystemHealth, logger, cfg.Wikipedia.BaseURL)
	healthHandler := handlers.NewHealthHandler(healthChecker, logger)

	healthCtx, cancelHealth := context.WithCancel(context.Background())
	defer cancelHealth()
	go healthChecker.PeriodicHealthCheck(healthCtx, time.Minute)

	// Router
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestID())

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.PerMinute, time.Minute)
	router.Use(rateLimiter.RateLimit())

	router.GET("/health", healthHandler.HandleHealth)
	router.GET("/health/detailed", healthHandler.HandleDetailedHealth)

	api := router.Group("/api/timeline")
	{
		api.GET("/search", timelineHandler.HandleSearch)
		api.GET("/searches", timelineHandler.HandleSearches)
		api.GET("/history", timelineHandler.HandleHistory)
		api.GET("/analytics", timelineHandler.HandleAnalytics)
	}

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	cancelHealth()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}

	logger.Info("Server stopped")
}
