package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/causelab/causescore/internal/api"
	"github.com/causelab/causescore/internal/catalog"
	"github.com/causelab/causescore/internal/config"
	"github.com/causelab/causescore/internal/domain"
	"github.com/causelab/causescore/internal/logger"
	"github.com/causelab/causescore/internal/platform"
	"github.com/causelab/causescore/internal/platform/farcaster"
	"github.com/causelab/causescore/internal/platform/x"
	"github.com/causelab/causescore/internal/repository"
	"github.com/causelab/causescore/internal/service"
)

func main() {
	// Initialize logger first (with defaults from environment)
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(db)
	postRepo := repository.NewPostRepository(db)
	jobRepo := repository.NewJobRepository(db)
	lockRepo := repository.NewLockRepository(db)

	// Initialize catalog client
	catalogClient := catalog.NewClient(&catalog.Config{
		Endpoint:    cfg.Catalog.Endpoint,
		AuthToken:   cfg.Catalog.AuthToken,
		HTTPTimeout: cfg.Catalog.HTTPTimeout,
	})

	// Initialize platform adapters
	adapters := buildAdapters(cfg)
	if len(adapters) == 0 {
		appLogger.Warn("No platform adapters enabled; sync endpoints will store nothing")
	}

	// Initialize services
	assessmentService := service.NewAssessmentService(&service.AssessmentConfig{
		Enabled:     cfg.Assessment.Enabled,
		Model:       cfg.Assessment.Model,
		APIKey:      cfg.Assessment.APIKey,
		BaseURL:     cfg.Assessment.BaseURL,
		Temperature: cfg.Assessment.Temperature,
		MaxTokens:   cfg.Assessment.MaxTokens,
		HTTPTimeout: cfg.Assessment.HTTPTimeout,
	})
	if assessmentService.IsEnabled() {
		appLogger.WithField("model", cfg.Assessment.Model).Info("Qualitative assessment enabled")
	}

	scoringEngine, err := service.NewScoringEngine(&cfg.Scoring)
	if err != nil {
		appLogger.WithError(err).Fatal("Invalid scoring configuration")
	}

	evaluationService := service.NewEvaluationService(
		catalogClient,
		accountRepo,
		postRepo,
		assessmentService,
		scoringEngine,
		&cfg.Scoring,
	)

	distributor := service.NewDistributor(jobRepo, cfg.Sync.SpreadWindow)
	syncService := service.NewSyncService(
		accountRepo,
		postRepo,
		jobRepo,
		lockRepo,
		catalogClient,
		distributor,
		adapters,
		cfg.Sync,
		cfg.Catalog.PageSize,
	)

	// Setup router
	router := api.SetupRouter(db, evaluationService, syncService, &cfg.Server)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}

// buildAdapters constructs one adapter per enabled platform.
func buildAdapters(cfg *config.Config) map[domain.Platform]platform.Adapter {
	limits := platform.FetchLimits{
		MaxScanPosts: cfg.Sync.MaxScanPosts,
		MaxLookback:  time.Duration(cfg.Sync.MaxLookbackDays) * 24 * time.Hour,
	}

	adapters := make(map[domain.Platform]platform.Adapter)
	if cfg.Platforms.X.Enabled {
		adapters[domain.PlatformX] = x.NewAdapter(&x.Config{
			BaseURL:         cfg.Platforms.X.BaseURL,
			SessionDir:      cfg.Platforms.X.SessionDir,
			Primary:         cfg.Platforms.X.Primary,
			Secondary:       cfg.Platforms.X.Secondary,
			HTTPTimeout:     cfg.Platforms.X.HTTPTimeout,
			Limits:          limits,
			MinRequestDelay: cfg.Sync.MinRequestDelay,
			MaxRequestDelay: cfg.Sync.MaxRequestDelay,
			MaxRetries:      cfg.Sync.MaxRetries,
			RetryBaseDelay:  cfg.Sync.RetryBaseDelay,
		})
	}
	if cfg.Platforms.Farcaster.Enabled {
		adapters[domain.PlatformFarcaster] = farcaster.NewAdapter(&farcaster.Config{
			BaseURL:         cfg.Platforms.Farcaster.BaseURL,
			APIKey:          cfg.Platforms.Farcaster.APIKey,
			HTTPTimeout:     cfg.Platforms.Farcaster.HTTPTimeout,
			Limits:          limits,
			MinRequestDelay: cfg.Sync.MinRequestDelay,
			MaxRequestDelay: cfg.Sync.MaxRequestDelay,
			MaxRetries:      cfg.Sync.MaxRetries,
			RetryBaseDelay:  cfg.Sync.RetryBaseDelay,
		})
	}
	return adapters
}
