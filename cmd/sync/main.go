package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "causescore-sync",
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Parse command line flags
	mode := flag.String("mode", "jobs", "What to run: catalog (schedule fetch jobs), jobs (execute due jobs), sweep (repair watermarks), project (sync one project)")
	projectID := flag.String("project", "", "Project ID for -mode=project")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	appLogger.WithFields(logger.Fields{
		"mode": *mode,
	}).Info("Starting sync run")

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
	if len(adapters) == 0 && *mode != "sweep" {
		appLogger.Warn("No platform adapters enabled; fetches will store nothing")
	}

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

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	// Run the requested mode
	switch *mode {
	case "catalog":
		if err := syncService.SyncCatalog(ctx); err != nil {
			appLogger.WithError(err).Fatal("Catalog sync failed")
		}
		appLogger.Info("Catalog sync completed")

	case "jobs":
		executed, err := syncService.RunDueJobs(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Job run failed")
		}
		appLogger.WithFields(logger.Fields{
			"executed": executed,
		}).Info("Job run completed")

	case "sweep":
		result, err := syncService.SweepCorruption(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Watermark sweep failed")
		}
		if result == nil {
			appLogger.Info("Watermark sweep skipped: another instance holds the lock")
			return
		}
		appLogger.WithFields(logger.Fields{
			"scanned":  result.Scanned,
			"repaired": result.Repaired,
			"failed":   result.Failed,
		}).Info("Watermark sweep completed")

	case "project":
		if *projectID == "" {
			appLogger.Fatal("Flag -project is required for -mode=project")
		}
		result, err := syncService.SyncProject(ctx, *projectID)
		if err != nil {
			appLogger.WithError(err).Fatal("Project sync failed")
		}
		appLogger.WithFields(logger.Fields{
			"project_id": result.ProjectID,
			"stored":     result.Stored,
			"failed":     result.FailedCount,
		}).Info("Project sync completed")

	default:
		appLogger.WithField("mode", *mode).Fatal("Unknown mode")
	}
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
