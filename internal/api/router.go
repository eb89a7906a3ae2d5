package api

import (
	"github.com/causelab/causescore/internal/api/handler"
	"github.com/causelab/causescore/internal/api/middleware"
	"github.com/causelab/causescore/internal/config"
	"github.com/causelab/causescore/internal/service"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	db *gorm.DB,
	evaluationService *service.EvaluationService,
	syncService *service.SyncService,
	cfg *config.ServerConfig,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.CORS))

	// Create handlers
	healthHandler := handler.NewHealthHandler(db)
	evaluationHandler := handler.NewEvaluationHandler(evaluationService)
	adminHandler := handler.NewAdminHandler(syncService)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Evaluation
		v1.POST("/causes/evaluate", evaluationHandler.Evaluate)
		v1.POST("/causes/evaluate-batch", evaluationHandler.EvaluateBatch)

		// Manual sync triggers
		v1.POST("/admin/sync/:projectId", adminHandler.SyncProject)
		v1.POST("/admin/sync-catalog", adminHandler.SyncCatalog)
		v1.POST("/admin/jobs/run", adminHandler.RunJobs)
		v1.POST("/admin/sweep", adminHandler.Sweep)
	}

	return r
}
