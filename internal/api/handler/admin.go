package handler

import (
	"net/http"

	"github.com/causelab/causescore/internal/service"
	"github.com/gin-gonic/gin"
)

// AdminHandler handles manual sync triggers. These endpoints wrap the same
// operations the sync binary runs on a schedule.
type AdminHandler struct {
	syncService *service.SyncService
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - syncService: sync service instance.
//
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(syncService *service.SyncService) *AdminHandler {
	return &AdminHandler{
		syncService: syncService,
	}
}

// SyncProject handles POST /api/v1/admin/sync/:projectId, fetching and
// storing recent posts for a single project immediately.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *AdminHandler) SyncProject(c *gin.Context) {
	projectID := c.Param("projectId")
	if projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Path parameter 'projectId' is required",
		})
		return
	}

	result, err := h.syncService.SyncProject(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Sync failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// SyncCatalog handles POST /api/v1/admin/sync-catalog, walking the full
// catalog and scheduling fetch jobs. When another instance holds the sync
// lock the run is skipped and still reported as scheduled.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *AdminHandler) SyncCatalog(c *gin.Context) {
	if err := h.syncService.SyncCatalog(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Catalog sync failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "scheduled",
	})
}

// RunJobs handles POST /api/v1/admin/jobs/run, executing due fetch jobs now.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *AdminHandler) RunJobs(c *gin.Context) {
	executed, err := h.syncService.RunDueJobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Job run failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"executed": executed,
	})
}

// Sweep handles POST /api/v1/admin/sweep, running the watermark corruption
// sweep immediately.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *AdminHandler) Sweep(c *gin.Context) {
	result, err := h.syncService.SweepCorruption(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Sweep failed: " + err.Error(),
		})
		return
	}
	if result == nil {
		c.JSON(http.StatusConflict, gin.H{
			"status": "already running elsewhere",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
