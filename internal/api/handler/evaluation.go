package handler

import (
	"net/http"

	"github.com/causelab/causescore/internal/service"
	"github.com/gin-gonic/gin"
)

// EvaluationHandler handles cause evaluation endpoints.
type EvaluationHandler struct {
	evaluationService *service.EvaluationService
}

// NewEvaluationHandler creates a new evaluation handler.
// Parameters:
//   - evaluationService: evaluation service instance.
//
// Returns:
//   - *EvaluationHandler: initialized handler.
func NewEvaluationHandler(evaluationService *service.EvaluationService) *EvaluationHandler {
	return &EvaluationHandler{
		evaluationService: evaluationService,
	}
}

// Evaluate handles POST /api/v1/causes/evaluate.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *EvaluationHandler) Evaluate(c *gin.Context) {
	var req service.EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	result, err := h.evaluationService.Evaluate(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Evaluation failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// batchRequest is the payload for batch evaluation.
type batchRequest struct {
	Causes []*service.EvaluationRequest `json:"causes" binding:"required,min=1"`
}

// EvaluateBatch handles POST /api/v1/causes/evaluate-batch.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *EvaluationHandler) EvaluateBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	result := h.evaluationService.EvaluateMany(c.Request.Context(), req.Causes)

	// Partial success is still a success at the HTTP level; failure counts
	// are in the body.
	if result.SucceededCount == 0 && result.FailedCount > 0 {
		c.JSON(http.StatusBadGateway, result)
		return
	}
	c.JSON(http.StatusOK, result)
}
