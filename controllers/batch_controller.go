package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"watchlist_backend/models"
	"watchlist_backend/services/batch"
)

// BatchController exposes the monitoring pipeline over HTTP
type BatchController struct {
	orchestrator *batch.Orchestrator
	gate         batch.MarketGate
}

// NewBatchController creates a new batch controller
func NewBatchController(orchestrator *batch.Orchestrator, gate batch.MarketGate) *BatchController {
	return &BatchController{orchestrator: orchestrator, gate: gate}
}

// TriggerRun starts a batch run and returns its status.
// POST /api/v1/batch/run?manual=true
func (bc *BatchController) TriggerRun(c *gin.Context) {
	manual, _ := strconv.ParseBool(c.DefaultQuery("manual", "true"))

	status, err := bc.orchestrator.Run(c.Request.Context(), manual)
	if err != nil {
		switch {
		case errors.Is(err, batch.ErrRunInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": "A batch run is already in progress"})
		case errors.Is(err, batch.ErrNotConfigured):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":  "Batch pipeline is not configured",
				"status": status,
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}

// GetStatus returns the most recent run status
// GET /api/v1/batch/status
func (bc *BatchController) GetStatus(c *gin.Context) {
	status := bc.orchestrator.LastRun()
	if status == nil {
		c.JSON(http.StatusOK, gin.H{"data": nil, "message": "No runs yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}

// GetMarketHours reports open state and next open time per region
// GET /api/v1/markets
func (bc *BatchController) GetMarketHours(c *gin.Context) {
	now := time.Now()
	regions := make([]gin.H, 0, len(models.ValidRegions()))
	for _, region := range models.ValidRegions() {
		entry := gin.H{
			"region": region,
			"open":   bc.gate.IsOpen(region, now),
		}
		if !bc.gate.IsOpen(region, now) {
			entry["next_open"] = bc.gate.NextOpen(region, now)
		}
		regions = append(regions, entry)
	}
	c.JSON(http.StatusOK, gin.H{"data": regions})
}
