package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/middleware"
)

// SweepRunner runs and reports the scheduled stale booking sweep
type SweepRunner interface {
	RunSweepNow(ctx context.Context) (int, error)
	GetJobStatus() map[string]interface{}
}

// MaintenanceHandler exposes scheduled jobs to operators
type MaintenanceHandler struct {
	sweeps SweepRunner
	logger *logrus.Logger
}

// NewMaintenanceHandler creates a new MaintenanceHandler
func NewMaintenanceHandler(sweeps SweepRunner, logger *logrus.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{sweeps: sweeps, logger: logger}
}

// RunStaleSweep moves stuck processing bookings to manual review without waiting for the schedule
// @Summary Run stale booking sweep
// @Tags Operator
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Success 200 {object} map[string]interface{}
// @Router /admin/maintenance/sweep [post]
func (h *MaintenanceHandler) RunStaleSweep(c *gin.Context) {
	opCtx := middleware.MustGetOperatorContext(c)

	moved, err := h.sweeps.RunSweepNow(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"operator": opCtx.Operator,
		"moved":    moved,
	}).Info("Operator ran stale booking sweep")

	c.JSON(http.StatusOK, gin.H{"moved": moved})
}

// GetJobs reports the scheduled jobs
// @Summary Scheduled job status
// @Tags Operator
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Success 200 {object} map[string]interface{}
// @Router /admin/maintenance/jobs [get]
func (h *MaintenanceHandler) GetJobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.sweeps.GetJobStatus())
}
