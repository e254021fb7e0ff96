package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/historyflow/backend/internal/health"
	"github.com/historyflow/backend/internal/models"
	"github.com/historyflow/backend/pkg/utils"
	"github.com/sirupsen/logrus"
)

type HealthHandler struct {
	checker *health.HealthChecker
	logger  *logrus.Logger
}

func NewHealthHandler(checker *health.HealthChecker, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		logger:  logger,
	}
}

// HandleHealth serves GET /health, a cheap liveness probe.
func (h *HealthHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:    "ok",
		Service:   "historyflow-backend",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// HandleDetailedHealth serves GET /health/detailed, preferring the cached
// snapshot and falling back to live checks.
func (h *HealthHandler) HandleDetailedHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	overall, err := h.checker.CheckCached(ctx)
	if err != nil {
		h.logger.WithError(err).Debug("No cached health snapshot, running live checks")
		live := h.checker.CheckAll()
		overall = &live
	}

	code := http.StatusOK
	if overall.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}

	payload := gin.H{"health": overall}
	if stats, err := h.checker.CacheStats(ctx); err == nil {
		payload["cache_stats"] = stats
	}

	utils.SuccessResponse(c, code, "Health status", payload)
}
