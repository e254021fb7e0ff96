// backend/internal/api/handlers/timeline.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/historyflow/backend/internal/models"
	"github.com/historyflow/backend/internal/services"
	"github.com/historyflow/backend/pkg/utils"
	"github.com/sirupsen/logrus"
)

const maxQueryLength = 500

type TimelineHandler struct {
	enrichment *services.EnrichmentService
	history    *services.HistoryService
	searchLogs models.SearchLogRepository
	logger     *logrus.Logger
}

func NewTimelineHandler(
	enrichment *services.EnrichmentService,
	history *services.HistoryService,
	searchLogs models.SearchLogRepository,
	logger *logrus.Logger,
) *TimelineHandler {
	return &TimelineHandler{
		enrichment: enrichment,
		history:    history,
		searchLogs: searchLogs,
		logger:     logger,
	}
}

// HandleSearch serves GET /api/timeline/search?q=&startYear=&endYear=
func (h *TimelineHandler) HandleSearch(c *gin.Context) {
	startTime := time.Now()

	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Query parameter 'q' is required", nil)
		return
	}
	if len(query) > maxQueryLength {
		utils.ErrorResponse(c, http.StatusBadRequest, "Query too long", nil)
		return
	}

	startYear, err := parseYearParam(c.Query("startYear"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "startYear must be an integer", err)
		return
	}
	endYear, err := parseYearParam(c.Query("endYear"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "endYear must be an integer", err)
		return
	}

	userID := c.GetHeader("X-User-ID")
	userSession := h.getUserSession(c)

	// Captured now: the gin context is pooled and must not be touched from
	// the analytics goroutine after the handler returns.
	userAgent := c.GetHeader("User-Agent")
	clientIP := c.ClientIP()

	h.logger.WithFields(logrus.Fields{
		"query":        query,
		"user_id":      userID,
		"user_session": userSession,
		"ip_address":   clientIP,
	}).Info("Processing timeline search")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	response, err := h.enrichment.Search(ctx, services.SearchInput{
		Query:     query,
		StartYear: startYear,
		EndYear:   endYear,
		UserID:    userID,
	})
	if err != nil {
		h.logger.WithError(err).Error("Timeline search failed")
		go h.trackSearch(query, userSession, false, 0, time.Since(startTime), userAgent, clientIP)

		switch {
		case errors.Is(err, services.ErrEmptyQuery):
			utils.ErrorResponse(c, http.StatusBadRequest, "Query cannot be empty", err)
		case errors.Is(err, services.ErrUpstreamUnavailable):
			utils.ErrorResponse(c, http.StatusServiceUnavailable, "Text source unavailable, please try again", err)
		case errors.Is(err, services.ErrStorageUnavailable):
			utils.ErrorResponse(c, http.StatusServiceUnavailable, "Storage unavailable, please try again", err)
		default:
			utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to process search request", err)
		}
		return
	}

	responseTime := time.Since(startTime)
	go h.trackSearch(query, userSession, response.Source == models.SourceCache, len(response.TimelineEvents), responseTime, userAgent, clientIP)

	h.logger.WithFields(logrus.Fields{
		"query":         query,
		"events":        len(response.TimelineEvents),
		"source":        response.Source,
		"response_time": responseTime.Milliseconds(),
	}).Info("Timeline search completed")

	utils.SuccessResponse(c, http.StatusOK, "Search completed", response)
}

// HandleSearches serves GET /api/timeline/searches, the recent cached
// records feed.
func (h *TimelineHandler) HandleSearches(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	records, err := h.enrichment.ListRecentSearches(ctx, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list cached searches")
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Storage unavailable", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Searches retrieved", records)
}

// HandleHistory serves GET /api/timeline/history for the identified user.
func (h *TimelineHandler) HandleHistory(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "X-User-ID header is required", nil)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	items, err := h.history.List(ctx, userID, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load search history")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to load search history", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "History retrieved", items)
}

// HandleAnalytics serves GET /api/timeline/analytics, the recent search
// log feed (query, cache hit, timing, session).
func (h *TimelineHandler) HandleAnalytics(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	logs, err := h.searchLogs.GetRecent(limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load search analytics")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to load search analytics", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Analytics retrieved", logs)
}

// Helper methods

func parseYearParam(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	year, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &year, nil
}

func (h *TimelineHandler) getUserSession(c *gin.Context) string {
	if session := c.GetHeader("X-Session-ID"); session != "" {
		return session
	}

	// Basic fingerprint from IP + User-Agent
	return utils.GenerateSessionID(c.ClientIP() + c.GetHeader("User-Agent"))
}

func (h *TimelineHandler) trackSearch(query, userSession string, cacheHit bool, eventCount int, responseTime time.Duration, userAgent, ipAddress string) {
	searchLog := &models.SearchLog{
		QueryText:      query,
		UserSession:    userSession,
		CacheHit:       cacheHit,
		EventCount:     eventCount,
		ResponseTimeMs: int(responseTime.Milliseconds()),
		UserAgent:      userAgent,
		IPAddress:      ipAddress,
	}

	if err := h.searchLogs.Create(searchLog); err != nil {
		h.logger.WithError(err).Error("Failed to track search")
	}
}
