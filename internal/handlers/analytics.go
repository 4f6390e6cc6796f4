package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/reviewiq/internal/middleware"
	"github.com/huangang/reviewiq/internal/services"
	"github.com/huangang/reviewiq/pkg/response"
)

const defaultTrendDays = 30

type AnalyticsHandler struct {
	analytics *services.AnalyticsService
}

func NewAnalyticsHandler(analytics *services.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// GET /api/analytics/branch/:branchId?startDate&endDate
func (h *AnalyticsHandler) GetBranchMetrics(c *gin.Context) {
	var req services.BranchMetricsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	metrics, err := h.analytics.GetBranchMetrics(c.Request.Context(), c.Param("branchId"), req)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, metrics)
}

// GET /api/analytics/trends/:branchId?days
func (h *AnalyticsHandler) GetTrends(c *gin.Context) {
	days, err := parseTrendDays(c.Query("days"))
	if err != nil {
		response.BadRequest(c, "days must be a positive integer")
		return
	}

	trends, err := h.analytics.GetTimeSeriesTrends(c.Request.Context(), c.Param("branchId"), days)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, trends)
}

// parseTrendDays defaults to 30 and clamps to MaxTrendDays.
func parseTrendDays(raw string) (int, error) {
	if raw == "" {
		return defaultTrendDays, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 {
		return 0, strconv.ErrSyntax
	}
	if days > services.MaxTrendDays {
		days = services.MaxTrendDays
	}
	return days, nil
}

// GET /api/analytics/sla/:branchId
func (h *AnalyticsHandler) GetSla(c *gin.Context) {
	sla, err := h.analytics.GetSlaMetrics(c.Request.Context(), c.Param("branchId"))
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, sla)
}

// GetStaff is open to admins, managers and the staff member themself.
// GET /api/analytics/staff/:staffId
func (h *AnalyticsHandler) GetStaff(c *gin.Context) {
	staffID := c.Param("staffId")
	role := middleware.GetRole(c)
	if role != middleware.RoleAdmin && role != middleware.RoleManager && middleware.GetUserID(c) != staffID {
		response.Forbidden(c, "no access to this staff member")
		return
	}

	metrics, err := h.analytics.GetStaffMetrics(c.Request.Context(), staffID)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, metrics)
}
