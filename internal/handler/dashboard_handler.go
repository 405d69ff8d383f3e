package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/service"
)

// DashboardHandler handles admin dashboard endpoints.
type DashboardHandler struct {
	dashboardService *service.DashboardService
	log              zerolog.Logger
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(dashboardService *service.DashboardService, log zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		dashboardService: dashboardService,
		log:              log.With().Str("component", "dashboard_handler").Logger(),
	}
}

// GetDashboardData godoc
// GET /api/v1/admin/dashboard
// Returns summary stat cards, daily attempt volume and the most attempted tests.
func (h *DashboardHandler) GetDashboardData(c *gin.Context) {
	data, err := h.dashboardService.GetDashboardData(c.Request.Context())
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, data)
}
