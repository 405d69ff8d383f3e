package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/service"
)

const (
	refreshInterval   = 5 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 3 * time.Second // prevent slow queries from blocking the SSE loop
)

// TestLookup resolves the test being monitored.
type TestLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Test, error)
}

type MonitorHandler struct {
	tests          TestLookup
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(tests TestLookup, monitorService *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		tests:          tests,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorTestSSE godoc
// GET /api/v1/admin/tests/:id/monitor
// Streams a snapshot event on connect and a refresh event every few seconds
// with the live runs of the test held by this instance.
func (h *MonitorHandler) MonitorTestSSE(c *gin.Context) {
	testID, ok := paramID(c, "id")
	if !ok {
		return
	}

	test, err := h.tests.Get(c.Request.Context(), testID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendProgress(c, reqCtx, "snapshot", test)

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Str("test_id", testID.String()).Msg("Admin attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("test_id", testID.String()).Msg("Admin disconnected from live monitor SSE")
			return

		case <-refreshTicker.C:
			h.sendProgress(c, reqCtx, "refresh", test)

		case <-keepAliveTicker.C:
			c.SSEvent("message", gin.H{"type": "ping"})
			c.Writer.Flush()
		}
	}
}

// Progress godoc
// GET /api/v1/admin/tests/:id/progress
// One-off version of the monitor stream.
func (h *MonitorHandler) Progress(c *gin.Context) {
	testID, ok := paramID(c, "id")
	if !ok {
		return
	}

	test, err := h.tests.Get(c.Request.Context(), testID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	progress, err := h.monitorService.GetTestProgress(c.Request.Context(), testID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"test": test, "progress": progress})
}

// sendProgress writes one SSE event. Failures are logged and skipped so the
// stream survives a slow database.
func (h *MonitorHandler) sendProgress(c *gin.Context, parentCtx context.Context, kind string, test *model.Test) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	progress, err := h.monitorService.GetTestProgress(ctx, test.ID)
	if err != nil {
		h.log.Warn().Err(err).Str("test_id", test.ID.String()).Msg("Failed to fetch run progress")
		return
	}

	c.SSEvent("message", gin.H{
		"type": kind,
		"test": gin.H{
			"id":              test.ID,
			"title":           test.Title,
			"duration":        test.DurationMinutes,
			"total_questions": test.QuestionCount,
		},
		"stats": progress.Stats,
		"runs":  progress.Runs,
	})
	c.Writer.Flush()
}
