package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/middleware"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/service"
	"github.com/stemsi/mocktest-backend/internal/validator"
)

// AttemptHandler serves attempt history for learners and the attempt
// dashboard for admins.
type AttemptHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// History godoc
// GET /api/v1/student/attempts
func (h *AttemptHandler) History(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	history, err := h.attemptService.History(c.Request.Context(), claims.UserID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, history)
}

// Result godoc
// GET /api/v1/student/attempts/:id
// Returns the stored result payload and the weak areas derived from it.
func (h *AttemptHandler) Result(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	result, err := h.attemptService.Result(c.Request.Context(), claims.UserID, id)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Review godoc
// GET /api/v1/student/attempts/:id/review
// Every question of a submitted attempt with its options, the correct ones
// flagged, and what the learner picked.
func (h *AttemptHandler) Review(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	review, err := h.attemptService.Review(c.Request.Context(), claims.UserID, id)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, review)
}

// bindFilter reads the shared admin query filter. It answers the request
// itself and returns false on invalid input.
func (h *AttemptHandler) bindFilter(c *gin.Context) (model.AttemptFilter, bool) {
	var f model.AttemptFilter
	if fields := validator.BindQuery(c, &f); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return f, false
	}
	if err := f.Resolve(); err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"subject_id": err.Error(),
		})
		return f, false
	}
	return f, true
}

// List godoc
// GET /api/v1/admin/attempts
// Query: search, subject_id, from, to, band, page, per_page.
func (h *AttemptHandler) List(c *gin.Context) {
	f, ok := h.bindFilter(c)
	if !ok {
		return
	}

	attempts, pagination, err := h.attemptService.AdminList(c.Request.Context(), f)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": attempts}, pagination)
}

// Stats godoc
// GET /api/v1/admin/attempts/stats
// Same filters as List, aggregated over every match.
func (h *AttemptHandler) Stats(c *gin.Context) {
	f, ok := h.bindFilter(c)
	if !ok {
		return
	}

	stats, err := h.attemptService.AdminStats(c.Request.Context(), f)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"stats": stats})
}

// Export godoc
// GET /api/v1/admin/attempts/export
// Downloads every matching attempt as CSV.
func (h *AttemptHandler) Export(c *gin.Context) {
	f, ok := h.bindFilter(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	n, err := h.attemptService.ExportCSV(c.Request.Context(), &buf, f)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	filename := fmt.Sprintf("attempts-%s.csv", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header("X-Total-Count", strconv.Itoa(n))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())

	h.log.Info().Int("rows", n).Msg("Attempts exported")
}
