package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/middleware"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/testrun"
	"github.com/stemsi/mocktest-backend/internal/validator"
)

// IdentitySource binds a request's user to the identity a run submits for.
type IdentitySource interface {
	IdentityFor(userID uuid.UUID) testrun.Identity
}

// RunHandler drives test runs over plain HTTP. The same runs can be
// followed live on the run stream.
type RunHandler struct {
	runs       *testrun.Manager
	identities IdentitySource
	log        zerolog.Logger
}

func NewRunHandler(runs *testrun.Manager, identities IdentitySource, log zerolog.Logger) *RunHandler {
	return &RunHandler{
		runs:       runs,
		identities: identities,
		log:        log.With().Str("component", "run_handler").Logger(),
	}
}

// session resolves the :run_id of the request to a session owned by the caller.
func (h *RunHandler) session(c *gin.Context) (*testrun.Session, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, false
	}
	runID, ok := paramID(c, "run_id")
	if !ok {
		return nil, false
	}

	s, err := h.runs.Get(c.Request.Context(), runID, h.identities.IdentityFor(claims.UserID))
	if err != nil {
		failWith(c, h.log, err)
		return nil, false
	}
	return s, true
}

// Start godoc
// POST /api/v1/student/tests/:id/runs
// Opens a run of the test, or returns the caller's unfinished run of it.
func (h *RunHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	testID, ok := paramID(c, "id")
	if !ok {
		return
	}

	s, err := h.runs.Start(c.Request.Context(), h.identities.IdentityFor(claims.UserID), testID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"run":       s.Snapshot(),
		"questions": s.Questions(),
	})
}

// Get godoc
// GET /api/v1/student/runs/:run_id
func (h *RunHandler) Get(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{"run": s.Snapshot()})
}

// Questions godoc
// GET /api/v1/student/runs/:run_id/questions
// Lists the paper in presentation order, without answer keys.
func (h *RunHandler) Questions(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{"questions": s.Questions()})
}

// Current godoc
// GET /api/v1/student/runs/:run_id/question
func (h *RunHandler) Current(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	index, q, err := s.Current()
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"index":    index,
		"question": q,
		"run":      s.Snapshot(),
	})
}

// MoveCursor godoc
// PUT /api/v1/student/runs/:run_id/cursor
func (h *RunHandler) MoveCursor(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req model.MoveCursorRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := s.Goto(*req.Index)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	_, q, _ := s.Current()
	response.Success(c, http.StatusOK, gin.H{"run": snap, "question": q})
}

// Select godoc
// PUT /api/v1/student/runs/:run_id/selections
func (h *RunHandler) Select(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req model.SelectOptionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := s.Select(c.Request.Context(), req.QuestionID, req.OptionID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"run": snap})
}

// Submit godoc
// POST /api/v1/student/runs/:run_id/submit
// Safe to repeat: a submitted run answers with the same attempt, and a run
// whose save failed retries the same graded attempt.
func (h *RunHandler) Submit(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	attempt, err := s.Submit(c.Request.Context())
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"attempt_id": attempt.ID,
		"score":      attempt.Score,
		"summary":    attempt.Summary,
		"run":        s.Snapshot(),
	})
}
