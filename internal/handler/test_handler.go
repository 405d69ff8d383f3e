package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/service"
	"github.com/stemsi/mocktest-backend/internal/validator"
)

// TestHandler handles test authoring endpoints.
type TestHandler struct {
	testService *service.TestService
	log         zerolog.Logger
}

// NewTestHandler creates a new TestHandler.
func NewTestHandler(testService *service.TestService, log zerolog.Logger) *TestHandler {
	return &TestHandler{
		testService: testService,
		log:         log.With().Str("component", "test_handler").Logger(),
	}
}

// CreateTest godoc
// POST /api/v1/admin/tests
func (h *TestHandler) CreateTest(c *gin.Context) {
	var req model.CreateTestRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	t, err := h.testService.Create(c.Request.Context(), req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"test": t})
}

// GetTest godoc
// GET /api/v1/admin/tests/:id
// Returns the test with its ordered questions and answer key.
func (h *TestHandler) GetTest(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	paper, err := h.testService.GetPaper(c.Request.Context(), id)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	questions := paper.Questions
	if questions == nil {
		questions = []model.Question{}
	}
	response.Success(c, http.StatusOK, gin.H{"test": paper.Test, "questions": questions})
}

// UpdateTest godoc
// PUT /api/v1/admin/tests/:id
// Only the fields present in the body change.
func (h *TestHandler) UpdateTest(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req model.UpdateTestRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	t, err := h.testService.Update(c.Request.Context(), id, req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"test": t})
}

// SetQuestions godoc
// PUT /api/v1/admin/tests/:id/questions
// Replaces the paper. Order in the body is the presentation order.
func (h *TestHandler) SetQuestions(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req model.SetTestQuestionsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	t, err := h.testService.SetQuestions(c.Request.Context(), id, req.QuestionIDs)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"test": t})
}

// DeleteTest godoc
// DELETE /api/v1/admin/tests/:id
// Refused once the test has recorded attempts.
func (h *TestHandler) DeleteTest(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.testService.Delete(c.Request.Context(), id); err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "test deleted successfully"})
}
