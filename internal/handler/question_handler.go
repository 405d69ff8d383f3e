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

// QuestionHandler handles question bank endpoints.
type QuestionHandler struct {
	questionService *service.QuestionService
	log             zerolog.Logger
}

// NewQuestionHandler creates a new QuestionHandler.
func NewQuestionHandler(questionService *service.QuestionService, log zerolog.Logger) *QuestionHandler {
	return &QuestionHandler{
		questionService: questionService,
		log:             log.With().Str("component", "question_handler").Logger(),
	}
}

// ListQuestions godoc
// GET /api/v1/admin/subjects/:id/questions
// Lists the question bank of a subject, answer keys included.
func (h *QuestionHandler) ListQuestions(c *gin.Context) {
	subjectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	questions, err := h.questionService.ListBySubject(c.Request.Context(), subjectID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	if questions == nil {
		questions = []model.Question{}
	}

	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// GetQuestion godoc
// GET /api/v1/admin/questions/:id
func (h *QuestionHandler) GetQuestion(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	q, err := h.questionService.Get(c.Request.Context(), id)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question": q})
}

// CreateQuestion godoc
// POST /api/v1/admin/questions
// A single-answer question needs exactly one correct option, a
// multiple-answer question at least one.
func (h *QuestionHandler) CreateQuestion(c *gin.Context) {
	var req model.UpsertQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	q, err := h.questionService.Create(c.Request.Context(), req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"question": q})
}

// UpdateQuestion godoc
// PUT /api/v1/admin/questions/:id
// Replaces the question and all of its options.
func (h *QuestionHandler) UpdateQuestion(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req model.UpsertQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	q, err := h.questionService.Update(c.Request.Context(), id, req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question": q})
}

// DeleteQuestion godoc
// DELETE /api/v1/admin/questions/:id
func (h *QuestionHandler) DeleteQuestion(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.questionService.Delete(c.Request.Context(), id); err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "question deleted successfully"})
}
