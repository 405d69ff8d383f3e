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

type SubjectHandler struct {
	subjectService *service.SubjectService
	testService    *service.TestService
	log            zerolog.Logger
}

func NewSubjectHandler(subjectService *service.SubjectService, testService *service.TestService, log zerolog.Logger) *SubjectHandler {
	return &SubjectHandler{
		subjectService: subjectService,
		testService:    testService,
		log:            log.With().Str("component", "subject_handler").Logger(),
	}
}

// GetAll godoc
// GET /api/v1/admin/subjects
func (h *SubjectHandler) GetAll(c *gin.Context) {
	subjects, err := h.subjectService.GetAll(c.Request.Context())
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	if subjects == nil {
		subjects = []model.Subject{}
	}

	response.Success(c, http.StatusOK, gin.H{"subjects": subjects})
}

// Create godoc
// POST /api/v1/admin/subjects
func (h *SubjectHandler) Create(c *gin.Context) {
	var req model.CreateSubjectRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sub, err := h.subjectService.Create(c.Request.Context(), req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"subject": sub})
}

// Update godoc
// PUT /api/v1/admin/subjects/:id
func (h *SubjectHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req model.UpdateSubjectRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sub, err := h.subjectService.Update(c.Request.Context(), id, req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"subject": sub})
}

// Delete godoc
// DELETE /api/v1/admin/subjects/:id
// Refused while tests or questions still reference the subject.
func (h *SubjectHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.subjectService.Delete(c.Request.Context(), id); err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "subject deleted successfully"})
}

// Tests godoc
// GET /api/v1/admin/subjects/:id/tests
// Unlike the learner listing, tests without questions are included.
func (h *SubjectHandler) Tests(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	tests, err := h.testService.ListBySubject(c.Request.Context(), id)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"tests": tests})
}
