package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/service"
)

// CatalogHandler serves the learner-facing subject and test listings.
type CatalogHandler struct {
	subjectService *service.SubjectService
	testService    *service.TestService
	log            zerolog.Logger
}

func NewCatalogHandler(subjectService *service.SubjectService, testService *service.TestService, log zerolog.Logger) *CatalogHandler {
	return &CatalogHandler{
		subjectService: subjectService,
		testService:    testService,
		log:            log.With().Str("component", "catalog_handler").Logger(),
	}
}

// ListSubjects godoc
// GET /api/v1/student/subjects
func (h *CatalogHandler) ListSubjects(c *gin.Context) {
	subjects, err := h.subjectService.GetAll(c.Request.Context())
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"subjects": subjects})
}

// ListTests godoc
// GET /api/v1/student/subjects/:id/tests
// Only tests with at least one question are listed.
func (h *CatalogHandler) ListTests(c *gin.Context) {
	subjectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if _, err := h.subjectService.Get(c.Request.Context(), subjectID); err != nil {
		failWith(c, h.log, err)
		return
	}
	tests, err := h.testService.ListForLearner(c.Request.Context(), subjectID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"tests": tests})
}

// GetTest godoc
// GET /api/v1/student/tests/:id
func (h *CatalogHandler) GetTest(c *gin.Context) {
	testID, ok := paramID(c, "id")
	if !ok {
		return
	}

	test, err := h.testService.Get(c.Request.Context(), testID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"test": test})
}
