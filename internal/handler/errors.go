package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/repository"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/service"
	"github.com/stemsi/mocktest-backend/internal/testrun"
)

// errorMapping pairs a domain error with its HTTP status and code.
type errorMapping struct {
	target error
	status int
	code   response.ErrCode
}

// The first match wins, so specific run errors come before model.ErrNotFound.
var errorMappings = []errorMapping{
	{testrun.ErrNotFound, http.StatusNotFound, response.ErrTestNotFound},
	{testrun.ErrRunNotFound, http.StatusNotFound, response.ErrRunNotFound},
	{testrun.ErrForbidden, http.StatusForbidden, response.ErrForbidden},
	{testrun.ErrUnauthenticated, http.StatusUnauthorized, response.ErrUnauthenticated},
	{testrun.ErrSubmitInProgress, http.StatusConflict, response.ErrSubmitInProgress},
	{testrun.ErrPersistence, http.StatusServiceUnavailable, response.ErrPersistenceFailed},
	{testrun.ErrNotActive, http.StatusConflict, response.ErrRunNotActive},
	{testrun.ErrUnknownQuestion, http.StatusBadRequest, response.ErrUnknownQuestion},
	{testrun.ErrUnknownOption, http.StatusBadRequest, response.ErrUnknownOption},
	{testrun.ErrIndexOutOfRange, http.StatusBadRequest, response.ErrIndexOutOfRange},

	{service.ErrInvalidCredentials, http.StatusUnauthorized, response.ErrInvalidCredentials},
	{service.ErrEmailTaken, http.StatusConflict, response.ErrEmailTaken},
	{service.ErrSessionInvalidated, http.StatusUnauthorized, response.ErrSessionInvalidated},
	{service.ErrSingleNeedsOneCorrect, http.StatusBadRequest, response.ErrInvalidAnswer},
	{service.ErrMultipleNeedsOneCorrect, http.StatusBadRequest, response.ErrInvalidAnswer},
	{service.ErrQuestionsOutsideSubject, http.StatusBadRequest, response.ErrQuestionsMismatch},
	{service.ErrParentOutsideChannel, http.StatusBadRequest, response.ErrParentOutsideChannel},
	{service.ErrNotMessageOwner, http.StatusForbidden, response.ErrActionForbidden},

	{repository.ErrDuplicate, http.StatusConflict, response.ErrConflict},
	{repository.ErrInUse, http.StatusConflict, response.ErrDependencyExists},
	{model.ErrNotFound, http.StatusNotFound, response.ErrNotFound},
}

// classify returns the status and code for err, falling back to 500.
func classify(err error) (int, response.ErrCode) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failWith writes the envelope for err. Unexpected errors are logged.
func failWith(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}

// paramID parses a UUID path parameter, answering 400 when it is malformed.
func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
