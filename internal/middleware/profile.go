package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/service"
)

// RequireCompleteProfile blocks learners whose profile is missing details.
// Admin tokens pass through.
func RequireCompleteProfile(profileService *service.ProfileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if claims.TokenType == service.TokenTypeAdmin {
			c.Next()
			return
		}

		complete, err := profileService.IsComplete(c.Request.Context(), claims.UserID)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
			return
		}
		if !complete {
			response.AbortFail(c, http.StatusForbidden, response.ErrProfileIncomplete)
			return
		}

		c.Next()
	}
}
