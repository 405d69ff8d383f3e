package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/service"
)

// ContextKeyClaims is the Gin context key for JWT claims.
const ContextKeyClaims = "claims"

// TokenValidator turns a bearer token into claims.
type TokenValidator interface {
	ValidateToken(token string) (*service.Claims, error)
}

// tokenSource pulls a raw token out of a request, or "" when absent.
type tokenSource func(c *gin.Context) string

func bearerHeader(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func tokenQuery(c *gin.Context) string {
	return c.Query("token")
}

// RequireJWT accepts a token of any type. The ?token= fallback serves
// downloads opened in a new tab, which cannot send headers.
func RequireJWT(v TokenValidator) gin.HandlerFunc {
	return authenticate(v, "", bearerHeader, tokenQuery)
}

func RequireStudentJWT(v TokenValidator) gin.HandlerFunc {
	return authenticate(v, service.TokenTypeStudent, bearerHeader, tokenQuery)
}

func RequireAdminJWT(v TokenValidator) gin.HandlerFunc {
	return authenticate(v, service.TokenTypeAdmin, bearerHeader, tokenQuery)
}

// RequireWSAuth reads the token only from ?token=, since browsers cannot
// set headers on an upgrade request. An empty want accepts any type.
func RequireWSAuth(v TokenValidator, want service.TokenType) gin.HandlerFunc {
	return authenticate(v, want, tokenQuery)
}

func authenticate(v TokenValidator, want service.TokenType, sources ...tokenSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		var raw string
		for _, src := range sources {
			if raw = src(c); raw != "" {
				break
			}
		}
		if raw == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := v.ValidateToken(raw)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		switch {
		case want == "" || claims.TokenType == want:
		case want == service.TokenTypeAdmin:
			response.AbortFail(c, http.StatusForbidden, response.ErrAdminAccessOnly)
			return
		default:
			response.AbortFail(c, http.StatusForbidden, response.ErrStudentAccessOnly)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims returns the claims stored by the auth middleware, or nil.
func GetClaims(c *gin.Context) *service.Claims {
	claims, _ := c.Value(ContextKeyClaims).(*service.Claims)
	return claims
}
