package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/middleware"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/service"
	"github.com/stemsi/mocktest-backend/internal/validator"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService    *service.AuthService
	profileService *service.ProfileService
	log            zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, profileService *service.ProfileService, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		profileService: profileService,
		log:            log.With().Str("component", "auth_handler").Logger(),
	}
}

func profileBody(p *model.Profile) gin.H {
	return gin.H{
		"profile":          p,
		"profile_complete": p.IsComplete(),
	}
}

// Register godoc
// POST /api/v1/auth/register
// Creates a learner account and logs it in.
func (h *AuthHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	p, token, err := h.authService.Register(c.Request.Context(), req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	body := profileBody(p)
	body["token"] = token
	response.Success(c, http.StatusCreated, body)
}

// Login godoc
// POST /api/v1/auth/login
// Validates email + password and returns a JWT. Any older session of the
// same user stops working.
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	p, token, err := h.authService.Login(c.Request.Context(), req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	body := profileBody(p)
	body["token"] = token
	response.Success(c, http.StatusOK, body)
}

// Logout godoc
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.Logout(c.Request.Context(), claims.UserID); err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// Me godoc
// GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	p, err := h.profileService.Get(c.Request.Context(), claims.UserID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, profileBody(p))
}

// GetProfile godoc
// GET /api/v1/student/profile
func (h *AuthHandler) GetProfile(c *gin.Context) {
	h.Me(c)
}

// UpdateProfile godoc
// PUT /api/v1/student/profile
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.UpdateProfileRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	p, err := h.profileService.Update(c.Request.Context(), claims.UserID, req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, profileBody(p))
}
