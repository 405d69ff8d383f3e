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

// ChatHandler handles the discussion channels.
type ChatHandler struct {
	chatService *service.ChatService
	log         zerolog.Logger
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(chatService *service.ChatService, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		log:         log.With().Str("component", "chat_handler").Logger(),
	}
}

// ListChannels godoc
// GET /api/v1/chat/channels
func (h *ChatHandler) ListChannels(c *gin.Context) {
	channels, err := h.chatService.ListChannels(c.Request.Context())
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if channels == nil {
		channels = []model.Channel{}
	}
	response.Success(c, http.StatusOK, gin.H{"channels": channels})
}

// ListMessages godoc
// GET /api/v1/chat/channels/:id/messages
// Returns the most recent messages, oldest first.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	channelID, ok := paramID(c, "id")
	if !ok {
		return
	}

	messages, err := h.chatService.ListMessages(c.Request.Context(), channelID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	response.Success(c, http.StatusOK, gin.H{"messages": messages})
}

// PostMessage godoc
// POST /api/v1/chat/channels/:id/messages
func (h *ChatHandler) PostMessage(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	channelID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req model.PostMessageRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	m, err := h.chatService.PostMessage(c.Request.Context(), claims.UserID, channelID, req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"message": m})
}

// DeleteMessage godoc
// DELETE /api/v1/chat/messages/:id
// Authors may delete their own messages; admins may delete any.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	admin := claims.TokenType == service.TokenTypeAdmin
	if err := h.chatService.DeleteMessage(c.Request.Context(), claims.UserID, id, admin); err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "message deleted successfully"})
}

// React godoc
// POST /api/v1/chat/messages/:id/reactions
// Toggles the caller's emoji on the message.
func (h *ChatHandler) React(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req model.ReactRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	added, err := h.chatService.React(c.Request.Context(), claims.UserID, id, req.Emoji)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"emoji": req.Emoji, "added": added})
}

// CreateChannel godoc
// POST /api/v1/admin/chat/channels
func (h *ChatHandler) CreateChannel(c *gin.Context) {
	var req model.CreateChannelRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ch, err := h.chatService.CreateChannel(c.Request.Context(), req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"channel": ch})
}

// DeleteChannel godoc
// DELETE /api/v1/admin/chat/channels/:id
func (h *ChatHandler) DeleteChannel(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.chatService.DeleteChannel(c.Request.Context(), id); err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "channel deleted successfully"})
}
