package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/middleware"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/service"
	"github.com/stemsi/mocktest-backend/internal/testrun"
	ws "github.com/stemsi/mocktest-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams test runs and chat channels.
type WSHandler struct {
	runs        *RunHandler
	chatService *service.ChatService
	log         zerolog.Logger
	upgrader    websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. Runs are resolved the same way as
// on the HTTP run endpoints.
func NewWSHandler(runs *RunHandler, chatService *service.ChatService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		runs:        runs,
		chatService: chatService,
		log:         log.With().Str("component", "ws_handler").Logger(),
		upgrader:    buildUpgrader(allowedOrigins),
	}
}

// writeFailure sends err as a stream error event.
func writeFailure(conn *ws.Conn, err error) {
	_, code := classify(err)
	_ = conn.WriteError(string(code), response.GetMessage(code))
}

// logReadEnd logs how a stream reader ended.
func logReadEnd(log zerolog.Logger, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		log.Warn().Err(err).Msg("Unexpected close")
		return
	}
	log.Debug().Msg("Connection closed")
}

// RunStream godoc
// WS /ws/v1/runs/:run_id/stream
// Pushes a state event after every change and countdown tick, and accepts
// select, goto, submit and ping actions.
func (h *WSHandler) RunStream(c *gin.Context) {
	s, ok := h.runs.session(c)
	if !ok {
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Str("run_id", s.ID().String()).
		Str("user_id", middleware.GetClaims(c).UserID.String()).
		Logger()
	wsLog.Info().Msg("Run stream connected")

	done := make(chan struct{})
	defer close(done)
	go conn.KeepAlive(done)

	snaps, cancel := s.Subscribe()
	defer cancel()
	go func() {
		for {
			select {
			case <-done:
				return
			case snap := <-snaps:
				if err := conn.WriteTyped(ws.StateResponse{Event: ws.EventState, State: snap}); err != nil {
					return
				}
			}
		}
	}()

	ctx := c.Request.Context()
	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if ws.IsPayloadError(err) {
				_ = conn.WriteError(string(response.ErrInvalidPayload), err.Error())
				continue
			}
			logReadEnd(wsLog, err)
			return
		}

		switch msg.Action {
		case ws.ActionSelect:
			if _, err := s.Select(ctx, msg.QuestionID, msg.OptionID); err != nil {
				writeFailure(conn, err)
			}
		case ws.ActionGoto:
			h.handleGoto(conn, s, msg.Index)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, conn, wsLog, s)
		case ws.ActionPing:
			_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			_ = conn.WriteError(string(response.ErrValidation), "unknown action: "+string(msg.Action))
		}
	}
}

// handleGoto moves the cursor and answers with the question now under it.
func (h *WSHandler) handleGoto(conn *ws.Conn, s *testrun.Session, index *int) {
	if index == nil {
		_ = conn.WriteError(string(response.ErrValidation), "index is required")
		return
	}
	if _, err := s.Goto(*index); err != nil {
		writeFailure(conn, err)
		return
	}

	i, q, err := s.Current()
	if err != nil {
		writeFailure(conn, err)
		return
	}
	_ = conn.WriteTyped(ws.QuestionResponse{Event: ws.EventQuestion, Index: i, Question: q})
}

// handleSubmit grades the run. Automatic submission at time-out reaches the
// client as a SUBMITTED state event instead.
func (h *WSHandler) handleSubmit(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, s *testrun.Session) {
	attempt, err := s.Submit(ctx)
	if err != nil {
		if !testrun.IsClientError(err) {
			wsLog.Error().Err(err).Msg("Submit failed")
		}
		writeFailure(conn, err)
		return
	}

	wsLog.Info().
		Float64("score", attempt.Score).
		Int("correct", attempt.Summary.Correct).
		Int("total", attempt.Summary.Total).
		Msg("Run submitted")

	_ = conn.WriteTyped(ws.SubmittedResponse{
		Event:     ws.EventSubmitted,
		AttemptID: attempt.ID,
		Score:     attempt.Score,
		Summary:   attempt.Summary,
	})
}

// ChatStream godoc
// WS /ws/v1/chat/channels/:id/stream
// Relays every message, deletion and reaction of one channel.
func (h *WSHandler) ChatStream(c *gin.Context) {
	channelID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if _, err := h.chatService.GetChannel(c.Request.Context(), channelID); err != nil {
		failWith(c, h.log, err)
		return
	}

	ctx, stop := context.WithCancel(c.Request.Context())
	defer stop()
	events, cancel, err := h.chatService.Subscribe(ctx, channelID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	defer cancel()

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	wsLog := h.log.With().Str("channel_id", channelID.String()).Logger()

	done := make(chan struct{})
	defer close(done)
	go conn.KeepAlive(done)

	go func() {
		for ev := range events {
			if err := conn.WriteTyped(ws.ChatResponse{Event: ws.EventChat, Chat: ev}); err != nil {
				stop()
				return
			}
		}
	}()

	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if ws.IsPayloadError(err) {
				_ = conn.WriteError(string(response.ErrInvalidPayload), err.Error())
				continue
			}
			logReadEnd(wsLog, err)
			return
		}
		if msg.Action == ws.ActionPing {
			_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		}
	}
}
