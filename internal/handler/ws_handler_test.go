package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/testrun"
	ws "github.com/stemsi/mocktest-backend/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type streamEvent struct {
	Event     ws.Event         `json:"event"`
	State     testrun.Snapshot `json:"state"`
	Index     int              `json:"index"`
	AttemptID uuid.UUID        `json:"attempt_id"`
	Code      string           `json:"code"`
	Question  struct {
		ID uuid.UUID `json:"id"`
	} `json:"question"`
}

func newStreamServer(t *testing.T, e *runEnv) *httptest.Server {
	t.Helper()
	h := NewWSHandler(e.handler, nil, zerolog.Nop(), nil)
	r := gin.New()
	r.Use(fakeAuth)
	r.GET("/runs/:run_id/stream", h.RunStream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dialRun(t *testing.T, srv *httptest.Server, runID, user uuid.UUID) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/runs/" + runID.String() + "/stream"
	header := http.Header{}
	header.Set("X-User", user.String())
	return websocket.DefaultDialer.Dial(url, header)
}

// next returns the first event of the wanted kind, skipping countdown states.
func next(t *testing.T, conn *websocket.Conn, want ws.Event) streamEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev streamEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Event == want {
			return ev
		}
	}
}

func TestRunStream_DrivesRun(t *testing.T) {
	e := newRunEnv(t)
	user := uuid.New()
	run := startRun(t, e, user)
	srv := newStreamServer(t, e)

	conn, _, err := dialRun(t, srv, run.Run.RunID, user)
	require.NoError(t, err)
	defer conn.Close()

	single := e.paper.Questions[0]
	require.NoError(t, conn.WriteJSON(ws.RequestPayload{
		Action: ws.ActionSelect, QuestionID: single.ID, OptionID: single.Options[0].ID,
	}))
	for {
		ev := next(t, conn, ws.EventState)
		if ev.State.Answered == 1 {
			break
		}
	}

	idx := 1
	require.NoError(t, conn.WriteJSON(ws.RequestPayload{Action: ws.ActionGoto, Index: &idx}))
	q := next(t, conn, ws.EventQuestion)
	assert.Equal(t, 1, q.Index)
	assert.Equal(t, e.paper.Questions[1].ID, q.Question.ID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	bad := next(t, conn, ws.EventError)
	assert.Equal(t, string(response.ErrInvalidPayload), bad.Code)

	require.NoError(t, conn.WriteJSON(ws.RequestPayload{Action: "shout"}))
	unknown := next(t, conn, ws.EventError)
	assert.Equal(t, string(response.ErrValidation), unknown.Code)

	require.NoError(t, conn.WriteJSON(ws.RequestPayload{Action: ws.ActionPing}))
	next(t, conn, ws.EventPong)

	require.NoError(t, conn.WriteJSON(ws.RequestPayload{Action: ws.ActionSubmit}))
	done := next(t, conn, ws.EventSubmitted)
	assert.NotEqual(t, uuid.Nil, done.AttemptID)
	assert.Equal(t, 1, e.store.count())

	require.NoError(t, conn.WriteJSON(ws.RequestPayload{
		Action: ws.ActionSelect, QuestionID: single.ID, OptionID: single.Options[1].ID,
	}))
	closed := next(t, conn, ws.EventError)
	assert.Equal(t, string(response.ErrRunNotActive), closed.Code)
}

func TestRunStream_RejectsOtherUsers(t *testing.T) {
	e := newRunEnv(t)
	run := startRun(t, e, uuid.New())
	srv := newStreamServer(t, e)

	_, resp, err := dialRun(t, srv, run.Run.RunID, uuid.New())
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
