package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/middleware"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/service"
	"github.com/stemsi/mocktest-backend/internal/testrun"
	"github.com/stemsi/mocktest-backend/internal/validator"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

// ─── Fakes ───────────────────────────────────────────────────────────────────

type paperSource map[uuid.UUID]*model.TestPaper

func (p paperSource) GetPaper(_ context.Context, id uuid.UUID) (*model.TestPaper, error) {
	paper, ok := p[id]
	if !ok {
		return nil, fmt.Errorf("test %s: %w", id, model.ErrNotFound)
	}
	return paper, nil
}

type attemptSink struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.Attempt
}

func newAttemptSink() *attemptSink {
	return &attemptSink{byID: make(map[uuid.UUID]*model.Attempt)}
}

func (s *attemptSink) InsertAttempt(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[a.ID]; !ok {
		cp := *a
		s.byID[a.ID] = &cp
	}
	return nil
}

func (s *attemptSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// identities treats every user as signed in except those listed in anonymous.
type identities struct {
	anonymous map[uuid.UUID]bool
}

func (i identities) IdentityFor(userID uuid.UUID) testrun.Identity {
	if i.anonymous[userID] {
		return testrun.IdentityFunc(func(context.Context) (uuid.UUID, bool) { return uuid.Nil, false })
	}
	return testrun.StaticIdentity(userID)
}

// ─── Fixture ─────────────────────────────────────────────────────────────────

func option(q uuid.UUID, text string, correct bool) model.Option {
	return model.Option{ID: uuid.New(), QuestionID: q, Text: text, IsCorrect: correct}
}

// newPaper builds a single-select question (first option correct) followed by
// a multi-select question (first two options correct).
func newPaper() *model.TestPaper {
	q1, q2 := uuid.New(), uuid.New()
	return &model.TestPaper{
		Test: model.Test{ID: uuid.New(), Title: "Mechanics", DurationMinutes: 10, QuestionCount: 2},
		Questions: []model.Question{
			{ID: q1, Title: "Unit of force", Topic: "Mechanics", Options: []model.Option{
				option(q1, "Newton", true), option(q1, "Joule", false),
			}},
			{ID: q2, Title: "Vector quantities", Topic: "Kinematics", Multiple: true, Options: []model.Option{
				option(q2, "Velocity", true), option(q2, "Force", true), option(q2, "Mass", false),
			}},
		},
	}
}

type runEnv struct {
	paper    *model.TestPaper
	store    *attemptSink
	runs     *testrun.Manager
	identity identities
	handler  *RunHandler
	router   *gin.Engine
}

func newRunEnv(t *testing.T) *runEnv {
	t.Helper()
	paper := newPaper()
	store := newAttemptSink()
	runs := testrun.NewManager(testrun.Deps{
		Papers: paperSource{paper.Test.ID: paper},
		Store:  store,
	}, 0)
	t.Cleanup(runs.Shutdown)

	ids := identities{anonymous: map[uuid.UUID]bool{}}
	h := NewRunHandler(runs, ids, zerolog.Nop())

	r := gin.New()
	r.Use(fakeAuth)
	r.POST("/tests/:id/runs", h.Start)
	r.GET("/runs/:run_id", h.Get)
	r.GET("/runs/:run_id/questions", h.Questions)
	r.GET("/runs/:run_id/question", h.Current)
	r.PUT("/runs/:run_id/cursor", h.MoveCursor)
	r.PUT("/runs/:run_id/selections", h.Select)
	r.POST("/runs/:run_id/submit", h.Submit)

	return &runEnv{paper: paper, store: store, runs: runs, identity: ids, handler: h, router: r}
}

// fakeAuth stands in for the JWT middleware: the X-User header carries the
// caller's id.
func fakeAuth(c *gin.Context) {
	if id, err := uuid.Parse(c.GetHeader("X-User")); err == nil {
		c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: id, TokenType: service.TokenTypeStudent})
	}
	c.Next()
}

// ─── HTTP helpers ────────────────────────────────────────────────────────────

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func call(t *testing.T, r http.Handler, method, path string, user uuid.UUID, body any) (int, envelope, string) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		req.Header.Set("X-User", user.String())
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env, w.Body.String()
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}
