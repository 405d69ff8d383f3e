package middleware

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type profileStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.Profile
}

func (s *profileStore) Create(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = uuid.New()
	cp := *p
	s.byID[p.ID] = &cp
	return nil
}

func (s *profileStore) GetByID(_ context.Context, id uuid.UUID) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, model.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *profileStore) GetByEmail(context.Context, string) (*model.Profile, error) {
	return nil, model.ErrNotFound
}

func (s *profileStore) UpdateDetails(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.byID[p.ID] = &cp
	return nil
}

type env struct {
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	auth     *service.AuthService
	profiles *service.ProfileService
	store    *profileStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := &profileStore{byID: make(map[uuid.UUID]*model.Profile)}
	cfg := &config.Config{JWTSecret: "secret", JWTExpiry: time.Hour, BcryptCost: bcrypt.MinCost}
	return &env{
		mr:       mr,
		rdb:      rdb,
		auth:     service.NewAuthService(cfg, rdb, store, zerolog.Nop()),
		profiles: service.NewProfileService(store, zerolog.Nop()),
		store:    store,
	}
}

func (e *env) login(t *testing.T, role model.Role) (*model.Profile, string) {
	t.Helper()
	p, err := e.auth.CreateAccount(context.Background(), uuid.NewString()+"@example.com", "password1", "User", role)
	require.NoError(t, err)
	token, err := e.auth.IssueToken(context.Background(), p)
	require.NoError(t, err)
	return p, token
}

func ok(c *gin.Context) { c.String(http.StatusOK, "ok") }

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireStudentJWT(t *testing.T) {
	e := newEnv(t)
	r := gin.New()
	r.GET("/s", RequireStudentJWT(e.auth), CheckSingleDeviceSession(e.auth), ok)

	_, student := e.login(t, model.RoleStudent)
	_, admin := e.login(t, model.RoleAdmin)

	assert.Equal(t, http.StatusOK, do(r, "/s", student).Code)

	w := do(r, "/s", admin)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "STUDENT_ACCESS_ONLY")

	w = do(r, "/s", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_REQUIRED")

	w = do(r, "/s", "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_INVALID")
}

func TestCheckSingleDeviceSession_RejectsReplacedLogin(t *testing.T) {
	e := newEnv(t)
	r := gin.New()
	r.GET("/me", RequireJWT(e.auth), CheckSingleDeviceSession(e.auth), ok)

	p, first := e.login(t, model.RoleStudent)
	_, err := e.auth.IssueToken(context.Background(), p)
	require.NoError(t, err)

	w := do(r, "/me", first)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "SESSION_INVALIDATED")
}

func TestRequireWSAuth_UsesQueryToken(t *testing.T) {
	e := newEnv(t)
	r := gin.New()
	r.GET("/ws", RequireWSAuth(e.auth, ""), ok)

	_, token := e.login(t, model.RoleAdmin)
	assert.Equal(t, http.StatusOK, do(r, "/ws?token="+token, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/ws", token).Code)
}

func TestRequireCompleteProfile(t *testing.T) {
	e := newEnv(t)
	r := gin.New()
	r.GET("/run", RequireJWT(e.auth), RequireCompleteProfile(e.profiles), ok)

	p, token := e.login(t, model.RoleStudent)
	w := do(r, "/run", token)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "PROFILE_INCOMPLETE")

	p.PhoneNumber, p.City, p.Pincode, p.TargetExam = "+911234567890", "Pune", "411001", "JEE"
	require.NoError(t, e.store.UpdateDetails(context.Background(), p))
	assert.Equal(t, http.StatusOK, do(r, "/run", token).Code)

	_, admin := e.login(t, model.RoleAdmin)
	assert.Equal(t, http.StatusOK, do(r, "/run", admin).Code)
}

func TestRateLimiter_BlocksAfterBudget(t *testing.T) {
	e := newEnv(t)
	rl := NewRateLimiter(e.rdb, "auth", 2, time.Minute, zerolog.Nop())
	fixed := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	r := gin.New()
	r.GET("/login", rl.Middleware(), ok)

	assert.Equal(t, http.StatusOK, do(r, "/login", "").Code)
	w := do(r, "/login", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = do(r, "/login", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"), "seconds left in the window")

	rl.now = func() time.Time { return fixed.Add(time.Minute) }
	assert.Equal(t, http.StatusOK, do(r, "/login", "").Code, "new window resets the budget")
}

func TestRateLimiter_FailsOpenWithoutRedis(t *testing.T) {
	e := newEnv(t)
	rl := NewRateLimiter(e.rdb, "auth", 1, time.Minute, zerolog.Nop())
	e.mr.Close()

	r := gin.New()
	r.GET("/login", rl.Middleware(), ok)
	assert.Equal(t, http.StatusOK, do(r, "/login", "").Code)
	assert.Equal(t, http.StatusOK, do(r, "/login", "").Code)
}

func TestCompress(t *testing.T) {
	large := strings.Repeat("mock test ", 500)

	r := gin.New()
	r.Use(Compress(CompressOptions{}))
	r.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, large) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "tiny") })
	r.GET("/report.csv", func(c *gin.Context) { c.Data(http.StatusOK, "text/csv", []byte(large)) })

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Accept-Encoding", "gzip, br")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := get("/large")
	require.Equal(t, "br", w.Header().Get("Content-Encoding"))
	body, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, large, string(body))

	w = get("/small")
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "tiny", w.Body.String())

	w = get("/report.csv")
	assert.Empty(t, w.Header().Get("Content-Encoding"), "csv is sent as-is")
	assert.Equal(t, large, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/large", nil)
	req.Header.Set("Accept-Encoding", "br;q=0, gzip")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
}

func TestCacheHeaders(t *testing.T) {
	r := gin.New()
	r.GET("/cached", CacheControl(60), ok)
	r.GET("/live", NoStore(), ok)

	assert.Equal(t, "private, max-age=60", do(r, "/cached", "").Header().Get("Cache-Control"))
	assert.Equal(t, "no-store", do(r, "/live", "").Header().Get("Cache-Control"))
}
