//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/google/uuid"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/database"
	"github.com/stemsi/mocktest-backend/internal/importer"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/repository"
	"github.com/stemsi/mocktest-backend/internal/service"
	"github.com/stemsi/mocktest-backend/internal/testrun"
	"github.com/stemsi/mocktest-backend/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const bank = `
subject: {key: PHYS, name: Physics}
questions:
  - ref: unit
    title: SI unit of force
    topic: Mechanics
    difficulty: 1
    options:
      - {text: Newton, correct: true}
      - {text: Joule}
  - ref: vectors
    title: Pick the vector quantities
    topic: Mechanics
    difficulty: 2
    multiple: true
    options:
      - {text: Velocity, correct: true}
      - {text: Force, correct: true}
      - {text: Mass}
  - ref: ohm
    title: V = I x ?
    topic: Electricity
    difficulty: 1
    options:
      - {text: R, correct: true}
      - {text: C}
tests:
  - {title: Physics basics, duration_minutes: 15}
`

type stack struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	auth     *service.AuthService
	tests    *service.TestService
	attempts *service.AttemptService
	repo     *repository.AttemptRepository
	testRepo *repository.TestRepository
	importer *importer.Importer
}

func TestRunSubmitPersistsAttempt(t *testing.T) {
	ctx := context.Background()
	st := newStack(t, ctx)

	b, err := importer.Parse(strings.NewReader(bank))
	require.NoError(t, err)
	res, err := st.importer.Import(ctx, b)
	require.NoError(t, err)
	require.True(t, res.SubjectCreated)
	require.Equal(t, 3, res.Questions)

	tests, err := st.tests.ListForLearner(ctx, res.SubjectID)
	require.NoError(t, err)
	require.Len(t, tests, 1)
	testID := tests[0].ID

	learner, err := st.auth.CreateAccount(ctx, "ada@example.com", "password123", "Ada", model.RoleStudent)
	require.NoError(t, err)
	_, _, err = st.auth.Login(ctx, model.LoginRequest{Email: "ada@example.com", Password: "password123"})
	require.NoError(t, err)

	runs := testrun.NewManager(testrun.Deps{
		Papers:      st.tests,
		Store:       st.attempts,
		Recorder:    testrun.NewRedisRecorder(st.rdb),
		Log:         zerolog.Nop(),
		SnapshotTTL: time.Minute,
	}, time.Minute)
	defer runs.Shutdown()

	identity := st.auth.IdentityFor(learner.ID)
	s, err := runs.Start(ctx, identity, testID)
	require.NoError(t, err)

	paper, err := st.tests.GetPaper(ctx, testID)
	require.NoError(t, err)

	// Answer the first two questions correctly and the third one wrong.
	for _, q := range paper.Questions[:2] {
		for _, o := range q.Options {
			if o.IsCorrect {
				_, err := s.Select(ctx, q.ID, o.ID)
				require.NoError(t, err)
			}
		}
	}
	last := paper.Questions[2]
	for _, o := range last.Options {
		if !o.IsCorrect {
			_, err := s.Select(ctx, last.ID, o.ID)
			require.NoError(t, err)
		}
	}

	attempt, err := s.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, attempt.Summary.Correct)
	assert.Equal(t, 3, attempt.Summary.Total)

	again, err := s.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, again.ID)

	history, err := st.attempts.History(ctx, learner.ID)
	require.NoError(t, err)
	require.Len(t, history.Attempts, 1)
	assert.Equal(t, attempt.ID, history.Attempts[0].ID)

	result, err := st.attempts.Result(ctx, learner.ID, attempt.ID)
	require.NoError(t, err)
	require.NotNil(t, result.Attempt.Result)
	assert.NotEmpty(t, result.WeakAreas)

	review, err := st.attempts.Review(ctx, learner.ID, attempt.ID)
	require.NoError(t, err)
	require.Len(t, review.Questions, 3)
	for _, q := range review.Questions {
		assert.True(t, q.Available)
		assert.True(t, q.Answered)
		assert.NotEmpty(t, q.Title)
	}

	// The worker moves the queued answer rows into attempt_answers.
	wctx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		worker.NewAnswerRowsWorker(st.repo, st.rdb, zerolog.Nop()).Start(wctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		rows, err := st.repo.ListAnswerRows(ctx, attempt.ID)
		return err == nil && len(rows) == 3
	}, 10*time.Second, 100*time.Millisecond)
	stop()
	<-done

	// A test with recorded attempts cannot be deleted.
	err = st.tests.Delete(ctx, testID)
	assert.True(t, errors.Is(err, repository.ErrInUse), "got %v", err)

	var csv strings.Builder
	n, err := st.attempts.ExportCSV(ctx, &csv, model.AttemptFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, csv.String(), "Physics basics")

	// A row written by a newer release still lists, without its payload.
	futureID := uuid.New()
	_, err = st.pool.Exec(ctx,
		`INSERT INTO attempts (id, user_id, test_id, started_at, submitted_at, score, total_marks, summary, result)
		 SELECT $1, user_id, test_id, started_at, submitted_at, score, total_marks, summary, '{"schema_version": 99}'::jsonb
		 FROM attempts WHERE id = $2`, futureID, attempt.ID)
	require.NoError(t, err)

	listed, err := st.repo.ListByUser(ctx, learner.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, a := range listed {
		if a.ID == futureID {
			assert.Nil(t, a.Result)
		} else {
			assert.NotNil(t, a.Result)
		}
	}
	_, err = st.repo.GetByID(ctx, futureID)
	assert.ErrorIs(t, err, model.ErrUnsupportedSchema)
}

func newStack(t *testing.T, ctx context.Context) *stack {
	t.Helper()

	pgURL := startContainer(t, ctx, tc.ContainerRequest{
		Image: "postgres:16-alpine",
		Env: map[string]string{
			"POSTGRES_USER":     "mocktest",
			"POSTGRES_PASSWORD": "mocktest_secret",
			"POSTGRES_DB":       "mocktest",
		},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}, "postgres://mocktest:mocktest_secret@%s/mocktest?sslmode=disable")

	redisURL := startContainer(t, ctx, tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}, "redis://%s/0")

	m, err := migrate.New("file://../../migrations", pgURL)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	_, _ = m.Close()

	cfg := &config.Config{
		DatabaseURL: pgURL,
		MaxDBConns:  4,
		RedisURL:    redisURL,
		JWTSecret:   "integration-secret",
		JWTExpiry:   time.Hour,
		BcryptCost:  4,
	}
	log := zerolog.New(io.Discard)

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	subjectRepo := repository.NewSubjectRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	testRepo := repository.NewTestRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool, log)

	return &stack{
		pool:     pool,
		rdb:      rdb,
		auth:     service.NewAuthService(cfg, rdb, repository.NewProfileRepository(pool), log),
		tests:    service.NewTestService(testRepo, questionRepo, rdb, time.Minute, log),
		attempts: service.NewAttemptService(attemptRepo, questionRepo, rdb, log),
		repo:     attemptRepo,
		testRepo: testRepo,
		importer: importer.New(pool, subjectRepo, questionRepo, testRepo, log),
	}
}

// startContainer runs req and formats its first exposed port's host:port
// into urlFormat.
func startContainer(t *testing.T, ctx context.Context, req tc.ContainerRequest, urlFormat string) string {
	t.Helper()

	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start %s: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return fmt.Sprintf(urlFormat, endpoint)
}
