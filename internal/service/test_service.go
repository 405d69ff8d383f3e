package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/model"
	"golang.org/x/sync/singleflight"
)

// ErrQuestionsOutsideSubject is returned when a test is given questions of another subject.
var ErrQuestionsOutsideSubject = errors.New("questions must belong to the test's subject")

// TestStore is the test persistence TestService needs.
type TestStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error)
	ListBySubject(ctx context.Context, subjectID uuid.UUID, playableOnly bool) ([]model.Test, error)
	Create(ctx context.Context, t *model.Test) error
	Update(ctx context.Context, t *model.Test) error
	Delete(ctx context.Context, id uuid.UUID) error
	SetQuestions(ctx context.Context, testID uuid.UUID, questionIDs []uuid.UUID) error
}

// PaperQuestionStore loads the questions that make up a paper.
type PaperQuestionStore interface {
	ListByTest(ctx context.Context, testID uuid.UUID) ([]model.Question, error)
	CountInSubject(ctx context.Context, subjectID uuid.UUID, ids []uuid.UUID) (int, error)
}

// TestService manages tests and serves their papers through a Redis cache.
// Concurrent misses for the same test are coalesced into one database load.
type TestService struct {
	tests     TestStore
	questions PaperQuestionStore
	rdb       *redis.Client
	ttl       time.Duration
	sf        singleflight.Group
	log       zerolog.Logger
}

// NewTestService creates a new TestService.
func NewTestService(tests TestStore, questions PaperQuestionStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *TestService {
	return &TestService{
		tests:     tests,
		questions: questions,
		rdb:       rdb,
		ttl:       ttl,
		log:       log.With().Str("component", "test_service").Logger(),
	}
}

// GetPaper returns a test with its ordered questions and answer key.
// A missing test yields an error wrapping model.ErrNotFound.
func (s *TestService) GetPaper(ctx context.Context, testID uuid.UUID) (*model.TestPaper, error) {
	key := config.CacheKey.TestPaperKey(testID)

	if paper, ok := s.cachedPaper(ctx, key); ok {
		return paper, nil
	}

	v, err, _ := s.sf.Do(testID.String(), func() (interface{}, error) {
		// One caller giving up must not fail the others sharing this load.
		loadCtx := context.WithoutCancel(ctx)

		if paper, ok := s.cachedPaper(loadCtx, key); ok {
			return paper, nil
		}

		test, err := s.tests.GetByID(loadCtx, testID)
		if err != nil {
			return nil, err
		}
		questions, err := s.questions.ListByTest(loadCtx, testID)
		if err != nil {
			return nil, fmt.Errorf("load questions: %w", err)
		}
		test.QuestionCount = len(questions)
		paper := &model.TestPaper{Test: *test, Questions: questions}

		if len(questions) > 0 {
			if data, err := json.Marshal(paper); err == nil {
				if err := s.rdb.Set(loadCtx, key, data, s.ttlWithJitter()).Err(); err != nil {
					s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Failed to cache paper")
				}
			}
		}
		return paper, nil
	})
	if err != nil {
		return nil, err
	}

	// Callers may reorder questions, so each gets its own slice.
	shared := v.(*model.TestPaper)
	paper := *shared
	paper.Questions = append([]model.Question(nil), shared.Questions...)
	return &paper, nil
}

func (s *TestService) cachedPaper(ctx context.Context, key string) (*model.TestPaper, bool) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("key", key).Msg("Paper cache read failed")
		}
		return nil, false
	}

	var paper model.TestPaper
	if err := json.Unmarshal(data, &paper); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Dropping corrupt cached paper")
		_ = s.rdb.Del(ctx, key).Err()
		return nil, false
	}
	return &paper, true
}

// ttlWithJitter spreads expiry by up to 10% so papers cached together do not
// all expire at once.
func (s *TestService) ttlWithJitter() time.Duration {
	if s.ttl <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(s.ttl/10) + 1))
	return s.ttl + jitter
}

// Invalidate drops the cached papers of the given tests.
func (s *TestService) Invalidate(ctx context.Context, testIDs ...uuid.UUID) {
	if len(testIDs) == 0 {
		return
	}
	keys := make([]string, len(testIDs))
	for i, id := range testIDs {
		keys[i] = config.CacheKey.TestPaperKey(id)
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.log.Warn().Err(err).Int("count", len(keys)).Msg("Failed to invalidate papers")
	}
}

// ListForLearner returns the tests of a subject that have at least one question.
func (s *TestService) ListForLearner(ctx context.Context, subjectID uuid.UUID) ([]model.Test, error) {
	return s.tests.ListBySubject(ctx, subjectID, true)
}

// ListBySubject returns every test of a subject.
func (s *TestService) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]model.Test, error) {
	return s.tests.ListBySubject(ctx, subjectID, false)
}

// Get retrieves a test.
func (s *TestService) Get(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	return s.tests.GetByID(ctx, id)
}

// Create inserts a new test.
func (s *TestService) Create(ctx context.Context, req model.CreateTestRequest) (*model.Test, error) {
	t := &model.Test{
		SubjectID:       req.SubjectID,
		Title:           req.Title,
		DurationMinutes: req.DurationMinutes,
		Shuffle:         req.Shuffle,
	}
	if err := s.tests.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Update applies the non-empty fields of req.
func (s *TestService) Update(ctx context.Context, id uuid.UUID, req model.UpdateTestRequest) (*model.Test, error) {
	t, err := s.tests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Title != "" {
		t.Title = req.Title
	}
	if req.DurationMinutes > 0 {
		t.DurationMinutes = req.DurationMinutes
	}
	if req.Shuffle != nil {
		t.Shuffle = *req.Shuffle
	}
	if err := s.tests.Update(ctx, t); err != nil {
		return nil, err
	}
	s.Invalidate(ctx, id)
	return t, nil
}

// Delete removes a test.
func (s *TestService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.tests.Delete(ctx, id); err != nil {
		return err
	}
	s.Invalidate(ctx, id)
	return nil
}

// SetQuestions replaces the ordered question list of a test.
func (s *TestService) SetQuestions(ctx context.Context, id uuid.UUID, questionIDs []uuid.UUID) (*model.Test, error) {
	t, err := s.tests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	n, err := s.questions.CountInSubject(ctx, t.SubjectID, questionIDs)
	if err != nil {
		return nil, err
	}
	if n != len(questionIDs) {
		return nil, ErrQuestionsOutsideSubject
	}

	if err := s.tests.SetQuestions(ctx, id, questionIDs); err != nil {
		return nil, err
	}
	s.Invalidate(ctx, id)

	t.QuestionCount = len(questionIDs)
	s.log.Info().Str("test_id", id.String()).Int("questions", n).Msg("Test questions replaced")
	return t, nil
}
