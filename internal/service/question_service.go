package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/repository"
)

// Question validation errors.
var (
	ErrSingleNeedsOneCorrect   = errors.New("single-select question needs exactly one correct option")
	ErrMultipleNeedsOneCorrect = errors.New("multi-select question needs at least one correct option")
)

// QuestionService handles question business logic.
type QuestionService struct {
	questionRepo *repository.QuestionRepository
	tests        *TestService
	log          zerolog.Logger
}

// NewQuestionService creates a new QuestionService.
func NewQuestionService(questionRepo *repository.QuestionRepository, tests *TestService, log zerolog.Logger) *QuestionService {
	return &QuestionService{
		questionRepo: questionRepo,
		tests:        tests,
		log:          log.With().Str("component", "question_service").Logger(),
	}
}

// ValidateAnswerKey checks that the correct-option count fits the selection model.
func ValidateAnswerKey(multiple bool, options []model.OptionInput) error {
	correct := 0
	for _, o := range options {
		if o.IsCorrect {
			correct++
		}
	}
	switch {
	case multiple && correct == 0:
		return ErrMultipleNeedsOneCorrect
	case !multiple && correct != 1:
		return ErrSingleNeedsOneCorrect
	}
	return nil
}

// BuildQuestion turns a request into a question ready to store.
func BuildQuestion(req model.UpsertQuestionRequest) (*model.Question, error) {
	if err := ValidateAnswerKey(req.Multiple, req.Options); err != nil {
		return nil, err
	}
	q := &model.Question{
		SubjectID:  req.SubjectID,
		Title:      req.Title,
		Body:       req.Body,
		Topic:      req.Topic,
		Difficulty: req.Difficulty,
		Multiple:   req.Multiple,
		Options:    make([]model.Option, len(req.Options)),
	}
	for i, o := range req.Options {
		q.Options[i] = model.Option{Text: o.Text, IsCorrect: o.IsCorrect}
	}
	return q, nil
}

// ListBySubject retrieves the questions of a subject.
func (s *QuestionService) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]model.Question, error) {
	return s.questionRepo.ListBySubject(ctx, subjectID)
}

// Get retrieves a question with its options.
func (s *QuestionService) Get(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	return s.questionRepo.GetByID(ctx, id)
}

// Create validates and inserts a question.
func (s *QuestionService) Create(ctx context.Context, req model.UpsertQuestionRequest) (*model.Question, error) {
	q, err := BuildQuestion(req)
	if err != nil {
		return nil, err
	}
	if err := s.questionRepo.Create(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// Update replaces a question and refreshes every paper that uses it.
func (s *QuestionService) Update(ctx context.Context, id uuid.UUID, req model.UpsertQuestionRequest) (*model.Question, error) {
	q, err := BuildQuestion(req)
	if err != nil {
		return nil, err
	}
	q.ID = id
	if err := s.questionRepo.Update(ctx, q); err != nil {
		return nil, err
	}
	s.invalidateTestsUsing(ctx, id)
	return s.questionRepo.GetByID(ctx, id)
}

// Delete removes a question and refreshes every paper that used it.
func (s *QuestionService) Delete(ctx context.Context, id uuid.UUID) error {
	testIDs, err := s.questionRepo.TestIDsUsing(ctx, id)
	if err != nil {
		return err
	}
	if err := s.questionRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.tests.Invalidate(ctx, testIDs...)
	return nil
}

func (s *QuestionService) invalidateTestsUsing(ctx context.Context, id uuid.UUID) {
	testIDs, err := s.questionRepo.TestIDsUsing(ctx, id)
	if err != nil {
		s.log.Warn().Err(err).Str("question_id", id.String()).Msg("Could not resolve tests for cache invalidation")
		return
	}
	s.tests.Invalidate(ctx, testIDs...)
}
