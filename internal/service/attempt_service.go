package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/analytics"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/response"
)

// AttemptRepo is the attempt persistence AttemptService needs.
type AttemptRepo interface {
	Insert(ctx context.Context, a *model.Attempt) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Attempt, error)
	ListFiltered(ctx context.Context, f model.AttemptFilter) ([]model.Attempt, int, error)
	ListAll(ctx context.Context, f model.AttemptFilter) ([]model.Attempt, error)
}

// ReviewQuestions loads the current questions of a test with their options.
type ReviewQuestions interface {
	ListByTest(ctx context.Context, testID uuid.UUID) ([]model.Question, error)
}

// AttemptHistory is a learner's attempts with aggregate stats.
type AttemptHistory struct {
	Attempts []model.Attempt        `json:"attempts"`
	Stats    analytics.AttemptStats `json:"stats"`
}

// AttemptResult is one attempt with its per-topic breakdown.
type AttemptResult struct {
	Attempt   *model.Attempt        `json:"attempt"`
	Band      analytics.ScoreBand   `json:"band"`
	WeakAreas []analytics.TopicStat `json:"weak_areas"`
}

// CSVHeader is the column layout of the admin attempt export.
var CSVHeader = []string{"User ID", "Test", "Subject", "Score", "Correct", "Total", "Time Taken", "Submitted"}

// AttemptService stores submitted attempts and serves history and analytics.
type AttemptService struct {
	repo      AttemptRepo
	questions ReviewQuestions
	rdb       *redis.Client
	log       zerolog.Logger
	now       func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(repo AttemptRepo, questions ReviewQuestions, rdb *redis.Client, log zerolog.Logger) *AttemptService {
	return &AttemptService{
		repo:      repo,
		questions: questions,
		rdb:       rdb,
		log:       log.With().Str("component", "attempt_service").Logger(),
		now:       time.Now,
	}
}

// InsertAttempt persists a submitted attempt and queues its answer rows.
// Re-inserting the same attempt id succeeds without a second record.
func (s *AttemptService) InsertAttempt(ctx context.Context, a *model.Attempt) error {
	inserted, err := s.repo.Insert(ctx, a)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	if !inserted {
		s.log.Debug().Str("attempt_id", a.ID.String()).Msg("Attempt already stored")
		return nil
	}
	s.enqueueAnswerRows(ctx, a)
	return nil
}

// enqueueAnswerRows hands the per-question rows to the answer rows worker.
// The attempt itself is already durable, so failures are only logged.
func (s *AttemptService) enqueueAnswerRows(ctx context.Context, a *model.Attempt) {
	rows := a.AnswerRows()
	if len(rows) == 0 {
		return
	}

	values := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		raw, err := json.Marshal(row)
		if err != nil {
			s.log.Error().Err(err).Msg("Marshal answer row")
			continue
		}
		values = append(values, raw)
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistAnswerRowsQueue, values...).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to queue answer rows")
	}
}

// History returns the learner's attempts, newest first, with stats.
func (s *AttemptService) History(ctx context.Context, userID uuid.UUID) (*AttemptHistory, error) {
	attempts, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	// The listing does not need the full payload.
	for i := range attempts {
		attempts[i].Result = nil
	}
	return &AttemptHistory{Attempts: attempts, Stats: analytics.Summarize(attempts, s.now())}, nil
}

// owned loads an attempt of userID. Attempts of other users are reported as
// not found.
func (s *AttemptService) owned(ctx context.Context, userID, attemptID uuid.UUID) (*model.Attempt, error) {
	a, err := s.repo.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, fmt.Errorf("attempt %s: %w", attemptID, model.ErrNotFound)
	}
	return a, nil
}

// Result returns an attempt with its weak areas.
func (s *AttemptService) Result(ctx context.Context, userID, attemptID uuid.UUID) (*AttemptResult, error) {
	a, err := s.owned(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	return &AttemptResult{
		Attempt:   a,
		Band:      analytics.Band(a.Score),
		WeakAreas: analytics.WeakAreas(a.Result),
	}, nil
}

// Review pairs every question of a submitted attempt with its answer key and
// the learner's selection, in the order the attempt was graded.
func (s *AttemptService) Review(ctx context.Context, userID, attemptID uuid.UUID) (*model.AttemptReview, error) {
	a, err := s.owned(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	if a.SubmittedAt == nil || a.Result == nil {
		return nil, fmt.Errorf("attempt %s has no result: %w", attemptID, model.ErrNotFound)
	}

	questions, err := s.questions.ListByTest(ctx, a.TestID)
	if err != nil {
		return nil, fmt.Errorf("load review questions: %w", err)
	}
	return buildReview(a, questions), nil
}

func buildReview(a *model.Attempt, questions []model.Question) *model.AttemptReview {
	byID := make(map[uuid.UUID]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	review := &model.AttemptReview{
		AttemptID: a.ID,
		TestID:    a.TestID,
		TestTitle: a.TestTitle,
		Score:     a.Score,
		Summary:   a.Summary,
		Questions: make([]model.ReviewQuestion, 0, len(a.Result.Questions)),
	}
	for i, rq := range a.Result.Questions {
		selected := make(map[uuid.UUID]bool)
		for _, id := range a.Result.Answers[rq.ID] {
			selected[id] = true
		}
		item := model.ReviewQuestion{
			Index:      i,
			ID:         rq.ID,
			Topic:      rq.Topic,
			Difficulty: rq.Difficulty,
			Correct:    rq.Correct,
			Answered:   len(selected) > 0,
			Options:    []model.ReviewOption{},
		}
		if q, ok := byID[rq.ID]; ok {
			item.Available = true
			item.Title = q.Title
			item.Body = q.Body
			item.Multiple = q.Multiple
			for _, o := range q.Options {
				item.Options = append(item.Options, model.ReviewOption{
					ID:        o.ID,
					Text:      o.Text,
					IsCorrect: o.IsCorrect,
					Selected:  selected[o.ID],
				})
			}
		}
		review.Questions = append(review.Questions, item)
	}
	return review
}

// AdminList returns one page of attempts matching f.
func (s *AttemptService) AdminList(ctx context.Context, f model.AttemptFilter) ([]model.Attempt, *response.Pagination, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 20
	}

	attempts, total, err := s.repo.ListFiltered(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	for i := range attempts {
		attempts[i].Result = nil
	}

	return attempts, response.NewPagination(f.Page, f.PerPage, total), nil
}

// AdminStats aggregates every attempt matching f.
func (s *AttemptService) AdminStats(ctx context.Context, f model.AttemptFilter) (analytics.AttemptStats, error) {
	attempts, err := s.repo.ListAll(ctx, f)
	if err != nil {
		return analytics.AttemptStats{}, err
	}
	return analytics.Summarize(attempts, s.now()), nil
}

// ExportCSV writes every attempt matching f as CSV.
func (s *AttemptService) ExportCSV(ctx context.Context, w io.Writer, f model.AttemptFilter) (int, error) {
	attempts, err := s.repo.ListAll(ctx, f)
	if err != nil {
		return 0, err
	}
	if err := WriteAttemptsCSV(w, attempts); err != nil {
		return 0, err
	}
	return len(attempts), nil
}

// WriteAttemptsCSV renders attempts in the export layout.
func WriteAttemptsCSV(w io.Writer, attempts []model.Attempt) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}

	for i := range attempts {
		a := &attempts[i]
		total := a.Summary.Total
		if total == 0 {
			total = a.TotalMarks
		}
		submitted := a.StartedAt
		if a.SubmittedAt != nil {
			submitted = *a.SubmittedAt
		}
		record := []string{
			a.UserID.String(),
			a.TestTitle,
			a.SubjectName,
			fmt.Sprintf("%d%%", int(math.Round(a.Score))),
			fmt.Sprintf("%d", a.Summary.Correct),
			fmt.Sprintf("%d", total),
			fmt.Sprintf("%dm", int(math.Round(a.TimeTaken().Minutes()))),
			submitted.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
