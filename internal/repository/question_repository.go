package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/mocktest-backend/internal/model"
)

// QuestionRepository handles questions and their options.
type QuestionRepository struct {
	db querier
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{db: pool}
}

// WithTx returns a copy of the repository bound to tx.
func (r *QuestionRepository) WithTx(tx pgx.Tx) *QuestionRepository {
	return &QuestionRepository{db: tx}
}

const questionColumns = `id, subject_id, title, body, topic, difficulty, multiple, created_at`

func scanQuestion(row pgx.Row, q *model.Question) error {
	return row.Scan(&q.ID, &q.SubjectID, &q.Title, &q.Body, &q.Topic, &q.Difficulty, &q.Multiple, &q.CreatedAt)
}

// ListBySubject returns every question of a subject with options, newest first.
func (r *QuestionRepository) ListBySubject(ctx context.Context, subjectID uuid.UUID) ([]model.Question, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE subject_id = $1 ORDER BY created_at DESC`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []model.Question{}
	for rows.Next() {
		var q model.Question
		if err := scanQuestion(rows, &q); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return questions, r.attachOptions(ctx, questions)
}

// GetByID retrieves a question with its options.
func (r *QuestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	q := &model.Question{}
	err := scanQuestion(r.db.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1`, id), q)
	if err != nil {
		return nil, wrapNotFound(err, fmt.Sprintf("question %s", id))
	}

	one := []model.Question{*q}
	if err := r.attachOptions(ctx, one); err != nil {
		return nil, err
	}
	return &one[0], nil
}

// ListByTest returns the questions of a test in position order, with options.
func (r *QuestionRepository) ListByTest(ctx context.Context, testID uuid.UUID) ([]model.Question, error) {
	rows, err := r.db.Query(ctx,
		`SELECT q.id, q.subject_id, q.title, q.body, q.topic, q.difficulty, q.multiple, q.created_at
		 FROM test_questions tq
		 JOIN questions q ON q.id = tq.question_id
		 WHERE tq.test_id = $1
		 ORDER BY tq.position`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []model.Question{}
	for rows.Next() {
		var q model.Question
		if err := scanQuestion(rows, &q); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return questions, r.attachOptions(ctx, questions)
}

// CountInSubject returns how many of ids belong to subjectID.
func (r *QuestionRepository) CountInSubject(ctx context.Context, subjectID uuid.UUID, ids []uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM questions WHERE subject_id = $1 AND id = ANY($2::uuid[])`,
		subjectID, ids).Scan(&n)
	return n, err
}

// Create inserts a question and its options in one transaction.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO questions (subject_id, title, body, topic, difficulty, multiple)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, created_at`,
			q.SubjectID, q.Title, q.Body, q.Topic, q.Difficulty, q.Multiple,
		).Scan(&q.ID, &q.CreatedAt)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("subject %s: %w", q.SubjectID, model.ErrNotFound)
			}
			return err
		}
		return insertOptions(ctx, tx, q)
	})
}

// Update replaces a question's fields and its full option list.
func (r *QuestionRepository) Update(ctx context.Context, q *model.Question) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE questions
			 SET subject_id = $1, title = $2, body = $3, topic = $4, difficulty = $5, multiple = $6
			 WHERE id = $7`,
			q.SubjectID, q.Title, q.Body, q.Topic, q.Difficulty, q.Multiple, q.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("question %s: %w", q.ID, model.ErrNotFound)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM options WHERE question_id = $1`, q.ID); err != nil {
			return err
		}
		return insertOptions(ctx, tx, q)
	})
}

// Delete removes a question; its options and test links cascade.
func (r *QuestionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("question %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// TestIDsUsing returns the tests that include a question, for cache invalidation.
func (r *QuestionRepository) TestIDsUsing(ctx context.Context, questionID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT test_id FROM test_questions WHERE question_id = $1`, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func insertOptions(ctx context.Context, tx pgx.Tx, q *model.Question) error {
	batch := &pgx.Batch{}
	for i := range q.Options {
		batch.Queue(
			`INSERT INTO options (question_id, position, text, is_correct)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			q.ID, i, q.Options[i].Text, q.Options[i].IsCorrect)
	}

	br := tx.SendBatch(ctx, batch)
	defer br.Close()

	for i := range q.Options {
		q.Options[i].QuestionID = q.ID
		if err := br.QueryRow().Scan(&q.Options[i].ID); err != nil {
			return fmt.Errorf("insert option %d: %w", i, err)
		}
	}
	return nil
}

// attachOptions loads options for questions in one query.
func (r *QuestionRepository) attachOptions(ctx context.Context, questions []model.Question) error {
	if len(questions) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(questions))
	index := make(map[uuid.UUID]int, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
		index[q.ID] = i
		questions[i].Options = []model.Option{}
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, question_id, text, is_correct
		 FROM options
		 WHERE question_id = ANY($1::uuid[])
		 ORDER BY question_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var o model.Option
		if err := rows.Scan(&o.ID, &o.QuestionID, &o.Text, &o.IsCorrect); err != nil {
			return err
		}
		if i, ok := index[o.QuestionID]; ok {
			questions[i].Options = append(questions[i].Options, o)
		}
	}
	return rows.Err()
}
