package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/mocktest-backend/internal/model"
)

// TestRepository handles tests and their ordered question lists.
type TestRepository struct {
	db querier
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{db: pool}
}

// WithTx returns a copy of the repository bound to tx.
func (r *TestRepository) WithTx(tx pgx.Tx) *TestRepository {
	return &TestRepository{db: tx}
}

const testSelect = `
	SELECT t.id, t.subject_id, t.title, t.duration_minutes, t.shuffle, t.created_at,
	       (SELECT COUNT(*) FROM test_questions tq WHERE tq.test_id = t.id) AS question_count
	FROM tests t`

func scanTest(row pgx.Row, t *model.Test) error {
	return row.Scan(&t.ID, &t.SubjectID, &t.Title, &t.DurationMinutes, &t.Shuffle, &t.CreatedAt, &t.QuestionCount)
}

// GetByID retrieves a test with its question count.
func (r *TestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	if err := scanTest(r.db.QueryRow(ctx, testSelect+` WHERE t.id = $1`, id), t); err != nil {
		return nil, wrapNotFound(err, fmt.Sprintf("test %s", id))
	}
	return t, nil
}

// ListBySubject returns the tests of a subject. With playableOnly, tests
// without questions are left out.
func (r *TestRepository) ListBySubject(ctx context.Context, subjectID uuid.UUID, playableOnly bool) ([]model.Test, error) {
	query := testSelect + ` WHERE t.subject_id = $1`
	if playableOnly {
		query += ` AND EXISTS (SELECT 1 FROM test_questions tq WHERE tq.test_id = t.id)`
	}
	query += ` ORDER BY t.created_at DESC`

	rows, err := r.db.Query(ctx, query, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tests := []model.Test{}
	for rows.Next() {
		var t model.Test
		if err := scanTest(rows, &t); err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// Create inserts a new test.
func (r *TestRepository) Create(ctx context.Context, t *model.Test) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO tests (subject_id, title, duration_minutes, shuffle)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		t.SubjectID, t.Title, t.DurationMinutes, t.Shuffle,
	).Scan(&t.ID, &t.CreatedAt)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("subject %s: %w", t.SubjectID, model.ErrNotFound)
	}
	return err
}

// Update modifies title, duration and shuffle of a test.
func (r *TestRepository) Update(ctx context.Context, t *model.Test) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE tests SET title = $1, duration_minutes = $2, shuffle = $3 WHERE id = $4`,
		t.Title, t.DurationMinutes, t.Shuffle, t.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("test %s: %w", t.ID, model.ErrNotFound)
	}
	return nil
}

// Delete removes a test.
func (r *TestRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM tests WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return ErrInUse
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("test %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// SetQuestions replaces the question list of a test; position follows the
// order of questionIDs.
func (r *TestRepository) SetQuestions(ctx context.Context, testID uuid.UUID, questionIDs []uuid.UUID) error {
	positions := make([]int, len(questionIDs))
	for i := range positions {
		positions[i] = i + 1
	}

	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM test_questions WHERE test_id = $1`, testID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO test_questions (test_id, question_id, position)
			 SELECT $1, u.question_id, u.position
			 FROM UNNEST($2::uuid[], $3::int[]) AS u (question_id, position)`,
			testID, questionIDs, positions)
		return err
	})
}
