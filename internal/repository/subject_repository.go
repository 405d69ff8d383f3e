package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/mocktest-backend/internal/model"
)

type SubjectRepository struct {
	db querier
}

func NewSubjectRepository(pool *pgxpool.Pool) *SubjectRepository {
	return &SubjectRepository{db: pool}
}

// WithTx returns a copy of the repository bound to tx.
func (r *SubjectRepository) WithTx(tx pgx.Tx) *SubjectRepository {
	return &SubjectRepository{db: tx}
}

func (r *SubjectRepository) Create(ctx context.Context, s *model.Subject) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO subjects (name, key) VALUES ($1, $2) RETURNING id, created_at`,
		s.Name, s.Key).Scan(&s.ID, &s.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *SubjectRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Subject, error) {
	s := &model.Subject{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, key, created_at FROM subjects WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.Key, &s.CreatedAt)
	if err != nil {
		return nil, wrapNotFound(err, fmt.Sprintf("subject %s", id))
	}
	return s, nil
}

func (r *SubjectRepository) GetByKey(ctx context.Context, key string) (*model.Subject, error) {
	s := &model.Subject{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, key, created_at FROM subjects WHERE key = $1`, key,
	).Scan(&s.ID, &s.Name, &s.Key, &s.CreatedAt)
	if err != nil {
		return nil, wrapNotFound(err, fmt.Sprintf("subject %q", key))
	}
	return s, nil
}

func (r *SubjectRepository) GetAll(ctx context.Context) ([]model.Subject, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, key, created_at FROM subjects ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subjects := []model.Subject{}
	for rows.Next() {
		var s model.Subject
		if err := rows.Scan(&s.ID, &s.Name, &s.Key, &s.CreatedAt); err != nil {
			return nil, err
		}
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

func (r *SubjectRepository) Update(ctx context.Context, s *model.Subject) error {
	tag, err := r.db.Exec(ctx, `UPDATE subjects SET name = $1, key = $2 WHERE id = $3`, s.Name, s.Key, s.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subject %s: %w", s.ID, model.ErrNotFound)
	}
	return nil
}

func (r *SubjectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM subjects WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return ErrInUse
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subject %s: %w", id, model.ErrNotFound)
	}
	return nil
}
