package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/mocktest-backend/internal/model"
)

// ProfileRepository handles user accounts and learner details.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

const profileColumns = `id, email, password_hash, user_name, phone_number, city, pincode, target_exam, role, created_at, updated_at`

func scanProfile(row pgx.Row, p *model.Profile) error {
	return row.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.UserName, &p.PhoneNumber, &p.City,
		&p.Pincode, &p.TargetExam, &p.Role, &p.CreatedAt, &p.UpdatedAt)
}

// Create inserts a new profile. Emails are stored lower-cased.
func (r *ProfileRepository) Create(ctx context.Context, p *model.Profile) error {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	err := r.pool.QueryRow(ctx,
		`INSERT INTO profiles (email, password_hash, user_name, phone_number, city, pincode, target_exam, role)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		p.Email, p.PasswordHash, p.UserName, p.PhoneNumber, p.City, p.Pincode, p.TargetExam, p.Role,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetByID retrieves a profile by id.
func (r *ProfileRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	p := &model.Profile{}
	if err := scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id), p); err != nil {
		return nil, wrapNotFound(err, fmt.Sprintf("profile %s", id))
	}
	return p, nil
}

// GetByEmail retrieves a profile by email, case-insensitively.
func (r *ProfileRepository) GetByEmail(ctx context.Context, email string) (*model.Profile, error) {
	p := &model.Profile{}
	email = strings.ToLower(strings.TrimSpace(email))
	if err := scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE email = $1`, email), p); err != nil {
		return nil, wrapNotFound(err, "profile")
	}
	return p, nil
}

// UpdateDetails overwrites the learner details of a profile.
func (r *ProfileRepository) UpdateDetails(ctx context.Context, p *model.Profile) error {
	err := r.pool.QueryRow(ctx,
		`UPDATE profiles
		 SET user_name = $1, phone_number = $2, city = $3, pincode = $4, target_exam = $5, updated_at = NOW()
		 WHERE id = $6
		 RETURNING updated_at`,
		p.UserName, p.PhoneNumber, p.City, p.Pincode, p.TargetExam, p.ID,
	).Scan(&p.UpdatedAt)
	return wrapNotFound(err, fmt.Sprintf("profile %s", p.ID))
}

// UpdatePassword replaces a profile's password hash.
func (r *ProfileRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE profiles SET password_hash = $1, updated_at = NOW() WHERE id = $2`, passwordHash, id)
	return err
}
