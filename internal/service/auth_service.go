package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/repository"
	"github.com/stemsi/mocktest-backend/internal/testrun"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrSessionInvalidated = errors.New("session invalidated")
)

// TokenType distinguishes student vs admin tokens.
type TokenType string

const (
	TokenTypeStudent TokenType = "student"
	TokenTypeAdmin   TokenType = "admin"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	UserID    uuid.UUID `json:"user_id"`
}

// ProfileStore is the profile persistence the auth and profile services need.
type ProfileStore interface {
	Create(ctx context.Context, p *model.Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Profile, error)
	GetByEmail(ctx context.Context, email string) (*model.Profile, error)
	UpdateDetails(ctx context.Context, p *model.Profile) error
}

// AuthService handles accounts, JWTs and the one-live-login session in Redis.
type AuthService struct {
	cfg      *config.Config
	rdb      *redis.Client
	profiles ProfileStore
	log      zerolog.Logger
	now      func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client, profiles ProfileStore, log zerolog.Logger) *AuthService {
	return &AuthService{
		cfg:      cfg,
		rdb:      rdb,
		profiles: profiles,
		log:      log.With().Str("component", "auth_service").Logger(),
		now:      time.Now,
	}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// CreateAccount stores a new profile with a hashed password.
func (s *AuthService) CreateAccount(ctx context.Context, email, password, userName string, role model.Role) (*model.Profile, error) {
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	p := &model.Profile{
		Email:        email,
		PasswordHash: hash,
		UserName:     userName,
		Role:         role,
	}
	if err := s.profiles.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create profile: %w", err)
	}
	return p, nil
}

// Register signs up a learner and logs them in.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (*model.Profile, string, error) {
	p, err := s.CreateAccount(ctx, req.Email, req.Password, req.UserName, model.RoleStudent)
	if err != nil {
		return nil, "", err
	}

	token, err := s.IssueToken(ctx, p)
	if err != nil {
		return nil, "", err
	}
	s.log.Info().Str("user_id", p.ID.String()).Msg("Learner registered")
	return p, token, nil
}

// Login checks credentials and issues a token. A new login replaces any
// previous session of the same user.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (*model.Profile, string, error) {
	p, err := s.profiles.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := s.CheckPassword(p.PasswordHash, req.Password); err != nil {
		return nil, "", err
	}

	token, err := s.IssueToken(ctx, p)
	if err != nil {
		return nil, "", err
	}
	return p, token, nil
}

// IssueToken signs a JWT for p and registers its jti as the live session.
func (s *AuthService) IssueToken(ctx context.Context, p *model.Profile) (string, error) {
	jti := uuid.New().String()
	now := s.now()

	tokenType := TokenTypeStudent
	if p.Role == model.RoleAdmin {
		tokenType = TokenTypeAdmin
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   p.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: tokenType,
		UserID:    p.ID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	// Session lives exactly as long as the JWT.
	if err := s.rdb.Set(ctx, config.CacheKey.LoginSessionKey(p.ID), jti, s.cfg.JWTExpiry).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ValidateSession checks that jti is the user's live session.
func (s *AuthService) ValidateSession(ctx context.Context, userID uuid.UUID, jti string) error {
	stored, err := s.rdb.Get(ctx, config.CacheKey.LoginSessionKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionInvalidated
		}
		return fmt.Errorf("check session: %w", err)
	}
	if stored != jti {
		return ErrSessionInvalidated
	}
	return nil
}

// Logout ends the user's live session.
func (s *AuthService) Logout(ctx context.Context, userID uuid.UUID) error {
	return s.rdb.Del(ctx, config.CacheKey.LoginSessionKey(userID)).Err()
}

// IdentityFor returns the identity a test run submits for. It is
// authenticated while the user has a live login session, so logging out
// during a run blocks submission until the user logs in again.
func (s *AuthService) IdentityFor(userID uuid.UUID) testrun.Identity {
	return testrun.IdentityFunc(func(ctx context.Context) (uuid.UUID, bool) {
		n, err := s.rdb.Exists(ctx, config.CacheKey.LoginSessionKey(userID)).Result()
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID.String()).Msg("Session lookup failed")
			return uuid.Nil, false
		}
		return userID, n == 1
	})
}
