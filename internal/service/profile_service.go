package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/model"
)

// ProfileService reads and edits learner profiles.
type ProfileService struct {
	profiles ProfileStore
	log      zerolog.Logger
}

// NewProfileService creates a new ProfileService.
func NewProfileService(profiles ProfileStore, log zerolog.Logger) *ProfileService {
	return &ProfileService{
		profiles: profiles,
		log:      log.With().Str("component", "profile_service").Logger(),
	}
}

// Get retrieves a profile.
func (s *ProfileService) Get(ctx context.Context, userID uuid.UUID) (*model.Profile, error) {
	return s.profiles.GetByID(ctx, userID)
}

// Update overwrites the learner details of a profile.
func (s *ProfileService) Update(ctx context.Context, userID uuid.UUID, req model.UpdateProfileRequest) (*model.Profile, error) {
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.UserName = req.UserName
	p.PhoneNumber = req.PhoneNumber
	p.City = req.City
	p.Pincode = req.Pincode
	p.TargetExam = req.TargetExam

	if err := s.profiles.UpdateDetails(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", userID.String()).Bool("complete", p.IsComplete()).Msg("Profile updated")
	return p, nil
}

// IsComplete reports whether the user's profile has every required detail.
func (s *ProfileService) IsComplete(ctx context.Context, userID uuid.UUID) (bool, error) {
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return p.IsComplete(), nil
}
