package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/repository"
)

type SubjectService struct {
	subjectRepo *repository.SubjectRepository
	log         zerolog.Logger
}

func NewSubjectService(subjectRepo *repository.SubjectRepository, log zerolog.Logger) *SubjectService {
	return &SubjectService{
		subjectRepo: subjectRepo,
		log:         log.With().Str("component", "subject_service").Logger(),
	}
}

func (s *SubjectService) GetAll(ctx context.Context) ([]model.Subject, error) {
	return s.subjectRepo.GetAll(ctx)
}

func (s *SubjectService) Get(ctx context.Context, id uuid.UUID) (*model.Subject, error) {
	return s.subjectRepo.GetByID(ctx, id)
}

func (s *SubjectService) Create(ctx context.Context, req model.CreateSubjectRequest) (*model.Subject, error) {
	sub := &model.Subject{Name: req.Name, Key: req.Key}
	if err := s.subjectRepo.Create(ctx, sub); err != nil {
		return nil, err
	}
	s.log.Info().Str("subject_id", sub.ID.String()).Str("key", sub.Key).Msg("Subject created")
	return sub, nil
}

func (s *SubjectService) Update(ctx context.Context, id uuid.UUID, req model.UpdateSubjectRequest) (*model.Subject, error) {
	sub := &model.Subject{ID: id, Name: req.Name, Key: req.Key}
	if err := s.subjectRepo.Update(ctx, sub); err != nil {
		return nil, err
	}
	return s.subjectRepo.GetByID(ctx, id)
}

func (s *SubjectService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.subjectRepo.Delete(ctx, id)
}
