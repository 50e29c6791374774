package services

import (
	"context"
	"errors"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/Dosada05/skill-tournaments/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobAdminService is the operator surface over dead-lettered jobs.
type JobAdminService interface {
	ListDead(ctx context.Context, limit int) ([]models.Job, error)
	ListByTournament(ctx context.Context, tournamentID uuid.UUID) ([]models.Job, error)
	Requeue(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type jobAdminService struct {
	core Core
}

func NewJobAdminService(core Core) JobAdminService {
	return &jobAdminService{core: core.withDefaults()}
}

func (s *jobAdminService) ListDead(ctx context.Context, limit int) ([]models.Job, error) {
	return s.core.Store.Jobs().ListByStatus(ctx, models.JobDead, limit)
}

func (s *jobAdminService) ListByTournament(ctx context.Context, tournamentID uuid.UUID) ([]models.Job, error) {
	return s.core.Store.Jobs().ListByTournament(ctx, tournamentID)
}

// Requeue puts a dead job back in the queue with a fresh attempt budget.
func (s *jobAdminService) Requeue(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	err := s.core.Store.Jobs().Requeue(ctx, id, s.core.Now())
	switch {
	case errors.Is(err, repositories.ErrJobNotFound):
		return nil, ErrJobNotFound
	case errors.Is(err, repositories.ErrJobActive):
		return nil, ErrJobAlreadyActive
	case err != nil:
		return nil, err
	}

	job, err := s.core.Store.Jobs().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.core.Logger.Info("dead job requeued",
		zap.String("job_id", id.String()),
		zap.String("job_type", string(job.Type)),
		zap.String("tournament_id", job.TournamentID.String()),
	)
	return job, nil
}
