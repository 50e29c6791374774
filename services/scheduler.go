package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/Dosada05/skill-tournaments/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scheduler enqueues and cancels the deadline-driven jobs of each tournament.
// Jobs are written through the caller's transaction so they commit with the change that needs them.
type Scheduler struct {
	core        Core
	maxAttempts int
}

func NewScheduler(core Core, maxAttempts int) *Scheduler {
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	return &Scheduler{core: core.withDefaults(), maxAttempts: maxAttempts}
}

func (s *Scheduler) Enqueue(ctx context.Context, tx repositories.Store, jobType models.JobType, tournamentID uuid.UUID, runAt time.Time) (uuid.UUID, error) {
	now := s.core.Now()
	id, err := tx.Jobs().Enqueue(ctx, &models.Job{
		ID:           uuid.New(),
		Type:         jobType,
		TournamentID: tournamentID,
		RunAt:        runAt,
		Status:       models.JobPending,
		MaxAttempts:  s.maxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue %s for tournament %s: %w", jobType, tournamentID, err)
	}
	return id, nil
}

// ScheduleLifecycle queues the start job and, when the end is already known, the end job.
func (s *Scheduler) ScheduleLifecycle(ctx context.Context, tx repositories.Store, t *models.Tournament) error {
	if _, err := s.Enqueue(ctx, tx, models.JobStartTournament, t.ID, t.ScheduledStart); err != nil {
		return err
	}
	return s.ScheduleEnd(ctx, tx, t)
}

// ScheduleEnd queues the end job if the tournament's end deadline can be computed yet.
// An already queued end job keeps the earlier of the two run times.
func (s *Scheduler) ScheduleEnd(ctx context.Context, tx repositories.Store, t *models.Tournament) error {
	deadline, err := t.EndDeadline()
	if err != nil {
		return nil
	}
	_, err = s.Enqueue(ctx, tx, models.JobEndTournament, t.ID, deadline)
	return err
}

// CancelLifecycle drops pending start/end jobs. Jobs already claimed by a worker still run
// and find the tournament terminal.
func (s *Scheduler) CancelLifecycle(ctx context.Context, tx repositories.Store, tournamentID uuid.UUID) error {
	if _, err := tx.Jobs().Cancel(ctx, tournamentID,
		[]models.JobType{models.JobStartTournament, models.JobEndTournament}, s.core.Now()); err != nil {
		return fmt.Errorf("failed to cancel lifecycle jobs for tournament %s: %w", tournamentID, err)
	}
	return nil
}

// Reconcile re-queues lifecycle jobs for tournaments whose deadline passed without one.
func (s *Scheduler) Reconcile(ctx context.Context) (int, error) {
	overdue, err := s.core.Store.Tournaments().ListOverdue(ctx, s.core.Now())
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, o := range overdue {
		err := s.core.Store.InTx(ctx, func(tx repositories.Store) error {
			_, err := s.Enqueue(ctx, tx, o.JobType, o.TournamentID, s.core.Now())
			return err
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return queued, err
			}
			s.core.Logger.Error("failed to re-queue overdue tournament",
				zap.String("tournament_id", o.TournamentID.String()),
				zap.String("job_type", string(o.JobType)),
				zap.Error(err),
			)
			continue
		}
		queued++
		s.core.Logger.Warn("re-queued overdue tournament job",
			zap.String("tournament_id", o.TournamentID.String()),
			zap.String("job_type", string(o.JobType)),
		)
	}
	return queued, nil
}
