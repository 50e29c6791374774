package services

import (
	"context"
	"errors"
	"time"

	"github.com/Dosada05/skill-tournaments/jobs"
	"github.com/Dosada05/skill-tournaments/models"
	"github.com/Dosada05/skill-tournaments/payments"
)

// RegisterJobHandlers binds every job type to its service call and schedules the overdue reconciler.
func RegisterJobHandlers(w *jobs.Worker, lifecycle LifecycleService, settlement SettlementService, scheduler *Scheduler, reconcileEvery time.Duration) {
	w.Handle(models.JobStartTournament, func(ctx context.Context, job models.Job) error {
		_, err := lifecycle.Start(ctx, job.TournamentID)
		return classifyJobError(err)
	})
	w.Handle(models.JobEndTournament, func(ctx context.Context, job models.Job) error {
		// ErrTransitionOutOfOrder stays retryable: the start job may still be catching up.
		_, err := lifecycle.End(ctx, job.TournamentID)
		return classifyJobError(err)
	})
	w.Handle(models.JobDispatchPayments, func(ctx context.Context, job models.Job) error {
		return classifyJobError(settlement.Dispatch(ctx, job.TournamentID))
	})
	w.Handle(models.JobArchiveSettlement, func(ctx context.Context, job models.Job) error {
		return classifyJobError(settlement.Archive(ctx, job.TournamentID))
	})

	if reconcileEvery > 0 {
		w.Every("reconcile", reconcileEvery, func(ctx context.Context) error {
			_, err := scheduler.Reconcile(ctx)
			return err
		})
	}
}

// classifyJobError marks errors that no retry can fix as permanent.
func classifyJobError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTournamentNotFound),
		errors.Is(err, ErrTournamentInvalidStatusTransition),
		errors.Is(err, payments.ErrRejected):
		return jobs.Permanent(err)
	}
	return err
}
