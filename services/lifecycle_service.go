package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Dosada05/skill-tournaments/metrics"
	"github.com/Dosada05/skill-tournaments/models"
	"github.com/Dosada05/skill-tournaments/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LifecycleService owns tournament status transitions. Every transition is conditioned on the
// status it expects, so a repeated trigger finds the tournament already moved and does nothing.
type LifecycleService interface {
	Open(ctx context.Context, id uuid.UUID) (*models.Tournament, error)
	// Start runs at the start deadline: OPEN -> IN_PROGRESS, or -> CANCELLED if too few paid entries.
	Start(ctx context.Context, id uuid.UUID) (*models.Tournament, error)
	// End runs at the end deadline: IN_PROGRESS -> COMPLETED with settlement.
	End(ctx context.Context, id uuid.UUID) (*models.Tournament, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Tournament, error)
}

type lifecycleService struct {
	core      Core
	scheduler *Scheduler
	settler   Settler
}

func NewLifecycleService(core Core, scheduler *Scheduler, settler Settler) LifecycleService {
	return &lifecycleService{core: core.withDefaults(), scheduler: scheduler, settler: settler}
}

// transition is the outcome of one lifecycle step, reported after commit.
type transition struct {
	from, to models.TournamentStatus
	applied  bool
}

func (s *lifecycleService) apply(ctx context.Context, tx repositories.Store, t *models.Tournament, change repositories.StatusChange) error {
	if !isValidStatusTransition(t.Status, change.To) {
		return ErrTournamentInvalidStatusTransition
	}
	ok, err := tx.Tournaments().TransitionStatus(ctx, t.ID, change)
	if err != nil {
		return fmt.Errorf("failed to move tournament %s to %s: %w", t.ID, change.To, err)
	}
	if !ok {
		// The row is locked by GetForUpdate, so this only happens if the caller's view is stale.
		return ErrTournamentInvalidStatusTransition
	}
	return nil
}

func (s *lifecycleService) finish(ctx context.Context, id uuid.UUID, tr transition) (*models.Tournament, error) {
	if tr.applied {
		metrics.StatusTransitions.WithLabelValues(string(tr.to)).Inc()
		s.core.Logger.Info("tournament status changed",
			zap.String("tournament_id", id.String()),
			zap.String("from", string(tr.from)),
			zap.String("to", string(tr.to)),
		)
		s.core.changed(ctx, id, EventStatusChanged, map[string]string{"from": string(tr.from), "to": string(tr.to)})
	}
	t, err := s.core.Store.Tournaments().GetByID(ctx, id)
	if err != nil {
		return nil, mapTournamentRepoError(err)
	}
	return t, nil
}

func (s *lifecycleService) Open(ctx context.Context, id uuid.UUID) (*models.Tournament, error) {
	var tr transition
	err := s.core.Store.InTx(ctx, func(tx repositories.Store) error {
		t, err := tx.Tournaments().GetForUpdate(ctx, id)
		if err != nil {
			return mapTournamentRepoError(err)
		}
		if t.Status != models.StatusScheduled {
			return ErrTournamentInvalidStatusTransition
		}
		if err := s.apply(ctx, tx, t, repositories.StatusChange{
			From: []models.TournamentStatus{models.StatusScheduled},
			To:   models.StatusOpen,
			At:   s.core.Now(),
		}); err != nil {
			return err
		}
		tr = transition{from: t.Status, to: models.StatusOpen, applied: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, id, tr)
}

func (s *lifecycleService) Start(ctx context.Context, id uuid.UUID) (*models.Tournament, error) {
	var tr transition
	err := s.core.Store.InTx(ctx, func(tx repositories.Store) error {
		t, err := tx.Tournaments().GetForUpdate(ctx, id)
		if err != nil {
			return mapTournamentRepoError(err)
		}
		if t.Status != models.StatusScheduled && t.Status != models.StatusOpen {
			// Already started or terminal: redelivered or late job.
			return nil
		}
		now := s.core.Now()

		// Unpaid entries lose their slot at the deadline.
		voided, err := tx.Entries().TransitionAll(ctx, id, repositories.EntryChange{
			From:   []models.EntryStatus{models.EntryPending},
			To:     models.EntryForfeited,
			At:     now,
			Reason: ptr(models.ReasonPaymentUnconfirmed),
		})
		if err != nil {
			return fmt.Errorf("failed to void unpaid entries: %w", err)
		}
		if err := tx.Tournaments().ReleaseSlots(ctx, id, len(voided)); err != nil {
			return fmt.Errorf("failed to release unpaid slots: %w", err)
		}

		if paid := t.CurrentPlayers - len(voided); paid < t.MinPlayers {
			return s.cancelTx(ctx, tx, t, models.ReasonUnderSubscribed, models.ReasonUnderSubscribed, now, &tr)
		}

		if err := s.apply(ctx, tx, t, repositories.StatusChange{
			From: []models.TournamentStatus{models.StatusOpen},
			To:   models.StatusInProgress,
			At:   now,
		}); err != nil {
			return err
		}
		if _, err := tx.Entries().TransitionAll(ctx, id, repositories.EntryChange{
			From: []models.EntryStatus{models.EntryConfirmed},
			To:   models.EntryPlaying,
			At:   now,
		}); err != nil {
			return fmt.Errorf("failed to move entries to playing: %w", err)
		}

		started := t.Clone()
		started.Status = models.StatusInProgress
		started.ActualStart = &now
		if err := s.scheduler.ScheduleEnd(ctx, tx, started); err != nil {
			return err
		}
		tr = transition{from: t.Status, to: models.StatusInProgress, applied: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, id, tr)
}

func (s *lifecycleService) End(ctx context.Context, id uuid.UUID) (*models.Tournament, error) {
	var (
		tr      transition
		payouts int
	)
	err := s.core.Store.InTx(ctx, func(tx repositories.Store) error {
		t, err := tx.Tournaments().GetForUpdate(ctx, id)
		if err != nil {
			return mapTournamentRepoError(err)
		}
		switch t.Status {
		case models.StatusCompleted, models.StatusCancelled:
			return nil
		case models.StatusScheduled, models.StatusOpen:
			return ErrTransitionOutOfOrder
		}
		now := s.core.Now()

		fee := PlatformFee(t.PrizePool, t.PlatformFeePercent)
		if err := s.apply(ctx, tx, t, repositories.StatusChange{
			From:              []models.TournamentStatus{models.StatusInProgress},
			To:                models.StatusCompleted,
			At:                now,
			PlatformFeeAmount: &fee,
		}); err != nil {
			return err
		}

		completed := t.Clone()
		completed.Status = models.StatusCompleted
		completed.ActualEnd = &now
		completed.PlatformFeeAmount = &fee
		instructions, err := s.settler.Settle(ctx, tx, completed, now)
		if err != nil {
			return err
		}
		payouts = len(instructions)

		if _, err := tx.Entries().TransitionAll(ctx, id, repositories.EntryChange{
			From: []models.EntryStatus{models.EntryConfirmed, models.EntryPlaying},
			To:   models.EntryCompleted,
			At:   now,
		}); err != nil {
			return fmt.Errorf("failed to complete entries: %w", err)
		}
		if err := s.scheduler.CancelLifecycle(ctx, tx, id); err != nil {
			return err
		}
		if payouts > 0 {
			if _, err := s.scheduler.Enqueue(ctx, tx, models.JobDispatchPayments, id, now); err != nil {
				return err
			}
		}
		if _, err := s.scheduler.Enqueue(ctx, tx, models.JobArchiveSettlement, id, now); err != nil {
			return err
		}
		tr = transition{from: t.Status, to: models.StatusCompleted, applied: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if tr.applied {
		s.core.Logger.Info("tournament settled",
			zap.String("tournament_id", id.String()),
			zap.Int("payouts", payouts),
		)
		s.core.Events.Publish(id, EventSettled, map[string]int{"payouts": payouts})
	}
	return s.finish(ctx, id, tr)
}

func (s *lifecycleService) Cancel(ctx context.Context, id uuid.UUID, reason string) (*models.Tournament, error) {
	if reason == "" {
		reason = models.ReasonCancelled
	}
	var tr transition
	err := s.core.Store.InTx(ctx, func(tx repositories.Store) error {
		t, err := tx.Tournaments().GetForUpdate(ctx, id)
		if err != nil {
			return mapTournamentRepoError(err)
		}
		if t.Status.IsTerminal() {
			return ErrTournamentInvalidStatusTransition
		}
		return s.cancelTx(ctx, tx, t, reason, models.ReasonCancelled, s.core.Now(), &tr)
	})
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, id, tr)
}

// cancelTx moves a locked tournament to CANCELLED, refunds its entries and drops its pending lifecycle jobs.
func (s *lifecycleService) cancelTx(ctx context.Context, tx repositories.Store, t *models.Tournament, reason, entryReason string, at time.Time, tr *transition) error {
	if err := s.apply(ctx, tx, t, repositories.StatusChange{
		From:   []models.TournamentStatus{t.Status},
		To:     models.StatusCancelled,
		At:     at,
		Reason: ptr(reason),
	}); err != nil {
		return err
	}
	refunds, err := s.settler.Refund(ctx, tx, t, entryReason, at)
	if err != nil {
		return err
	}
	if err := s.scheduler.CancelLifecycle(ctx, tx, t.ID); err != nil {
		return err
	}
	if len(refunds) > 0 {
		if _, err := s.scheduler.Enqueue(ctx, tx, models.JobDispatchPayments, t.ID, at); err != nil {
			return err
		}
	}
	*tr = transition{from: t.Status, to: models.StatusCancelled, applied: true}
	return nil
}
