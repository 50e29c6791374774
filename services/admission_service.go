package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dosada05/skill-tournaments/metrics"
	"github.com/Dosada05/skill-tournaments/models"
	"github.com/Dosada05/skill-tournaments/payments"
	"github.com/Dosada05/skill-tournaments/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdmissionService admits and withdraws entries. Capacity is taken with a single conditional
// increment in the store, never by counting entries first.
type AdmissionService interface {
	Join(ctx context.Context, tournamentID uuid.UUID, userID int, paymentProof string) (*models.Entry, error)
	Leave(ctx context.Context, tournamentID uuid.UUID, userID int) error
	ConfirmPayment(ctx context.Context, tournamentID uuid.UUID, userID int, paymentProof string) (*models.Entry, error)
	GetEntry(ctx context.Context, tournamentID uuid.UUID, userID int) (*models.Entry, error)
	ListUserEntries(ctx context.Context, userID int) ([]models.Entry, error)
}

type admissionService struct {
	core      Core
	scheduler *Scheduler
	verifier  payments.Verifier
}

func NewAdmissionService(core Core, scheduler *Scheduler, verifier payments.Verifier) AdmissionService {
	return &admissionService{core: core.withDefaults(), scheduler: scheduler, verifier: verifier}
}

func joinOutcome(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, ErrTournamentFull):
		return "full"
	case errors.Is(err, ErrTournamentNotOpen):
		return "not_open"
	case errors.Is(err, ErrAlreadyEntered):
		return "already_entered"
	case errors.Is(err, ErrPaymentUnconfirmed):
		return "payment_unconfirmed"
	case errors.Is(err, ErrTournamentNotFound):
		return "not_found"
	}
	return "error"
}

// verify asks the payment service about proof. It runs outside any transaction.
func (s *admissionService) verify(ctx context.Context, t *models.Tournament, userID int, proof string) (string, error) {
	res, err := s.verifier.VerifyEntryPayment(ctx, payments.VerifyRequest{
		TournamentID: t.ID,
		UserID:       userID,
		Amount:       t.EntryFee,
		Currency:     t.Currency,
		Proof:        proof,
	})
	if err != nil {
		if errors.Is(err, payments.ErrRejected) {
			return "", ErrPaymentUnconfirmed
		}
		return "", fmt.Errorf("failed to verify entry payment: %w", err)
	}
	if !res.Confirmed {
		return "", ErrPaymentUnconfirmed
	}
	if res.TxHash == "" {
		return proof, nil
	}
	return res.TxHash, nil
}

func (s *admissionService) Join(ctx context.Context, tournamentID uuid.UUID, userID int, paymentProof string) (entry *models.Entry, err error) {
	defer func() {
		metrics.JoinAttempts.WithLabelValues(joinOutcome(err)).Inc()
	}()

	t, err := s.core.Store.Tournaments().GetByID(ctx, tournamentID)
	if err != nil {
		return nil, mapTournamentRepoError(err)
	}
	if t.Status != models.StatusOpen {
		return nil, ErrTournamentNotOpen
	}

	entry = &models.Entry{
		ID:            uuid.New(),
		TournamentID:  t.ID,
		UserID:        userID,
		EntryAmount:   t.EntryFee,
		EntryCurrency: t.Currency,
		Status:        models.EntryPending,
		JoinedAt:      s.core.Now(),
	}
	if t.IsFree() {
		entry.Status = models.EntryConfirmed
	}
	// Слот резервируется до проверки оплаты: полный или закрытый турнир не должен принять платёж.
	if err := s.reserve(ctx, entry); err != nil {
		return nil, err
	}

	if !t.IsFree() && paymentProof != "" {
		txHash, err := s.verify(ctx, t, userID, paymentProof)
		if err != nil {
			s.release(context.WithoutCancel(ctx), entry)
			return nil, err
		}
		if entry, err = s.confirm(ctx, entry, txHash); err != nil {
			return nil, err
		}
	}

	s.core.Logger.Info("entry admitted",
		zap.String("tournament_id", tournamentID.String()),
		zap.Int("user_id", userID),
		zap.String("entry_id", entry.ID.String()),
		zap.String("status", string(entry.Status)),
	)
	s.core.changed(ctx, tournamentID, EventEntryJoined, entry)
	return entry, nil
}

// reserve takes a slot and stores the entry in one transaction.
func (s *admissionService) reserve(ctx context.Context, entry *models.Entry) error {
	return s.core.Store.InTx(ctx, func(tx repositories.Store) error {
		ok, err := tx.Tournaments().IncrementPlayers(ctx, entry.TournamentID)
		if err != nil {
			return fmt.Errorf("failed to reserve slot: %w", err)
		}
		if !ok {
			current, err := tx.Tournaments().GetByID(ctx, entry.TournamentID)
			if err != nil {
				return mapTournamentRepoError(err)
			}
			if current.Status != models.StatusOpen {
				return ErrTournamentNotOpen
			}
			return ErrTournamentFull
		}
		if err := tx.Entries().Create(ctx, entry); err != nil {
			return mapEntryRepoError(err)
		}
		return nil
	})
}

// release undoes reserve after the payment proof was not accepted.
// Nothing is released if the entry was already voided: that path gave the slot back itself.
func (s *admissionService) release(ctx context.Context, entry *models.Entry) {
	err := s.core.Store.InTx(ctx, func(tx repositories.Store) error {
		if _, err := tx.Tournaments().GetForUpdate(ctx, entry.TournamentID); err != nil {
			return mapTournamentRepoError(err)
		}
		deleted, err := tx.Entries().DeletePending(ctx, entry.ID)
		if err != nil || !deleted {
			return err
		}
		ok, err := tx.Tournaments().DecrementPlayers(ctx, entry.TournamentID)
		if err != nil {
			return fmt.Errorf("failed to release slot: %w", err)
		}
		if !ok {
			return ErrTournamentNotOpen
		}
		return nil
	})
	if err != nil {
		s.core.Logger.Error("failed to release reserved slot",
			zap.String("tournament_id", entry.TournamentID.String()),
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err),
		)
	}
}

// confirm marks a PENDING entry paid. If the entry was voided while the payment was being
// verified (start deadline, cancellation, withdrawal), the payment is refunded instead.
func (s *admissionService) confirm(ctx context.Context, e *models.Entry, txHash string) (*models.Entry, error) {
	var (
		refunded bool
		status   models.TournamentStatus
	)
	err := s.core.Store.InTx(ctx, func(tx repositories.Store) error {
		// Lock order matches Start and Cancel: tournament row first, then entries.
		t, err := tx.Tournaments().GetForUpdate(ctx, e.TournamentID)
		if err != nil {
			return mapTournamentRepoError(err)
		}
		status = t.Status
		now := s.core.Now()
		ok, err := tx.Entries().UpdateStatus(ctx, e.ID, repositories.EntryChange{
			From:   []models.EntryStatus{models.EntryPending},
			To:     models.EntryConfirmed,
			At:     now,
			TxHash: &txHash,
		})
		if err != nil {
			return fmt.Errorf("failed to confirm entry: %w", err)
		}
		if ok {
			return nil
		}

		voided, err := tx.Entries().GetByID(ctx, e.ID)
		if err != nil {
			return mapEntryRepoError(err)
		}
		if !voided.Status.IsAbsorbing() {
			// Already confirmed by a concurrent request with its own proof.
			return ErrEntryNotPending
		}
		refund := refundInstruction(voided, models.ReasonPaymentAfterClose, now)
		if err := insertInstructions(ctx, tx, []models.PaymentInstruction{refund}); err != nil {
			return err
		}
		if _, err := s.scheduler.Enqueue(ctx, tx, models.JobDispatchPayments, e.TournamentID, now); err != nil {
			return err
		}
		refunded = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if refunded {
		s.core.Logger.Warn("payment confirmed after the entry was voided, refunding",
			zap.String("tournament_id", e.TournamentID.String()),
			zap.String("entry_id", e.ID.String()),
			zap.String("tx_hash", txHash),
		)
		if status != models.StatusOpen {
			return nil, ErrTournamentNotOpen
		}
		return nil, ErrEntryNotPending
	}
	confirmed, err := s.core.Store.Entries().GetByID(ctx, e.ID)
	if err != nil {
		return nil, mapEntryRepoError(err)
	}
	return confirmed, nil
}

func (s *admissionService) Leave(ctx context.Context, tournamentID uuid.UUID, userID int) error {
	var left *models.Entry
	err := s.core.Store.InTx(ctx, func(tx repositories.Store) error {
		t, err := tx.Tournaments().GetByID(ctx, tournamentID)
		if err != nil {
			return mapTournamentRepoError(err)
		}
		e, err := tx.Entries().GetByTournamentAndUser(ctx, tournamentID, userID)
		if err != nil {
			return mapEntryRepoError(err)
		}
		if e.Status.IsAbsorbing() {
			return ErrEntryNotFound
		}
		if t.Status != models.StatusOpen {
			return ErrTournamentNotOpen
		}

		now := s.core.Now()
		change := repositories.EntryChange{
			From:   []models.EntryStatus{e.Status},
			At:     now,
			Reason: ptr(models.ReasonWithdrawn),
		}
		switch e.Status {
		case models.EntryPending:
			change.To = models.EntryForfeited
		case models.EntryConfirmed:
			change.To = models.EntryRefunded
		default:
			return ErrTournamentNotOpen
		}

		ok, err := tx.Entries().UpdateStatus(ctx, e.ID, change)
		if err != nil {
			return fmt.Errorf("failed to withdraw entry: %w", err)
		}
		if !ok {
			return ErrEntryNotFound
		}
		ok, err = tx.Tournaments().DecrementPlayers(ctx, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to release slot: %w", err)
		}
		if !ok {
			return ErrTournamentNotOpen
		}

		if change.To == models.EntryRefunded && !e.EntryAmount.IsZero() {
			refund := refundInstruction(e, models.ReasonWithdrawn, now)
			if err := insertInstructions(ctx, tx, []models.PaymentInstruction{refund}); err != nil {
				return err
			}
			if _, err := s.scheduler.Enqueue(ctx, tx, models.JobDispatchPayments, tournamentID, now); err != nil {
				return err
			}
		}
		left = e
		return nil
	})
	if err != nil {
		return err
	}

	s.core.Logger.Info("entry withdrawn",
		zap.String("tournament_id", tournamentID.String()),
		zap.Int("user_id", userID),
		zap.String("entry_id", left.ID.String()),
	)
	s.core.changed(ctx, tournamentID, EventEntryLeft, map[string]interface{}{"entry_id": left.ID, "user_id": userID})
	return nil
}

// ConfirmPayment moves a PENDING entry to CONFIRMED once the payment service accepts the proof.
func (s *admissionService) ConfirmPayment(ctx context.Context, tournamentID uuid.UUID, userID int, paymentProof string) (*models.Entry, error) {
	if paymentProof == "" {
		return nil, &ValidationError{Fields: map[string]string{"payment_proof": "is required"}}
	}
	t, err := s.core.Store.Tournaments().GetByID(ctx, tournamentID)
	if err != nil {
		return nil, mapTournamentRepoError(err)
	}
	e, err := s.core.Store.Entries().GetByTournamentAndUser(ctx, tournamentID, userID)
	if err != nil {
		return nil, mapEntryRepoError(err)
	}
	if e.Status != models.EntryPending {
		return nil, ErrEntryNotPending
	}
	if t.Status != models.StatusOpen {
		return nil, ErrTournamentNotOpen
	}

	txHash, err := s.verify(ctx, t, userID, paymentProof)
	if err != nil {
		return nil, err
	}
	confirmed, err := s.confirm(ctx, e, txHash)
	if err != nil {
		return nil, err
	}
	s.core.changed(ctx, tournamentID, EventEntryConfirmed, confirmed)
	return confirmed, nil
}

func (s *admissionService) GetEntry(ctx context.Context, tournamentID uuid.UUID, userID int) (*models.Entry, error) {
	e, err := s.core.Store.Entries().GetByTournamentAndUser(ctx, tournamentID, userID)
	if err != nil {
		return nil, mapEntryRepoError(err)
	}
	return e, nil
}

func (s *admissionService) ListUserEntries(ctx context.Context, userID int) ([]models.Entry, error) {
	return s.core.Store.Entries().ListByUser(ctx, userID)
}
