package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Dosada05/skill-tournaments/metrics"
	"github.com/Dosada05/skill-tournaments/models"
	"github.com/Dosada05/skill-tournaments/payments"
	"github.com/Dosada05/skill-tournaments/repositories"
	"github.com/Dosada05/skill-tournaments/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	prizeScale = 8
	// zeroAmountRef marks instructions closed without a call to the payment service.
	zeroAmountRef = "zero-amount"
)

var hundred = decimal.NewFromInt(100)

// Settler is the money side of a status transition. Both calls run inside the transaction
// that moves the tournament, so a crash never leaves a terminal tournament without instructions.
// Repeating either call writes nothing new and returns the same instructions.
type Settler interface {
	// Settle writes final ranks, prizes, payouts and player stats of a tournament moving to COMPLETED.
	Settle(ctx context.Context, tx repositories.Store, t *models.Tournament, at time.Time) ([]models.PaymentInstruction, error)
	// Refund voids unpaid entries and refunds every entry that still holds funds.
	Refund(ctx context.Context, tx repositories.Store, t *models.Tournament, reason string, at time.Time) ([]models.PaymentInstruction, error)
}

// SettlementService computes payouts and refunds and hands them to the payment service.
type SettlementService interface {
	Settler
	Dispatch(ctx context.Context, tournamentID uuid.UUID) error
	Archive(ctx context.Context, tournamentID uuid.UUID) error
	ListInstructions(ctx context.Context, tournamentID uuid.UUID) ([]models.PaymentInstruction, error)
}

type settlementService struct {
	core        Core
	scheduler   *Scheduler
	gateway     payments.Gateway
	objects     storage.ObjectStore
	concurrency int
}

func NewSettlementService(core Core, scheduler *Scheduler, gateway payments.Gateway, objects storage.ObjectStore) SettlementService {
	return &settlementService{
		core:        core.withDefaults(),
		scheduler:   scheduler,
		gateway:     gateway,
		objects:     objects,
		concurrency: 4,
	}
}

// PrizeFor returns the prize of one rank: pool * pct/100 * (1 - fee/100), rounded down to 8 places.
func PrizeFor(prizePool, pct, feePercent decimal.Decimal) decimal.Decimal {
	net := decimal.NewFromInt(1).Sub(feePercent.Div(hundred))
	return prizePool.Mul(pct).Div(hundred).Mul(net).RoundDown(prizeScale)
}

// PlatformFee returns prizePool * feePercent / 100.
func PlatformFee(prizePool, feePercent decimal.Decimal) decimal.Decimal {
	return prizePool.Mul(feePercent).Div(hundred).RoundDown(prizeScale)
}

// ComputePayouts builds one payout per configured rank that has an entry on the board.
// The result depends only on its arguments.
func ComputePayouts(t *models.Tournament, board []models.LeaderboardRow, at time.Time) []models.PaymentInstruction {
	payouts := make([]models.PaymentInstruction, 0, len(t.PrizeDistribution))
	for _, rank := range t.PrizeDistribution.Ranks() {
		if rank < 1 || rank > len(board) {
			continue
		}
		row := board[rank-1]
		payouts = append(payouts, models.PaymentInstruction{
			ID:           models.InstructionID(t.ID, row.EntryID),
			TournamentID: t.ID,
			EntryID:      row.EntryID,
			UserID:       row.UserID,
			Kind:         models.InstructionPayout,
			Amount:       PrizeFor(t.PrizePool, t.PrizeDistribution[rank], t.PlatformFeePercent),
			Currency:     t.Currency,
			Rank:         ptr(rank),
			Status:       models.InstructionPending,
			CreatedAt:    at,
		})
	}
	return payouts
}

// ComputeRefunds builds one refund per entry for its original entry amount.
func ComputeRefunds(entries []models.Entry, reason string, at time.Time) []models.PaymentInstruction {
	refunds := make([]models.PaymentInstruction, 0, len(entries))
	for _, e := range entries {
		refunds = append(refunds, refundInstruction(&e, reason, at))
	}
	return refunds
}

func refundInstruction(e *models.Entry, reason string, at time.Time) models.PaymentInstruction {
	return models.PaymentInstruction{
		ID:           models.InstructionID(e.TournamentID, e.ID),
		TournamentID: e.TournamentID,
		EntryID:      e.ID,
		UserID:       e.UserID,
		Kind:         models.InstructionRefund,
		Amount:       e.EntryAmount,
		Currency:     e.EntryCurrency,
		Reason:       reason,
		Status:       models.InstructionPending,
		CreatedAt:    at,
	}
}

func insertInstructions(ctx context.Context, tx repositories.Store, instructions []models.PaymentInstruction) error {
	for i := range instructions {
		created, err := tx.Instructions().Insert(ctx, &instructions[i])
		if err != nil {
			return fmt.Errorf("failed to store %s instruction for entry %s: %w", instructions[i].Kind, instructions[i].EntryID, err)
		}
		if created {
			metrics.PaymentInstructions.WithLabelValues(string(instructions[i].Kind), "created").Inc()
		}
	}
	return nil
}

func (s *settlementService) Settle(ctx context.Context, tx repositories.Store, t *models.Tournament, at time.Time) ([]models.PaymentInstruction, error) {
	entries, err := tx.Entries().ListByTournament(ctx, t.ID, rankedStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries for settlement: %w", err)
	}
	board := slices.Collect(RankEntries(entries))
	payouts := ComputePayouts(t, board, at)

	prizes := make(map[uuid.UUID]decimal.Decimal, len(payouts))
	for _, p := range payouts {
		prizes[p.EntryID] = p.Amount
	}

	ranks := make(map[uuid.UUID]int, len(board))
	for _, row := range board {
		ranks[row.EntryID] = row.Rank
		prize := prizes[row.EntryID]
		written, err := tx.Entries().SetResult(ctx, row.EntryID, ptr(row.Rank), prize)
		if err != nil {
			return nil, fmt.Errorf("failed to record result for entry %s: %w", row.EntryID, err)
		}
		if !written {
			continue
		}
		delta := repositories.StatsDelta{
			UserID:   row.UserID,
			Currency: t.Currency,
			Matches:  1,
			Earnings: prize,
			At:       at,
		}
		if row.Rank == 1 {
			delta.Wins = 1
		}
		if err := tx.Stats().Increment(ctx, delta); err != nil {
			return nil, fmt.Errorf("failed to update stats for user %d: %w", row.UserID, err)
		}
	}

	// Entries that never scored finish unranked with no prize.
	for _, e := range entries {
		if _, ok := ranks[e.ID]; ok {
			continue
		}
		if _, err := tx.Entries().SetResult(ctx, e.ID, nil, decimal.Zero); err != nil {
			return nil, fmt.Errorf("failed to record result for entry %s: %w", e.ID, err)
		}
	}

	if err := insertInstructions(ctx, tx, payouts); err != nil {
		return nil, err
	}
	return payouts, nil
}

// Refund: completed entries keep their status but still get their entry amount back.
func (s *settlementService) Refund(ctx context.Context, tx repositories.Store, t *models.Tournament, reason string, at time.Time) ([]models.PaymentInstruction, error) {
	if _, err := tx.Entries().TransitionAll(ctx, t.ID, repositories.EntryChange{
		From:   []models.EntryStatus{models.EntryPending},
		To:     models.EntryForfeited,
		At:     at,
		Reason: ptr(reason),
	}); err != nil {
		return nil, fmt.Errorf("failed to void unpaid entries: %w", err)
	}

	refunded, err := tx.Entries().TransitionAll(ctx, t.ID, repositories.EntryChange{
		From:   []models.EntryStatus{models.EntryConfirmed, models.EntryPlaying},
		To:     models.EntryRefunded,
		At:     at,
		Reason: ptr(reason),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refund entries: %w", err)
	}

	completed, err := tx.Entries().ListByTournament(ctx, t.ID, []models.EntryStatus{models.EntryCompleted})
	if err != nil {
		return nil, fmt.Errorf("failed to load completed entries: %w", err)
	}

	refunds := ComputeRefunds(append(refunded, completed...), reason, at)
	if err := insertInstructions(ctx, tx, refunds); err != nil {
		return nil, err
	}
	return refunds, nil
}

func filterInstructions(in []models.PaymentInstruction, kind models.InstructionKind) []models.PaymentInstruction {
	out := make([]models.PaymentInstruction, 0, len(in))
	for _, p := range in {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// Dispatch sends every pending instruction of the tournament. Instructions the payment service
// rejected are reported through payments.ErrRejected only when nothing else failed.
func (s *settlementService) Dispatch(ctx context.Context, tournamentID uuid.UUID) error {
	pending, err := s.core.Store.Instructions().ListPending(ctx, tournamentID)
	if err != nil {
		return fmt.Errorf("failed to load pending instructions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	var (
		mu        sync.Mutex
		rejected  []error
		transient []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, in := range pending {
		g.Go(func() error {
			err := s.send(gctx, in)
			if err == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, payments.ErrRejected) {
				rejected = append(rejected, err)
			} else {
				transient = append(transient, err)
			}
			s.core.Logger.Warn("failed to send payment instruction",
				zap.String("tournament_id", tournamentID.String()),
				zap.String("entry_id", in.EntryID.String()),
				zap.String("kind", string(in.Kind)),
				zap.Error(err),
			)
			return nil
		})
	}
	_ = g.Wait()

	if len(transient) > 0 {
		return errors.Join(transient...)
	}
	if len(rejected) > 0 {
		return errors.Join(rejected...)
	}
	return nil
}

func (s *settlementService) send(ctx context.Context, in models.PaymentInstruction) error {
	ref := zeroAmountRef
	if !in.Amount.IsZero() {
		receipt, err := s.gateway.Send(ctx, in)
		if err != nil {
			return err
		}
		ref = receipt.Reference
	}

	// The payment service deduplicates on the instruction key, so a crash before MarkSent only re-sends.
	bookkeeping := context.WithoutCancel(ctx)
	marked, err := s.core.Store.Instructions().MarkSent(bookkeeping, in.ID, ref, s.core.Now())
	if err != nil {
		return fmt.Errorf("failed to mark instruction %s sent: %w", in.ID, err)
	}
	if !marked {
		return nil
	}
	metrics.PaymentInstructions.WithLabelValues(string(in.Kind), "sent").Inc()

	if in.Kind == models.InstructionPayout && ref != zeroAmountRef {
		if err := s.core.Store.Entries().SetPrizeTxHash(bookkeeping, in.EntryID, ref); err != nil {
			return fmt.Errorf("failed to record prize tx for entry %s: %w", in.EntryID, err)
		}
	}
	return nil
}

type settlementReport struct {
	Tournament  *models.Tournament          `json:"tournament"`
	Leaderboard []models.LeaderboardRow     `json:"leaderboard"`
	Payouts     []models.PaymentInstruction `json:"payouts"`
}

// ReportKey is the object key of a tournament's settlement report.
func ReportKey(tournamentID uuid.UUID) string {
	return "settlements/" + tournamentID.String() + ".json"
}

// Archive uploads the settlement report of a completed tournament. Re-running overwrites the same object.
func (s *settlementService) Archive(ctx context.Context, tournamentID uuid.UUID) error {
	if s.objects == nil {
		return nil
	}
	t, err := s.core.Store.Tournaments().GetByID(ctx, tournamentID)
	if err != nil {
		return mapTournamentRepoError(err)
	}
	if t.Status != models.StatusCompleted {
		return ErrTournamentInvalidStatusTransition
	}

	entries, err := s.core.Store.Entries().ListByTournament(ctx, tournamentID, rankedStatuses)
	if err != nil {
		return err
	}
	instructions, err := s.core.Store.Instructions().ListByTournament(ctx, tournamentID)
	if err != nil {
		return err
	}

	report := settlementReport{
		Tournament:  t,
		Leaderboard: slices.Collect(RankEntries(entries)),
		Payouts:     filterInstructions(instructions, models.InstructionPayout),
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settlement report: %w", err)
	}

	res, err := s.objects.Put(ctx, ReportKey(tournamentID), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to upload settlement report: %w", err)
	}
	s.core.Logger.Info("settlement report archived",
		zap.String("tournament_id", tournamentID.String()),
		zap.String("location", res.Location),
	)
	return nil
}

func (s *settlementService) ListInstructions(ctx context.Context, tournamentID uuid.UUID) ([]models.PaymentInstruction, error) {
	if _, err := s.core.Store.Tournaments().GetByID(ctx, tournamentID); err != nil {
		return nil, mapTournamentRepoError(err)
	}
	return s.core.Store.Instructions().ListByTournament(ctx, tournamentID)
}
