package services

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/Dosada05/skill-tournaments/jobs"
	"github.com/Dosada05/skill-tournaments/models"
	"github.com/Dosada05/skill-tournaments/payments"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestPrizeFor(t *testing.T) {
	tests := []struct {
		name           string
		pool, pct, fee string
		want           string
	}{
		{name: "winner after fee", pool: "100", pct: "60", fee: "10", want: "54"},
		{name: "no fee", pool: "100", pct: "40", fee: "0", want: "40"},
		{name: "rounds down to 8 places", pool: "10", pct: "33.33333333", fee: "0", want: "3.33333333"},
		{name: "tiny pool", pool: "0.00000001", pct: "50", fee: "0", want: "0"},
		{name: "fractional fee", pool: "1", pct: "100", fee: "2.5", want: "0.975"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PrizeFor(dec(tt.pool), dec(tt.pct), dec(tt.fee))
			if !got.Equal(dec(tt.want)) {
				t.Fatalf("PrizeFor(%s, %s, %s) = %s, want %s", tt.pool, tt.pct, tt.fee, got, tt.want)
			}
		})
	}

	if got := PlatformFee(dec("250"), dec("2.5")); !got.Equal(dec("6.25")) {
		t.Fatalf("PlatformFee = %s, want 6.25", got)
	}
}

func TestComputePayoutsIsDeterministic(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tournament := &models.Tournament{
		ID:                 uuid.MustParse("7b0e3c4e-5d6f-4a1b-8c9d-0e1f2a3b4c5d"),
		PrizePool:          dec("1000"),
		Currency:           models.CurrencyETH,
		PlatformFeePercent: dec("5"),
		PrizeDistribution:  models.PrizeDistribution{1: dec("50"), 2: dec("30"), 3: dec("20")},
	}
	board := []models.LeaderboardRow{
		{Rank: 1, EntryID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), UserID: 11, Score: 9},
		{Rank: 2, EntryID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), UserID: 12, Score: 8},
	}

	first := ComputePayouts(tournament, board, t0)
	second := ComputePayouts(tournament, board, t0)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("payouts differ between runs")
	}
	if len(first) != 2 {
		t.Fatalf("ranks without a player get no payout, got %d payouts", len(first))
	}
	if !first[0].Amount.Equal(dec("475")) || !first[1].Amount.Equal(dec("285")) {
		t.Fatalf("unexpected amounts: %s, %s", first[0].Amount, first[1].Amount)
	}
	if first[0].ID != models.InstructionID(tournament.ID, board[0].EntryID) {
		t.Fatalf("payout id must derive from tournament and entry")
	}
	if *first[1].Rank != 2 || first[1].UserID != 12 || first[1].Kind != models.InstructionPayout {
		t.Fatalf("unexpected second payout: %+v", first[1])
	}

	total := decimal.Zero
	for _, p := range first {
		total = total.Add(p.Amount)
	}
	if total.GreaterThan(tournament.PrizePool) {
		t.Fatalf("payouts exceed the prize pool: %s", total)
	}
}

func TestComputeRefunds(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tid := uuid.New()
	entries := []models.Entry{
		{ID: uuid.New(), TournamentID: tid, UserID: 1, EntryAmount: dec("5"), EntryCurrency: models.CurrencyBTC},
		{ID: uuid.New(), TournamentID: tid, UserID: 2, EntryAmount: dec("7.5"), EntryCurrency: models.CurrencyBTC},
	}
	refunds := ComputeRefunds(entries, models.ReasonCancelled, t0)
	if len(refunds) != 2 {
		t.Fatalf("expected 2 refunds, got %d", len(refunds))
	}
	for i, r := range refunds {
		if r.EntryID != entries[i].ID || !r.Amount.Equal(entries[i].EntryAmount) || r.Kind != models.InstructionRefund {
			t.Fatalf("refund %d does not match its entry: %+v", i, r)
		}
	}
}

func settledTournament(t *testing.T, f *fixture) *models.Tournament {
	t.Helper()
	tournament := f.started(t, 3, nil)
	f.submit(t, tournament.ID, 1, 100)
	f.clock.Advance(time.Second)
	f.submit(t, tournament.ID, 2, 90)
	f.clock.Advance(time.Second)
	f.submit(t, tournament.ID, 3, 80)
	if _, err := f.lifecycle.End(context.Background(), tournament.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	return tournament
}

func TestDispatchSendsEachInstructionOnce(t *testing.T) {
	f := newFixture(t)
	tournament := settledTournament(t, f)
	ctx := context.Background()

	if err := f.settlement.Dispatch(ctx, tournament.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := len(f.ledger.Sent()); got != 2 {
		t.Fatalf("expected 2 instructions at the payment service, got %d", got)
	}
	for _, p := range f.instructions(t, tournament.ID, models.InstructionPayout) {
		if p.Status != models.InstructionSent || p.ExternalRef == nil || p.SentAt == nil {
			t.Fatalf("expected payout marked SENT, got %+v", p)
		}
	}
	winner := f.entry(t, tournament.ID, 1)
	if winner.PrizeTxHash == nil {
		t.Fatalf("expected prize tx hash on the winning entry")
	}

	if err := f.settlement.Dispatch(ctx, tournament.ID); err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if got := len(f.ledger.Sent()); got != 2 {
		t.Fatalf("second dispatch must not resend, got %d", got)
	}
}

func TestDispatchFailures(t *testing.T) {
	errTimeout := errors.New("payment service timeout")

	t.Run("rejections only are permanent", func(t *testing.T) {
		f := newFixture(t)
		tournament := settledTournament(t, f)
		f.ledger.Fail = func(in models.PaymentInstruction) error {
			if *in.Rank == 1 {
				return payments.ErrRejected
			}
			return nil
		}

		err := f.settlement.Dispatch(context.Background(), tournament.ID)
		if !errors.Is(err, payments.ErrRejected) {
			t.Fatalf("expected ErrRejected, got %v", err)
		}
		if !jobs.IsPermanent(classifyJobError(err)) {
			t.Fatalf("rejections must not be retried")
		}
		sent := 0
		for _, p := range f.instructions(t, tournament.ID, models.InstructionPayout) {
			if p.Status == models.InstructionSent {
				sent++
			}
		}
		if sent != 1 {
			t.Fatalf("the accepted payout must still be marked sent, got %d sent", sent)
		}
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		f := newFixture(t)
		tournament := settledTournament(t, f)
		f.ledger.Fail = func(in models.PaymentInstruction) error {
			if *in.Rank == 1 {
				return payments.ErrRejected
			}
			return errTimeout
		}

		err := f.settlement.Dispatch(context.Background(), tournament.ID)
		if !errors.Is(err, errTimeout) || errors.Is(err, payments.ErrRejected) {
			t.Fatalf("expected only the transient error, got %v", err)
		}
		if jobs.IsPermanent(classifyJobError(err)) {
			t.Fatalf("transient failures must be retried")
		}
	})
}

func TestDispatchZeroAmountSkipsPaymentService(t *testing.T) {
	f := newFixture(t)
	tournament := f.started(t, 2, func(in *CreateTournamentInput) {
		in.EntryFee = decimal.Zero
		in.PrizePool = decimal.Zero
	})
	f.submit(t, tournament.ID, 1, 5)
	f.submit(t, tournament.ID, 2, 3)
	if _, err := f.lifecycle.End(context.Background(), tournament.ID); err != nil {
		t.Fatalf("End: %v", err)
	}

	if err := f.settlement.Dispatch(context.Background(), tournament.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := len(f.ledger.Sent()); got != 0 {
		t.Fatalf("zero-amount payouts must not reach the payment service, got %d", got)
	}
	for _, p := range f.instructions(t, tournament.ID, models.InstructionPayout) {
		if p.Status != models.InstructionSent || *p.ExternalRef != zeroAmountRef {
			t.Fatalf("expected zero-amount payout closed locally, got %+v", p)
		}
	}
}

func TestArchiveUploadsSettlementReport(t *testing.T) {
	f := newFixture(t)
	tournament := settledTournament(t, f)
	ctx := context.Background()

	if err := f.settlement.Archive(ctx, tournament.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	raw, err := f.objects.Get(ctx, ReportKey(tournament.ID))
	if err != nil {
		t.Fatalf("Get report: %v", err)
	}
	var report settlementReport
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if report.Tournament.ID != tournament.ID || len(report.Leaderboard) != 3 || len(report.Payouts) != 2 {
		t.Fatalf("unexpected report: tournament=%s rows=%d payouts=%d", report.Tournament.ID, len(report.Leaderboard), len(report.Payouts))
	}

	if err := f.settlement.Archive(ctx, tournament.ID); err != nil {
		t.Fatalf("second Archive: %v", err)
	}
	again, _ := f.objects.Get(ctx, ReportKey(tournament.ID))
	if string(again) != string(raw) {
		t.Fatalf("re-archiving must produce the same report")
	}

	open := f.create(t, nil)
	if err := f.settlement.Archive(ctx, open.ID); !errors.Is(err, ErrTournamentInvalidStatusTransition) {
		t.Fatalf("expected ErrTournamentInvalidStatusTransition for an open tournament, got %v", err)
	}
}

func TestListInstructions(t *testing.T) {
	f := newFixture(t)
	tournament := settledTournament(t, f)

	all, err := f.settlement.ListInstructions(context.Background(), tournament.ID)
	if err != nil {
		t.Fatalf("ListInstructions: %v", err)
	}
	if len(all) != 2 || *all[0].Rank != 1 {
		t.Fatalf("expected payouts ordered by rank, got %+v", all)
	}
	if _, err := f.settlement.ListInstructions(context.Background(), uuid.New()); !errors.Is(err, ErrTournamentNotFound) {
		t.Fatalf("expected ErrTournamentNotFound, got %v", err)
	}
}
