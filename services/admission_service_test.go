package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/Dosada05/skill-tournaments/payments"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"github.com/shopspring/decimal"
)

func TestJoinConcurrentNeverExceedsCapacity(t *testing.T) {
	f := newFixture(t)
	tournament := f.create(t, func(in *CreateTournamentInput) {
		in.EntryFee = decimal.Zero
		in.MaxPlayers = 5
	})

	const attempts = 40
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		full     int
	)
	for u := 1; u <= attempts; u++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()
			_, err := f.admission.Join(context.Background(), tournament.ID, userID, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, ErrTournamentFull):
				full++
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}(u)
	}
	wg.Wait()

	if admitted != 5 || full != attempts-5 {
		t.Fatalf("expected 5 admitted and %d full, got %d and %d", attempts-5, admitted, full)
	}
	if got := f.tournament(t, tournament.ID).CurrentPlayers; got != 5 {
		t.Fatalf("expected current_players 5, got %d", got)
	}
	entries, err := f.store.Entries().ListByTournament(context.Background(), tournament.ID, nil)
	if err != nil {
		t.Fatalf("ListByTournament: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
}

func TestJoinLastSlotRace(t *testing.T) {
	f := newFixture(t)
	tournament := f.create(t, func(in *CreateTournamentInput) { in.MaxPlayers = 2 })
	f.join(t, tournament.ID, 1, proof(1))

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, u := range []int{2, 3} {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()
			_, err := f.admission.Join(context.Background(), tournament.ID, userID, proof(userID))
			errs <- err
		}(u)
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrTournamentFull):
			lost++
		default:
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("expected exactly one winner of the last slot, got won=%d lost=%d", won, lost)
	}

	if _, err := f.admission.Join(context.Background(), tournament.ID, 4, proof(4)); !errors.Is(err, ErrTournamentFull) {
		t.Fatalf("expected ErrTournamentFull for a late join, got %v", err)
	}
	if got := f.tournament(t, tournament.ID).CurrentPlayers; got != 2 {
		t.Fatalf("expected current_players 2, got %d", got)
	}
}

func TestJoinPaymentStatus(t *testing.T) {
	tests := []struct {
		name       string
		free       bool
		proof      string
		wantStatus models.EntryStatus
		wantErr    error
		wantHash   bool
	}{
		{name: "free tournament", free: true, wantStatus: models.EntryConfirmed},
		{name: "paid without proof holds a slot", wantStatus: models.EntryPending},
		{name: "paid with valid proof", proof: proof(7), wantStatus: models.EntryConfirmed, wantHash: true},
		{name: "paid with rejected proof", proof: "not-a-tx", wantErr: ErrPaymentUnconfirmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tournament := f.create(t, func(in *CreateTournamentInput) {
				if tt.free {
					in.EntryFee = decimal.Zero
				}
			})

			e, err := f.admission.Join(context.Background(), tournament.ID, 1, tt.proof)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if got := f.tournament(t, tournament.ID).CurrentPlayers; got != 0 {
					t.Fatalf("rejected join must not take a slot, current_players=%d", got)
				}
				if _, err := f.store.Entries().GetByTournamentAndUser(context.Background(), tournament.ID, 1); err == nil {
					t.Fatalf("rejected join must not leave an entry behind")
				}
				if _, err := f.admission.Join(context.Background(), tournament.ID, 1, proof(1)); err != nil {
					t.Fatalf("retry with a valid proof: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Join: %v", err)
			}
			if e.Status != tt.wantStatus {
				t.Fatalf("expected status %s, got %s", tt.wantStatus, e.Status)
			}
			if tt.wantHash && (e.EntryTxHash == nil || *e.EntryTxHash != tt.proof) {
				t.Fatalf("expected entry tx hash %q, got %v", tt.proof, e.EntryTxHash)
			}
			if !e.EntryAmount.Equal(tournament.EntryFee) || e.EntryCurrency != tournament.Currency {
				t.Fatalf("entry amount not copied from tournament: %s %s", e.EntryAmount, e.EntryCurrency)
			}
		})
	}
}

// hookedVerifier calls the ledger and runs during (if set) before answering.
type hookedVerifier struct {
	ledger *payments.Ledger
	mu     sync.Mutex
	calls  int
	during func()
}

func (v *hookedVerifier) VerifyEntryPayment(ctx context.Context, req payments.VerifyRequest) (payments.Verification, error) {
	v.mu.Lock()
	v.calls++
	hook := v.during
	v.during = nil
	v.mu.Unlock()
	if hook != nil {
		hook()
	}
	return v.ledger.VerifyEntryPayment(ctx, req)
}

func (v *hookedVerifier) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func (f *fixture) admissionWith(verifier payments.Verifier) AdmissionService {
	return NewAdmissionService(Core{Store: f.store, Logger: zap.NewNop(), Now: f.clock.Now}, f.scheduler, verifier)
}

func TestPaidJoinFailsBeforeVerifying(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture) uuid.UUID
		userID  int
		wantErr error
	}{
		{
			name: "full",
			setup: func(t *testing.T, f *fixture) uuid.UUID {
				tournament := f.create(t, func(in *CreateTournamentInput) { in.MaxPlayers = 2 })
				f.join(t, tournament.ID, 1, proof(1))
				f.join(t, tournament.ID, 2, proof(2))
				return tournament.ID
			},
			userID:  3,
			wantErr: ErrTournamentFull,
		},
		{
			name: "already entered",
			setup: func(t *testing.T, f *fixture) uuid.UUID {
				tournament := f.create(t, nil)
				f.join(t, tournament.ID, 1, proof(1))
				return tournament.ID
			},
			userID:  1,
			wantErr: ErrAlreadyEntered,
		},
		{
			name: "started",
			setup: func(t *testing.T, f *fixture) uuid.UUID {
				return f.started(t, 2, nil).ID
			},
			userID:  3,
			wantErr: ErrTournamentNotOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tournamentID := tt.setup(t, f)
			verifier := &hookedVerifier{ledger: f.ledger}
			before := f.tournament(t, tournamentID).CurrentPlayers

			_, err := f.admissionWith(verifier).Join(context.Background(), tournamentID, tt.userID, proof(tt.userID))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if n := verifier.count(); n != 0 {
				t.Fatalf("payment must not be verified for a join that cannot be admitted, got %d calls", n)
			}
			if refunds := f.instructions(t, tournamentID, models.InstructionRefund); len(refunds) != 0 {
				t.Fatalf("expected no refunds, got %+v", refunds)
			}
			if got := f.tournament(t, tournamentID).CurrentPlayers; got != before {
				t.Fatalf("current_players changed from %d to %d", before, got)
			}
		})
	}
}

func TestPaymentVerifiedAfterEntryVoided(t *testing.T) {
	tests := []struct {
		name    string
		pending bool
		pay     func(ctx context.Context, svc AdmissionService, tournamentID uuid.UUID) error
	}{
		{
			name: "join with proof",
			pay: func(ctx context.Context, svc AdmissionService, tournamentID uuid.UUID) error {
				_, err := svc.Join(ctx, tournamentID, 3, proof(3))
				return err
			},
		},
		{
			name:    "confirm payment",
			pending: true,
			pay: func(ctx context.Context, svc AdmissionService, tournamentID uuid.UUID) error {
				_, err := svc.ConfirmPayment(ctx, tournamentID, 3, proof(3))
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			tournament := f.create(t, nil)
			f.join(t, tournament.ID, 1, proof(1))
			f.join(t, tournament.ID, 2, proof(2))
			if tt.pending {
				f.join(t, tournament.ID, 3, "")
			}

			// The start deadline fires while the payment service is answering.
			verifier := &hookedVerifier{ledger: f.ledger, during: func() {
				f.clock.Advance(time.Hour)
				if _, err := f.lifecycle.Start(ctx, tournament.ID); err != nil {
					t.Errorf("Start: %v", err)
				}
			}}
			if err := tt.pay(ctx, f.admissionWith(verifier), tournament.ID); !errors.Is(err, ErrTournamentNotOpen) {
				t.Fatalf("expected ErrTournamentNotOpen, got %v", err)
			}

			e := f.entry(t, tournament.ID, 3)
			if e.Status != models.EntryForfeited {
				t.Fatalf("expected the voided entry to stay FORFEITED, got %s", e.Status)
			}
			refunds := f.instructions(t, tournament.ID, models.InstructionRefund)
			if len(refunds) != 1 || refunds[0].EntryID != e.ID || refunds[0].Reason != models.ReasonPaymentAfterClose || !refunds[0].Amount.Equal(dec("10")) {
				t.Fatalf("expected one refund of 10 for the late payment, got %+v", refunds)
			}
			if f.pendingJob(t, tournament.ID, models.JobDispatchPayments) == nil {
				t.Fatalf("expected a pending dispatch job for the refund")
			}
			if got := f.tournament(t, tournament.ID); got.Status != models.StatusInProgress || got.CurrentPlayers != 2 {
				t.Fatalf("expected IN_PROGRESS with 2 players, got %s with %d", got.Status, got.CurrentPlayers)
			}
		})
	}
}

func TestJoinTwiceKeepsOneSlot(t *testing.T) {
	f := newFixture(t)
	tournament := f.create(t, nil)
	f.join(t, tournament.ID, 1, proof(1))

	if _, err := f.admission.Join(context.Background(), tournament.ID, 1, proof(1)); !errors.Is(err, ErrAlreadyEntered) {
		t.Fatalf("expected ErrAlreadyEntered, got %v", err)
	}
	if got := f.tournament(t, tournament.ID).CurrentPlayers; got != 1 {
		t.Fatalf("failed join must roll back its slot, current_players=%d", got)
	}
}

func TestJoinRequiresOpenTournament(t *testing.T) {
	f := newFixture(t)
	scheduled := f.create(t, func(in *CreateTournamentInput) { in.OpenImmediately = false })

	if _, err := f.admission.Join(context.Background(), scheduled.ID, 1, ""); !errors.Is(err, ErrTournamentNotOpen) {
		t.Fatalf("expected ErrTournamentNotOpen, got %v", err)
	}
	if _, err := f.admission.Join(context.Background(), uuid.New(), 1, ""); !errors.Is(err, ErrTournamentNotFound) {
		t.Fatalf("expected ErrTournamentNotFound, got %v", err)
	}

	started := f.started(t, 2, nil)
	if _, err := f.admission.Join(context.Background(), started.ID, 9, proof(9)); !errors.Is(err, ErrTournamentNotOpen) {
		t.Fatalf("expected ErrTournamentNotOpen after start, got %v", err)
	}
}

func TestLeave(t *testing.T) {
	f := newFixture(t)
	tournament := f.create(t, nil)
	paid := f.join(t, tournament.ID, 1, proof(1))
	f.join(t, tournament.ID, 2, "")
	ctx := context.Background()

	if err := f.admission.Leave(ctx, tournament.ID, 1); err != nil {
		t.Fatalf("Leave paid: %v", err)
	}
	if e := f.entry(t, tournament.ID, 1); e.Status != models.EntryRefunded || e.StatusReason == nil || *e.StatusReason != models.ReasonWithdrawn {
		t.Fatalf("expected REFUNDED/withdrawn, got %s %v", e.Status, e.StatusReason)
	}
	refunds := f.instructions(t, tournament.ID, models.InstructionRefund)
	if len(refunds) != 1 || refunds[0].EntryID != paid.ID || !refunds[0].Amount.Equal(dec("10")) {
		t.Fatalf("expected one refund of 10 for the paid entry, got %+v", refunds)
	}
	if f.pendingJob(t, tournament.ID, models.JobDispatchPayments) == nil {
		t.Fatalf("expected a pending dispatch job after a paid withdrawal")
	}

	if err := f.admission.Leave(ctx, tournament.ID, 2); err != nil {
		t.Fatalf("Leave unpaid: %v", err)
	}
	if e := f.entry(t, tournament.ID, 2); e.Status != models.EntryForfeited {
		t.Fatalf("expected FORFEITED for an unpaid withdrawal, got %s", e.Status)
	}
	if got := len(f.instructions(t, tournament.ID, models.InstructionRefund)); got != 1 {
		t.Fatalf("unpaid withdrawal must not create a refund, got %d refunds", got)
	}
	if got := f.tournament(t, tournament.ID).CurrentPlayers; got != 0 {
		t.Fatalf("expected both slots released, current_players=%d", got)
	}

	if err := f.admission.Leave(ctx, tournament.ID, 1); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound on second leave, got %v", err)
	}
	if _, err := f.admission.Join(ctx, tournament.ID, 1, proof(1)); !errors.Is(err, ErrAlreadyEntered) {
		t.Fatalf("expected ErrAlreadyEntered on rejoin, got %v", err)
	}
}

func TestLeaveAfterStartIsRejected(t *testing.T) {
	f := newFixture(t)
	tournament := f.started(t, 2, nil)

	if err := f.admission.Leave(context.Background(), tournament.ID, 1); !errors.Is(err, ErrTournamentNotOpen) {
		t.Fatalf("expected ErrTournamentNotOpen, got %v", err)
	}
	if e := f.entry(t, tournament.ID, 1); e.Status != models.EntryPlaying {
		t.Fatalf("entry must stay PLAYING, got %s", e.Status)
	}
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture(t)
	tournament := f.create(t, nil)
	f.join(t, tournament.ID, 1, "")
	ctx := context.Background()

	if _, err := f.admission.ConfirmPayment(ctx, tournament.ID, 1, ""); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed for empty proof, got %v", err)
	}
	if _, err := f.admission.ConfirmPayment(ctx, tournament.ID, 1, "bogus"); !errors.Is(err, ErrPaymentUnconfirmed) {
		t.Fatalf("expected ErrPaymentUnconfirmed, got %v", err)
	}

	e, err := f.admission.ConfirmPayment(ctx, tournament.ID, 1, proof(1))
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if e.Status != models.EntryConfirmed || e.EntryTxHash == nil || *e.EntryTxHash != proof(1) {
		t.Fatalf("expected CONFIRMED with tx hash, got %s %v", e.Status, e.EntryTxHash)
	}

	if _, err := f.admission.ConfirmPayment(ctx, tournament.ID, 1, proof(1)); !errors.Is(err, ErrEntryNotPending) {
		t.Fatalf("expected ErrEntryNotPending on repeat, got %v", err)
	}
	if _, err := f.admission.ConfirmPayment(ctx, tournament.ID, 2, proof(2)); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound for a user without entry, got %v", err)
	}
}

func TestListUserEntries(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, nil)
	second := f.create(t, func(in *CreateTournamentInput) { in.Name = "Saturday Blitz" })
	f.join(t, first.ID, 1, proof(1))
	f.clock.Advance(1)
	f.join(t, second.ID, 1, "")
	f.join(t, second.ID, 2, "")

	entries, err := f.admission.ListUserEntries(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListUserEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].TournamentID != second.ID {
		t.Fatalf("expected newest entry first")
	}
}
