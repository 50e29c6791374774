package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/Dosada05/skill-tournaments/payments"
	"github.com/Dosada05/skill-tournaments/repositories"
	"github.com/Dosada05/skill-tournaments/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store   *repositories.MemoryStore
	ledger  *payments.Ledger
	objects *storage.MemoryObjectStore
	clock   *testClock

	scheduler   *Scheduler
	tournaments TournamentService
	lifecycle   LifecycleService
	admission   AdmissionService
	scores      ScoreService
	settlement  SettlementService
	jobAdmin    JobAdminService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithAttestor(t, nil)
}

func newFixtureWithAttestor(t *testing.T, attestor *Attestor) *fixture {
	t.Helper()
	f := &fixture{
		store:   repositories.NewMemoryStore(),
		ledger:  payments.NewLedger(),
		objects: storage.NewMemoryObjectStore(),
		clock:   &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	core := Core{
		Store:  f.store,
		Logger: zap.NewNop(),
		Now:    f.clock.Now,
	}
	f.scheduler = NewScheduler(core, 5)
	f.tournaments = NewTournamentService(core, f.scheduler)
	f.settlement = NewSettlementService(core, f.scheduler, f.ledger, f.objects)
	f.lifecycle = NewLifecycleService(core, f.scheduler, f.settlement)
	f.admission = NewAdmissionService(core, f.scheduler, f.ledger)
	f.scores = NewScoreService(core, f.scheduler, attestor)
	f.jobAdmin = NewJobAdminService(core)
	return f
}

// proof returns a payment proof the in-process ledger accepts.
func proof(i int) string {
	return fmt.Sprintf("0x%064x", i)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// baseInput is an OPEN paid SYNC tournament: fee 10, pool 100, 10% platform fee, 60/40 split.
func (f *fixture) baseInput() CreateTournamentInput {
	duration := 1800
	return CreateTournamentInput{
		GameID:               "chess-blitz",
		Name:                 "Friday Blitz",
		Mode:                 models.ModeSync,
		EntryFee:             dec("10"),
		PrizePool:            dec("100"),
		Currency:             models.CurrencyUSDTTron,
		MinPlayers:           2,
		MaxPlayers:           4,
		PrizeDistribution:    models.PrizeDistribution{1: dec("60"), 2: dec("40")},
		ScheduledStart:       f.clock.Now().Add(time.Hour),
		MatchDurationSeconds: &duration,
		RoundsCount:          1,
		ScoreAggregation:     models.AggregationBest,
		PlatformFeePercent:   dec("10"),
		OpenImmediately:      true,
	}
}

func (f *fixture) create(t *testing.T, mutate func(in *CreateTournamentInput)) *models.Tournament {
	t.Helper()
	in := f.baseInput()
	if mutate != nil {
		mutate(&in)
	}
	tournament, err := f.tournaments.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tournament
}

func (f *fixture) join(t *testing.T, tournamentID uuid.UUID, userID int, paymentProof string) *models.Entry {
	t.Helper()
	e, err := f.admission.Join(context.Background(), tournamentID, userID, paymentProof)
	if err != nil {
		t.Fatalf("Join(user %d): %v", userID, err)
	}
	return e
}

// started creates a tournament, admits paid users 1..players and starts it.
func (f *fixture) started(t *testing.T, players int, mutate func(in *CreateTournamentInput)) *models.Tournament {
	t.Helper()
	tournament := f.create(t, mutate)
	for u := 1; u <= players; u++ {
		f.join(t, tournament.ID, u, proof(u))
	}
	f.clock.Advance(time.Hour)
	started, err := f.lifecycle.Start(context.Background(), tournament.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != models.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS after start, got %s", started.Status)
	}
	return started
}

func (f *fixture) tournament(t *testing.T, id uuid.UUID) *models.Tournament {
	t.Helper()
	tournament, err := f.store.Tournaments().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return tournament
}

func (f *fixture) entry(t *testing.T, tournamentID uuid.UUID, userID int) *models.Entry {
	t.Helper()
	e, err := f.store.Entries().GetByTournamentAndUser(context.Background(), tournamentID, userID)
	if err != nil {
		t.Fatalf("GetByTournamentAndUser(user %d): %v", userID, err)
	}
	return e
}

func (f *fixture) submit(t *testing.T, tournamentID uuid.UUID, userID int, score int64) *models.Entry {
	t.Helper()
	e, err := f.scores.SubmitScore(context.Background(), tournamentID, userID, SubmitScoreInput{Score: score})
	if err != nil {
		t.Fatalf("SubmitScore(user %d, %d): %v", userID, score, err)
	}
	return e
}

// pendingJob returns the PENDING job of the given type, or nil.
func (f *fixture) pendingJob(t *testing.T, tournamentID uuid.UUID, jobType models.JobType) *models.Job {
	t.Helper()
	all, err := f.store.Jobs().ListByTournament(context.Background(), tournamentID)
	if err != nil {
		t.Fatalf("ListByTournament jobs: %v", err)
	}
	for i := range all {
		if all[i].Type == jobType && all[i].Status == models.JobPending {
			return &all[i]
		}
	}
	return nil
}

func (f *fixture) instructions(t *testing.T, tournamentID uuid.UUID, kind models.InstructionKind) []models.PaymentInstruction {
	t.Helper()
	all, err := f.store.Instructions().ListByTournament(context.Background(), tournamentID)
	if err != nil {
		t.Fatalf("ListByTournament instructions: %v", err)
	}
	return filterInstructions(all, kind)
}
