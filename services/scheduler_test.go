package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dosada05/skill-tournaments/jobs"
	"github.com/Dosada05/skill-tournaments/models"
	"github.com/Dosada05/skill-tournaments/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestCreateSchedulesLifecycleJobs(t *testing.T) {
	f := newFixture(t)
	end := f.clock.Now().Add(3 * time.Hour)
	tournament := f.create(t, func(in *CreateTournamentInput) {
		in.ScheduledEnd = &end
	})

	start := f.pendingJob(t, tournament.ID, models.JobStartTournament)
	if start == nil || !start.RunAt.Equal(tournament.ScheduledStart) {
		t.Fatalf("expected start job at scheduled start, got %+v", start)
	}
	endJob := f.pendingJob(t, tournament.ID, models.JobEndTournament)
	if endJob == nil || !endJob.RunAt.Equal(end) {
		t.Fatalf("expected end job at scheduled end, got %+v", endJob)
	}
	if start.MaxAttempts != 5 {
		t.Fatalf("expected max attempts from the scheduler, got %d", start.MaxAttempts)
	}
}

func TestEnqueueKeepsEarliestRunAt(t *testing.T) {
	f := newFixture(t)
	tournament := f.create(t, nil)
	now := f.clock.Now()
	ctx := context.Background()

	enqueue := func(runAt time.Time) uuid.UUID {
		t.Helper()
		var id uuid.UUID
		err := f.store.InTx(ctx, func(tx repositories.Store) error {
			var err error
			id, err = f.scheduler.Enqueue(ctx, tx, models.JobEndTournament, tournament.ID, runAt)
			return err
		})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		return id
	}

	first := enqueue(now.Add(2 * time.Hour))
	second := enqueue(now.Add(time.Hour))
	third := enqueue(now.Add(3 * time.Hour))
	if first != second || second != third {
		t.Fatalf("expected one pending job per tournament and type")
	}
	job := f.pendingJob(t, tournament.ID, models.JobEndTournament)
	if !job.RunAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected earliest run time kept, got %s", job.RunAt)
	}
}

func TestReconcileRequeuesOverdueTournaments(t *testing.T) {
	f := newFixture(t)
	tournament := f.create(t, nil)
	ctx := context.Background()

	// Simulate a lost start job.
	if _, err := f.store.Jobs().Cancel(ctx, tournament.ID, []models.JobType{models.JobStartTournament}, f.clock.Now()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	n, err := f.scheduler.Reconcile(ctx)
	if err != nil || n != 0 {
		t.Fatalf("nothing is overdue before the start time, got %d %v", n, err)
	}

	f.clock.Advance(2 * time.Hour)
	n, err = f.scheduler.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 job re-queued, got %d", n)
	}
	start := f.pendingJob(t, tournament.ID, models.JobStartTournament)
	if start == nil || !start.RunAt.Equal(f.clock.Now()) {
		t.Fatalf("expected start job due now, got %+v", start)
	}

	if n, _ := f.scheduler.Reconcile(ctx); n != 0 {
		t.Fatalf("reconcile must not queue twice, got %d", n)
	}
}

func TestJobHandlersDriveTournamentToSettlement(t *testing.T) {
	f := newFixture(t)
	worker := jobs.NewWorker(f.store.Jobs(), jobs.Config{Concurrency: 2, BatchSize: 8}, zap.NewNop())
	worker.SetClock(f.clock.Now)
	RegisterJobHandlers(worker, f.lifecycle, f.settlement, f.scheduler, 0)
	ctx := context.Background()

	tournament := f.create(t, nil)
	f.join(t, tournament.ID, 1, proof(1))
	f.join(t, tournament.ID, 2, proof(2))

	if n, err := worker.RunOnce(ctx); err != nil || n != 0 {
		t.Fatalf("no job is due before the start time, ran %d: %v", n, err)
	}

	f.clock.Advance(time.Hour)
	if _, err := worker.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce start: %v", err)
	}
	if got := f.tournament(t, tournament.ID).Status; got != models.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS after the start job, got %s", got)
	}

	f.submit(t, tournament.ID, 1, 12)
	f.submit(t, tournament.ID, 2, 7)

	// End, then dispatch and archive queued by the end job.
	for i := 0; i < 2; i++ {
		if _, err := worker.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce %d: %v", i, err)
		}
	}
	if got := f.tournament(t, tournament.ID).Status; got != models.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got)
	}
	if got := len(f.ledger.Sent()); got != 2 {
		t.Fatalf("expected both payouts sent, got %d", got)
	}
	if _, err := f.objects.Get(ctx, ReportKey(tournament.ID)); err != nil {
		t.Fatalf("expected settlement report archived: %v", err)
	}

	all, err := f.store.Jobs().ListByTournament(ctx, tournament.ID)
	if err != nil {
		t.Fatalf("ListByTournament: %v", err)
	}
	for _, j := range all {
		if j.Status == models.JobPending || j.Status == models.JobRunning || j.Status == models.JobDead {
			t.Fatalf("unexpected unfinished job %s in %s", j.Type, j.Status)
		}
	}
}

func TestClassifyJobError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{name: "missing tournament", err: ErrTournamentNotFound, permanent: true},
		{name: "invalid transition", err: ErrTournamentInvalidStatusTransition, permanent: true},
		{name: "out of order", err: ErrTransitionOutOfOrder, permanent: false},
		{name: "store failure", err: errors.New("connection reset"), permanent: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyJobError(tt.err)
			if jobs.IsPermanent(got) != tt.permanent {
				t.Fatalf("IsPermanent = %v, want %v", jobs.IsPermanent(got), tt.permanent)
			}
			if !errors.Is(got, tt.err) {
				t.Fatalf("classified error must wrap the original")
			}
		})
	}
	if classifyJobError(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestJobAdminRequeue(t *testing.T) {
	f := newFixture(t)
	tournament := f.create(t, func(in *CreateTournamentInput) { in.EntryFee = decimal.Zero })
	ctx := context.Background()

	claimed, err := f.store.Jobs().ClaimDue(ctx, tournament.ScheduledStart, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimDue: %d %v", len(claimed), err)
	}
	dead := claimed[0]
	if err := f.store.Jobs().DeadLetter(ctx, dead.ID, "boom", f.clock.Now()); err != nil {
		t.Fatalf("DeadLetter: %v", err)
	}

	list, err := f.jobAdmin.ListDead(ctx, 10)
	if err != nil || len(list) != 1 || list[0].ID != dead.ID {
		t.Fatalf("expected the dead job listed, got %+v %v", list, err)
	}

	job, err := f.jobAdmin.Requeue(ctx, dead.ID)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if job.Status != models.JobPending || job.Attempts != 0 {
		t.Fatalf("expected a fresh pending job, got %s attempts=%d", job.Status, job.Attempts)
	}
	if _, err := f.jobAdmin.Requeue(ctx, dead.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound for a job that is no longer dead, got %v", err)
	}
	if _, err := f.jobAdmin.Requeue(ctx, uuid.New()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	// A dead job cannot come back while another pending job of its type exists.
	claimed, _ = f.store.Jobs().ClaimDue(ctx, tournament.ScheduledStart, 10)
	_ = f.store.Jobs().DeadLetter(ctx, claimed[0].ID, "boom again", f.clock.Now())
	err = f.store.InTx(ctx, func(tx repositories.Store) error {
		_, err := f.scheduler.Enqueue(ctx, tx, models.JobStartTournament, tournament.ID, f.clock.Now())
		return err
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := f.jobAdmin.Requeue(ctx, claimed[0].ID); !errors.Is(err, ErrJobAlreadyActive) {
		t.Fatalf("expected ErrJobAlreadyActive, got %v", err)
	}
}
