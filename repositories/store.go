package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrTournamentNotFound  = errors.New("tournament not found")
	ErrCapacityViolation   = errors.New("tournament capacity constraint violated")
	ErrEntryNotFound       = errors.New("entry not found")
	ErrEntryConflict       = errors.New("entry conflict: user already registered for this tournament")
	ErrInstructionNotFound = errors.New("payment instruction not found")
	ErrJobNotFound         = errors.New("job not found")
	ErrJobActive           = errors.New("an active job of this type already exists for the tournament")
)

// SQLExecutor is satisfied by both *sql.DB and *sql.Tx.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store groups the repositories that must change together.
// Repositories obtained from the Store passed to InTx's callback run inside that transaction.
type Store interface {
	Tournaments() TournamentRepository
	Entries() EntryRepository
	Instructions() InstructionRepository
	Jobs() JobRepository
	Stats() StatsRepository
	InTx(ctx context.Context, fn func(tx Store) error) error
}

type ListTournamentsFilter struct {
	Status      *models.TournamentStatus
	Statuses    []models.TournamentStatus
	Mode        *models.TournamentMode
	GameID      *string
	Currency    *models.Currency
	MinEntryFee *decimal.Decimal
	MaxEntryFee *decimal.Decimal
	SortBy      string // scheduled_start | created_at | entry_fee | prize_pool
	SortDesc    bool
	Limit       int
	Offset      int
}

// StatusChange describes a guarded tournament status transition.
type StatusChange struct {
	From              []models.TournamentStatus
	To                models.TournamentStatus
	At                time.Time
	Reason            *string
	PlatformFeeAmount *decimal.Decimal
}

// EntryChange describes a guarded entry status transition.
type EntryChange struct {
	From   []models.EntryStatus
	To     models.EntryStatus
	At     time.Time
	Reason *string
	TxHash *string
}

// ScoreUpdate is applied only while the entry is PLAYING, its tournament is IN_PROGRESS
// and RoundsPlayed still equals ExpectedRounds.
type ScoreUpdate struct {
	ExpectedRounds int
	Score          int64
	SubmittedAt    time.Time
	Metadata       []byte
	Complete       bool
	At             time.Time
}

type StatsDelta struct {
	UserID   int
	Currency models.Currency
	Matches  int
	Wins     int
	Earnings decimal.Decimal
	At       time.Time
}

type TournamentRepository interface {
	Create(ctx context.Context, t *models.Tournament) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tournament, error)
	// GetForUpdate locks the row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Tournament, error)
	// GetForShare blocks GetForUpdate holders (status transitions, settlement) until the transaction ends.
	GetForShare(ctx context.Context, id uuid.UUID) (*models.Tournament, error)
	List(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error)
	// IncrementPlayers takes one slot if the tournament is OPEN and not full.
	IncrementPlayers(ctx context.Context, id uuid.UUID) (bool, error)
	// DecrementPlayers releases one slot if the tournament is OPEN.
	DecrementPlayers(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseSlots(ctx context.Context, id uuid.UUID, n int) error
	TransitionStatus(ctx context.Context, id uuid.UUID, change StatusChange) (bool, error)
	ListOverdue(ctx context.Context, now time.Time) ([]models.OverdueTournament, error)
}

type EntryRepository interface {
	Create(ctx context.Context, e *models.Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Entry, error)
	GetByTournamentAndUser(ctx context.Context, tournamentID uuid.UUID, userID int) (*models.Entry, error)
	ListByTournament(ctx context.Context, tournamentID uuid.UUID, statuses []models.EntryStatus) ([]models.Entry, error)
	ListByUser(ctx context.Context, userID int) ([]models.Entry, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, change EntryChange) (bool, error)
	// DeletePending removes an unpaid PENDING entry so its user may join again.
	DeletePending(ctx context.Context, id uuid.UUID) (bool, error)
	// TransitionAll moves every matching entry of the tournament and returns the rows it changed.
	TransitionAll(ctx context.Context, tournamentID uuid.UUID, change EntryChange) ([]models.Entry, error)
	RecordScore(ctx context.Context, id uuid.UUID, update ScoreUpdate) (bool, error)
	// SetResult writes the final rank and prize once.
	SetResult(ctx context.Context, id uuid.UUID, rank *int, prize decimal.Decimal) (bool, error)
	SetPrizeTxHash(ctx context.Context, id uuid.UUID, txHash string) error
}

type InstructionRepository interface {
	// Insert is a no-op returning false when an instruction for the same key exists.
	Insert(ctx context.Context, in *models.PaymentInstruction) (bool, error)
	ListByTournament(ctx context.Context, tournamentID uuid.UUID) ([]models.PaymentInstruction, error)
	ListPending(ctx context.Context, tournamentID uuid.UUID) ([]models.PaymentInstruction, error)
	MarkSent(ctx context.Context, id uuid.UUID, externalRef string, at time.Time) (bool, error)
}

type JobRepository interface {
	// Enqueue inserts a PENDING job or, if one exists for the same tournament and type,
	// moves its run time to the earlier of the two and returns its id.
	Enqueue(ctx context.Context, job *models.Job) (uuid.UUID, error)
	Cancel(ctx context.Context, tournamentID uuid.UUID, types []models.JobType, at time.Time) (int, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.Job, error)
	Complete(ctx context.Context, id uuid.UUID, at time.Time) error
	Retry(ctx context.Context, id uuid.UUID, runAt time.Time, lastErr string) error
	DeadLetter(ctx context.Context, id uuid.UUID, lastErr string, at time.Time) error
	Requeue(ctx context.Context, id uuid.UUID, runAt time.Time) error
	ReclaimStale(ctx context.Context, lockedBefore time.Time) (int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]models.Job, error)
	ListByTournament(ctx context.Context, tournamentID uuid.UUID) ([]models.Job, error)
}

type StatsRepository interface {
	Increment(ctx context.Context, delta StatsDelta) error
	ListByUser(ctx context.Context, userID int) ([]models.PlayerStats, error)
}

func checkAffectedRows(result sql.Result, notFoundError error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return notFoundError
	}
	return nil
}

func affected(result sql.Result) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return rowsAffected > 0, nil
}

// sortEntries orders entries by join time, then id.
func sortEntries(entries []models.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].JoinedAt.Before(entries[j].JoinedAt)
		}
		return entries[i].ID.String() < entries[j].ID.String()
	})
}
