package models

import (
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobStartTournament   JobType = "START_TOURNAMENT"
	JobEndTournament     JobType = "END_TOURNAMENT"
	JobDispatchPayments  JobType = "DISPATCH_PAYMENTS"
	JobArchiveSettlement JobType = "ARCHIVE_SETTLEMENT"
)

type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobDone      JobStatus = "DONE"
	JobDead      JobStatus = "DEAD"
	JobCancelled JobStatus = "CANCELLED"
)

// Job is a durable delayed task keyed by tournament and type.
// At most one PENDING job exists per (TournamentID, Type).
type Job struct {
	ID           uuid.UUID  `json:"id"`
	Type         JobType    `json:"type"`
	TournamentID uuid.UUID  `json:"tournament_id"`
	RunAt        time.Time  `json:"run_at"`
	Status       JobStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	LastError    *string    `json:"last_error,omitempty"`
	LockedAt     *time.Time `json:"locked_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// OverdueTournament is a tournament whose deadline passed with no job queued for it.
type OverdueTournament struct {
	TournamentID uuid.UUID
	JobType      JobType
}
