package services

import "errors"

// Ошибки домена, которые вызывающая сторона должна различать через errors.Is.
var (
	ErrValidationFailed = errors.New("validation failed")

	ErrTournamentNotFound                = errors.New("tournament not found")
	ErrTournamentNotOpen                 = errors.New("tournament is not open for entries")
	ErrTournamentFull                    = errors.New("tournament is full")
	ErrTournamentNotInProgress           = errors.New("tournament is not accepting scores")
	ErrTournamentInvalidStatusTransition = errors.New("invalid tournament status transition")

	ErrAlreadyEntered     = errors.New("user already entered this tournament")
	ErrEntryNotFound      = errors.New("entry not found")
	ErrEntryNotPending    = errors.New("entry is not awaiting payment")
	ErrPaymentUnconfirmed = errors.New("entry payment could not be confirmed")

	ErrEntryNotPlaying      = errors.New("entry is not playing")
	ErrNoRoundsRemaining    = errors.New("no rounds remaining for this entry")
	ErrInvalidScore         = errors.New("score must be a non-negative integer")
	ErrInvalidSignature     = errors.New("score attestation signature is invalid")
	ErrConcurrentSubmission = errors.New("another score submission for this entry was accepted first")
	ErrTransitionOutOfOrder = errors.New("tournament has not reached the expected status yet")

	ErrJobNotFound      = errors.New("job not found")
	ErrJobAlreadyActive = errors.New("an active job of this type already exists")
)

// ValidationError carries per-field messages and matches ErrValidationFailed.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return ErrValidationFailed.Error()
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}
