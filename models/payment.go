package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InstructionKind string

const (
	InstructionPayout InstructionKind = "PAYOUT"
	InstructionRefund InstructionKind = "REFUND"
)

type InstructionStatus string

const (
	InstructionPending InstructionStatus = "PENDING"
	InstructionSent    InstructionStatus = "SENT"
)

// PaymentInstruction is a payout or refund handed to the payment service.
// It is unique per (TournamentID, EntryID); the payment service deduplicates on Key.
type PaymentInstruction struct {
	ID           uuid.UUID         `json:"id"`
	TournamentID uuid.UUID         `json:"tournament_id"`
	EntryID      uuid.UUID         `json:"entry_id"`
	UserID       int               `json:"user_id"`
	Kind         InstructionKind   `json:"kind"`
	Amount       decimal.Decimal   `json:"amount"`
	Currency     Currency          `json:"currency"`
	Rank         *int              `json:"rank,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Status       InstructionStatus `json:"status"`
	ExternalRef  *string           `json:"external_ref,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
}

var instructionNamespace = uuid.MustParse("6f1d3c2a-8b4e-4a57-9a0e-3c5b7d9e1f20")

// InstructionKey is the idempotency key shared with the payment service.
func InstructionKey(tournamentID, entryID uuid.UUID) string {
	return tournamentID.String() + ":" + entryID.String()
}

// InstructionID derives a stable instruction id from its key.
func InstructionID(tournamentID, entryID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(instructionNamespace, []byte(InstructionKey(tournamentID, entryID)))
}

func (p *PaymentInstruction) Key() string {
	return InstructionKey(p.TournamentID, p.EntryID)
}
