package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryStatus string

const (
	EntryPending   EntryStatus = "PENDING"
	EntryConfirmed EntryStatus = "CONFIRMED"
	EntryPlaying   EntryStatus = "PLAYING"
	EntryCompleted EntryStatus = "COMPLETED"
	EntryForfeited EntryStatus = "FORFEITED"
	EntryRefunded  EntryStatus = "REFUNDED"
)

// IsAbsorbing reports whether the entry can never change status again.
func (s EntryStatus) IsAbsorbing() bool {
	return s == EntryForfeited || s == EntryRefunded
}

// Причины перевода заявки в FORFEITED/REFUNDED и причины возвратов.
const (
	ReasonWithdrawn          = "withdrawn"
	ReasonPaymentUnconfirmed = "payment_unconfirmed"
	ReasonUnderSubscribed    = "under_subscribed"
	ReasonCancelled          = "cancelled"
	ReasonPaymentAfterClose  = "payment_after_close"
)

// Entry is a user's registration in one tournament.
type Entry struct {
	ID            uuid.UUID        `json:"id"`
	TournamentID  uuid.UUID        `json:"tournament_id"`
	UserID        int              `json:"user_id"`
	EntryAmount   decimal.Decimal  `json:"entry_amount"`
	EntryCurrency Currency         `json:"entry_currency"`
	EntryTxHash   *string          `json:"entry_tx_hash,omitempty"`
	Status        EntryStatus      `json:"status"`
	StatusReason  *string          `json:"status_reason,omitempty"`
	Score         *int64           `json:"score,omitempty"`
	RoundsPlayed  int              `json:"rounds_played"`
	ScoreMetadata json.RawMessage  `json:"score_metadata,omitempty"`
	SubmittedAt   *time.Time       `json:"submitted_at,omitempty"`
	FinalRank     *int             `json:"final_rank,omitempty"`
	PrizeWon      *decimal.Decimal `json:"prize_won,omitempty"`
	PrizeTxHash   *string          `json:"prize_tx_hash,omitempty"`
	JoinedAt      time.Time        `json:"joined_at"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

func (e *Entry) Clone() *Entry {
	c := *e
	if e.ScoreMetadata != nil {
		c.ScoreMetadata = append(json.RawMessage(nil), e.ScoreMetadata...)
	}
	return &c
}

// LeaderboardRow is one ranked line of a leaderboard snapshot.
type LeaderboardRow struct {
	Rank        int       `json:"rank"`
	EntryID     uuid.UUID `json:"entry_id"`
	UserID      int       `json:"user_id"`
	Score       int64     `json:"score"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// PlayerStats aggregates completed-tournament results per user and currency.
type PlayerStats struct {
	UserID        int             `json:"user_id"`
	Currency      Currency        `json:"currency"`
	TotalMatches  int             `json:"total_matches"`
	TotalWins     int             `json:"total_wins"`
	TotalEarnings decimal.Decimal `json:"total_earnings"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
