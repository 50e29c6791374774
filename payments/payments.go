package payments

import (
	"context"
	"errors"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrRejected means the payment service refused the request; retrying it will not help.
var ErrRejected = errors.New("payment request rejected")

type VerifyRequest struct {
	TournamentID uuid.UUID       `json:"tournament_id"`
	UserID       int             `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     models.Currency `json:"currency"`
	Proof        string          `json:"proof"`
}

type Verification struct {
	Confirmed bool   `json:"confirmed"`
	TxHash    string `json:"tx_hash"`
}

type Receipt struct {
	Reference string `json:"reference"`
}

// Verifier checks that an entry fee was actually paid.
type Verifier interface {
	VerifyEntryPayment(ctx context.Context, req VerifyRequest) (Verification, error)
}

// Gateway hands payouts and refunds to the payment service, which deduplicates on the instruction key.
type Gateway interface {
	Send(ctx context.Context, in models.PaymentInstruction) (Receipt, error)
}
