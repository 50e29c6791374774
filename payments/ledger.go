package payments

import (
	"context"
	"regexp"
	"sync"

	"github.com/Dosada05/skill-tournaments/models"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Ledger is an in-process payment service used in development mode and tests.
// It accepts any proof shaped like a transaction hash and records each instruction once per key.
type Ledger struct {
	mu   sync.Mutex
	sent map[string]models.PaymentInstruction
	// Fail, when set, is consulted before recording an instruction.
	Fail func(in models.PaymentInstruction) error
}

func NewLedger() *Ledger {
	return &Ledger{sent: make(map[string]models.PaymentInstruction)}
}

func (l *Ledger) VerifyEntryPayment(ctx context.Context, req VerifyRequest) (Verification, error) {
	if !txHashPattern.MatchString(req.Proof) {
		return Verification{Confirmed: false}, nil
	}
	return Verification{Confirmed: true, TxHash: req.Proof}, nil
}

func (l *Ledger) Send(ctx context.Context, in models.PaymentInstruction) (Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.Fail != nil {
		if err := l.Fail(in); err != nil {
			return Receipt{}, err
		}
	}
	if _, ok := l.sent[in.Key()]; !ok {
		l.sent[in.Key()] = in
	}
	return Receipt{Reference: "ledger:" + in.ID.String()}, nil
}

// Sent returns the deduplicated instructions received so far.
func (l *Ledger) Sent() []models.PaymentInstruction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.PaymentInstruction, 0, len(l.sent))
	for _, in := range l.sent {
		out = append(out, in)
	}
	return out
}
