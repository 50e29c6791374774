package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Dosada05/skill-tournaments/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func instruction() models.PaymentInstruction {
	return models.PaymentInstruction{
		ID:           uuid.New(),
		TournamentID: uuid.New(),
		EntryID:      uuid.New(),
		UserID:       7,
		Kind:         models.InstructionPayout,
		Amount:       decimal.RequireFromString("12.5"),
		Currency:     models.CurrencyETH,
	}
}

func TestHTTPClientSend(t *testing.T) {
	in := instruction()
	var gotKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/instructions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["key"] != in.Key() || body["amount"] != "12.5" {
			t.Errorf("unexpected body: %v", body)
		}
		_, _ = w.Write([]byte(`{"reference":"tx-1"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/", "token", time.Second)
	receipt, err := client.Send(context.Background(), in)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if receipt.Reference != "tx-1" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if gotKey != in.Key() || gotAuth != "Bearer token" {
		t.Fatalf("unexpected headers: key=%q auth=%q", gotKey, gotAuth)
	}
}

func TestHTTPClientErrorClasses(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantRejected bool
	}{
		{name: "rejected", status: http.StatusUnprocessableEntity, wantRejected: true},
		{name: "conflict", status: http.StatusConflict, wantRejected: true},
		{name: "throttled", status: http.StatusTooManyRequests},
		{name: "unavailable", status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			_, err := NewHTTPClient(server.URL, "", time.Second).Send(context.Background(), instruction())
			if err == nil {
				t.Fatalf("expected an error")
			}
			if errors.Is(err, ErrRejected) != tt.wantRejected {
				t.Fatalf("ErrRejected=%v, want %v (%v)", errors.Is(err, ErrRejected), tt.wantRejected, err)
			}
		})
	}
}

func TestHTTPClientVerify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req VerifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		confirmed := strings.HasPrefix(req.Proof, "0x")
		_ = json.NewEncoder(w).Encode(Verification{Confirmed: confirmed, TxHash: req.Proof})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", time.Second)
	v, err := client.VerifyEntryPayment(context.Background(), VerifyRequest{UserID: 1, Proof: "0xabc"})
	if err != nil || !v.Confirmed || v.TxHash != "0xabc" {
		t.Fatalf("VerifyEntryPayment: %+v %v", v, err)
	}
	v, err = client.VerifyEntryPayment(context.Background(), VerifyRequest{UserID: 1, Proof: "cash"})
	if err != nil || v.Confirmed {
		t.Fatalf("expected unconfirmed, got %+v %v", v, err)
	}
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	if v, _ := l.VerifyEntryPayment(ctx, VerifyRequest{Proof: "0x1234"}); v.Confirmed {
		t.Fatalf("short hashes must not verify")
	}
	hash := "0x" + strings.Repeat("ab", 32)
	if v, _ := l.VerifyEntryPayment(ctx, VerifyRequest{Proof: hash}); !v.Confirmed || v.TxHash != hash {
		t.Fatalf("expected %s to verify, got %+v", hash, v)
	}

	in := instruction()
	for i := 0; i < 3; i++ {
		if _, err := l.Send(ctx, in); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if sent := l.Sent(); len(sent) != 1 {
		t.Fatalf("duplicate sends must be recorded once, got %d", len(sent))
	}

	l.Fail = func(models.PaymentInstruction) error { return ErrRejected }
	if _, err := l.Send(ctx, instruction()); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected the failure hook error, got %v", err)
	}
	if sent := l.Sent(); len(sent) != 1 {
		t.Fatalf("a failed send must not be recorded, got %d", len(sent))
	}
}
