package services

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Attestor signs and checks score attestations issued by the game client's anti-cheat service.
// A signature is hex(blake2b-256 keyed MAC) over "tournamentID|userID|score".
type Attestor struct {
	key      []byte
	required bool
}

// NewAttestor returns nil when no key is configured; a nil Attestor accepts unsigned scores.
func NewAttestor(key string, required bool) (*Attestor, error) {
	if key == "" {
		return nil, nil
	}
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("attestation key must be at most %d bytes", blake2b.Size)
	}
	return &Attestor{key: []byte(key), required: required}, nil
}

func attestationMessage(tournamentID uuid.UUID, userID int, score int64) []byte {
	return []byte(fmt.Sprintf("%s|%d|%d", tournamentID, userID, score))
}

func (a *Attestor) Sign(tournamentID uuid.UUID, userID int, score int64) string {
	mac, _ := blake2b.New256(a.key)
	mac.Write(attestationMessage(tournamentID, userID, score))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature if one is given; an empty signature passes unless attestation is required.
func (a *Attestor) Verify(tournamentID uuid.UUID, userID int, score int64, signature string) error {
	if a == nil {
		return nil
	}
	if signature == "" {
		if a.required {
			return ErrInvalidSignature
		}
		return nil
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	want, _ := hex.DecodeString(a.Sign(tournamentID, userID, score))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrInvalidSignature
	}
	return nil
}
