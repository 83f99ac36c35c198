// Package session issues and consumes the single-use transfer credentials the
// client calls quantum keys. At most one live credential exists per identity;
// issuing a new one supersedes the prior, and a successful transfer consumes
// the credential irreversibly.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrCredential is the base class for every consumption failure. Sub-reasons
// wrap it, so callers can match the family with errors.Is(err, ErrCredential)
// and still surface the specific reason.
var ErrCredential = errors.New("session: credential invalid")

var (
	ErrNoneIssued      = fmt.Errorf("%w: none issued", ErrCredential)
	ErrExpired         = fmt.Errorf("%w: expired", ErrCredential)
	ErrMismatched      = fmt.Errorf("%w: mismatched", ErrCredential)
	ErrAlreadyConsumed = fmt.Errorf("%w: already consumed", ErrCredential)
)

// Credential is a short-lived, single-purpose authorization token bound to one
// identity. Consumed is irreversible.
type Credential struct {
	Identity  string    `json:"identity"`
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}

// Live reports whether the credential can still authorize a transfer at now.
func (c Credential) Live(now time.Time) bool {
	return !c.Consumed && now.Before(c.ExpiresAt)
}

const tokenBytes = 32 // 256 bits of entropy

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
