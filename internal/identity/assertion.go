// Package identity verifies assertions minted by the external identity
// provider. The provider authenticates users (passwords, federation) out of
// scope; this package only establishes that an inbound request speaks for a
// provider-issued principal.
package identity

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer            = "quantumbank-idp"
	secretEnvVariable = "QBANK_IDP_SECRET"
)

var (
	errMissingSecret = errors.New("identity provider secret is not configured")

	secretMu sync.Mutex
	secret   cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
	ready bool
}

// ErrInvalidAssertion indicates the assertion failed verification.
var ErrInvalidAssertion = errors.New("invalid identity assertion")

// Assertion is the verified claim set of a provider-issued identity token.
// Subject is the stable opaque identity; Email is the account's public
// identifier.
type Assertion struct {
	Email       string `json:"email"`
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the opaque principal identifier the assertion speaks for.
func (a *Assertion) Identity() string { return a.Subject }

// Sign mints an assertion for the given principal. The real deployment
// receives assertions from the external provider; Sign exists for the dev
// loop and tests, using the same shared secret the verifier loads.
func Sign(identityID, email, displayName string, ttl time.Duration) (string, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return "", errors.New("identity is required")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", errors.New("email is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := Assertion{
		Email:       email,
		DisplayName: strings.TrimSpace(displayName),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secretBytes)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}

// Verify checks the assertion signature and required claims and returns the
// verified claim set.
func Verify(token string) (*Assertion, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidAssertion
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return nil, err
	}

	parsed, err := jwt.ParseWithClaims(token, &Assertion{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidAssertion
		}
		return secretBytes, nil
	})
	if err != nil {
		return nil, ErrInvalidAssertion
	}
	claims, ok := parsed.Claims.(*Assertion)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidAssertion
	}
	if err := validateClaims(claims); err != nil {
		return nil, ErrInvalidAssertion
	}
	claims.Email = strings.ToLower(strings.TrimSpace(claims.Email))
	return claims, nil
}

func validateClaims(claims *Assertion) error {
	if claims.Issuer != issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if strings.TrimSpace(claims.Email) == "" {
		return errors.New("email missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := time.Now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("assertion expired")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("assertion issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("assertion expiry precedes issued-at")
	}
	return nil
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret.ready {
		return secret.value, secret.err
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		secret.err = errMissingSecret
		secret.ready = true
		return nil, secret.err
	}
	secret.value = []byte(raw)
	secret.err = nil
	secret.ready = true
	return secret.value, nil
}

// ResetSecretForTests clears the cached secret value. Only intended for test use.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = cachedSecret{}
}
