// Package account owns account identity and balances. Balances are minor-unit
// integers; no floats anywhere in the money path.
package account

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("account: not found")
	ErrAlreadyExists     = errors.New("account: already exists")
	ErrInvalidAmount     = errors.New("account: invalid amount (must be > 0)")
	ErrInsufficientFunds = errors.New("account: insufficient funds")
	ErrSameAccount       = errors.New("account: source and destination are the same account")
)

// Account is one principal's account. ID is the opaque identity issued by the
// external provider; Email is the public identifier other users address.
type Account struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	Balance     int64     `json:"balance"` // minor units
	CreatedAt   time.Time `json:"created_at"`
}

// Debit removes amount from the balance. It never drives the balance negative.
func (a *Account) Debit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if a.Balance < amount {
		return ErrInsufficientFunds
	}
	a.Balance -= amount
	return nil
}

// Credit adds amount to the balance.
func (a *Account) Credit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	a.Balance += amount
	return nil
}

// NormalizeEmail canonicalizes a public identifier for lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
