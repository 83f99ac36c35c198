// Package transfer is the authorization state machine for moving funds. Each
// attempt runs received -> validated -> applied -> completed, short-circuiting
// to rejected with a distinguishable reason from any pre-applied step.
package transfer

import (
	"context"
	"errors"
	"fmt"

	"quantumbank.org/internal/account"
	"quantumbank.org/internal/ledger"
	"quantumbank.org/internal/session"
)

// Rejection reasons. Credential failures surface the session package's
// ErrCredential family; insufficient funds surfaces the directory's error.
var (
	ErrInvalidAmount     = errors.New("transfer: invalid amount")
	ErrUnknownRecipient  = errors.New("transfer: unknown recipient")
	ErrUnknownSource     = errors.New("transfer: unknown source account")
	ErrSelfTransfer      = errors.New("transfer: self transfer")
	ErrInsufficientFunds = account.ErrInsufficientFunds
)

// Request is one transfer attempt. FromIdentity comes from the verified
// assertion, never from the request body.
type Request struct {
	FromIdentity string
	ToEmail      string
	Amount       int64 // minor units
	Key          string
}

// Result is returned to the caller on completion.
type Result struct {
	Record     ledger.Record
	NewBalance int64 // source balance after the debit
}

// Authorizer validates a transfer against a live credential and applies the
// debit, credit, and ledger append as one atomic unit.
type Authorizer struct {
	sessions  *session.Authority
	directory account.Directory
	ledger    ledger.Ledger
}

// NewAuthorizer wires the authorizer's three dependencies.
func NewAuthorizer(sessions *session.Authority, directory account.Directory, lg ledger.Ledger) *Authorizer {
	return &Authorizer{sessions: sessions, directory: directory, ledger: lg}
}

// Authorize runs one transfer attempt. Validation precedes authorization: an
// invalid amount or recipient is rejected before the credential is touched,
// so a rejected request does not burn the caller's key.
func (a *Authorizer) Authorize(ctx context.Context, req Request) (Result, error) {
	// validated: local checks first.
	if req.Amount <= 0 {
		return Result{}, ErrInvalidAmount
	}

	dest, err := a.directory.Resolve(ctx, req.ToEmail)
	if errors.Is(err, account.ErrNotFound) {
		return Result{}, ErrUnknownRecipient
	}
	if err != nil {
		return Result{}, fmt.Errorf("transfer: resolve recipient: %w", err)
	}

	src, err := a.directory.Get(ctx, req.FromIdentity)
	if errors.Is(err, account.ErrNotFound) {
		return Result{}, ErrUnknownSource
	}
	if err != nil {
		return Result{}, fmt.Errorf("transfer: load source: %w", err)
	}

	if dest.ID == src.ID {
		return Result{}, ErrSelfTransfer
	}

	// Credential check-and-consume is atomic per identity; under a race on
	// the same key exactly one caller gets past this line.
	if err := a.sessions.ValidateAndConsume(ctx, req.FromIdentity, req.Key); err != nil {
		return Result{}, err
	}

	// applied: debit, credit, and append happen inside the directory's
	// atomic unit, or not at all.
	var res Result
	err = a.directory.Update(ctx, src.ID, dest.ID, func(ctx context.Context, from, to *account.Account) error {
		if err := from.Debit(req.Amount); err != nil {
			return err
		}
		if err := to.Credit(req.Amount); err != nil {
			return err
		}
		rec, err := a.ledger.Append(ctx, ledger.Record{
			From:   from.ID,
			To:     to.ID,
			Amount: req.Amount,
		})
		if err != nil {
			return err
		}
		res = Result{Record: rec, NewBalance: from.Balance}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	// completed.
	return res, nil
}
