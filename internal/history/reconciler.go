// Package history builds the read-side view of a user's transfers. It is a
// derived view over the ledger, never a store of truth.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"quantumbank.org/internal/account"
	"quantumbank.org/internal/ledger"
)

// Direction labels which side of a transfer the viewing account was on.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Entry is one row of the reconciled chronological view.
type Entry struct {
	TransferID   string    `json:"transfer_id"`
	Direction    Direction `json:"direction"`
	Counterparty string    `json:"counterparty"` // public identifier (email)
	Amount       int64     `json:"amount"`       // minor units
	Timestamp    time.Time `json:"timestamp"`
}

// Reconciler merges the ledger's two role-indexed queries into a single
// counterparty-labeled view.
type Reconciler struct {
	ledger    ledger.Ledger
	directory account.Directory
}

// NewReconciler wires the reconciler's read dependencies.
func NewReconciler(lg ledger.Ledger, directory account.Directory) *Reconciler {
	return &Reconciler{ledger: lg, directory: directory}
}

// HistoryFor returns the account's completed transfers, newest first, ties
// broken by record identifier. Counterparty resolution runs after the merge
// and once per distinct counterparty, however many records reference it.
func (r *Reconciler) HistoryFor(ctx context.Context, accountID string) ([]Entry, error) {
	sent, err := r.ledger.QueryBySource(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("history: query sent: %w", err)
	}
	received, err := r.ledger.QueryByDestination(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("history: query received: %w", err)
	}

	type row struct {
		rec          ledger.Record
		direction    Direction
		counterparty string
	}
	rows := make([]row, 0, len(sent)+len(received))
	for _, rec := range sent {
		rows = append(rows, row{rec: rec, direction: DirectionSent, counterparty: rec.To})
	}
	for _, rec := range received {
		rows = append(rows, row{rec: rec, direction: DirectionReceived, counterparty: rec.From})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].rec, rows[j].rec
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	// One directory lookup per distinct counterparty, after the merge.
	emails := make(map[string]string)
	for _, rw := range rows {
		if _, ok := emails[rw.counterparty]; ok {
			continue
		}
		acc, err := r.directory.Get(ctx, rw.counterparty)
		if errors.Is(err, account.ErrNotFound) {
			// Accounts are never deleted in scope; fall back to the raw id
			// rather than dropping the row.
			emails[rw.counterparty] = rw.counterparty
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("history: resolve counterparty: %w", err)
		}
		emails[rw.counterparty] = acc.Email
	}

	entries := make([]Entry, 0, len(rows))
	for _, rw := range rows {
		entries = append(entries, Entry{
			TransferID:   rw.rec.ID,
			Direction:    rw.direction,
			Counterparty: emails[rw.counterparty],
			Amount:       rw.rec.Amount,
			Timestamp:    rw.rec.CreatedAt,
		})
	}
	return entries, nil
}
