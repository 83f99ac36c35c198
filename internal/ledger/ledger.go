// Package ledger is the append-only source of truth for completed transfers.
// Records are immutable once written; there is no update or delete.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"quantumbank.org/internal/ids"
)

var ErrInvalidRecord = errors.New("ledger: invalid record")

// Record is one completed transfer. ID is assigned on append and is strictly
// increasing within a process, so it breaks ordering ties between records
// sharing a timestamp.
type Record struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    int64     `json:"amount"` // minor units
	CreatedAt time.Time `json:"created_at"`
}

// Ledger stores transfer records, queryable by either counterparty role.
// The two query methods are deliberately role-indexed rather than a single
// "involves account" query; merging is the reconciler's job.
type Ledger interface {
	Append(ctx context.Context, rec Record) (Record, error)
	QueryBySource(ctx context.Context, accountID string) ([]Record, error)
	QueryByDestination(ctx context.Context, accountID string) ([]Record, error)
}

// InMemory implements Ledger with two role indexes over a single record slice.
type InMemory struct {
	mu     sync.RWMutex
	recs   []Record
	bySrc  map[string][]int
	byDst  map[string][]int
	lastTS time.Time
	now    func() time.Time
}

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		bySrc: make(map[string][]int),
		byDst: make(map[string][]int),
		now:   time.Now,
	}
}

var _ Ledger = (*InMemory)(nil)

// Append assigns identifier and timestamp and persists the record.
func (l *InMemory) Append(ctx context.Context, rec Record) (Record, error) {
	if rec.From == "" || rec.To == "" || rec.Amount <= 0 {
		return Record{}, ErrInvalidRecord
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UTC()
	// Timestamps never regress; equal timestamps are fine, the identifier
	// breaks the tie.
	if ts.Before(l.lastTS) {
		ts = l.lastTS
	}
	l.lastTS = ts

	rec.ID = ids.New()
	rec.CreatedAt = ts

	idx := len(l.recs)
	l.recs = append(l.recs, rec)
	l.bySrc[rec.From] = append(l.bySrc[rec.From], idx)
	l.byDst[rec.To] = append(l.byDst[rec.To], idx)
	return rec, nil
}

// QueryBySource returns records where the account is the sender, in storage order.
func (l *InMemory) QueryBySource(ctx context.Context, accountID string) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collect(l.bySrc[accountID]), nil
}

// QueryByDestination returns records where the account is the recipient, in storage order.
func (l *InMemory) QueryByDestination(ctx context.Context, accountID string) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collect(l.byDst[accountID]), nil
}

func (l *InMemory) collect(idxs []int) []Record {
	if len(idxs) == 0 {
		return nil
	}
	out := make([]Record, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, l.recs[i])
	}
	return out
}
