package account

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Directory maps identities and public identifiers to accounts and guards
// balance mutation. Update is the atomic unit the transfer path runs inside:
// fn executes with exclusive access to both accounts, and its mutations are
// committed only if fn returns nil.
type Directory interface {
	Create(ctx context.Context, acc Account) (Account, error)
	Get(ctx context.Context, id string) (Account, error)
	Resolve(ctx context.Context, email string) (Account, error)
	Update(ctx context.Context, fromID, toID string, fn func(ctx context.Context, from, to *Account) error) error
}

type entry struct {
	id  string // immutable, safe to read without the lock
	mu  sync.Mutex
	acc Account
}

// InMemory implements Directory with in-process concurrency safety. Per-account
// mutexes are taken in identifier order, so two transfers moving funds in
// opposite directions between the same pair cannot deadlock, and a balance
// read never observes a half-applied transfer.
type InMemory struct {
	mu      sync.RWMutex
	byID    map[string]*entry
	byEmail map[string]*entry
}

// NewInMemory creates an empty directory.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[string]*entry),
		byEmail: make(map[string]*entry),
	}
}

var _ Directory = (*InMemory)(nil)

func (d *InMemory) Create(ctx context.Context, acc Account) (Account, error) {
	if acc.ID == "" {
		return Account{}, ErrNotFound
	}
	acc.Email = NormalizeEmail(acc.Email)
	if acc.Email == "" {
		return Account{}, ErrNotFound
	}
	if acc.Balance < 0 {
		return Account{}, ErrInvalidAmount
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[acc.ID]; ok {
		return Account{}, ErrAlreadyExists
	}
	if _, ok := d.byEmail[acc.Email]; ok {
		return Account{}, ErrAlreadyExists
	}
	e := &entry{id: acc.ID, acc: acc}
	d.byID[acc.ID] = e
	d.byEmail[acc.Email] = e
	return acc, nil
}

func (d *InMemory) Get(ctx context.Context, id string) (Account, error) {
	d.mu.RLock()
	e, ok := d.byID[id]
	d.mu.RUnlock()
	if !ok {
		return Account{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acc, nil
}

func (d *InMemory) Resolve(ctx context.Context, email string) (Account, error) {
	d.mu.RLock()
	e, ok := d.byEmail[NormalizeEmail(email)]
	d.mu.RUnlock()
	if !ok {
		return Account{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acc, nil
}

func (d *InMemory) Update(ctx context.Context, fromID, toID string, fn func(ctx context.Context, from, to *Account) error) error {
	if fromID == toID {
		return ErrSameAccount
	}

	d.mu.RLock()
	fromEntry, okFrom := d.byID[fromID]
	toEntry, okTo := d.byID[toID]
	d.mu.RUnlock()
	if !okFrom || !okTo {
		return ErrNotFound
	}

	// Fixed global lock order by identifier prevents deadlock between two
	// transfers moving funds in opposite directions.
	locks := []*entry{fromEntry, toEntry}
	sort.Slice(locks, func(i, j int) bool { return locks[i].id < locks[j].id })
	for _, e := range locks {
		e.mu.Lock()
	}
	defer func() {
		for _, e := range locks {
			e.mu.Unlock()
		}
	}()

	// fn works on copies; nothing is visible unless it succeeds.
	from := fromEntry.acc
	to := toEntry.acc
	if err := fn(ctx, &from, &to); err != nil {
		return err
	}
	fromEntry.acc = from
	toEntry.acc = to
	return nil
}
