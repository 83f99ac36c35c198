package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"quantumbank.org/internal/identity"
)

const defaultTTL = 15 * time.Minute

// Authority owns the credential lifecycle. Issue and consume for the same
// identity are serialized by a per-identity mutex, so two concurrent
// issuances cannot race into two live credentials and two concurrent
// transfers cannot both consume one.
type Authority struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures the Authority.
type Option func(*Authority)

// WithTTL overrides the credential lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(a *Authority) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(a *Authority) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAuthority constructs an Authority over the given credential store.
func NewAuthority(store Store, opts ...Option) *Authority {
	a := &Authority{
		store: store,
		ttl:   defaultTTL,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Authority) lockFor(identityID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[identityID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[identityID] = l
	}
	return l
}

// Issue mints a fresh credential for the asserted identity, superseding any
// prior live credential. Re-issuing is always safe; the old token simply
// stops validating.
func (a *Authority) Issue(ctx context.Context, assertion *identity.Assertion) (Credential, error) {
	if assertion == nil || assertion.Identity() == "" {
		return Credential{}, errors.New("session: identity assertion is required")
	}
	identityID := assertion.Identity()

	lock := a.lockFor(identityID)
	lock.Lock()
	defer lock.Unlock()

	token, err := newToken()
	if err != nil {
		return Credential{}, err
	}
	now := a.now().UTC()
	cred := Credential{
		Identity:  identityID,
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.ttl),
	}
	if err := a.store.Put(ctx, cred); err != nil {
		return Credential{}, fmt.Errorf("session: store credential: %w", err)
	}
	return cred, nil
}

// Revoke marks the identity's live credential as consumed. Revoking with no
// live credential is a no-op.
func (a *Authority) Revoke(ctx context.Context, identityID string) error {
	if identityID == "" {
		return errors.New("session: identity is required")
	}

	lock := a.lockFor(identityID)
	lock.Lock()
	defer lock.Unlock()

	cred, ok, err := a.store.Get(ctx, identityID)
	if err != nil {
		return fmt.Errorf("session: load credential: %w", err)
	}
	if !ok || cred.Consumed {
		return nil
	}
	cred.Consumed = true
	if err := a.store.Put(ctx, cred); err != nil {
		return fmt.Errorf("session: store credential: %w", err)
	}
	return nil
}

// ValidateAndConsume atomically checks the submitted token against the stored
// live credential and consumes it on success. Exactly one of two concurrent
// callers racing the same credential succeeds.
func (a *Authority) ValidateAndConsume(ctx context.Context, identityID, token string) error {
	if identityID == "" || token == "" {
		return ErrNoneIssued
	}

	lock := a.lockFor(identityID)
	lock.Lock()
	defer lock.Unlock()

	cred, ok, err := a.store.Get(ctx, identityID)
	if err != nil {
		return fmt.Errorf("session: load credential: %w", err)
	}
	if !ok {
		return ErrNoneIssued
	}
	if subtle.ConstantTimeCompare([]byte(cred.Token), []byte(token)) != 1 {
		return ErrMismatched
	}
	if cred.Consumed {
		return ErrAlreadyConsumed
	}
	if !a.now().Before(cred.ExpiresAt) {
		// Lazy expiry: drop the dead credential on the way out.
		_ = a.store.Delete(ctx, identityID)
		return ErrExpired
	}

	cred.Consumed = true
	if err := a.store.Put(ctx, cred); err != nil {
		return fmt.Errorf("session: store credential: %w", err)
	}
	return nil
}
