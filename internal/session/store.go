package session

import (
	"context"
	"sync"
)

// Store holds the current credential per identity. It is pure state; all
// lifecycle decisions live in the Authority.
type Store interface {
	Put(ctx context.Context, cred Credential) error
	Get(ctx context.Context, identityID string) (Credential, bool, error)
	Delete(ctx context.Context, identityID string) error
}

// InMemoryStore keeps credentials in a process-local map.
type InMemoryStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewInMemoryStore creates an empty credential store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{creds: make(map[string]Credential)}
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) Put(ctx context.Context, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.Identity] = cred
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, identityID string) (Credential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[identityID]
	return cred, ok, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, identityID)
	return nil
}
