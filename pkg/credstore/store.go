// Package credstore persists per-user Amazon Photos session cookies.
//
// Stores hold credentials keyed by an opaque user id supplied by the host.
// FileStore encrypts each user's cookies at rest; MemoryStore keeps them in
// process for tests and one-shot CLI runs.
package credstore

import (
	"context"
	"errors"
	"sync"

	"github.com/3leaps/cloudphotos/pkg/provider/amazonphotos"
)

// ErrNotFound indicates no credentials are stored for the user.
var ErrNotFound = errors.New("credentials not found")

// ErrInvalidUserID indicates a user id that cannot key a store entry.
var ErrInvalidUserID = errors.New("invalid user id")

// Store persists session credentials per user.
type Store interface {
	// Load returns the stored credentials or ErrNotFound.
	Load(ctx context.Context, uid string) (amazonphotos.Credentials, error)

	// Save replaces the credentials stored for uid.
	Save(ctx context.Context, uid string, creds amazonphotos.Credentials) error

	// Delete removes stored credentials. Deleting an absent entry is not an error.
	Delete(ctx context.Context, uid string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]amazonphotos.Credentials
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]amazonphotos.Credentials)}
}

func (s *MemoryStore) Load(_ context.Context, uid string) (amazonphotos.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[uid]
	if !ok {
		return amazonphotos.Credentials{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) Save(_ context.Context, uid string, creds amazonphotos.Credentials) error {
	if uid == "" {
		return ErrInvalidUserID
	}
	if creds.IsZero() {
		return errors.New("credentials are empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[uid] = creds
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, uid)
	return nil
}
