// Package session owns the lifecycle and durability of the bearer credential.
package session

import (
	"fmt"
	"sync"

	"github.com/kjstillabower/skywatch/internal/observability"
)

// DefaultKey is the fixed name the credential is persisted under.
const DefaultKey = "skywatch_token"

// Backend persists the credential under a key. Load reports false when no
// entry exists; Delete of a missing entry is not an error.
type Backend interface {
	Load(key string) (string, bool, error)
	Save(key, token string) error
	Delete(key string) error
}

// Store is the single source of truth for the current credential within one
// client instance. It holds at most one token; writes replace it wholesale.
// The store never validates or expires a token.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	key     string
	token   string
}

// New creates a Store over backend and loads any persisted credential once.
// An empty key selects DefaultKey.
func New(backend Backend, key string) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("session: backend is nil")
	}
	if key == "" {
		key = DefaultKey
	}
	token, ok, err := backend.Load(key)
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", key, err)
	}
	s := &Store{backend: backend, key: key}
	if ok {
		s.token = token
	}
	return s, nil
}

// Token returns the current credential and whether one is held.
func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Authenticated reports whether a credential is held. It says nothing about
// whether the server still accepts it.
func (s *Store) Authenticated() bool {
	_, ok := s.Token()
	return ok
}

// SetToken persists token and then holds it. An empty token clears the
// session. On a persistence error the held credential is unchanged.
func (s *Store) SetToken(token string) error {
	if token == "" {
		return s.Clear()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Save(s.key, token); err != nil {
		return fmt.Errorf("session: save %s: %w", s.key, err)
	}
	s.token = token
	observability.SessionWritesTotal.WithLabelValues("set").Inc()
	return nil
}

// Clear removes the persisted entry and drops the held credential.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Delete(s.key); err != nil {
		return fmt.Errorf("session: delete %s: %w", s.key, err)
	}
	s.token = ""
	observability.SessionWritesTotal.WithLabelValues("clear").Inc()
	return nil
}
