// Package memory provides an in-process storage.Backend.
//
// It backs the "memory" storage type (nothing survives a restart) and doubles
// as a test backend: setting Err makes every call fail the way an
// inaccessible store would.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/goodtune/breakwatch/internal/storage"
)

// Store is a map-backed storage.Backend.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
	closed bool

	// Err, when set, is returned (wrapped in ErrUnavailable) by Get and Set.
	Err error
}

// New returns an empty store.
func New() *Store {
	return &Store{values: make(map[string]string)}
}

// Get returns the value stored at key.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(); err != nil {
		return "", err
	}
	value, ok := s.values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return value, nil
}

// Set stores value at key.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(); err != nil {
		return err
	}
	s.values[key] = value
	return nil
}

// Close marks the store closed; later calls fail with ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Raw returns the stored text for key without going through failure injection.
func (s *Store) Raw(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

func (s *Store) check() error {
	if s.closed {
		return fmt.Errorf("%w: store closed", storage.ErrUnavailable)
	}
	if s.Err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, s.Err)
	}
	return nil
}
