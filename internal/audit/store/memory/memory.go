// Package memory provides the in-memory audit store. It enforces
// append-only semantics structurally: there is no code path that can
// touch an entry once stored.
package memory

import (
	"context"
	"sync"

	"aegis/internal/audit"
)

// Store is an append-only in-memory audit store.
type Store struct {
	mu      sync.RWMutex
	entries []audit.Entry
	byID    map[string]struct{}
	byHash  map[string]struct{}
}

// New creates an empty in-memory audit store.
func New() *Store {
	return &Store{
		byID:   make(map[string]struct{}),
		byHash: make(map[string]struct{}),
	}
}

// Append persists a new entry, rejecting any collision with an existing
// entry's ID or hash.
func (s *Store) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[entry.ID]; exists {
		return audit.ErrImmutable
	}
	if _, exists := s.byHash[entry.Hash]; exists {
		return audit.ErrImmutable
	}

	s.entries = append(s.entries, entry)
	s.byID[entry.ID] = struct{}{}
	s.byHash[entry.Hash] = struct{}{}
	return nil
}

// Latest returns the most recently appended entry.
func (s *Store) Latest(_ context.Context) (audit.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return audit.Entry{}, false, nil
	}
	return s.entries[len(s.entries)-1], true, nil
}

// All returns a copy of every entry.
func (s *Store) All(_ context.Context) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]audit.Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// ListByRequestID returns entries correlated to one request.
func (s *Store) ListByRequestID(_ context.Context, requestID string) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for _, e := range s.entries {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}
